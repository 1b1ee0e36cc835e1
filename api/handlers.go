/*
handlers.go - HTTP API handlers for the aid allocation engine

PURPOSE:
  Exposes the allocation and budget engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Envelopes:
    GET    /api/envelopes                  List all envelopes
    GET    /api/envelopes/{type}           Get one envelope
    POST   /api/envelopes/{type}/allocate  Top up an allocation

  Disasters / funds:
    POST   /api/disasters/verify           Open an incident fund
    GET    /api/funds                      List funds (?type=)
    GET    /api/funds/{id}                 Get fund details
    POST   /api/funds/{id}/close           Close fund, release surplus
    GET    /api/funds/{id}/expenditures    Expenditure history
    GET    /api/funds/{id}/plans           Allocation plans

  Expenditures:
    POST   /api/expenditures               Record (pending)
    POST   /api/expenditures/{id}/approve  Approve (moves money)
    POST   /api/expenditures/{id}/reject   Reject
    POST   /api/expenditures/{id}/void     Void, compensating if approved

  Adjustments:
    GET    /api/adjustments                List (?status=)
    POST   /api/adjustments                Submit transfer request
    POST   /api/adjustments/{id}/approve   Execute the transfer
    POST   /api/adjustments/{id}/reject    Reject

  Assessments:
    POST   /api/assessments                Submit household assessment
    GET    /api/assessments                List (?disaster_id=)
    GET    /api/assessments/{id}           Get assessment
    PUT    /api/assessments/{id}           Amend (pre-commit only)
    GET    /api/assessments/{id}/score     Score preview, no ledger effect
    POST   /api/assessments/{id}/commit    Commit plan against a fund

  Forecast:
    GET    /api/forecast/depletion/{type}  Quarters until envelope dry
    POST   /api/forecast/predict           Price a hypothetical incident
    GET    /api/forecast/gap               Funding gap across envelopes
    POST   /api/forecast/simulate/{type}   Envelope after a what-if impact

  Audit:
    GET    /api/audit                      Query log (?actor_id=&subject_id=)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Record not found
  - 409: Conflict (duplicate fund, closed fund, self-approval,
         cap/capacity violations, concurrent modification)
  - 500: Integrity violations, internal errors

SECURITY NOTE:
  Actor identity is taken from the request body; there is no
  authentication middleware yet. Separation-of-duties checks still run
  against the claimed actor ID.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/relief-engine/assess"
	"github.com/warp/relief-engine/forecast"
	"github.com/warp/relief-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes all records. Implemented by the stores; used only by
// the demo scenario loader.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Envelopes    *ledger.EnvelopeService
	Funds        *ledger.FundService
	Expenditures *ledger.ExpenditureService
	Adjustments  *ledger.AdjustmentService
	Assessments  *assess.Service
	Forecast     *forecast.Engine
	Audit        ledger.AuditLog

	// Resetter is optional; without it scenario loading layers on top
	// of existing state.
	Resetter Resetter

	currentScenario string
}

// =============================================================================
// ENVELOPE HANDLERS
// =============================================================================

// ListEnvelopes returns all budget envelopes.
func (h *Handler) ListEnvelopes(w http.ResponseWriter, r *http.Request) {
	envs, err := h.Envelopes.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]EnvelopeDTO, len(envs))
	for i, env := range envs {
		dtos[i] = toEnvelopeDTO(env)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEnvelope returns the envelope for one disaster type.
func (h *Handler) GetEnvelope(w http.ResponseWriter, r *http.Request) {
	t := ledger.DisasterType(chi.URLParam(r, "type"))
	env, err := h.Envelopes.Get(r.Context(), t)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelopeDTO(*env))
}

// AllocateEnvelope tops up an envelope's fiscal-year allocation.
func (h *Handler) AllocateEnvelope(w http.ResponseWriter, r *http.Request) {
	t := ledger.DisasterType(chi.URLParam(r, "type"))

	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	env, err := h.Envelopes.Allocate(r.Context(), t, amount, ledger.Actor{ID: req.ActorID})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelopeDTO(*env))
}

// =============================================================================
// DISASTER / FUND HANDLERS
// =============================================================================

// VerifyDisaster opens the incident fund for a verified disaster. The
// effect is once-only per disaster ID.
func (h *Handler) VerifyDisaster(w http.ResponseWriter, r *http.Request) {
	var req VerifyDisasterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.DisasterID == "" {
		writeError(w, http.StatusBadRequest, "disaster_id is required", nil)
		return
	}

	fund, err := h.Funds.OnDisasterVerified(r.Context(),
		ledger.DisasterID(req.DisasterID),
		ledger.DisasterType(req.DisasterType),
		req.impact(),
		ledger.Actor{ID: req.ActorID})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFundDTO(*fund))
}

// ListFunds returns incident funds, optionally filtered by type.
func (h *Handler) ListFunds(w http.ResponseWriter, r *http.Request) {
	var filter *ledger.DisasterType
	if t := r.URL.Query().Get("type"); t != "" {
		dt := ledger.DisasterType(t)
		filter = &dt
	}

	funds, err := h.Funds.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]FundDTO, len(funds))
	for i, f := range funds {
		dtos[i] = toFundDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetFund returns one incident fund.
func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	fund, err := h.Funds.Get(r.Context(), ledger.FundID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFundDTO(*fund))
}

// CloseFund closes a fund, returning its unspent commitment to the
// envelope.
func (h *Handler) CloseFund(w http.ResponseWriter, r *http.Request) {
	var req CloseFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	fund, err := h.Funds.Close(r.Context(), ledger.FundID(chi.URLParam(r, "id")), ledger.Actor{ID: req.ActorID})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFundDTO(*fund))
}

// ListFundExpenditures returns the expenditure history of a fund.
func (h *Handler) ListFundExpenditures(w http.ResponseWriter, r *http.Request) {
	exps, err := h.Expenditures.List(r.Context(), ledger.FundID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]ExpenditureDTO, len(exps))
	for i, e := range exps {
		dtos[i] = toExpenditureDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListFundPlans returns the allocation plans committed against a fund.
func (h *Handler) ListFundPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Assessments.Plans(r.Context(), ledger.FundID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EXPENDITURE HANDLERS
// =============================================================================

// RecordExpenditure records a pending expenditure. No money moves until
// a second actor approves.
func (h *Handler) RecordExpenditure(w http.ResponseWriter, r *http.Request) {
	var req RecordExpenditureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	exp, err := h.Expenditures.Record(r.Context(),
		ledger.FundID(req.FundID), amount, req.Category,
		req.OverrideApproved, req.ReceiptRef, ledger.Actor{ID: req.ActorID})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenditureDTO(*exp))
}

// GetExpenditure returns one expenditure.
func (h *Handler) GetExpenditure(w http.ResponseWriter, r *http.Request) {
	exp, err := h.Expenditures.Get(r.Context(), ledger.ExpenditureID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenditureDTO(*exp))
}

// ApproveExpenditure approves a pending expenditure, moving committed
// money to spent on both the fund and its envelope.
func (h *Handler) ApproveExpenditure(w http.ResponseWriter, r *http.Request) {
	h.decideExpenditure(w, r, func(ctx context.Context, id ledger.ExpenditureID, actor ledger.Actor, _ string) (*ledger.Expenditure, error) {
		return h.Expenditures.Approve(ctx, id, actor)
	})
}

// RejectExpenditure rejects a pending expenditure.
func (h *Handler) RejectExpenditure(w http.ResponseWriter, r *http.Request) {
	h.decideExpenditure(w, r, h.Expenditures.Reject)
}

// VoidExpenditure voids an expenditure. Voiding an approved one
// reverses its ledger effect.
func (h *Handler) VoidExpenditure(w http.ResponseWriter, r *http.Request) {
	h.decideExpenditure(w, r, func(ctx context.Context, id ledger.ExpenditureID, actor ledger.Actor, reason string) (*ledger.Expenditure, error) {
		return h.Expenditures.Void(ctx, id, actor, reason)
	})
}

func (h *Handler) decideExpenditure(w http.ResponseWriter, r *http.Request,
	decide func(context.Context, ledger.ExpenditureID, ledger.Actor, string) (*ledger.Expenditure, error)) {

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	exp, err := decide(r.Context(),
		ledger.ExpenditureID(chi.URLParam(r, "id")),
		ledger.Actor{ID: req.ActorID}, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenditureDTO(*exp))
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

// ListAdjustments returns adjustment requests, optionally by status.
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	var filter *ledger.ApprovalStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status := ledger.ApprovalStatus(s)
		filter = &status
	}

	reqs, err := h.Adjustments.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AdjustmentDTO, len(reqs))
	for i, a := range reqs {
		dtos[i] = toAdjustmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitAdjustment proposes a transfer between two envelopes.
func (h *Handler) SubmitAdjustment(w http.ResponseWriter, r *http.Request) {
	var req SubmitAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	adj, err := h.Adjustments.Submit(r.Context(),
		ledger.DisasterType(req.FromType), ledger.DisasterType(req.ToType),
		amount, req.Reason, ledger.Actor{ID: req.ActorID})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(*adj))
}

// ApproveAdjustment executes the transfer atomically.
func (h *Handler) ApproveAdjustment(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	adj, err := h.Adjustments.Approve(r.Context(),
		ledger.AdjustmentID(chi.URLParam(r, "id")), ledger.Actor{ID: req.ActorID})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*adj))
}

// RejectAdjustment rejects a pending adjustment request.
func (h *Handler) RejectAdjustment(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	adj, err := h.Adjustments.Reject(r.Context(),
		ledger.AdjustmentID(chi.URLParam(r, "id")), ledger.Actor{ID: req.ActorID}, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*adj))
}

// =============================================================================
// ASSESSMENT HANDLERS
// =============================================================================

// SubmitAssessment registers a household assessment for later scoring.
func (h *Handler) SubmitAssessment(w http.ResponseWriter, r *http.Request) {
	var req SubmitAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Assessments.Submit(r.Context(), req.assessment())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssessmentDTO(*a))
}

// ListAssessments returns assessments, optionally for one disaster.
func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	assessments, err := h.Assessments.Store.ListAssessments(r.Context(),
		ledger.DisasterID(r.URL.Query().Get("disaster_id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AssessmentDTO, len(assessments))
	for i, a := range assessments {
		dtos[i] = toAssessmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAssessment returns one assessment.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Assessments.Get(r.Context(), assess.AssessmentID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssessmentDTO(*a))
}

// AmendAssessment replaces assessment fields before scoring locks them.
func (h *Handler) AmendAssessment(w http.ResponseWriter, r *http.Request) {
	var req SubmitAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Assessments.Amend(r.Context(), assess.AssessmentID(chi.URLParam(r, "id")), req.assessment())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssessmentDTO(*a))
}

// ScoreAssessment returns tier and packages without committing
// anything. Safe to call repeatedly.
func (h *Handler) ScoreAssessment(w http.ResponseWriter, r *http.Request) {
	c, err := h.Assessments.Score(r.Context(), assess.AssessmentID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClassificationDTO(*c))
}

// CommitAssessment scores, reconciles the plan against the fund, and
// locks the assessment.
func (h *Handler) CommitAssessment(w http.ResponseWriter, r *http.Request) {
	var req CommitPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, err := h.Assessments.Commit(r.Context(),
		assess.AssessmentID(chi.URLParam(r, "id")),
		ledger.FundID(req.FundID), ledger.Actor{ID: req.ActorID})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(*plan))
}

// =============================================================================
// FORECAST HANDLERS
// =============================================================================

// GetDepletion projects how many quarters an envelope has left at the
// trailing spend rate.
func (h *Handler) GetDepletion(w http.ResponseWriter, r *http.Request) {
	d, err := h.Forecast.Depletion(r.Context(), ledger.DisasterType(chi.URLParam(r, "type")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDepletionDTO(*d))
}

// PredictCost prices a hypothetical incident from historical funds.
func (h *Handler) PredictCost(w http.ResponseWriter, r *http.Request) {
	var req PredictCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Households <= 0 {
		writeError(w, http.StatusBadRequest, "households must be positive", nil)
		return
	}

	p, err := h.Forecast.PredictIncidentCost(r.Context(), forecast.CostScenario{
		DisasterType: ledger.DisasterType(req.DisasterType),
		Households:   req.Households,
		Severity:     forecast.Severity(req.Severity),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPredictionDTO(*p))
}

// GetFundingGap reports projected shortfall per envelope and in total.
func (h *Handler) GetFundingGap(w http.ResponseWriter, r *http.Request) {
	g, err := h.Forecast.FundingGap(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFundingGapDTO(*g))
}

// SimulateIncident shows an envelope before/after a what-if impact.
func (h *Handler) SimulateIncident(w http.ResponseWriter, r *http.Request) {
	var req VerifyDisasterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, err := h.Forecast.Simulate(r.Context(),
		ledger.DisasterType(chi.URLParam(r, "type")), req.impact())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSimulationDTO(*s))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// QueryAudit returns audit entries matching the query filters.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	var filter ledger.AuditFilter
	q := r.URL.Query()
	if v := q.Get("actor_id"); v != "" {
		filter.ActorID = &v
	}
	if v := q.Get("subject_id"); v != "" {
		filter.SubjectID = &v
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from timestamp (use RFC3339)", err)
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to timestamp (use RFC3339)", err)
			return
		}
		filter.To = &t
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, ledger.AuditAction(a))
	}

	entries, err := h.Audit.QueryAudit(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(s string) (ledger.Money, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	m, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount must be a decimal string: %w", err)
	}
	return m, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var vErr *assess.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, assess.ErrAssessmentNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, assess.ErrAssessmentLocked):
		writeError(w, http.StatusConflict, "Assessment is locked", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusConflict, "Request conflicts with ledger state", err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, "Concurrent modification, retry", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
