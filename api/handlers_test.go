/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Envelope allocation and retrieval over HTTP
- Disaster verification opening an incident fund
- Expenditure decision flow, including the self-approval rejection
- Domain error to HTTP status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func TestAllocateEnvelope_HTTP(t *testing.T) {
	// GIVEN: Seeded zero-balance envelopes
	// WHEN: Allocating budget over HTTP and reading the envelope back
	// THEN: Balances arrive as decimal strings with remaining derived

	handler := setupTestHandler(t)
	router := NewRouter(handler)
	if err := loadEmpty(context.Background(), handler); err != nil {
		t.Fatalf("Failed to seed envelopes: %v", err)
	}

	rec := doJSON(t, router, "POST", "/api/envelopes/drought/allocate", AllocateRequest{
		Amount:  "30242798",
		ActorID: "admin-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeBody[EnvelopeDTO](t, rec)
	if env.Allocated != "30242798" || env.Remaining != "30242798" {
		t.Errorf("Unexpected balances: allocated=%s remaining=%s", env.Allocated, env.Remaining)
	}

	rec = doJSON(t, router, "GET", "/api/envelopes/drought", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	env = decodeBody[EnvelopeDTO](t, rec)
	if env.DisasterType != "drought" || env.Version != 1 {
		t.Errorf("Unexpected envelope: type=%s version=%d", env.DisasterType, env.Version)
	}

	// A malformed amount never reaches the ledger.
	rec = doJSON(t, router, "POST", "/api/envelopes/drought/allocate", AllocateRequest{
		Amount:  "lots",
		ActorID: "admin-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad amount, got %d", rec.Code)
	}
}

func TestVerifyDisaster_HTTP(t *testing.T) {
	// GIVEN: Funded envelopes
	// WHEN: Verifying a disaster twice
	// THEN: 201 with the sized fund, then 409 for the duplicate

	handler := setupTestHandler(t)
	router := NewRouter(handler)
	if err := loadFiscalYear(context.Background(), handler); err != nil {
		t.Fatalf("Failed to load fiscal year: %v", err)
	}

	verify := VerifyDisasterRequest{
		DisasterID:   "disaster-http-1",
		DisasterType: "drought",
		Households:   1000,
		ActorID:      "coordinator-1",
	}
	rec := doJSON(t, router, "POST", "/api/disasters/verify", verify)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	fund := decodeBody[FundDTO](t, rec)
	// 1000 households * 4500 * 1.15 under the default drought profile.
	if fund.AdjustedBudget != "5175000" {
		t.Errorf("Expected adjusted budget 5175000, got %s", fund.AdjustedBudget)
	}
	if fund.Status != "open" {
		t.Errorf("Expected open fund, got %s", fund.Status)
	}

	rec = doJSON(t, router, "POST", "/api/disasters/verify", verify)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate disaster, got %d", rec.Code)
	}
}

func TestExpenditureDecisions_HTTP(t *testing.T) {
	// GIVEN: An open fund with a pending expenditure
	// WHEN: The recorder tries to approve, then a second actor approves
	// THEN: Self-approval maps to 409; the real approval lands

	handler := setupTestHandler(t)
	router := NewRouter(handler)
	if err := loadFiscalYear(context.Background(), handler); err != nil {
		t.Fatalf("Failed to load fiscal year: %v", err)
	}

	rec := doJSON(t, router, "POST", "/api/disasters/verify", VerifyDisasterRequest{
		DisasterID:   "disaster-http-2",
		DisasterType: "flood",
		Households:   500,
		ActorID:      "coordinator-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	fund := decodeBody[FundDTO](t, rec)

	rec = doJSON(t, router, "POST", "/api/expenditures", RecordExpenditureRequest{
		FundID:   fund.ID,
		Amount:   "250000",
		Category: "food",
		ActorID:  "coordinator-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	exp := decodeBody[ExpenditureDTO](t, rec)

	rec = doJSON(t, router, "POST", "/api/expenditures/"+exp.ID+"/approve", DecisionRequest{ActorID: "coordinator-1"})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for self-approval, got %d", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/api/expenditures/"+exp.ID+"/approve", DecisionRequest{ActorID: "finance-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	approved := decodeBody[ExpenditureDTO](t, rec)
	if approved.Status != "approved" || approved.DecidedBy != "finance-1" {
		t.Errorf("Unexpected decision: status=%s decided_by=%s", approved.Status, approved.DecidedBy)
	}
}

func TestDomainErrorMapping_HTTP(t *testing.T) {
	// GIVEN: A router over an empty store
	// WHEN: Hitting missing resources and invalid payloads
	// THEN: 404 for not-found, 400 for validation failures

	handler := setupTestHandler(t)
	router := NewRouter(handler)

	rec := doJSON(t, router, "GET", "/api/funds/no-such-fund", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown fund, got %d", rec.Code)
	}

	rec = doJSON(t, router, "GET", "/api/envelopes/tsunami", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown envelope, got %d", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/api/assessments", SubmitAssessmentRequest{
		HouseholdID: "", // missing everything
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid assessment, got %d", rec.Code)
	}
}

func TestLoadScenario_HTTP(t *testing.T) {
	// GIVEN: The scenario endpoint
	// WHEN: Loading a known and then an unknown scenario
	// THEN: 200 with the current scenario updated, 404 for the unknown

	handler := setupTestHandler(t)
	router := NewRouter(handler)

	rec := doJSON(t, router, "POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "fiscal-year"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, "GET", "/api/scenarios/current", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	current := decodeBody[map[string]string](t, rec)
	if current["scenario_id"] != "fiscal-year" {
		t.Errorf("Expected current scenario fiscal-year, got %q", current["scenario_id"])
	}

	rec = doJSON(t, router, "POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown scenario, got %d", rec.Code)
	}
}
