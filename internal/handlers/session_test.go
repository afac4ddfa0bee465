package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/services"
)

func newSessionRouter(svc services.SessionService, mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, m := range mw {
		r.Use(m)
	}
	handlers := NewSessionHandlers(nil, svc)
	r.Route("/session", handlers.Routes)
	return r
}

func TestSessionStartCreated(t *testing.T) {
	svc := &stubSessionService{
		startFn: func(_ context.Context, cmd services.StartSessionCommand) (services.SessionSnapshot, error) {
			if cmd.UserID != "user-1" {
				t.Errorf("unexpected user %q", cmd.UserID)
			}
			if cmd.ScanPayload != "bin_001" {
				t.Errorf("unexpected payload %q", cmd.ScanPayload)
			}
			return awaitingSnapshot("user-1", "bin_001"), nil
		},
	}
	router := newSessionRouter(svc, withTestIdentity("user-1"))

	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"scan_payload":"bin_001"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var body sessionPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.State != "awaiting_identification" {
		t.Errorf("expected awaiting_identification, got %q", body.State)
	}
	if body.BinID != "bin_001" {
		t.Errorf("expected bin_001, got %q", body.BinID)
	}
}

func TestSessionStartConflict(t *testing.T) {
	svc := &stubSessionService{
		startFn: func(context.Context, services.StartSessionCommand) (services.SessionSnapshot, error) {
			return services.SessionSnapshot{}, services.ErrBinOccupied
		},
	}
	router := newSessionRouter(svc, withTestIdentity("user-1"))

	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"scan_payload":"bin_001"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body["error"] != "bin_occupied" {
		t.Errorf("expected bin_occupied code, got %v", body["error"])
	}
}

func TestSessionStartInvalidScan(t *testing.T) {
	svc := &stubSessionService{
		startFn: func(context.Context, services.StartSessionCommand) (services.SessionSnapshot, error) {
			return services.SessionSnapshot{}, services.ErrInvalidScanPayload
		},
	}
	router := newSessionRouter(svc, withTestIdentity("user-1"))

	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"scan_payload":"garbage"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSessionRequiresAuthentication(t *testing.T) {
	svc := &stubSessionService{}
	router := newSessionRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}
}

func TestSessionCurrentNotFound(t *testing.T) {
	svc := &stubSessionService{
		currentFn: func(context.Context, string) (services.SessionSnapshot, error) {
			return services.SessionSnapshot{}, services.ErrNoActiveSession
		},
	}
	router := newSessionRouter(svc, withTestIdentity("user-1"))

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSessionConfirmReturnsAward(t *testing.T) {
	svc := &stubSessionService{
		confirmFn: func(_ context.Context, userID string) (services.ConfirmResult, error) {
			return services.ConfirmResult{
				Session: services.SessionSnapshot{UserID: userID, BinID: "bin_001", State: domain.SessionIdle},
				Award: services.AwardResult{
					Category: domain.CategoryGlass,
					Points:   1,
					Stats: services.UserStats{
						UserID:        userID,
						TotalPoints:   11,
						ItemsRecycled: 4,
						RecycleStats:  map[domain.WasteCategory]int{domain.CategoryGlass: 4},
					},
				},
			}, nil
		},
	}
	router := newSessionRouter(svc, withTestIdentity("user-1"))

	req := httptest.NewRequest(http.MethodPost, "/session/confirm", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Session sessionPayload `json:"session"`
		Award   awardPayload   `json:"award"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.Session.State != "idle" {
		t.Errorf("expected idle session, got %q", body.Session.State)
	}
	if body.Award.Points != 1 || body.Award.Category != "glass" {
		t.Errorf("unexpected award %+v", body.Award)
	}
	if body.Award.Stats.TotalPoints != 11 {
		t.Errorf("expected stats in award payload, got %+v", body.Award.Stats)
	}
}

func TestSessionConfirmBusyConflict(t *testing.T) {
	svc := &stubSessionService{
		confirmFn: func(context.Context, string) (services.ConfirmResult, error) {
			return services.ConfirmResult{}, services.ErrSessionBusy
		},
	}
	router := newSessionRouter(svc, withTestIdentity("user-1"))

	req := httptest.NewRequest(http.MethodPost, "/session/confirm", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for in-flight confirm, got %d", rr.Code)
	}
}

func TestSessionCorrectionFlow(t *testing.T) {
	svc := &stubSessionService{
		rejectFn: func(_ context.Context, userID string) (services.SessionSnapshot, error) {
			return services.SessionSnapshot{UserID: userID, BinID: "bin_001", State: domain.SessionCorrecting}, nil
		},
		submitFn: func(_ context.Context, userID, correctedType string) (services.SessionSnapshot, error) {
			if correctedType != "glass" {
				t.Errorf("unexpected corrected type %q", correctedType)
			}
			return services.SessionSnapshot{UserID: userID, BinID: "bin_001", State: domain.SessionIdle}, nil
		},
	}
	router := newSessionRouter(svc, withTestIdentity("user-1"))

	req := httptest.NewRequest(http.MethodPost, "/session/reject", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/session/correction", strings.NewReader(`{"corrected_type":"glass"}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("correction: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSessionAbandonNoContent(t *testing.T) {
	svc := &stubSessionService{}
	router := newSessionRouter(svc, withTestIdentity("user-1"))

	req := httptest.NewRequest(http.MethodDelete, "/session", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if svc.abandonCalls != 1 {
		t.Errorf("expected one abandon call, got %d", svc.abandonCalls)
	}
}
