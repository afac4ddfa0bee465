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

func newAdminRouter(bins services.BinService, sessions services.SessionService) http.Handler {
	r := chi.NewRouter()
	r.Use(withTestIdentity("admin-1", "admin"))
	handlers := NewAdminHandlers(nil, bins, sessions)
	r.Route("/admin", handlers.Routes)
	return r
}

func TestAdminCreateBin(t *testing.T) {
	bins := &stubBinService{
		createFn: func(_ context.Context, cmd services.CreateBinCommand) (services.Bin, error) {
			if cmd.Location != "lobby" {
				t.Errorf("unexpected location %q", cmd.Location)
			}
			return services.Bin{ID: "bin_01HZX", Location: cmd.Location, Status: domain.BinAvailable}, nil
		},
	}
	router := newAdminRouter(bins, &stubSessionService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/bins", strings.NewReader(`{"location":"lobby"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var body binPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if !strings.HasPrefix(body.ID, "bin_") {
		t.Errorf("expected bin_ prefixed id, got %q", body.ID)
	}
}

func TestAdminCreateBinValidation(t *testing.T) {
	bins := &stubBinService{
		createFn: func(context.Context, services.CreateBinCommand) (services.Bin, error) {
			return services.Bin{}, services.ErrBinInvalidInput
		},
	}
	router := newAdminRouter(bins, &stubSessionService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/bins", strings.NewReader(`{"location":""}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminResetBin(t *testing.T) {
	bins := &stubBinService{
		resetFn: func(_ context.Context, binID string) (services.Bin, error) {
			return services.Bin{ID: binID, Status: domain.BinAvailable}, nil
		},
	}
	router := newAdminRouter(bins, &stubSessionService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/bins/bin_001/reset", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body binPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.Status != "available" {
		t.Errorf("expected available bin, got %+v", body)
	}
}

func TestAdminSimulateIdentification(t *testing.T) {
	sessions := &stubSessionService{
		simulateFn: func(_ context.Context, cmd services.SimulateIdentificationCommand) (services.IdentificationEvent, error) {
			if cmd.BinID != "bin_001" || cmd.WasteType != "glass" {
				t.Errorf("unexpected command %+v", cmd)
			}
			return services.IdentificationEvent{
				EventID:   "sim_01HZX",
				BinID:     cmd.BinID,
				WasteType: domain.CategoryGlass,
			}, nil
		},
	}
	router := newAdminRouter(&stubBinService{}, sessions)

	payload := `{"bin_id":"bin_001","user_id":"user-1","waste_type":"glass"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/simulate-identification", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var body eventPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.WasteType != "glass" {
		t.Errorf("unexpected event payload %+v", body)
	}
}
