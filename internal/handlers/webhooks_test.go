package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/repositories"
)

type stubEventRepository struct {
	mu       sync.Mutex
	appended []domain.IdentificationEvent
	failErr  error
}

func (r *stubEventRepository) Append(_ context.Context, event domain.IdentificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.appended = append(r.appended, event)
	return nil
}

var _ repositories.EventRepository = (*stubEventRepository)(nil)

func newWebhookRouter(events repositories.EventRepository, bins *stubBinService) http.Handler {
	r := chi.NewRouter()
	handlers := NewDeviceWebhookHandlers(events, bins,
		WithDeviceWebhookClock(func() time.Time {
			return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		}))
	r.Route("/webhooks", handlers.Routes)
	return r
}

func TestDeviceEventAccepted(t *testing.T) {
	events := &stubEventRepository{}
	bins := &stubBinService{}
	router := newWebhookRouter(events, bins)

	payload := `{"event_id":"evt-1","bin_id":"bin_001","user_id":"user-1","waste_type":"Aluminum","confidence":0.93,"latency_ms":420}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/device/events", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(events.appended) != 1 {
		t.Fatalf("expected one appended event, got %d", len(events.appended))
	}
	event := events.appended[0]
	if event.WasteType != domain.CategoryAluminium {
		t.Errorf("expected normalized aluminium, got %q", event.WasteType)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be defaulted")
	}
	if len(bins.depositCalls) != 1 || bins.depositCalls[0] != "bin_001:aluminium" {
		t.Errorf("expected fill increment, got %v", bins.depositCalls)
	}
}

func TestDeviceErrorEventSkipsFill(t *testing.T) {
	events := &stubEventRepository{}
	bins := &stubBinService{}
	router := newWebhookRouter(events, bins)

	payload := `{"event_id":"evt-2","bin_id":"bin_001","is_error":true,"error_message":"camera obstructed"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/device/events", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if len(events.appended) != 1 || !events.appended[0].IsError {
		t.Fatalf("expected appended error event, got %+v", events.appended)
	}
	if len(bins.depositCalls) != 0 {
		t.Errorf("error events must not bump fill counters, got %v", bins.depositCalls)
	}
}

func TestDeviceEventValidation(t *testing.T) {
	events := &stubEventRepository{}
	router := newWebhookRouter(events, &stubBinService{})

	cases := []struct {
		name    string
		payload string
	}{
		{name: "missing ids", payload: `{"waste_type":"plastic"}`},
		{name: "unknown category", payload: `{"event_id":"evt-3","bin_id":"bin_001","waste_type":"styrofoam"}`},
		{name: "empty body", payload: ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/device/events", strings.NewReader(tc.payload))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
	if len(events.appended) != 0 {
		t.Errorf("invalid payloads must not be persisted, got %d events", len(events.appended))
	}
}

func TestDeviceEventStoreUnavailable(t *testing.T) {
	events := &stubEventRepository{failErr: &stubRepoUnavailable{}}
	router := newWebhookRouter(events, &stubBinService{})

	payload := `{"event_id":"evt-4","bin_id":"bin_001","waste_type":"plastic"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/device/events", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

type stubRepoUnavailable struct{}

func (e *stubRepoUnavailable) Error() string       { return "store unavailable" }
func (e *stubRepoUnavailable) IsNotFound() bool    { return false }
func (e *stubRepoUnavailable) IsConflict() bool    { return false }
func (e *stubRepoUnavailable) IsUnavailable() bool { return true }
