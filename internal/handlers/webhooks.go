package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/platform/auth"
	"github.com/sortimate/api/internal/platform/httpx"
	"github.com/sortimate/api/internal/repositories"
	"github.com/sortimate/api/internal/services"
)

// DeviceWebhookHandlers ingests identification events posted by bin devices.
// The HMAC middleware on the webhook group authenticates the device before
// these handlers run; the Firestore snapshot listener fans the stored event
// out to any session watching the bin.
type DeviceWebhookHandlers struct {
	events repositories.EventRepository
	bins   services.BinService
	logger *zap.Logger
	clock  func() time.Time
}

// DeviceWebhookOption customises device webhook handler construction.
type DeviceWebhookOption func(*DeviceWebhookHandlers)

// WithDeviceWebhookLogger sets the handler logger.
func WithDeviceWebhookLogger(logger *zap.Logger) DeviceWebhookOption {
	return func(h *DeviceWebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithDeviceWebhookClock injects a custom clock, primarily for tests.
func WithDeviceWebhookClock(clock func() time.Time) DeviceWebhookOption {
	return func(h *DeviceWebhookHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewDeviceWebhookHandlers constructs handlers for the device webhook endpoints.
func NewDeviceWebhookHandlers(events repositories.EventRepository, bins services.BinService, opts ...DeviceWebhookOption) *DeviceWebhookHandlers {
	h := &DeviceWebhookHandlers{
		events: events,
		bins:   bins,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes wires the device webhook endpoints onto the provided router.
func (h *DeviceWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/device/events", h.ingestEvent)
}

type deviceEventRequest struct {
	EventID      string    `json:"event_id"`
	BinID        string    `json:"bin_id"`
	UserID       string    `json:"user_id"`
	WasteType    string    `json:"waste_type"`
	Confidence   float64   `json:"confidence"`
	IsError      bool      `json:"is_error"`
	ErrorMessage string    `json:"error_message"`
	RawImagePath string    `json:"raw_image_path"`
	LatencyMS    int       `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

func (h *DeviceWebhookHandlers) ingestEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req deviceEventRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	eventID := strings.TrimSpace(req.EventID)
	binID := strings.TrimSpace(req.BinID)
	if eventID == "" || binID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event_id and bin_id are required", http.StatusBadRequest))
		return
	}

	event := domain.IdentificationEvent{
		EventID:      eventID,
		BinID:        binID,
		UserID:       strings.TrimSpace(req.UserID),
		IsError:      req.IsError,
		ErrorMessage: strings.TrimSpace(req.ErrorMessage),
		Confidence:   req.Confidence,
		RawImagePath: req.RawImagePath,
		LatencyMS:    req.LatencyMS,
		Timestamp:    req.Timestamp,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.clock().UTC()
	}

	if !req.IsError {
		category, err := services.NormalizeCategory(req.WasteType)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		event.WasteType = category
	}

	if err := h.events.Append(ctx, event); err != nil {
		h.logger.Error("device event append failed",
			zap.String("event_id", event.EventID),
			zap.String("bin_id", event.BinID),
			zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}

	// Fill counters are advisory; a failed increment must not reject the
	// event the device already delivered.
	if !event.IsError {
		if err := h.bins.RecordDeposit(ctx, event.BinID, string(event.WasteType)); err != nil {
			h.logger.Warn("fill counter update failed",
				zap.String("bin_id", event.BinID),
				zap.Error(err))
		}
	}

	deviceID := ""
	if meta, ok := auth.HMACMetadataFromContext(ctx); ok {
		deviceID = meta.DeviceID
	}
	h.logger.Info("device event accepted",
		zap.String("event_id", event.EventID),
		zap.String("bin_id", event.BinID),
		zap.String("device_id", deviceID),
		zap.Bool("is_error", event.IsError))

	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"event_id": event.EventID,
	})
}
