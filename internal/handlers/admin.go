package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sortimate/api/internal/platform/auth"
	"github.com/sortimate/api/internal/platform/httpx"
	"github.com/sortimate/api/internal/services"
)

// AdminHandlers exposes bin provisioning and the simulated-identification
// shortcut. Every route requires the admin role.
type AdminHandlers struct {
	authn    *auth.Authenticator
	bins     services.BinService
	sessions services.SessionService
}

// NewAdminHandlers constructs handlers for the /admin endpoints.
func NewAdminHandlers(authn *auth.Authenticator, bins services.BinService, sessions services.SessionService) *AdminHandlers {
	return &AdminHandlers{
		authn:    authn,
		bins:     bins,
		sessions: sessions,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Post("/bins", h.createBin)
	r.Post("/bins/{binID}/reset", h.resetBin)
	r.Post("/simulate-identification", h.simulateIdentification)
}

type createBinRequest struct {
	Location   string `json:"location"`
	AdminNotes string `json:"admin_notes"`
}

type simulateIdentificationRequest struct {
	BinID      string  `json:"bin_id"`
	UserID     string  `json:"user_id"`
	WasteType  string  `json:"waste_type"`
	Confidence float64 `json:"confidence"`
}

func (h *AdminHandlers) createBin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createBinRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	bin, err := h.bins.CreateBin(ctx, services.CreateBinCommand{
		Location:   req.Location,
		AdminNotes: req.AdminNotes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildBinPayload(bin))
}

// resetBin zeroes fill counters and frees the bin. The escape hatch for bins
// left claimed by crashed sessions.
func (h *AdminHandlers) resetBin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bin, err := h.bins.ResetBin(ctx, chi.URLParam(r, "binID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildBinPayload(bin))
}

// simulateIdentification injects a synthetic sensor event into the feed,
// letting admins demo the confirmation flow without hardware.
func (h *AdminHandlers) simulateIdentification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req simulateIdentificationRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	event, err := h.sessions.SimulateIdentification(ctx, services.SimulateIdentificationCommand{
		BinID:      req.BinID,
		UserID:     req.UserID,
		WasteType:  req.WasteType,
		Confidence: req.Confidence,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, buildEventPayload(event))
}
