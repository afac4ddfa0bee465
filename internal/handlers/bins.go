package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sortimate/api/internal/platform/auth"
	"github.com/sortimate/api/internal/platform/httpx"
	"github.com/sortimate/api/internal/services"
)

// BinHandlers exposes read access to the bin registry for signed-in users.
type BinHandlers struct {
	authn *auth.Authenticator
	bins  services.BinService
}

// NewBinHandlers constructs handlers for the /bins endpoints.
func NewBinHandlers(authn *auth.Authenticator, bins services.BinService) *BinHandlers {
	return &BinHandlers{
		authn: authn,
		bins:  bins,
	}
}

// Routes wires the /bins endpoints onto the provided router.
func (h *BinHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.list)
	r.Get("/{binID}", h.get)
}

func (h *BinHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bins, err := h.bins.ListBins(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := make([]binPayload, 0, len(bins))
	for _, bin := range bins {
		payload = append(payload, buildBinPayload(bin))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"bins": payload})
}

func (h *BinHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bin, err := h.bins.GetBin(ctx, chi.URLParam(r, "binID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildBinPayload(bin))
}
