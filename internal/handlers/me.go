package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sortimate/api/internal/platform/auth"
	"github.com/sortimate/api/internal/platform/httpx"
	"github.com/sortimate/api/internal/services"
)

// MeHandlers exposes the authenticated user's recycling stats, manual entry,
// and family leaderboard.
type MeHandlers struct {
	authn       *auth.Authenticator
	points      services.PointsService
	leaderboard services.LeaderboardService
}

// NewMeHandlers constructs handlers for the /me endpoints.
func NewMeHandlers(authn *auth.Authenticator, points services.PointsService, leaderboard services.LeaderboardService) *MeHandlers {
	return &MeHandlers{
		authn:       authn,
		points:      points,
		leaderboard: leaderboard,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/stats", h.stats)
	r.Post("/recycle", h.manualRecycle)
	r.Get("/group", h.group)
}

type manualRecycleRequest struct {
	WasteType string `json:"waste_type"`
	VolumeML  int    `json:"volume_ml"`
}

func (h *MeHandlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	stats, err := h.points.Stats(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildStatsPayload(stats))
}

// manualRecycle records a manually entered item with volume-tiered points.
func (h *MeHandlers) manualRecycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req manualRecycleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	award, err := h.points.AwardManual(ctx, services.ManualAwardCommand{
		UserID:    identity.UID,
		WasteType: req.WasteType,
		VolumeML:  req.VolumeML,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildAwardPayload(award))
}

func (h *MeHandlers) group(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	board, err := h.leaderboard.LeaderboardForUser(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildLeaderboardPayload(board))
}
