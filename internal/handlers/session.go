package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sortimate/api/internal/platform/auth"
	"github.com/sortimate/api/internal/platform/httpx"
	"github.com/sortimate/api/internal/services"
)

// SessionHandlers exposes the recycling-session protocol: scan, confirm,
// dispute, abandon.
type SessionHandlers struct {
	authn    *auth.Authenticator
	sessions services.SessionService
}

// NewSessionHandlers constructs handlers for the /session endpoints.
func NewSessionHandlers(authn *auth.Authenticator, sessions services.SessionService) *SessionHandlers {
	return &SessionHandlers{
		authn:    authn,
		sessions: sessions,
	}
}

// Routes wires the /session endpoints onto the provided router.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.start)
	r.Get("/", h.current)
	r.Delete("/", h.abandon)
	r.Post("/confirm", h.confirm)
	r.Post("/reject", h.reject)
	r.Post("/correction", h.submitCorrection)
	r.Delete("/correction", h.cancelCorrection)
}

type startSessionRequest struct {
	ScanPayload string `json:"scan_payload"`
}

type correctionRequest struct {
	CorrectedType string `json:"corrected_type"`
}

func (h *SessionHandlers) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req startSessionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	snapshot, err := h.sessions.Start(ctx, services.StartSessionCommand{
		UserID:      identity.UID,
		ScanPayload: req.ScanPayload,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildSessionPayload(snapshot))
}

func (h *SessionHandlers) current(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	snapshot, err := h.sessions.Current(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSessionPayload(snapshot))
}

func (h *SessionHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	result, err := h.sessions.Confirm(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"session": buildSessionPayload(result.Session),
		"award":   buildAwardPayload(result.Award),
	})
}

func (h *SessionHandlers) reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	snapshot, err := h.sessions.Reject(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSessionPayload(snapshot))
}

func (h *SessionHandlers) submitCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req correctionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	snapshot, err := h.sessions.SubmitCorrection(ctx, identity.UID, req.CorrectedType)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSessionPayload(snapshot))
}

func (h *SessionHandlers) cancelCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	snapshot, err := h.sessions.CancelCorrection(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSessionPayload(snapshot))
}

func (h *SessionHandlers) abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Abandon(ctx, identity.UID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireIdentity pulls the authenticated identity from the request context,
// writing a 401 when the auth middleware did not run or left a guest.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}
