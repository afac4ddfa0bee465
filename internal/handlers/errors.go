package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sortimate/api/internal/platform/httpx"
	"github.com/sortimate/api/internal/repositories"
	"github.com/sortimate/api/internal/services"
)

const maxBodySize = 64 * 1024

var errBodyTooLarge = errors.New("request body too large")

// writeServiceError maps service-layer failures onto the API error taxonomy:
// conflicts 409, missing entities 404, validation 400, transient storage 503.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrBinOccupied):
		httpx.WriteError(ctx, w, httpx.NewError("bin_occupied", "bin is already in use", http.StatusConflict))
	case errors.Is(err, services.ErrSessionActive):
		httpx.WriteError(ctx, w, httpx.NewError("session_active", "a session is already in progress", http.StatusConflict))
	case errors.Is(err, services.ErrSessionBusy):
		httpx.WriteError(ctx, w, httpx.NewError("session_busy", "a session transition is still processing", http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrBinNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("bin_not_found", "bin does not exist", http.StatusNotFound))
	case errors.Is(err, services.ErrNoActiveSession):
		httpx.WriteError(ctx, w, httpx.NewError("no_active_session", "no session in progress", http.StatusNotFound))
	case errors.Is(err, services.ErrPointsUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user record does not exist", http.StatusNotFound))
	case errors.Is(err, services.ErrGroupNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("group_not_found", "family group does not exist", http.StatusNotFound))
	case errors.Is(err, services.ErrNoFamilyGroup):
		httpx.WriteError(ctx, w, httpx.NewError("no_family_group", "user has not joined a family group", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidScanPayload):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_scan", "scanned code is not a valid bin code", http.StatusBadRequest))
	case errors.Is(err, services.ErrUnknownCategory):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_category", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBinInvalidInput),
		errors.Is(err, services.ErrPointsInvalidInput),
		errors.Is(err, services.ErrSessionInvalidInput),
		errors.Is(err, services.ErrCorrectionInvalidInput),
		errors.Is(err, services.ErrLeaderboardInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "backing store is temporarily unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected server error", http.StatusInternalServerError))
	}
}

// decodeJSONBody reads at most maxBodySize bytes and unmarshals them into dst.
func decodeJSONBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodySize {
		return errBodyTooLarge
	}
	if len(body) == 0 {
		return errors.New("request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}
