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

func newMeRouter(points services.PointsService, leaderboard services.LeaderboardService) http.Handler {
	r := chi.NewRouter()
	r.Use(withTestIdentity("user-1"))
	handlers := NewMeHandlers(nil, points, leaderboard)
	r.Route("/me", handlers.Routes)
	return r
}

func TestMeStats(t *testing.T) {
	points := &stubPointsService{
		statsFn: func(_ context.Context, userID string) (services.UserStats, error) {
			return services.UserStats{
				UserID:        userID,
				DisplayName:   "Dana",
				TotalPoints:   12,
				ItemsRecycled: 7,
				RecycleStats: map[domain.WasteCategory]int{
					domain.CategoryPlastic: 5,
					domain.CategoryGlass:   2,
				},
			}, nil
		},
	}
	router := newMeRouter(points, &stubLeaderboardService{})

	req := httptest.NewRequest(http.MethodGet, "/me/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body statsPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.TotalPoints != 12 || body.ItemsRecycled != 7 {
		t.Errorf("unexpected stats %+v", body)
	}
	// Every canonical category appears, including untouched ones.
	if count, ok := body.RecycleStats["aluminium"]; !ok || count != 0 {
		t.Errorf("expected zeroed aluminium entry, got %+v", body.RecycleStats)
	}
}

func TestMeManualRecycle(t *testing.T) {
	points := &stubPointsService{
		awardManualFn: func(_ context.Context, cmd services.ManualAwardCommand) (services.AwardResult, error) {
			if cmd.UserID != "user-1" || cmd.WasteType != "plastic" || cmd.VolumeML != 700 {
				t.Errorf("unexpected command %+v", cmd)
			}
			return services.AwardResult{
				Category: domain.CategoryPlastic,
				Points:   2,
				Stats:    services.UserStats{UserID: cmd.UserID, TotalPoints: 2, ItemsRecycled: 1},
			}, nil
		},
	}
	router := newMeRouter(points, &stubLeaderboardService{})

	req := httptest.NewRequest(http.MethodPost, "/me/recycle", strings.NewReader(`{"waste_type":"plastic","volume_ml":700}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body awardPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.Points != 2 {
		t.Errorf("expected 2 points for 700ml, got %d", body.Points)
	}
}

func TestMeManualRecycleUnknownCategory(t *testing.T) {
	points := &stubPointsService{
		awardManualFn: func(context.Context, services.ManualAwardCommand) (services.AwardResult, error) {
			return services.AwardResult{}, services.ErrUnknownCategory
		},
	}
	router := newMeRouter(points, &stubLeaderboardService{})

	req := httptest.NewRequest(http.MethodPost, "/me/recycle", strings.NewReader(`{"waste_type":"styrofoam","volume_ml":100}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestMeGroupLeaderboard(t *testing.T) {
	leaderboard := &stubLeaderboardService{
		forUserFn: func(_ context.Context, userID string) (services.Leaderboard, error) {
			return services.Leaderboard{
				Group: services.FamilyGroup{ID: "grp-1", Name: "Greens"},
				Members: []services.GroupMember{
					{UserID: userID, DisplayName: "Dana", TotalPoints: 12, ItemsRecycled: 7, Rank: 1},
				},
			}, nil
		},
	}
	router := newMeRouter(&stubPointsService{}, leaderboard)

	req := httptest.NewRequest(http.MethodGet, "/me/group", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body leaderboardPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.GroupName != "Greens" || len(body.Members) != 1 || body.Members[0].Rank != 1 {
		t.Errorf("unexpected leaderboard %+v", body)
	}
}

func TestMeGroupWithoutMembership(t *testing.T) {
	leaderboard := &stubLeaderboardService{
		forUserFn: func(context.Context, string) (services.Leaderboard, error) {
			return services.Leaderboard{}, services.ErrNoFamilyGroup
		},
	}
	router := newMeRouter(&stubPointsService{}, leaderboard)

	req := httptest.NewRequest(http.MethodGet, "/me/group", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
