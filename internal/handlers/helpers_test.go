package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/platform/auth"
	"github.com/sortimate/api/internal/services"
)

// withTestIdentity injects an authenticated identity the way the Firebase
// middleware would.
func withTestIdentity(uid string, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := &auth.Identity{UID: uid, Roles: roles}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

type stubSessionService struct {
	startFn      func(context.Context, services.StartSessionCommand) (services.SessionSnapshot, error)
	currentFn    func(context.Context, string) (services.SessionSnapshot, error)
	confirmFn    func(context.Context, string) (services.ConfirmResult, error)
	rejectFn     func(context.Context, string) (services.SessionSnapshot, error)
	submitFn     func(context.Context, string, string) (services.SessionSnapshot, error)
	cancelFn     func(context.Context, string) (services.SessionSnapshot, error)
	abandonFn    func(context.Context, string) error
	simulateFn   func(context.Context, services.SimulateIdentificationCommand) (services.IdentificationEvent, error)
	abandonCalls int
}

func (s *stubSessionService) Start(ctx context.Context, cmd services.StartSessionCommand) (services.SessionSnapshot, error) {
	return s.startFn(ctx, cmd)
}

func (s *stubSessionService) Current(ctx context.Context, userID string) (services.SessionSnapshot, error) {
	return s.currentFn(ctx, userID)
}

func (s *stubSessionService) Confirm(ctx context.Context, userID string) (services.ConfirmResult, error) {
	return s.confirmFn(ctx, userID)
}

func (s *stubSessionService) Reject(ctx context.Context, userID string) (services.SessionSnapshot, error) {
	return s.rejectFn(ctx, userID)
}

func (s *stubSessionService) SubmitCorrection(ctx context.Context, userID, correctedType string) (services.SessionSnapshot, error) {
	return s.submitFn(ctx, userID, correctedType)
}

func (s *stubSessionService) CancelCorrection(ctx context.Context, userID string) (services.SessionSnapshot, error) {
	return s.cancelFn(ctx, userID)
}

func (s *stubSessionService) Abandon(ctx context.Context, userID string) error {
	s.abandonCalls++
	if s.abandonFn != nil {
		return s.abandonFn(ctx, userID)
	}
	return nil
}

func (s *stubSessionService) SimulateIdentification(ctx context.Context, cmd services.SimulateIdentificationCommand) (services.IdentificationEvent, error) {
	return s.simulateFn(ctx, cmd)
}

func (s *stubSessionService) Close() {}

type stubPointsService struct {
	awardItemFn   func(context.Context, string, string) (services.AwardResult, error)
	awardManualFn func(context.Context, services.ManualAwardCommand) (services.AwardResult, error)
	statsFn       func(context.Context, string) (services.UserStats, error)
}

func (s *stubPointsService) AwardItem(ctx context.Context, userID, wasteType string) (services.AwardResult, error) {
	return s.awardItemFn(ctx, userID, wasteType)
}

func (s *stubPointsService) AwardManual(ctx context.Context, cmd services.ManualAwardCommand) (services.AwardResult, error) {
	return s.awardManualFn(ctx, cmd)
}

func (s *stubPointsService) Stats(ctx context.Context, userID string) (services.UserStats, error) {
	return s.statsFn(ctx, userID)
}

type stubLeaderboardService struct {
	groupFn   func(context.Context, string) (services.Leaderboard, error)
	forUserFn func(context.Context, string) (services.Leaderboard, error)
}

func (s *stubLeaderboardService) GroupLeaderboard(ctx context.Context, groupID string) (services.Leaderboard, error) {
	return s.groupFn(ctx, groupID)
}

func (s *stubLeaderboardService) LeaderboardForUser(ctx context.Context, userID string) (services.Leaderboard, error) {
	return s.forUserFn(ctx, userID)
}

type stubBinService struct {
	getFn    func(context.Context, string) (services.Bin, error)
	listFn   func(context.Context) ([]services.Bin, error)
	createFn func(context.Context, services.CreateBinCommand) (services.Bin, error)
	resetFn  func(context.Context, string) (services.Bin, error)

	mu            sync.Mutex
	depositCalls  []string
	depositErr    error
	releasedBins  []string
	claimRequests []string
}

func (s *stubBinService) GetBin(ctx context.Context, binID string) (services.Bin, error) {
	return s.getFn(ctx, binID)
}

func (s *stubBinService) ListBins(ctx context.Context) ([]services.Bin, error) {
	return s.listFn(ctx)
}

func (s *stubBinService) CreateBin(ctx context.Context, cmd services.CreateBinCommand) (services.Bin, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubBinService) ClaimBin(_ context.Context, binID, _ string) (services.Bin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimRequests = append(s.claimRequests, binID)
	return services.Bin{ID: binID}, nil
}

func (s *stubBinService) ReleaseBin(_ context.Context, binID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releasedBins = append(s.releasedBins, binID)
	return nil
}

func (s *stubBinService) RecordDeposit(_ context.Context, binID string, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depositCalls = append(s.depositCalls, binID+":"+category)
	return s.depositErr
}

func (s *stubBinService) ResetBin(ctx context.Context, binID string) (services.Bin, error) {
	return s.resetFn(ctx, binID)
}

func awaitingSnapshot(userID, binID string) services.SessionSnapshot {
	return services.SessionSnapshot{
		UserID: userID,
		BinID:  binID,
		State:  domain.SessionAwaitingIdentification,
	}
}
