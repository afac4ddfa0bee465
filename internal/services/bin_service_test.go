package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/repositories"
)

// stubRepoError satisfies repositories.RepositoryError for service-level tests.
type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return e.msg }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(msg string) error { return &stubRepoError{msg: msg, notFound: true} }
func conflictErr(msg string) error { return &stubRepoError{msg: msg, conflict: true} }

// stubBinRepository is an in-memory repositories.BinRepository with the same
// claim semantics as the Firestore implementation.
type stubBinRepository struct {
	mu   sync.Mutex
	bins map[string]domain.Bin

	claimCalls   int
	releaseCalls []string
}

func newStubBinRepository(bins ...domain.Bin) *stubBinRepository {
	repo := &stubBinRepository{bins: make(map[string]domain.Bin)}
	for _, bin := range bins {
		repo.bins[bin.ID] = bin
	}
	return repo
}

func (r *stubBinRepository) Get(_ context.Context, binID string) (domain.Bin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bin, ok := r.bins[binID]
	if !ok {
		return domain.Bin{}, notFoundErr("bin " + binID + " missing")
	}
	return bin, nil
}

func (r *stubBinRepository) List(context.Context) ([]domain.Bin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Bin, 0, len(r.bins))
	for _, bin := range r.bins {
		out = append(out, bin)
	}
	return out, nil
}

func (r *stubBinRepository) Create(_ context.Context, bin domain.Bin) (domain.Bin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bins[bin.ID]; exists {
		return domain.Bin{}, conflictErr("bin exists")
	}
	r.bins[bin.ID] = bin
	return bin, nil
}

func (r *stubBinRepository) Claim(_ context.Context, binID, userID string, now time.Time) (domain.Bin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimCalls++
	bin, ok := r.bins[binID]
	if !ok {
		return domain.Bin{}, notFoundErr("bin " + binID + " missing")
	}
	if bin.Status == domain.BinOccupied {
		return domain.Bin{}, conflictErr("bin " + binID + " occupied")
	}
	bin.Status = domain.BinOccupied
	bin.CurrentUser = userID
	bin.LastUpdate = now
	r.bins[binID] = bin
	return bin, nil
}

func (r *stubBinRepository) Release(_ context.Context, binID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseCalls = append(r.releaseCalls, binID)
	bin, ok := r.bins[binID]
	if !ok {
		return notFoundErr("bin " + binID + " missing")
	}
	bin.Status = domain.BinAvailable
	bin.CurrentUser = ""
	bin.LastUpdate = now
	r.bins[binID] = bin
	return nil
}

func (r *stubBinRepository) IncrementFill(_ context.Context, binID string, category domain.WasteCategory, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bin, ok := r.bins[binID]
	if !ok {
		return notFoundErr("bin " + binID + " missing")
	}
	if bin.Capacity == nil {
		bin.Capacity = map[domain.WasteCategory]int{}
	}
	bin.Capacity[category]++
	bin.LastUpdate = now
	r.bins[binID] = bin
	return nil
}

func (r *stubBinRepository) ResetCapacity(_ context.Context, binID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bin, ok := r.bins[binID]
	if !ok {
		return notFoundErr("bin " + binID + " missing")
	}
	bin.Capacity = map[domain.WasteCategory]int{}
	bin.Status = domain.BinAvailable
	bin.CurrentUser = ""
	bin.LastUpdate = now
	r.bins[binID] = bin
	return nil
}

var _ repositories.BinRepository = (*stubBinRepository)(nil)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func availableBin(id string) domain.Bin {
	return domain.Bin{ID: id, Location: "lobby", Status: domain.BinAvailable}
}

func TestClaimBinSetsOccupancy(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newStubBinRepository(availableBin("bin_001"))
	svc, err := NewBinService(BinServiceDeps{Repository: repo, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("new bin service: %v", err)
	}

	bin, err := svc.ClaimBin(context.Background(), "bin_001", "user-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if bin.Status != domain.BinOccupied || bin.CurrentUser != "user-1" {
		t.Errorf("unexpected claimed bin %+v", bin)
	}
	if !bin.LastUpdate.Equal(now) {
		t.Errorf("expected last update %v, got %v", now, bin.LastUpdate)
	}
}

func TestClaimBinOccupiedConflict(t *testing.T) {
	occupied := availableBin("bin_001")
	occupied.Status = domain.BinOccupied
	occupied.CurrentUser = "user-1"
	repo := newStubBinRepository(occupied)
	svc, err := NewBinService(BinServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new bin service: %v", err)
	}

	_, err = svc.ClaimBin(context.Background(), "bin_001", "user-2")
	if !errors.Is(err, ErrBinOccupied) {
		t.Fatalf("expected ErrBinOccupied, got %v", err)
	}

	bin, err := svc.GetBin(context.Background(), "bin_001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if bin.CurrentUser != "user-1" {
		t.Errorf("loser mutated current_user: %+v", bin)
	}
}

func TestClaimBinNotFound(t *testing.T) {
	svc, err := NewBinService(BinServiceDeps{Repository: newStubBinRepository()})
	if err != nil {
		t.Fatalf("new bin service: %v", err)
	}

	if _, err := svc.ClaimBin(context.Background(), "bin_missing", "user-1"); !errors.Is(err, ErrBinNotFound) {
		t.Fatalf("expected ErrBinNotFound, got %v", err)
	}
}

func TestReleaseBinIsIdempotent(t *testing.T) {
	repo := newStubBinRepository(availableBin("bin_001"))
	svc, err := NewBinService(BinServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new bin service: %v", err)
	}

	ctx := context.Background()
	if _, err := svc.ClaimBin(ctx, "bin_001", "user-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.ReleaseBin(ctx, "bin_001"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := svc.ReleaseBin(ctx, "bin_001"); err != nil {
		t.Fatalf("second release: %v", err)
	}

	bin, err := svc.GetBin(ctx, "bin_001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if bin.Status != domain.BinAvailable || bin.CurrentUser != "" {
		t.Errorf("expected available bin after double release, got %+v", bin)
	}
}

func TestCreateBinGeneratesPrefixedID(t *testing.T) {
	repo := newStubBinRepository()
	svc, err := NewBinService(BinServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new bin service: %v", err)
	}

	bin, err := svc.CreateBin(context.Background(), CreateBinCommand{Location: " lobby "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(bin.ID, "bin_") {
		t.Errorf("expected bin_ prefixed id, got %q", bin.ID)
	}
	if bin.Location != "lobby" {
		t.Errorf("expected trimmed location, got %q", bin.Location)
	}
	for _, category := range domain.Categories() {
		if bin.Capacity[category] != 0 {
			t.Errorf("expected zeroed capacity for %s", category)
		}
	}

	if _, err := svc.CreateBin(context.Background(), CreateBinCommand{}); !errors.Is(err, ErrBinInvalidInput) {
		t.Errorf("expected ErrBinInvalidInput for missing location, got %v", err)
	}
}

func TestRecordDepositNormalizesCategory(t *testing.T) {
	repo := newStubBinRepository(availableBin("bin_001"))
	svc, err := NewBinService(BinServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new bin service: %v", err)
	}

	ctx := context.Background()
	if err := svc.RecordDeposit(ctx, "bin_001", "Aluminum"); err != nil {
		t.Fatalf("record deposit: %v", err)
	}

	bin, err := svc.GetBin(ctx, "bin_001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if bin.Capacity[domain.CategoryAluminium] != 1 {
		t.Errorf("expected aluminium fill 1, got %+v", bin.Capacity)
	}

	if err := svc.RecordDeposit(ctx, "bin_001", "cardboard"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestResetBinClearsFillAndOccupancy(t *testing.T) {
	bin := availableBin("bin_001")
	bin.Status = domain.BinOccupied
	bin.CurrentUser = "user-1"
	bin.Capacity = map[domain.WasteCategory]int{domain.CategoryPlastic: 9}
	repo := newStubBinRepository(bin)
	svc, err := NewBinService(BinServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new bin service: %v", err)
	}

	reset, err := svc.ResetBin(context.Background(), "bin_001")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.Status != domain.BinAvailable || reset.CurrentUser != "" {
		t.Errorf("expected available bin after reset, got %+v", reset)
	}
	if reset.Capacity[domain.CategoryPlastic] != 0 {
		t.Errorf("expected cleared fill counters, got %+v", reset.Capacity)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	repo := newStubBinRepository(availableBin("bin_001"))
	svc, err := NewBinService(BinServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new bin service: %v", err)
	}

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan error, claimers)
	wg.Add(claimers)
	for i := 0; i < claimers; i++ {
		go func(idx int) {
			defer wg.Done()
			_, err := svc.ClaimBin(context.Background(), "bin_001", fmt.Sprintf("user-%d", idx))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	winners, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrBinOccupied):
			conflicts++
		default:
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 || conflicts != claimers-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", claimers-1, winners, conflicts)
	}
}
