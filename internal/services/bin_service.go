package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/repositories"
)

var (
	// ErrBinInvalidInput indicates the caller supplied invalid bin parameters.
	ErrBinInvalidInput = errors.New("bin: invalid input")
	// ErrBinNotFound indicates the requested bin does not exist.
	ErrBinNotFound = errors.New("bin: not found")
	// ErrBinOccupied indicates a claim lost the race for an occupied bin.
	ErrBinOccupied = errors.New("bin: already occupied")
)

// BinServiceDeps bundles collaborators required to construct a bin service.
type BinServiceDeps struct {
	Repository repositories.BinRepository
	Clock      func() time.Time
	// IDGenerator overrides bin id generation, primarily for tests.
	IDGenerator func() string
}

type binService struct {
	repo  repositories.BinRepository
	clock func() time.Time
	newID func() string
}

var _ BinService = (*binService)(nil)

// NewBinService constructs the bin registry service on top of the repository.
func NewBinService(deps BinServiceDeps) (BinService, error) {
	if deps.Repository == nil {
		return nil, errors.New("bin service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return binIDPrefix + ulid.Make().String() }
	}

	return &binService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: newID,
	}, nil
}

func (s *binService) GetBin(ctx context.Context, binID string) (Bin, error) {
	binID = strings.TrimSpace(binID)
	if binID == "" {
		return Bin{}, fmt.Errorf("%w: bin id is required", ErrBinInvalidInput)
	}

	bin, err := s.repo.Get(ctx, binID)
	if err != nil {
		return Bin{}, s.classify(binID, err)
	}
	return bin, nil
}

func (s *binService) ListBins(ctx context.Context) ([]Bin, error) {
	return s.repo.List(ctx)
}

func (s *binService) CreateBin(ctx context.Context, cmd CreateBinCommand) (Bin, error) {
	location := strings.TrimSpace(cmd.Location)
	if location == "" {
		return Bin{}, fmt.Errorf("%w: location is required", ErrBinInvalidInput)
	}

	now := s.clock()
	bin := domain.Bin{
		ID:         s.newID(),
		Location:   location,
		Status:     domain.BinAvailable,
		Capacity:   emptyCapacity(),
		AdminNotes: strings.TrimSpace(cmd.AdminNotes),
		CreatedAt:  now,
		LastUpdate: now,
	}

	created, err := s.repo.Create(ctx, bin)
	if err != nil {
		return Bin{}, err
	}
	return created, nil
}

// ClaimBin atomically marks the bin occupied for userID. Exactly one of any
// set of concurrent claimers wins; the rest receive ErrBinOccupied.
func (s *binService) ClaimBin(ctx context.Context, binID, userID string) (Bin, error) {
	binID = strings.TrimSpace(binID)
	userID = strings.TrimSpace(userID)
	if binID == "" || userID == "" {
		return Bin{}, fmt.Errorf("%w: bin id and user id are required", ErrBinInvalidInput)
	}

	bin, err := s.repo.Claim(ctx, binID, userID, s.clock())
	if err != nil {
		return Bin{}, s.classify(binID, err)
	}
	return bin, nil
}

// ReleaseBin returns the bin to available. Releasing a free bin succeeds so
// session teardown can race a timeout without surfacing spurious errors.
func (s *binService) ReleaseBin(ctx context.Context, binID string) error {
	binID = strings.TrimSpace(binID)
	if binID == "" {
		return fmt.Errorf("%w: bin id is required", ErrBinInvalidInput)
	}

	if err := s.repo.Release(ctx, binID, s.clock()); err != nil {
		return s.classify(binID, err)
	}
	return nil
}

func (s *binService) RecordDeposit(ctx context.Context, binID string, category string) error {
	binID = strings.TrimSpace(binID)
	if binID == "" {
		return fmt.Errorf("%w: bin id is required", ErrBinInvalidInput)
	}
	normalized, err := NormalizeCategory(category)
	if err != nil {
		return err
	}

	if err := s.repo.IncrementFill(ctx, binID, normalized, s.clock()); err != nil {
		return s.classify(binID, err)
	}
	return nil
}

func (s *binService) ResetBin(ctx context.Context, binID string) (Bin, error) {
	binID = strings.TrimSpace(binID)
	if binID == "" {
		return Bin{}, fmt.Errorf("%w: bin id is required", ErrBinInvalidInput)
	}

	if err := s.repo.ResetCapacity(ctx, binID, s.clock()); err != nil {
		return Bin{}, s.classify(binID, err)
	}
	return s.GetBin(ctx, binID)
}

func (s *binService) classify(binID string, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrBinNotFound, binID)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrBinOccupied, binID)
		}
	}
	return err
}

func emptyCapacity() map[domain.WasteCategory]int {
	capacity := make(map[domain.WasteCategory]int, len(domain.Categories()))
	for _, category := range domain.Categories() {
		capacity[category] = 0
	}
	return capacity
}
