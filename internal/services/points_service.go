package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sortimate/api/internal/repositories"
)

var (
	// ErrPointsInvalidInput indicates the caller supplied invalid award parameters.
	ErrPointsInvalidInput = errors.New("points: invalid input")
	// ErrPointsUserNotFound indicates the user record the award targets does not exist.
	ErrPointsUserNotFound = errors.New("points: user not found")
)

// Volume tiers for manual entries. Sensor-confirmed awards carry no volume,
// so they always earn the base point.
const (
	manualTierTwoMinML   = 500
	manualTierThreeMinML = 1000
)

// PointsServiceDeps bundles collaborators required to construct a points service.
type PointsServiceDeps struct {
	Repository repositories.UserStatsRepository
	Clock      func() time.Time
}

type pointsService struct {
	repo  repositories.UserStatsRepository
	clock func() time.Time
}

var _ PointsService = (*pointsService)(nil)

// NewPointsService constructs the points ledger on top of the user stats repository.
func NewPointsService(deps PointsServiceDeps) (PointsService, error) {
	if deps.Repository == nil {
		return nil, errors.New("points service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &pointsService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// AwardItem credits one sensor-confirmed item: flat one point, the normalized
// category counter bumped by one. The repository applies the mutation in a
// transaction so concurrent award paths cannot lose updates.
func (s *pointsService) AwardItem(ctx context.Context, userID, wasteType string) (AwardResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AwardResult{}, fmt.Errorf("%w: user id is required", ErrPointsInvalidInput)
	}
	category, err := NormalizeCategory(wasteType)
	if err != nil {
		return AwardResult{}, err
	}

	return s.apply(ctx, userID, category, 1)
}

// AwardManual credits a manually entered item with volume-tiered points.
func (s *pointsService) AwardManual(ctx context.Context, cmd ManualAwardCommand) (AwardResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return AwardResult{}, fmt.Errorf("%w: user id is required", ErrPointsInvalidInput)
	}
	if cmd.VolumeML <= 0 {
		return AwardResult{}, fmt.Errorf("%w: volume must be positive", ErrPointsInvalidInput)
	}
	category, err := NormalizeCategory(cmd.WasteType)
	if err != nil {
		return AwardResult{}, err
	}

	return s.apply(ctx, userID, category, pointsForVolume(cmd.VolumeML))
}

func (s *pointsService) Stats(ctx context.Context, userID string) (UserStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserStats{}, fmt.Errorf("%w: user id is required", ErrPointsInvalidInput)
	}

	stats, err := s.repo.Get(ctx, userID)
	if err != nil {
		return UserStats{}, s.classify(userID, err)
	}
	return stats, nil
}

func (s *pointsService) apply(ctx context.Context, userID string, category WasteCategory, points int) (AwardResult, error) {
	stats, err := s.repo.ApplyAward(ctx, userID, category, points, s.clock())
	if err != nil {
		return AwardResult{}, s.classify(userID, err)
	}
	return AwardResult{Category: category, Points: points, Stats: stats}, nil
}

func (s *pointsService) classify(userID string, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrPointsUserNotFound, userID)
	}
	return err
}

func pointsForVolume(volumeML int) int {
	switch {
	case volumeML >= manualTierThreeMinML:
		return 3
	case volumeML >= manualTierTwoMinML:
		return 2
	default:
		return 1
	}
}
