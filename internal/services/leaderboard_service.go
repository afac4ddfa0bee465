package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/repositories"
)

var (
	// ErrLeaderboardInvalidInput indicates the caller supplied invalid leaderboard parameters.
	ErrLeaderboardInvalidInput = errors.New("leaderboard: invalid input")
	// ErrGroupNotFound indicates the requested family group does not exist.
	ErrGroupNotFound = errors.New("leaderboard: group not found")
	// ErrNoFamilyGroup indicates the user has not joined a family group.
	ErrNoFamilyGroup = errors.New("leaderboard: user has no family group")
)

// LeaderboardServiceDeps bundles collaborators required to construct a leaderboard service.
type LeaderboardServiceDeps struct {
	Groups repositories.GroupRepository
	Stats  repositories.UserStatsRepository
	Clock  func() time.Time
}

type leaderboardService struct {
	groups repositories.GroupRepository
	stats  repositories.UserStatsRepository
	clock  func() time.Time
}

var _ LeaderboardService = (*leaderboardService)(nil)

// NewLeaderboardService constructs the family leaderboard service.
func NewLeaderboardService(deps LeaderboardServiceDeps) (LeaderboardService, error) {
	if deps.Groups == nil {
		return nil, errors.New("leaderboard service: group repository is required")
	}
	if deps.Stats == nil {
		return nil, errors.New("leaderboard service: stats repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &leaderboardService{
		groups: deps.Groups,
		stats:  deps.Stats,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// GroupLeaderboard loads every member of a group and ranks them. Ranks are
// recomputed on every read from live stats, so the view is never stale.
func (s *leaderboardService) GroupLeaderboard(ctx context.Context, groupID string) (Leaderboard, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return Leaderboard{}, fmt.Errorf("%w: group id is required", ErrLeaderboardInvalidInput)
	}

	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Leaderboard{}, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		}
		return Leaderboard{}, err
	}

	members, err := s.stats.ListByGroup(ctx, groupID)
	if err != nil {
		return Leaderboard{}, err
	}

	return Leaderboard{
		Group:       group,
		Members:     rankMembers(members),
		GeneratedAt: s.clock(),
	}, nil
}

// LeaderboardForUser resolves the user's group membership and returns that
// group's leaderboard.
func (s *leaderboardService) LeaderboardForUser(ctx context.Context, userID string) (Leaderboard, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Leaderboard{}, fmt.Errorf("%w: user id is required", ErrLeaderboardInvalidInput)
	}

	stats, err := s.stats.Get(ctx, userID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Leaderboard{}, fmt.Errorf("%w: %s", ErrNoFamilyGroup, userID)
		}
		return Leaderboard{}, err
	}
	if strings.TrimSpace(stats.GroupID) == "" {
		return Leaderboard{}, fmt.Errorf("%w: %s", ErrNoFamilyGroup, userID)
	}

	return s.GroupLeaderboard(ctx, stats.GroupID)
}

// rankMembers orders by points descending, breaking ties by item count and
// then user id so the ordering is deterministic.
func rankMembers(stats []domain.UserStats) []domain.GroupMember {
	sorted := make([]domain.UserStats, len(stats))
	copy(sorted, stats)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TotalPoints != sorted[j].TotalPoints {
			return sorted[i].TotalPoints > sorted[j].TotalPoints
		}
		if sorted[i].ItemsRecycled != sorted[j].ItemsRecycled {
			return sorted[i].ItemsRecycled > sorted[j].ItemsRecycled
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	members := make([]domain.GroupMember, 0, len(sorted))
	for i, user := range sorted {
		rank := i + 1
		// Equal points share the higher rank.
		if i > 0 && user.TotalPoints == sorted[i-1].TotalPoints && user.ItemsRecycled == sorted[i-1].ItemsRecycled {
			rank = members[i-1].Rank
		}
		members = append(members, domain.GroupMember{
			UserID:        user.UserID,
			DisplayName:   domain.NormalizeDisplayName(user.DisplayName, user.UserID),
			TotalPoints:   user.TotalPoints,
			ItemsRecycled: user.ItemsRecycled,
			Rank:          rank,
		})
	}
	return members
}
