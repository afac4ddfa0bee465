// Package repositories declares the persistence interfaces consumed by the
// service layer, plus the error taxonomy services use to classify failures.
package repositories

import (
	"context"
	"time"

	"github.com/sortimate/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// BinRepository persists smart-bin documents and owns the occupancy
// compare-and-set. Claim and Release are the only mutations allowed to touch
// status and current_user.
type BinRepository interface {
	Get(ctx context.Context, binID string) (domain.Bin, error)
	List(ctx context.Context) ([]domain.Bin, error)
	Create(ctx context.Context, bin domain.Bin) (domain.Bin, error)

	// Claim atomically transitions the bin from available to occupied for
	// userID. A bin held by anyone (including userID) yields a conflict error.
	Claim(ctx context.Context, binID, userID string, now time.Time) (domain.Bin, error)
	// Release returns the bin to available. Releasing a free bin is a no-op.
	Release(ctx context.Context, binID string, now time.Time) error

	// IncrementFill bumps the per-category fill counter when a deposit lands.
	IncrementFill(ctx context.Context, binID string, category domain.WasteCategory, now time.Time) error
	// ResetCapacity zeroes all fill counters and forces the bin available.
	ResetCapacity(ctx context.Context, binID string, now time.Time) error
}

// UserStatsRepository owns the per-user recycling record. ApplyAward is the
// single mutation path so the items/points invariants hold under concurrency.
type UserStatsRepository interface {
	Get(ctx context.Context, userID string) (domain.UserStats, error)

	// ApplyAward transactionally increments the category counter, the item
	// total, and the point total, returning the updated record.
	ApplyAward(ctx context.Context, userID string, category domain.WasteCategory, points int, now time.Time) (domain.UserStats, error)

	// ListByGroup returns the stats of every member of a family group.
	ListByGroup(ctx context.Context, groupID string) ([]domain.UserStats, error)
}

// GroupRepository reads family group documents.
type GroupRepository interface {
	Get(ctx context.Context, groupID string) (domain.FamilyGroup, error)
}

// AlertRepository appends correction reports. The collection is append-only;
// resolution happens in a separate moderation tool.
type AlertRepository interface {
	Append(ctx context.Context, report domain.CorrectionReport) (domain.CorrectionReport, error)
}

// EventRepository writes identification events produced by bin devices.
type EventRepository interface {
	Append(ctx context.Context, event domain.IdentificationEvent) error
}

// HealthRepository evaluates dependency probes for the readiness endpoint.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
