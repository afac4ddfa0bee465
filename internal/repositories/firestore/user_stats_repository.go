package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/sortimate/api/internal/domain"
	pfirestore "github.com/sortimate/api/internal/platform/firestore"
)

const usersCollection = "users"

type userDocument struct {
	DisplayName   string         `firestore:"display_name"`
	RecycleStats  map[string]int `firestore:"recycle_stats"`
	TotalPoints   int            `firestore:"total_points"`
	ItemsRecycled int            `firestore:"items_recycled"`
	Family        familySection  `firestore:"family"`
	LastActivity  time.Time      `firestore:"last_activity"`
}

type familySection struct {
	GroupID string `firestore:"group_id"`
}

// UserStatsRepository implements repositories.UserStatsRepository backed by
// Firestore. Awards are transactional read-modify-writes so the per-category
// counters, item total, and point total move together.
type UserStatsRepository struct {
	provider *pfirestore.Provider
	users    *pfirestore.BaseRepository[userDocument]
}

// NewUserStatsRepository constructs a Firestore-backed user stats repository.
func NewUserStatsRepository(provider *pfirestore.Provider) (*UserStatsRepository, error) {
	if provider == nil {
		return nil, errors.New("user stats repository requires firestore provider")
	}
	return &UserStatsRepository{
		provider: provider,
		users:    pfirestore.NewBaseRepository[userDocument](provider, usersCollection),
	}, nil
}

// Get fetches the recycling record for a user.
func (r *UserStatsRepository) Get(ctx context.Context, userID string) (domain.UserStats, error) {
	doc, err := r.users.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.UserStats{}, err
	}
	return doc.Data.toStats(doc.ID), nil
}

// ApplyAward transactionally applies a single award. The item total is
// recomputed from the category counters inside the transaction, so
// items_recycled always equals the sum of recycle_stats after commit.
func (r *UserStatsRepository) ApplyAward(ctx context.Context, userID string, category domain.WasteCategory, points int, now time.Time) (domain.UserStats, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return domain.UserStats{}, pfirestore.WrapError("users.award", errors.New("user id is required"))
	}
	if !category.Valid() {
		return domain.UserStats{}, pfirestore.WrapError("users.award", fmt.Errorf("unknown category %q", category))
	}
	if points <= 0 {
		return domain.UserStats{}, pfirestore.WrapError("users.award", fmt.Errorf("points must be positive, got %d", points))
	}

	var updated userDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.users.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc userDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("users decode %s: %w", id, err)
		}

		if doc.RecycleStats == nil {
			doc.RecycleStats = make(map[string]int, len(domain.Categories()))
		}
		doc.RecycleStats[string(category)]++

		total := 0
		for _, n := range doc.RecycleStats {
			total += n
		}
		doc.ItemsRecycled = total
		doc.TotalPoints += points
		doc.LastActivity = now.UTC()

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return domain.UserStats{}, pfirestore.WrapError("users.award", err)
	}
	return updated.toStats(id), nil
}

// ListByGroup returns the stats of every member of the given family group.
func (r *UserStatsRepository) ListByGroup(ctx context.Context, groupID string) ([]domain.UserStats, error) {
	id := strings.TrimSpace(groupID)
	if id == "" {
		return nil, pfirestore.WrapError("users.group", errors.New("group id is required"))
	}

	docs, err := r.users.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("family.group_id", "==", id)
	})
	if err != nil {
		return nil, err
	}

	members := make([]domain.UserStats, 0, len(docs))
	for _, doc := range docs {
		members = append(members, doc.Data.toStats(doc.ID))
	}
	return members, nil
}

func (d userDocument) toStats(id string) domain.UserStats {
	stats := make(map[domain.WasteCategory]int, len(d.RecycleStats))
	for category, count := range d.RecycleStats {
		stats[domain.WasteCategory(category)] = count
	}
	return domain.UserStats{
		UserID:        id,
		DisplayName:   d.DisplayName,
		RecycleStats:  stats,
		TotalPoints:   d.TotalPoints,
		ItemsRecycled: d.ItemsRecycled,
		GroupID:       d.Family.GroupID,
		LastActivity:  d.LastActivity,
	}
}
