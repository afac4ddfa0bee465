package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sortimate/api/internal/domain"
	pfirestore "github.com/sortimate/api/internal/platform/firestore"
)

const groupsCollection = "groups"

type groupDocument struct {
	Name      string    `firestore:"name"`
	CreatedBy string    `firestore:"created_by"`
	CreatedAt time.Time `firestore:"created_at"`
}

// GroupRepository implements repositories.GroupRepository backed by Firestore.
type GroupRepository struct {
	groups *pfirestore.BaseRepository[groupDocument]
}

// NewGroupRepository constructs a Firestore-backed group repository.
func NewGroupRepository(provider *pfirestore.Provider) (*GroupRepository, error) {
	if provider == nil {
		return nil, errors.New("group repository requires firestore provider")
	}
	return &GroupRepository{
		groups: pfirestore.NewBaseRepository[groupDocument](provider, groupsCollection),
	}, nil
}

// Get fetches a family group by id.
func (r *GroupRepository) Get(ctx context.Context, groupID string) (domain.FamilyGroup, error) {
	doc, err := r.groups.Get(ctx, strings.TrimSpace(groupID))
	if err != nil {
		return domain.FamilyGroup{}, err
	}
	return domain.FamilyGroup{
		ID:        doc.ID,
		Name:      doc.Data.Name,
		CreatedBy: doc.Data.CreatedBy,
		CreatedAt: doc.Data.CreatedAt,
	}, nil
}
