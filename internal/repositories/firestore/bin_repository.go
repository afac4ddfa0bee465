// Package firestore contains the Firestore-backed implementations of the
// repository interfaces.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sortimate/api/internal/domain"
	pfirestore "github.com/sortimate/api/internal/platform/firestore"
)

const binsCollection = "bins"

type binDocument struct {
	Location     string         `firestore:"location"`
	Status       string         `firestore:"status"`
	CurrentUser  string         `firestore:"current_user"`
	Capacity     map[string]int `firestore:"capacity"`
	AdminNotes   string         `firestore:"admin_notes"`
	RPiConnected bool           `firestore:"rpi_connected"`
	CreatedAt    time.Time      `firestore:"created_at"`
	LastUpdate   time.Time      `firestore:"last_update"`
}

// BinRepository implements repositories.BinRepository backed by Firestore.
// Occupancy changes run inside transactions so exactly one claimer wins.
type BinRepository struct {
	provider *pfirestore.Provider
	bins     *pfirestore.BaseRepository[binDocument]
}

// NewBinRepository constructs a Firestore-backed bin repository.
func NewBinRepository(provider *pfirestore.Provider) (*BinRepository, error) {
	if provider == nil {
		return nil, errors.New("bin repository requires firestore provider")
	}
	return &BinRepository{
		provider: provider,
		bins:     pfirestore.NewBaseRepository[binDocument](provider, binsCollection),
	}, nil
}

// Get fetches a bin by id.
func (r *BinRepository) Get(ctx context.Context, binID string) (domain.Bin, error) {
	doc, err := r.bins.Get(ctx, strings.TrimSpace(binID))
	if err != nil {
		return domain.Bin{}, err
	}
	return doc.Data.toBin(doc.ID), nil
}

// List returns every registered bin.
func (r *BinRepository) List(ctx context.Context) ([]domain.Bin, error) {
	docs, err := r.bins.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("created_at", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	bins := make([]domain.Bin, 0, len(docs))
	for _, doc := range docs {
		bins = append(bins, doc.Data.toBin(doc.ID))
	}
	return bins, nil
}

// Create registers a new bin document. The caller supplies the id; an
// existing document with the same id yields a conflict.
func (r *BinRepository) Create(ctx context.Context, bin domain.Bin) (domain.Bin, error) {
	if strings.TrimSpace(bin.ID) == "" {
		return domain.Bin{}, pfirestore.WrapError("bins.create", errors.New("bin id is required"))
	}

	doc := fromBin(bin)
	ref, err := r.bins.DocumentRef(ctx, bin.ID)
	if err != nil {
		return domain.Bin{}, err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Bin{}, pfirestore.WrapError("bins.create", err)
	}
	return doc.toBin(bin.ID), nil
}

// Claim atomically takes the bin for userID. The transaction asserts the bin
// is still available at commit time, so concurrent claimers serialise and all
// but one observe a conflict.
func (r *BinRepository) Claim(ctx context.Context, binID, userID string, now time.Time) (domain.Bin, error) {
	id := strings.TrimSpace(binID)
	uid := strings.TrimSpace(userID)
	if id == "" || uid == "" {
		return domain.Bin{}, pfirestore.WrapError("bins.claim", errors.New("bin id and user id are required"))
	}

	var claimed binDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.bins.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc binDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("bins decode %s: %w", id, err)
		}

		if doc.Status != string(domain.BinAvailable) {
			return status.Errorf(codes.FailedPrecondition, "bin %s is occupied by %s", id, doc.CurrentUser)
		}

		doc.Status = string(domain.BinOccupied)
		doc.CurrentUser = uid
		doc.LastUpdate = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		claimed = doc
		return nil
	})
	if err != nil {
		return domain.Bin{}, pfirestore.WrapError("bins.claim", err)
	}
	return claimed.toBin(id), nil
}

// Release returns the bin to available. Releasing an already-free bin
// succeeds without effect.
func (r *BinRepository) Release(ctx context.Context, binID string, now time.Time) error {
	id := strings.TrimSpace(binID)
	if id == "" {
		return pfirestore.WrapError("bins.release", errors.New("bin id is required"))
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.bins.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc binDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("bins decode %s: %w", id, err)
		}

		if doc.Status == string(domain.BinAvailable) && doc.CurrentUser == "" {
			return nil
		}

		doc.Status = string(domain.BinAvailable)
		doc.CurrentUser = ""
		doc.LastUpdate = now.UTC()
		return tx.Set(ref, doc)
	})
	return pfirestore.WrapError("bins.release", err)
}

// IncrementFill bumps the per-category fill counter after a deposit. The
// device reporting the deposit also proves the unit is reachable, so the
// connectivity flag refreshes here.
func (r *BinRepository) IncrementFill(ctx context.Context, binID string, category domain.WasteCategory, now time.Time) error {
	id := strings.TrimSpace(binID)
	if id == "" {
		return pfirestore.WrapError("bins.fill", errors.New("bin id is required"))
	}
	if !category.Valid() {
		return pfirestore.WrapError("bins.fill", fmt.Errorf("unknown category %q", category))
	}

	_, err := r.bins.Update(ctx, id, []firestore.Update{
		{Path: "capacity." + string(category), Value: firestore.Increment(1)},
		{Path: "rpi_connected", Value: true},
		{Path: "last_update", Value: now.UTC()},
	})
	return err
}

// ResetCapacity zeroes the fill counters and forces the bin available,
// dropping any stale holder.
func (r *BinRepository) ResetCapacity(ctx context.Context, binID string, now time.Time) error {
	id := strings.TrimSpace(binID)
	if id == "" {
		return pfirestore.WrapError("bins.reset", errors.New("bin id is required"))
	}

	_, err := r.bins.Update(ctx, id, []firestore.Update{
		{Path: "capacity", Value: emptyCapacity()},
		{Path: "status", Value: string(domain.BinAvailable)},
		{Path: "current_user", Value: ""},
		{Path: "last_update", Value: now.UTC()},
	})
	return err
}

func emptyCapacity() map[string]int {
	capacity := make(map[string]int, len(domain.Categories()))
	for _, category := range domain.Categories() {
		capacity[string(category)] = 0
	}
	return capacity
}

func fromBin(bin domain.Bin) binDocument {
	capacity := emptyCapacity()
	for category, level := range bin.Capacity {
		capacity[string(category)] = level
	}
	return binDocument{
		Location:     bin.Location,
		Status:       string(bin.Status),
		CurrentUser:  bin.CurrentUser,
		Capacity:     capacity,
		AdminNotes:   bin.AdminNotes,
		RPiConnected: bin.RPiConnected,
		CreatedAt:    bin.CreatedAt.UTC(),
		LastUpdate:   bin.LastUpdate.UTC(),
	}
}

func (d binDocument) toBin(id string) domain.Bin {
	capacity := make(map[domain.WasteCategory]int, len(d.Capacity))
	for category, level := range d.Capacity {
		capacity[domain.WasteCategory(category)] = level
	}
	return domain.Bin{
		ID:           id,
		Location:     d.Location,
		Status:       domain.BinStatus(d.Status),
		CurrentUser:  d.CurrentUser,
		Capacity:     capacity,
		AdminNotes:   d.AdminNotes,
		RPiConnected: d.RPiConnected,
		CreatedAt:    d.CreatedAt,
		LastUpdate:   d.LastUpdate,
	}
}
