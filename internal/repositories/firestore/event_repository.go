package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/sortimate/api/internal/domain"
	pfirestore "github.com/sortimate/api/internal/platform/firestore"
)

const defaultEventsCollection = "waste_events"

type eventDocument struct {
	EventID      string    `firestore:"event_id"`
	BinID        string    `firestore:"bin_id"`
	UserID       string    `firestore:"user_id"`
	WasteType    string    `firestore:"waste_type"`
	Confidence   float64   `firestore:"confidence"`
	IsError      bool      `firestore:"is_error"`
	ErrorMessage string    `firestore:"error_message"`
	RawImagePath string    `firestore:"raw_image_path"`
	LatencyMS    int       `firestore:"latency_ms"`
	Timestamp    time.Time `firestore:"timestamp"`
}

// EventRepository writes identification events reported by bin devices. The
// device-supplied event id doubles as the document id, so redelivered events
// overwrite themselves instead of duplicating.
type EventRepository struct {
	events *pfirestore.BaseRepository[eventDocument]
}

// NewEventRepository constructs a Firestore-backed event repository. An empty
// collection name falls back to waste_events.
func NewEventRepository(provider *pfirestore.Provider, collection string) (*EventRepository, error) {
	if provider == nil {
		return nil, errors.New("event repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultEventsCollection
	}
	return &EventRepository{
		events: pfirestore.NewBaseRepository[eventDocument](provider, collection),
	}, nil
}

// Watch streams identification events for one bin until ctx is cancelled.
// It attaches a snapshot listener filtered by bin id and invokes fn for every
// added document newer than since. Snapshot listeners are at-least-once:
// reconnects can replay documents, so consumers must tolerate duplicates.
func (r *EventRepository) Watch(ctx context.Context, binID string, since time.Time, fn func(domain.IdentificationEvent)) error {
	if strings.TrimSpace(binID) == "" {
		return pfirestore.WrapError("events.watch", errors.New("bin id is required"))
	}
	if fn == nil {
		return pfirestore.WrapError("events.watch", errors.New("event handler is required"))
	}

	coll, err := r.events.CollectionRef(ctx)
	if err != nil {
		return err
	}

	query := coll.Where("bin_id", "==", binID).Where("timestamp", ">", since.UTC())
	snapshots := query.Snapshots(ctx)
	defer snapshots.Stop()

	for {
		snapshot, err := snapshots.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return pfirestore.WrapError("events.watch", err)
		}
		for _, change := range snapshot.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}
			var doc eventDocument
			if err := change.Doc.DataTo(&doc); err != nil {
				continue
			}
			fn(doc.toEvent(change.Doc.Ref.ID))
		}
	}
}

// Append persists one identification event.
func (r *EventRepository) Append(ctx context.Context, event domain.IdentificationEvent) error {
	if strings.TrimSpace(event.EventID) == "" {
		return pfirestore.WrapError("events.append", errors.New("event id is required"))
	}

	doc := eventDocument{
		EventID:      event.EventID,
		BinID:        event.BinID,
		UserID:       event.UserID,
		WasteType:    string(event.WasteType),
		Confidence:   event.Confidence,
		IsError:      event.IsError,
		ErrorMessage: event.ErrorMessage,
		RawImagePath: event.RawImagePath,
		LatencyMS:    event.LatencyMS,
		Timestamp:    event.Timestamp.UTC(),
	}

	_, err := r.events.Set(ctx, event.EventID, doc)
	return err
}

func (d eventDocument) toEvent(id string) domain.IdentificationEvent {
	eventID := d.EventID
	if eventID == "" {
		eventID = id
	}
	return domain.IdentificationEvent{
		EventID:      eventID,
		BinID:        d.BinID,
		UserID:       d.UserID,
		WasteType:    domain.WasteCategory(d.WasteType),
		Confidence:   d.Confidence,
		IsError:      d.IsError,
		ErrorMessage: d.ErrorMessage,
		RawImagePath: d.RawImagePath,
		LatencyMS:    d.LatencyMS,
		Timestamp:    d.Timestamp,
	}
}
