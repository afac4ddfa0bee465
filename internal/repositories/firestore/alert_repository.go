package firestore

import (
	"context"
	"errors"
	"time"

	"github.com/sortimate/api/internal/domain"
	pfirestore "github.com/sortimate/api/internal/platform/firestore"
)

const alertsCollection = "alerts"

type alertDocument struct {
	BinID                   string    `firestore:"bin_id"`
	UserID                  string    `firestore:"user_id"`
	OriginalIdentification  string    `firestore:"original_identification"`
	CorrectedIdentification string    `firestore:"corrected_identification"`
	Type                    string    `firestore:"type"`
	Resolved                bool      `firestore:"resolved"`
	CreatedAt               time.Time `firestore:"created_at"`
}

// AlertRepository implements repositories.AlertRepository backed by Firestore.
// Alerts are append-only; nothing in the API mutates or deletes them.
type AlertRepository struct {
	alerts *pfirestore.BaseRepository[alertDocument]
}

// NewAlertRepository constructs a Firestore-backed alert repository.
func NewAlertRepository(provider *pfirestore.Provider) (*AlertRepository, error) {
	if provider == nil {
		return nil, errors.New("alert repository requires firestore provider")
	}
	return &AlertRepository{
		alerts: pfirestore.NewBaseRepository[alertDocument](provider, alertsCollection),
	}, nil
}

// Append writes a new correction report and returns it with the generated id.
func (r *AlertRepository) Append(ctx context.Context, report domain.CorrectionReport) (domain.CorrectionReport, error) {
	doc := alertDocument{
		BinID:                   report.BinID,
		UserID:                  report.UserID,
		OriginalIdentification:  string(report.OriginalIdentification),
		CorrectedIdentification: string(report.CorrectedIdentification),
		Type:                    report.Type,
		Resolved:                false,
		CreatedAt:               report.CreatedAt.UTC(),
	}

	id, err := r.alerts.Add(ctx, doc)
	if err != nil {
		return domain.CorrectionReport{}, err
	}

	report.ID = id
	report.Resolved = false
	return report, nil
}
