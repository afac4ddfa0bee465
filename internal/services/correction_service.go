package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/repositories"
)

// ErrCorrectionInvalidInput indicates the caller supplied invalid report parameters.
var ErrCorrectionInvalidInput = errors.New("correction: invalid input")

// CorrectionServiceDeps bundles collaborators required to construct a correction service.
type CorrectionServiceDeps struct {
	Alerts repositories.AlertRepository
	// Publisher is optional; when set, each appended report also enqueues a
	// moderation job.
	Publisher ModerationPublisher
	Logger    *zap.Logger
	Clock     func() time.Time
}

type correctionService struct {
	alerts    repositories.AlertRepository
	publisher ModerationPublisher
	logger    *zap.Logger
	clock     func() time.Time
}

var _ CorrectionService = (*correctionService)(nil)

// NewCorrectionService constructs the correction sink.
func NewCorrectionService(deps CorrectionServiceDeps) (CorrectionService, error) {
	if deps.Alerts == nil {
		return nil, errors.New("correction service: alert repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &correctionService{
		alerts:    deps.Alerts,
		publisher: deps.Publisher,
		logger:    logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Report appends one sensor-dispute record. The append must succeed for the
// call to succeed; the moderation publish is best-effort, since the report is
// durable and the moderation tool also scans the alert collection directly.
func (s *correctionService) Report(ctx context.Context, cmd CorrectionCommand) (CorrectionReport, error) {
	binID := strings.TrimSpace(cmd.BinID)
	userID := strings.TrimSpace(cmd.UserID)
	if binID == "" || userID == "" {
		return CorrectionReport{}, fmt.Errorf("%w: bin id and user id are required", ErrCorrectionInvalidInput)
	}
	original, err := NormalizeCategory(cmd.Original)
	if err != nil {
		return CorrectionReport{}, err
	}
	corrected, err := NormalizeCategory(cmd.Corrected)
	if err != nil {
		return CorrectionReport{}, err
	}

	report := domain.CorrectionReport{
		BinID:                   binID,
		UserID:                  userID,
		OriginalIdentification:  original,
		CorrectedIdentification: corrected,
		Type:                    domain.CorrectionTypeSensorError,
		Resolved:                false,
		CreatedAt:               s.clock(),
	}

	appended, err := s.alerts.Append(ctx, report)
	if err != nil {
		return CorrectionReport{}, err
	}

	if s.publisher != nil {
		message := ModerationJobMessage{
			AlertID:                 appended.ID,
			BinID:                   appended.BinID,
			UserID:                  appended.UserID,
			OriginalIdentification:  string(appended.OriginalIdentification),
			CorrectedIdentification: string(appended.CorrectedIdentification),
			ReportedAt:              appended.CreatedAt,
		}
		if _, err := s.publisher.PublishModerationJob(ctx, message); err != nil {
			s.logger.Warn("moderation job publish failed",
				zap.String("alert_id", appended.ID),
				zap.String("bin_id", appended.BinID),
				zap.Error(err))
		}
	}

	return appended, nil
}
