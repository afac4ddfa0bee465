package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/repositories"
)

type stubAlertRepository struct {
	mu      sync.Mutex
	reports []domain.CorrectionReport
	failErr error
}

func (r *stubAlertRepository) Append(_ context.Context, report domain.CorrectionReport) (domain.CorrectionReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return domain.CorrectionReport{}, r.failErr
	}
	report.ID = fmt.Sprintf("alert-%d", len(r.reports)+1)
	report.Resolved = false
	r.reports = append(r.reports, report)
	return report, nil
}

var _ repositories.AlertRepository = (*stubAlertRepository)(nil)

type stubModerationPublisher struct {
	mu       sync.Mutex
	messages []ModerationJobMessage
	failErr  error
}

func (p *stubModerationPublisher) PublishModerationJob(_ context.Context, message ModerationJobMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil {
		return "", p.failErr
	}
	p.messages = append(p.messages, message)
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

func TestReportAppendsAndPublishes(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	alerts := &stubAlertRepository{}
	publisher := &stubModerationPublisher{}
	svc, err := NewCorrectionService(CorrectionServiceDeps{
		Alerts:    alerts,
		Publisher: publisher,
		Clock:     fixedClock(now),
	})
	if err != nil {
		t.Fatalf("new correction service: %v", err)
	}

	report, err := svc.Report(context.Background(), CorrectionCommand{
		BinID:     "bin_001",
		UserID:    "user-1",
		Original:  "plastic",
		Corrected: "glass",
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if report.OriginalIdentification != domain.CategoryPlastic {
		t.Errorf("unexpected original %q", report.OriginalIdentification)
	}
	if report.CorrectedIdentification != domain.CategoryGlass {
		t.Errorf("unexpected corrected %q", report.CorrectedIdentification)
	}
	if report.Type != domain.CorrectionTypeSensorError {
		t.Errorf("unexpected type %q", report.Type)
	}
	if report.Resolved {
		t.Error("new reports must start unresolved")
	}
	if !report.CreatedAt.Equal(now) {
		t.Errorf("expected created at %v, got %v", now, report.CreatedAt)
	}

	if len(publisher.messages) != 1 {
		t.Fatalf("expected one moderation job, got %d", len(publisher.messages))
	}
	if publisher.messages[0].AlertID != report.ID {
		t.Errorf("moderation job references %q, report is %q", publisher.messages[0].AlertID, report.ID)
	}
}

func TestReportSurvivesPublishFailure(t *testing.T) {
	alerts := &stubAlertRepository{}
	publisher := &stubModerationPublisher{failErr: errors.New("pubsub down")}
	svc, err := NewCorrectionService(CorrectionServiceDeps{Alerts: alerts, Publisher: publisher})
	if err != nil {
		t.Fatalf("new correction service: %v", err)
	}

	report, err := svc.Report(context.Background(), CorrectionCommand{
		BinID:     "bin_001",
		UserID:    "user-1",
		Original:  "plastic",
		Corrected: "glass",
	})
	if err != nil {
		t.Fatalf("report should tolerate publish failure: %v", err)
	}
	if report.ID == "" {
		t.Error("expected appended report id")
	}
	if len(alerts.reports) != 1 {
		t.Fatalf("expected one appended report, got %d", len(alerts.reports))
	}
}

func TestReportSurfacesAppendFailure(t *testing.T) {
	alerts := &stubAlertRepository{failErr: errors.New("store unreachable")}
	svc, err := NewCorrectionService(CorrectionServiceDeps{Alerts: alerts})
	if err != nil {
		t.Fatalf("new correction service: %v", err)
	}

	if _, err := svc.Report(context.Background(), CorrectionCommand{
		BinID:     "bin_001",
		UserID:    "user-1",
		Original:  "plastic",
		Corrected: "glass",
	}); err == nil {
		t.Fatal("append failure must surface to the caller")
	}
}

func TestReportValidation(t *testing.T) {
	svc, err := NewCorrectionService(CorrectionServiceDeps{Alerts: &stubAlertRepository{}})
	if err != nil {
		t.Fatalf("new correction service: %v", err)
	}

	if _, err := svc.Report(context.Background(), CorrectionCommand{
		UserID:    "user-1",
		Original:  "plastic",
		Corrected: "glass",
	}); !errors.Is(err, ErrCorrectionInvalidInput) {
		t.Errorf("expected ErrCorrectionInvalidInput, got %v", err)
	}

	if _, err := svc.Report(context.Background(), CorrectionCommand{
		BinID:     "bin_001",
		UserID:    "user-1",
		Original:  "plastic",
		Corrected: "styrofoam",
	}); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}
