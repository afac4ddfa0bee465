package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sortimate/api/internal/domain"
)

// fakeFeed is an in-memory IdentificationFeed mirroring the dispatcher's
// per-bin fan-out.
type fakeFeed struct {
	mu           sync.Mutex
	subs         map[string][]*fakeFeedSub
	subscribeErr error
	unsubscribed int
}

type fakeFeedSub struct {
	feed   *fakeFeed
	binID  string
	events chan domain.IdentificationEvent
	once   sync.Once
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[string][]*fakeFeedSub)}
}

func (f *fakeFeed) Subscribe(binID, _ string) (FeedSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeFeedSub{feed: f, binID: binID, events: make(chan domain.IdentificationEvent, 8)}
	f.subs[binID] = append(f.subs[binID], sub)
	return sub, nil
}

func (f *fakeFeed) Publish(event domain.IdentificationEvent) {
	f.mu.Lock()
	targets := append([]*fakeFeedSub(nil), f.subs[event.BinID]...)
	f.mu.Unlock()
	for _, sub := range targets {
		sub.events <- event
	}
}

func (s *fakeFeedSub) Events() <-chan domain.IdentificationEvent { return s.events }

func (s *fakeFeedSub) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		remaining := s.feed.subs[s.binID][:0]
		for _, sub := range s.feed.subs[s.binID] {
			if sub != s {
				remaining = append(remaining, sub)
			}
		}
		s.feed.subs[s.binID] = remaining
		s.feed.unsubscribed++
		s.feed.mu.Unlock()
		close(s.events)
	})
}

// scriptedPoints lets tests stall or fail the award path.
type scriptedPoints struct {
	mu    sync.Mutex
	calls int
	block chan struct{}
	err   error
}

func (p *scriptedPoints) AwardItem(_ context.Context, _, wasteType string) (AwardResult, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	err := p.err
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return AwardResult{}, err
	}
	category, normErr := NormalizeCategory(wasteType)
	if normErr != nil {
		return AwardResult{}, normErr
	}
	return AwardResult{Category: category, Points: 1}, nil
}

func (p *scriptedPoints) AwardManual(context.Context, ManualAwardCommand) (AwardResult, error) {
	return AwardResult{}, errors.New("not scripted")
}

func (p *scriptedPoints) Stats(context.Context, string) (UserStats, error) {
	return UserStats{}, errors.New("not scripted")
}

func (p *scriptedPoints) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type sessionFixture struct {
	svc     SessionService
	binRepo *stubBinRepository
	stats   *stubUserStatsRepository
	alerts  *stubAlertRepository
	feed    *fakeFeed
	binSvc  BinService
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	binRepo := newStubBinRepository(availableBin("bin_001"))
	binSvc, err := NewBinService(BinServiceDeps{Repository: binRepo})
	if err != nil {
		t.Fatalf("new bin service: %v", err)
	}
	stats := newStubUserStatsRepository(testUser("user-1"), testUser("user-2"))
	pointsSvc, err := NewPointsService(PointsServiceDeps{Repository: stats})
	if err != nil {
		t.Fatalf("new points service: %v", err)
	}
	alerts := &stubAlertRepository{}
	correctionSvc, err := NewCorrectionService(CorrectionServiceDeps{Alerts: alerts})
	if err != nil {
		t.Fatalf("new correction service: %v", err)
	}
	feed := newFakeFeed()

	svc, err := NewSessionService(SessionServiceDeps{
		Bins:        binSvc,
		Points:      pointsSvc,
		Corrections: correctionSvc,
		Feed:        feed,
		SessionTTL:  time.Hour,
	})
	if err != nil {
		t.Fatalf("new session service: %v", err)
	}
	t.Cleanup(svc.Close)

	return &sessionFixture{
		svc:     svc,
		binRepo: binRepo,
		stats:   stats,
		alerts:  alerts,
		feed:    feed,
		binSvc:  binSvc,
	}
}

func (f *sessionFixture) start(t *testing.T, userID string) SessionSnapshot {
	t.Helper()
	snapshot, err := f.svc.Start(context.Background(), StartSessionCommand{
		UserID:      userID,
		ScanPayload: "bin_001",
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return snapshot
}

func (f *sessionFixture) waitForState(t *testing.T, userID string, state domain.SessionState) SessionSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snapshot, err := f.svc.Current(context.Background(), userID)
		if err == nil && snapshot.State == state {
			return snapshot
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session for %s never reached %s", userID, state)
	return SessionSnapshot{}
}

func sensorEvent(eventID string, category domain.WasteCategory) domain.IdentificationEvent {
	return domain.IdentificationEvent{
		EventID:    eventID,
		BinID:      "bin_001",
		UserID:     "user-1",
		WasteType:  category,
		Confidence: 0.92,
		Timestamp:  time.Now().UTC(),
	}
}

func TestStartClaimsBinAndAwaits(t *testing.T) {
	f := newSessionFixture(t)

	snapshot, err := f.svc.Start(context.Background(), StartSessionCommand{
		UserID:      "user-1",
		ScanPayload: "https://sortimate.app/bin/bin_001",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snapshot.State != domain.SessionAwaitingIdentification {
		t.Errorf("expected awaiting state, got %s", snapshot.State)
	}
	if snapshot.BinID != "bin_001" {
		t.Errorf("expected bin_001, got %s", snapshot.BinID)
	}

	bin, err := f.binSvc.GetBin(context.Background(), "bin_001")
	if err != nil {
		t.Fatalf("get bin: %v", err)
	}
	if bin.Status != domain.BinOccupied || bin.CurrentUser != "user-1" {
		t.Errorf("bin not claimed: %+v", bin)
	}
}

func TestStartOccupiedBinConflict(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")

	_, err := f.svc.Start(context.Background(), StartSessionCommand{
		UserID:      "user-2",
		ScanPayload: "bin_001",
	})
	if !errors.Is(err, ErrBinOccupied) {
		t.Fatalf("expected ErrBinOccupied, got %v", err)
	}
	if _, err := f.svc.Current(context.Background(), "user-2"); !errors.Is(err, ErrNoActiveSession) {
		t.Error("loser must stay idle")
	}

	bin, err := f.binSvc.GetBin(context.Background(), "bin_001")
	if err != nil {
		t.Fatalf("get bin: %v", err)
	}
	if bin.CurrentUser != "user-1" {
		t.Errorf("conflict mutated occupancy: %+v", bin)
	}
}

func TestStartValidation(t *testing.T) {
	f := newSessionFixture(t)

	if _, err := f.svc.Start(context.Background(), StartSessionCommand{
		UserID:      "user-1",
		ScanPayload: "not a bin code",
	}); !errors.Is(err, ErrInvalidScanPayload) {
		t.Errorf("expected ErrInvalidScanPayload, got %v", err)
	}
	if _, err := f.svc.Start(context.Background(), StartSessionCommand{
		UserID:      "user-1",
		ScanPayload: "bin_missing",
	}); !errors.Is(err, ErrBinNotFound) {
		t.Errorf("expected ErrBinNotFound, got %v", err)
	}

	f.start(t, "user-1")
	if _, err := f.svc.Start(context.Background(), StartSessionCommand{
		UserID:      "user-1",
		ScanPayload: "bin_001",
	}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
}

func TestEventMovesSessionToConfirming(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")

	f.feed.Publish(sensorEvent("evt-1", domain.CategoryGlass))
	snapshot := f.waitForState(t, "user-1", domain.SessionConfirming)

	if snapshot.PendingEvent == nil || snapshot.PendingEvent.EventID != "evt-1" {
		t.Fatalf("expected pending evt-1, got %+v", snapshot.PendingEvent)
	}
}

func TestSensorErrorEventKeepsAwaiting(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")

	f.feed.Publish(domain.IdentificationEvent{
		EventID:      "evt-err",
		BinID:        "bin_001",
		UserID:       "user-1",
		IsError:      true,
		ErrorMessage: "camera failure",
		Timestamp:    time.Now().UTC(),
	})

	// The fault carries no classification; the session must keep waiting
	// rather than offering an empty identification for confirmation.
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		snapshot, err := f.svc.Current(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("current: %v", err)
		}
		if snapshot.State != domain.SessionAwaitingIdentification {
			t.Fatalf("error event moved session to %s", snapshot.State)
		}
		if snapshot.PendingEvent != nil {
			t.Fatalf("error event stored as pending: %+v", snapshot.PendingEvent)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A real classification afterwards proceeds normally.
	f.feed.Publish(sensorEvent("evt-1", domain.CategoryGlass))
	snapshot := f.waitForState(t, "user-1", domain.SessionConfirming)
	if snapshot.PendingEvent == nil || snapshot.PendingEvent.EventID != "evt-1" {
		t.Fatalf("expected pending evt-1, got %+v", snapshot.PendingEvent)
	}

	result, err := f.svc.Confirm(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Award.Points != 1 || result.Award.Category != domain.CategoryGlass {
		t.Errorf("unexpected award %+v", result.Award)
	}
}

func TestLaterEventSupersedesPending(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")

	f.feed.Publish(sensorEvent("evt-1", domain.CategoryPlastic))
	f.waitForState(t, "user-1", domain.SessionConfirming)
	f.feed.Publish(sensorEvent("evt-2", domain.CategoryGlass))

	deadline := time.Now().Add(2 * time.Second)
	for {
		snapshot, err := f.svc.Current(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("current: %v", err)
		}
		if snapshot.PendingEvent != nil && snapshot.PendingEvent.EventID == "evt-2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pending event never superseded: %+v", snapshot.PendingEvent)
		}
		time.Sleep(5 * time.Millisecond)
	}

	result, err := f.svc.Confirm(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Award.Category != domain.CategoryGlass {
		t.Errorf("confirm should use the latest event, awarded %s", result.Award.Category)
	}
}

func TestConfirmAwardsOnceAndReleases(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")
	f.feed.Publish(sensorEvent("evt-1", domain.CategoryGlass))
	f.waitForState(t, "user-1", domain.SessionConfirming)

	result, err := f.svc.Confirm(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Award.Points != 1 {
		t.Errorf("expected flat 1 point, got %d", result.Award.Points)
	}
	if result.Session.State != domain.SessionIdle {
		t.Errorf("expected idle after confirm, got %s", result.Session.State)
	}
	if result.Award.Stats.RecycleStats[domain.CategoryGlass] != 1 {
		t.Errorf("expected glass count 1, got %+v", result.Award.Stats.RecycleStats)
	}

	bin, err := f.binSvc.GetBin(context.Background(), "bin_001")
	if err != nil {
		t.Fatalf("get bin: %v", err)
	}
	if bin.Status != domain.BinAvailable {
		t.Errorf("bin not released after confirm: %+v", bin)
	}

	// Double submission: the session is gone, no second award.
	if _, err := f.svc.Confirm(context.Background(), "user-1"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession on retried confirm, got %v", err)
	}
	if f.stats.awardCalls != 1 {
		t.Errorf("expected exactly one award, got %d", f.stats.awardCalls)
	}
}

func TestConfirmRequiresPendingEvent(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")

	if _, err := f.svc.Confirm(context.Background(), "user-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestConcurrentConfirmSingleAward(t *testing.T) {
	binRepo := newStubBinRepository(availableBin("bin_001"))
	binSvc, err := NewBinService(BinServiceDeps{Repository: binRepo})
	if err != nil {
		t.Fatalf("new bin service: %v", err)
	}
	correctionSvc, err := NewCorrectionService(CorrectionServiceDeps{Alerts: &stubAlertRepository{}})
	if err != nil {
		t.Fatalf("new correction service: %v", err)
	}
	points := &scriptedPoints{block: make(chan struct{})}
	feed := newFakeFeed()

	svc, err := NewSessionService(SessionServiceDeps{
		Bins:        binSvc,
		Points:      points,
		Corrections: correctionSvc,
		Feed:        feed,
	})
	if err != nil {
		t.Fatalf("new session service: %v", err)
	}
	t.Cleanup(svc.Close)

	if _, err := svc.Start(context.Background(), StartSessionCommand{UserID: "user-1", ScanPayload: "bin_001"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	feed.Publish(sensorEvent("evt-1", domain.CategoryGlass))

	deadline := time.Now().Add(2 * time.Second)
	for {
		snapshot, err := svc.Current(context.Background(), "user-1")
		if err == nil && snapshot.State == domain.SessionConfirming {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never reached confirming")
		}
		time.Sleep(5 * time.Millisecond)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Confirm(context.Background(), "user-1")
		firstDone <- err
	}()

	// Wait for the first confirm to take the processing guard.
	deadline = time.Now().Add(2 * time.Second)
	for points.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first confirm never reached the ledger")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Rapid double click while the award is in flight.
	if _, err := svc.Confirm(context.Background(), "user-1"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("expected ErrSessionBusy, got %v", err)
	}

	close(points.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if points.callCount() != 1 {
		t.Errorf("expected exactly one award call, got %d", points.callCount())
	}
}

func TestConfirmFailureKeepsSessionRetryable(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")
	f.feed.Publish(sensorEvent("evt-1", domain.CategoryGlass))
	f.waitForState(t, "user-1", domain.SessionConfirming)

	f.stats.mu.Lock()
	f.stats.failAwards = errors.New("store unreachable")
	f.stats.mu.Unlock()

	if _, err := f.svc.Confirm(context.Background(), "user-1"); err == nil {
		t.Fatal("expected confirm to surface ledger failure")
	}

	snapshot, err := f.svc.Current(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if snapshot.State != domain.SessionConfirming {
		t.Fatalf("failed confirm must leave session confirming, got %s", snapshot.State)
	}

	f.stats.mu.Lock()
	f.stats.failAwards = nil
	f.stats.mu.Unlock()

	if _, err := f.svc.Confirm(context.Background(), "user-1"); err != nil {
		t.Fatalf("retried confirm: %v", err)
	}
}

func TestRejectAndSubmitCorrection(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")
	f.feed.Publish(sensorEvent("evt-1", domain.CategoryPlastic))
	f.waitForState(t, "user-1", domain.SessionConfirming)

	snapshot, err := f.svc.Reject(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if snapshot.State != domain.SessionCorrecting {
		t.Fatalf("expected correcting state, got %s", snapshot.State)
	}

	final, err := f.svc.SubmitCorrection(context.Background(), "user-1", "glass")
	if err != nil {
		t.Fatalf("submit correction: %v", err)
	}
	if final.State != domain.SessionIdle {
		t.Errorf("expected idle after dispute, got %s", final.State)
	}

	if len(f.alerts.reports) != 1 {
		t.Fatalf("expected one correction report, got %d", len(f.alerts.reports))
	}
	report := f.alerts.reports[0]
	if report.OriginalIdentification != domain.CategoryPlastic || report.CorrectedIdentification != domain.CategoryGlass {
		t.Errorf("unexpected report %+v", report)
	}
	if report.Resolved {
		t.Error("report must start unresolved")
	}

	if f.stats.awardCalls != 0 {
		t.Errorf("dispute must not award points, got %d award calls", f.stats.awardCalls)
	}
	bin, err := f.binSvc.GetBin(context.Background(), "bin_001")
	if err != nil {
		t.Fatalf("get bin: %v", err)
	}
	if bin.Status != domain.BinAvailable {
		t.Errorf("bin not released after dispute: %+v", bin)
	}
}

func TestCancelCorrectionReturnsToConfirming(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")
	f.feed.Publish(sensorEvent("evt-1", domain.CategoryPlastic))
	f.waitForState(t, "user-1", domain.SessionConfirming)

	if _, err := f.svc.Reject(context.Background(), "user-1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	snapshot, err := f.svc.CancelCorrection(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("cancel correction: %v", err)
	}
	if snapshot.State != domain.SessionConfirming {
		t.Errorf("expected confirming after cancel, got %s", snapshot.State)
	}
	if snapshot.PendingEvent == nil || snapshot.PendingEvent.EventID != "evt-1" {
		t.Errorf("pending event lost on cancel: %+v", snapshot.PendingEvent)
	}
	if len(f.alerts.reports) != 0 {
		t.Error("cancel must not record anything")
	}
}

func TestAbandonReleasesEverything(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")

	if err := f.svc.Abandon(context.Background(), "user-1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if err := f.svc.Abandon(context.Background(), "user-1"); err != nil {
		t.Fatalf("second abandon should be a no-op: %v", err)
	}

	bin, err := f.binSvc.GetBin(context.Background(), "bin_001")
	if err != nil {
		t.Fatalf("get bin: %v", err)
	}
	if bin.Status != domain.BinAvailable {
		t.Errorf("abandon must release the bin: %+v", bin)
	}
	f.feed.mu.Lock()
	unsubscribed := f.feed.unsubscribed
	f.feed.mu.Unlock()
	if unsubscribed != 1 {
		t.Errorf("abandon must tear down the feed subscription, got %d", unsubscribed)
	}
	if _, err := f.svc.Current(context.Background(), "user-1"); !errors.Is(err, ErrNoActiveSession) {
		t.Error("session must be gone after abandon")
	}
}

func TestJanitorReapsExpiredSessions(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")

	impl := f.svc.(*sessionService)
	impl.reapExpired(time.Now().UTC().Add(2 * time.Hour))

	if _, err := f.svc.Current(context.Background(), "user-1"); !errors.Is(err, ErrNoActiveSession) {
		t.Error("expired session must be reaped")
	}
	bin, err := f.binSvc.GetBin(context.Background(), "bin_001")
	if err != nil {
		t.Fatalf("get bin: %v", err)
	}
	if bin.Status != domain.BinAvailable {
		t.Errorf("janitor must release the bin: %+v", bin)
	}
}

func TestSimulateIdentificationDrivesSession(t *testing.T) {
	f := newSessionFixture(t)
	f.start(t, "user-1")

	event, err := f.svc.SimulateIdentification(context.Background(), SimulateIdentificationCommand{
		BinID:     "bin_001",
		UserID:    "user-1",
		WasteType: "Aluminum",
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if event.WasteType != domain.CategoryAluminium {
		t.Errorf("expected normalized aluminium, got %s", event.WasteType)
	}

	snapshot := f.waitForState(t, "user-1", domain.SessionConfirming)
	if snapshot.PendingEvent == nil || snapshot.PendingEvent.EventID != event.EventID {
		t.Errorf("simulated event not delivered: %+v", snapshot.PendingEvent)
	}

	if _, err := f.svc.SimulateIdentification(context.Background(), SimulateIdentificationCommand{
		BinID:     "bin_001",
		UserID:    "user-1",
		WasteType: "rubber",
	}); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}
