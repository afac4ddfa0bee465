package services

import (
	"context"
	"time"

	domain "github.com/sortimate/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Bin                 = domain.Bin
	IdentificationEvent = domain.IdentificationEvent
	UserStats           = domain.UserStats
	CorrectionReport    = domain.CorrectionReport
	FamilyGroup         = domain.FamilyGroup
	GroupMember         = domain.GroupMember
	WasteCategory       = domain.WasteCategory
	SystemHealthReport  = domain.SystemHealthReport
)

// BinService manages the bin registry: inventory CRUD for admins plus the
// occupancy claim/release protocol used by recycling sessions.
type BinService interface {
	GetBin(ctx context.Context, binID string) (Bin, error)
	ListBins(ctx context.Context) ([]Bin, error)
	CreateBin(ctx context.Context, cmd CreateBinCommand) (Bin, error)
	ClaimBin(ctx context.Context, binID, userID string) (Bin, error)
	ReleaseBin(ctx context.Context, binID string) error
	RecordDeposit(ctx context.Context, binID string, category string) error
	ResetBin(ctx context.Context, binID string) (Bin, error)
}

// CreateBinCommand carries the admin-supplied fields for a new bin.
type CreateBinCommand struct {
	Location   string
	AdminNotes string
}

// PointsService applies idempotent, atomic stat and point mutations to user
// records. Sensor-confirmed awards are flat; manual entries are volume-tiered.
type PointsService interface {
	AwardItem(ctx context.Context, userID, wasteType string) (AwardResult, error)
	AwardManual(ctx context.Context, cmd ManualAwardCommand) (AwardResult, error)
	Stats(ctx context.Context, userID string) (UserStats, error)
}

// ManualAwardCommand is a manual (non-sensor) recycling entry.
type ManualAwardCommand struct {
	UserID    string
	WasteType string
	VolumeML  int
}

// AwardResult reports one applied award and the resulting user record.
type AwardResult struct {
	Category WasteCategory
	Points   int
	Stats    UserStats
}

// CorrectionService records user disputes of sensor classifications.
type CorrectionService interface {
	Report(ctx context.Context, cmd CorrectionCommand) (CorrectionReport, error)
}

// CorrectionCommand carries one dispute: what the sensor said and what the
// user asserts was actually deposited.
type CorrectionCommand struct {
	BinID     string
	UserID    string
	Original  string
	Corrected string
}

// ModerationJobMessage is the payload published for each correction report so
// the moderation workflow can pick it up asynchronously.
type ModerationJobMessage struct {
	AlertID                 string    `json:"alertId"`
	BinID                   string    `json:"binId"`
	UserID                  string    `json:"userId"`
	OriginalIdentification  string    `json:"originalIdentification"`
	CorrectedIdentification string    `json:"correctedIdentification"`
	ReportedAt              time.Time `json:"reportedAt"`
}

// ModerationPublisher enqueues moderation jobs for filed correction reports.
type ModerationPublisher interface {
	PublishModerationJob(ctx context.Context, message ModerationJobMessage) (string, error)
}

// LeaderboardService computes ranked family-group views. Ranks are always
// derived from live member stats, never persisted.
type LeaderboardService interface {
	GroupLeaderboard(ctx context.Context, groupID string) (Leaderboard, error)
	LeaderboardForUser(ctx context.Context, userID string) (Leaderboard, error)
}

// Leaderboard is the ranked view of one family group.
type Leaderboard struct {
	Group       FamilyGroup
	Members     []GroupMember
	GeneratedAt time.Time
}

// FeedSubscription is a live identification-event stream held by one session.
type FeedSubscription interface {
	Events() <-chan domain.IdentificationEvent
	Unsubscribe()
}

// IdentificationFeed is the push channel delivering sensor classifications
// keyed by bin. Delivery is at-least-once; consumers tolerate duplicates.
type IdentificationFeed interface {
	Subscribe(binID, userID string) (FeedSubscription, error)
	Publish(event domain.IdentificationEvent)
}

// SessionService drives the per-user recycling state machine from bin claim
// to points award or correction.
type SessionService interface {
	Start(ctx context.Context, cmd StartSessionCommand) (SessionSnapshot, error)
	Current(ctx context.Context, userID string) (SessionSnapshot, error)
	Confirm(ctx context.Context, userID string) (ConfirmResult, error)
	Reject(ctx context.Context, userID string) (SessionSnapshot, error)
	SubmitCorrection(ctx context.Context, userID, correctedType string) (SessionSnapshot, error)
	CancelCorrection(ctx context.Context, userID string) (SessionSnapshot, error)
	Abandon(ctx context.Context, userID string) error
	SimulateIdentification(ctx context.Context, cmd SimulateIdentificationCommand) (IdentificationEvent, error)
	Close()
}

// StartSessionCommand opens a session from a scanned or typed payload.
type StartSessionCommand struct {
	UserID      string
	ScanPayload string
}

// SimulateIdentificationCommand injects a synthetic identification event
// without a physical sensor. Admin-only shortcut for demos and support.
type SimulateIdentificationCommand struct {
	BinID      string
	UserID     string
	WasteType  string
	Confidence float64
}

// SessionSnapshot is a point-in-time copy of one session's state.
type SessionSnapshot struct {
	UserID         string
	BinID          string
	State          domain.SessionState
	PendingEvent   *IdentificationEvent
	StartedAt      time.Time
	LastTransition time.Time
}

// ConfirmResult couples the award applied by a confirmation with the final
// session snapshot.
type ConfirmResult struct {
	Session SessionSnapshot
	Award   AwardResult
}

// SystemService exposes operational health for the readiness endpoint.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
