// Package domain defines the core entities shared by the SortiMate API:
// bins, identification events, user recycling stats, correction reports,
// and family groups.
package domain

import (
	"strings"
	"time"
)

// WasteCategory enumerates the material categories tracked per bin and per user.
type WasteCategory string

// Canonical waste categories. Sensor and UI inputs are normalised into this
// set before any stat mutation; "aluminum" folds into Aluminium.
const (
	CategoryPlastic   WasteCategory = "plastic"
	CategoryGlass     WasteCategory = "glass"
	CategoryAluminium WasteCategory = "aluminium"
	CategoryOther     WasteCategory = "other"
)

// Categories lists every canonical category in display order.
func Categories() []WasteCategory {
	return []WasteCategory{CategoryPlastic, CategoryGlass, CategoryAluminium, CategoryOther}
}

// Valid reports whether the category is one of the canonical four.
func (c WasteCategory) Valid() bool {
	switch c {
	case CategoryPlastic, CategoryGlass, CategoryAluminium, CategoryOther:
		return true
	}
	return false
}

// BinStatus captures the occupancy state of a physical bin.
type BinStatus string

// Bin occupancy states. A bin is either free or exclusively held by one user.
const (
	BinAvailable BinStatus = "available"
	BinOccupied  BinStatus = "occupied"
)

// Bin represents a physical smart bin and its live occupancy state.
// CurrentUser is non-empty iff Status is BinOccupied.
type Bin struct {
	ID           string
	Location     string
	Status       BinStatus
	CurrentUser  string
	Capacity     map[WasteCategory]int
	AdminNotes   string
	RPiConnected bool
	CreatedAt    time.Time
	LastUpdate   time.Time
}

// Occupied reports whether the bin is currently held by a session.
func (b Bin) Occupied() bool {
	return b.Status == BinOccupied
}

// IdentificationEvent is a single sensor classification of a deposited item.
// Events are ephemeral: produced by the bin-side classifier, consumed at most
// once by a session's confirmation step.
type IdentificationEvent struct {
	EventID      string
	BinID        string
	UserID       string
	WasteType    WasteCategory
	Confidence   float64
	IsError      bool
	ErrorMessage string
	RawImagePath string
	LatencyMS    int
	Timestamp    time.Time
}

// SessionState is the closed set of states a recycling session moves through.
type SessionState int

// Session states. Awarding and Disputing are transient: they exist only for
// the duration of the ledger or sink call they guard.
const (
	SessionIdle SessionState = iota
	SessionAwaitingIdentification
	SessionConfirming
	SessionCorrecting
	SessionAwarding
	SessionDisputing
)

// String renders the state for logs and API payloads.
func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionAwaitingIdentification:
		return "awaiting_identification"
	case SessionConfirming:
		return "confirming"
	case SessionCorrecting:
		return "correcting"
	case SessionAwarding:
		return "awarding"
	case SessionDisputing:
		return "disputing"
	}
	return "unknown"
}

// UserStats is the persistent per-user recycling record mutated by the points
// ledger. ItemsRecycled equals the sum of RecycleStats after every award.
type UserStats struct {
	UserID        string
	DisplayName   string
	RecycleStats  map[WasteCategory]int
	TotalPoints   int
	ItemsRecycled int
	GroupID       string
	LastActivity  time.Time
}

// ItemTotal sums the per-category counters.
func (u UserStats) ItemTotal() int {
	total := 0
	for _, n := range u.RecycleStats {
		total += n
	}
	return total
}

// CorrectionReport records a user's dispute of a sensor classification.
// Reports are append-only and resolved by a human moderation workflow.
type CorrectionReport struct {
	ID                      string
	BinID                   string
	UserID                  string
	OriginalIdentification  WasteCategory
	CorrectedIdentification WasteCategory
	Type                    string
	Resolved                bool
	CreatedAt               time.Time
}

// CorrectionTypeSensorError tags reports produced by the dispute flow.
const CorrectionTypeSensorError = "sensor_error"

// FamilyGroup is the shared-leaderboard grouping. Rank is always recomputed
// from member stats, never persisted.
type FamilyGroup struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

// GroupMember is one ranked row of a family leaderboard.
type GroupMember struct {
	UserID        string
	DisplayName   string
	TotalPoints   int
	ItemsRecycled int
	Rank          int
}

// NormalizeDisplayName trims surrounding whitespace and collapses empty names
// to the user id so leaderboards never render blank rows.
func NormalizeDisplayName(name, userID string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return userID
	}
	return trimmed
}
