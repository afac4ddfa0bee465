package handlers

import (
	"time"

	"github.com/sortimate/api/internal/domain"
	"github.com/sortimate/api/internal/services"
)

type binPayload struct {
	ID           string         `json:"id"`
	Location     string         `json:"location"`
	Status       string         `json:"status"`
	CurrentUser  string         `json:"current_user,omitempty"`
	Capacity     map[string]int `json:"capacity"`
	AdminNotes   string         `json:"admin_notes,omitempty"`
	RPiConnected bool           `json:"rpi_connected"`
	CreatedAt    time.Time      `json:"created_at"`
	LastUpdate   time.Time      `json:"last_update"`
}

func buildBinPayload(bin domain.Bin) binPayload {
	capacity := make(map[string]int, len(bin.Capacity))
	for category, count := range bin.Capacity {
		capacity[string(category)] = count
	}
	return binPayload{
		ID:           bin.ID,
		Location:     bin.Location,
		Status:       string(bin.Status),
		CurrentUser:  bin.CurrentUser,
		Capacity:     capacity,
		AdminNotes:   bin.AdminNotes,
		RPiConnected: bin.RPiConnected,
		CreatedAt:    bin.CreatedAt,
		LastUpdate:   bin.LastUpdate,
	}
}

type eventPayload struct {
	EventID      string    `json:"event_id"`
	BinID        string    `json:"bin_id"`
	WasteType    string    `json:"waste_type"`
	Confidence   float64   `json:"confidence"`
	IsError      bool      `json:"is_error"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func buildEventPayload(event domain.IdentificationEvent) eventPayload {
	return eventPayload{
		EventID:      event.EventID,
		BinID:        event.BinID,
		WasteType:    string(event.WasteType),
		Confidence:   event.Confidence,
		IsError:      event.IsError,
		ErrorMessage: event.ErrorMessage,
		Timestamp:    event.Timestamp,
	}
}

type sessionPayload struct {
	UserID         string        `json:"user_id"`
	BinID          string        `json:"bin_id"`
	State          string        `json:"state"`
	PendingEvent   *eventPayload `json:"pending_event,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	LastTransition time.Time     `json:"last_transition"`
}

func buildSessionPayload(snapshot services.SessionSnapshot) sessionPayload {
	payload := sessionPayload{
		UserID:         snapshot.UserID,
		BinID:          snapshot.BinID,
		State:          snapshot.State.String(),
		StartedAt:      snapshot.StartedAt,
		LastTransition: snapshot.LastTransition,
	}
	if snapshot.PendingEvent != nil {
		event := buildEventPayload(*snapshot.PendingEvent)
		payload.PendingEvent = &event
	}
	return payload
}

type statsPayload struct {
	UserID        string         `json:"user_id"`
	DisplayName   string         `json:"display_name"`
	RecycleStats  map[string]int `json:"recycle_stats"`
	TotalPoints   int            `json:"total_points"`
	ItemsRecycled int            `json:"items_recycled"`
	GroupID       string         `json:"group_id,omitempty"`
	LastActivity  time.Time      `json:"last_activity"`
}

func buildStatsPayload(stats domain.UserStats) statsPayload {
	recycleStats := make(map[string]int, len(domain.Categories()))
	for _, category := range domain.Categories() {
		recycleStats[string(category)] = stats.RecycleStats[category]
	}
	return statsPayload{
		UserID:        stats.UserID,
		DisplayName:   domain.NormalizeDisplayName(stats.DisplayName, stats.UserID),
		RecycleStats:  recycleStats,
		TotalPoints:   stats.TotalPoints,
		ItemsRecycled: stats.ItemsRecycled,
		GroupID:       stats.GroupID,
		LastActivity:  stats.LastActivity,
	}
}

type awardPayload struct {
	Category string       `json:"category"`
	Points   int          `json:"points"`
	Stats    statsPayload `json:"stats"`
}

func buildAwardPayload(award services.AwardResult) awardPayload {
	return awardPayload{
		Category: string(award.Category),
		Points:   award.Points,
		Stats:    buildStatsPayload(award.Stats),
	}
}

type memberPayload struct {
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	TotalPoints   int    `json:"total_points"`
	ItemsRecycled int    `json:"items_recycled"`
	Rank          int    `json:"rank"`
}

type leaderboardPayload struct {
	GroupID     string          `json:"group_id"`
	GroupName   string          `json:"group_name"`
	Members     []memberPayload `json:"members"`
	GeneratedAt time.Time       `json:"generated_at"`
}

func buildLeaderboardPayload(board services.Leaderboard) leaderboardPayload {
	members := make([]memberPayload, 0, len(board.Members))
	for _, member := range board.Members {
		members = append(members, memberPayload{
			UserID:        member.UserID,
			DisplayName:   member.DisplayName,
			TotalPoints:   member.TotalPoints,
			ItemsRecycled: member.ItemsRecycled,
			Rank:          member.Rank,
		})
	}
	return leaderboardPayload{
		GroupID:     board.Group.ID,
		GroupName:   board.Group.Name,
		Members:     members,
		GeneratedAt: board.GeneratedAt,
	}
}
