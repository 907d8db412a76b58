package models

import (
	"time"
)

// ActionKind enumerates moderation actions
type ActionKind string

const (
	ActionWarn   ActionKind = "warn"
	ActionMute   ActionKind = "mute"
	ActionUnmute ActionKind = "unmute"
	ActionBan    ActionKind = "ban"
	ActionUnban  ActionKind = "unban"
)

// ModerationAction is a persisted sanction or its reversal. A nil ExpiresAt
// on a mute or ban means permanent. At most one mute and one ban are active
// per (target, room); a new action of the same kind supersedes the prior one.
type ModerationAction struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	ExternalID string     `json:"external_id" gorm:"uniqueIndex"`
	TargetID   string     `json:"target_id" gorm:"index"`
	RoomID     string     `json:"room_id" gorm:"index"` // empty = global
	Kind       ActionKind `json:"kind" gorm:"index"`
	Severity   int        `json:"severity"`
	Reason     string     `json:"reason"`
	IssuedBy   string     `json:"issued_by" gorm:"index"`
	Automatic  bool       `json:"automatic"`
	Active     bool       `json:"active" gorm:"index"`
	CreatedAt  time.Time  `json:"created_at" gorm:"index"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether a timed sanction has lapsed
func (a *ModerationAction) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// AppealStatus enumerates appeal states
type AppealStatus string

const (
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealDenied   AppealStatus = "denied"
)

// Appeal is a sanctioned identity's request for review of a violation.
// Resolved exactly once.
type Appeal struct {
	ID             uint         `json:"id" gorm:"primaryKey"`
	ExternalID     string       `json:"external_id" gorm:"uniqueIndex"`
	AppellantID    string       `json:"appellant_id" gorm:"index"`
	ViolationID    string       `json:"violation_id" gorm:"index"` // ModerationAction.ExternalID
	Reason         string       `json:"reason"`
	Status         AppealStatus `json:"status" gorm:"index"`
	ReviewedBy     string       `json:"reviewed_by,omitempty"`
	DecisionReason string       `json:"decision_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
}

// AuditEntry is one row of the append-only moderation audit log. Bulk
// operations write one entry per affected target.
type AuditEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	EventID   string    `json:"event_id" gorm:"uniqueIndex"`
	EventType string    `json:"event_type" gorm:"index"`
	ActorID   string    `json:"actor_id" gorm:"index"`
	TargetID  string    `json:"target_id" gorm:"index"`
	RoomID    string    `json:"room_id" gorm:"index"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
