package models

import (
	"strings"
	"time"
)

// PrivateConversation is identified by the unordered pair of participants.
type PrivateConversation struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	PairKey      string    `json:"-" gorm:"uniqueIndex"`
	ParticipantA string    `json:"participant_a" gorm:"index"`
	ParticipantB string    `json:"participant_b" gorm:"index"`
	CreatedAt    time.Time `json:"created_at"`
}

// PairKey builds the canonical key for an unordered identity pair.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

// PrivateMessage is a direct message inside a conversation. ReadAt is nil
// until the recipient marks it read.
type PrivateMessage struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	ConversationID uint       `json:"conversation_id" gorm:"index"`
	SenderID       string     `json:"sender_id" gorm:"index"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at" gorm:"index"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	Deleted        bool       `json:"deleted"`
	DeletedBy      string     `json:"deleted_by,omitempty"`
	DeleteReason   string     `json:"delete_reason,omitempty"`
}

// Block is a directional block relation: Blocker refuses messages from and
// to Blocked until removed.
type Block struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	BlockerID string    `json:"blocker_id" gorm:"uniqueIndex:idx_block_pair"`
	BlockedID string    `json:"blocked_id" gorm:"uniqueIndex:idx_block_pair"`
	CreatedAt time.Time `json:"created_at"`
}
