package models

import (
	"time"
)

// MessageType discriminates persisted chat records
type MessageType string

const (
	MessageTypeText          MessageType = "text"
	MessageTypeSystem        MessageType = "system"
	MessageTypeCommandResult MessageType = "command_result"
)

// Message is a chat message after it has passed the full pipeline. Content
// holds the filtered, rendered form; RawContent the original input.
type Message struct {
	ID         uint        `json:"id" gorm:"primaryKey"`
	ExternalID string      `json:"external_id" gorm:"index"`
	RoomID     string      `json:"room_id" gorm:"index"`
	SenderID   string      `json:"sender_id" gorm:"index"`
	SenderName string      `json:"sender_name"`
	RawContent string      `json:"-"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`

	// Metadata extracted by the formatting and emoji stages
	EmojiCount    int    `json:"emoji_count"`
	HasFormatting bool   `json:"has_formatting"`
	WordCount     int    `json:"word_count"`
	CharCount     int    `json:"char_count"`
	LinkCount     int    `json:"link_count"`
	Mentions      string `json:"mentions,omitempty"`

	Timestamp time.Time `json:"timestamp" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`

	// Soft delete by a moderator keeps the record for exports that ask for it
	Deleted      bool   `json:"deleted" gorm:"index"`
	DeletedBy    string `json:"deleted_by,omitempty"`
	DeleteReason string `json:"delete_reason,omitempty"`
}
