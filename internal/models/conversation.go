// Package models defines the GORM row types used by the persistent stores.
package models

import "time"

// Conversation is the persisted header of a task conversation.
type Conversation struct {
	ID              string    `gorm:"primaryKey;size:64"`
	OriginalRequest string    `gorm:"type:text;not null"`
	Variant         string    `gorm:"size:16;not null;index"` // "pipeline" or "broadcast"
	Status          string    `gorm:"size:16;not null;default:processing;index"`
	Participants    string    `gorm:"type:text"` // JSON array of author tags
	Active          bool      `gorm:"default:false"`
	DepthExceeded   bool      `gorm:"default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index"`

	Messages []ConversationMessage `gorm:"foreignKey:ConversationID"`
}

// ConversationMessage is one appended message. Sequence preserves append
// order; MessageID is unique within its conversation.
type ConversationMessage struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"size:64;not null;uniqueIndex:idx_conv_seq;uniqueIndex:idx_conv_msg"`
	Sequence       int    `gorm:"not null;uniqueIndex:idx_conv_seq"`
	MessageID      string `gorm:"size:64;not null;uniqueIndex:idx_conv_msg"`
	Author         string `gorm:"size:16;not null"`
	Kind           string `gorm:"size:16"`
	TargetAuthor   string `gorm:"size:16"`
	Content        string `gorm:"type:text;not null"`
	CreatedAt      time.Time
}
