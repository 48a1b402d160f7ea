package store

import "time"

// GORM models used for persistence.
type ConversationModel struct {
	ID            int64 `gorm:"primaryKey"`
	ParticipantA  int64 `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:1;index"`
	ParticipantB  int64 `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:2;index"`
	LastMessageID *int64
	LastMessageAt *time.Time
	UnreadCountA  int64     `gorm:"not null;default:0"`
	UnreadCountB  int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             int64  `gorm:"primaryKey"`
	ConversationID int64  `gorm:"not null;index:idx_message_history,priority:1"`
	SenderID       int64  `gorm:"not null;index"`
	ReceiverID     int64  `gorm:"not null"`
	Content        string `gorm:"type:text;not null"`
	Status         string `gorm:"not null"`
	IsEdited       bool   `gorm:"not null;default:false"`
	EditedAt       *time.Time
	IsDeleted      bool `gorm:"not null;default:false"`
	DeletedAt      *time.Time
	CreatedAt      time.Time `gorm:"not null;index:idx_message_history,priority:2"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// ReadStatusModel keys one receipt per (message, user). ConversationID is
// denormalized so unread-id scans stay join-free.
type ReadStatusModel struct {
	MessageID      int64     `gorm:"primaryKey;autoIncrement:false"`
	UserID         int64     `gorm:"primaryKey;autoIncrement:false"`
	ConversationID int64     `gorm:"not null;index"`
	ReadAt         time.Time `gorm:"not null"`
}
