package store

import (
	"time"

	"directmsg/pkg/domain"
)

// ConversationStore owns conversation rows: the participant pair, the
// last-message preview pointer, and the two per-party unread counters.
type ConversationStore interface {
	// FindByPair matches the unordered pair; argument order is irrelevant.
	FindByPair(userA, userB int64) (domain.Conversation, bool, error)
	// CreateConversation inserts the pair row. It returns domain.ErrConflict
	// when a concurrent create already produced a row for the pair; callers
	// must retry the lookup instead of treating that as a hard failure.
	CreateConversation(userA, userB int64) (domain.Conversation, error)
	GetConversation(id int64) (domain.Conversation, bool, error)
	ListConversationsByUser(userID int64) ([]domain.Conversation, error)
	// IncrementUnread bumps exactly one counter with a single storage-level
	// "count = count + 1"; concurrent sends must not lose updates.
	IncrementUnread(conversationID, participantID int64) error
	// ResetUnread sets one counter to zero atomically.
	ResetUnread(conversationID, participantID int64) error
	// TouchLastMessage updates the preview pointer; last write wins.
	TouchLastMessage(conversationID, messageID int64, at time.Time) error
	// UnreadTotal sums the caller's own counters across all conversations.
	UnreadTotal(userID int64) (int64, error)
}

// MessageStore owns message rows and their ordering within a conversation.
type MessageStore interface {
	// InsertMessage enforces content non-emptiness and the length bound,
	// returning domain.ErrValidation otherwise.
	InsertMessage(conversationID, senderID, receiverID int64, content string) (domain.Message, error)
	GetMessage(id int64) (domain.Message, bool, error)
	// ListMessages returns one page of non-deleted messages in chronological
	// order (created_at, then id). Paging walks newest-first internally so
	// page 1 holds the most recent messages.
	ListMessages(conversationID int64, page, limit int) ([]domain.Message, error)
	// EditMessage updates content for the owning sender. Missing, deleted,
	// and non-owned rows all collapse into domain.ErrNotFound.
	EditMessage(messageID, callerID int64, content string) (domain.Message, error)
	// SoftDeleteMessage marks the row deleted under the same ownership
	// contract as EditMessage. Content is retained.
	SoftDeleteMessage(messageID, callerID int64) error
}

// ReadReceiptStore owns per-(message, user) read markers.
type ReadReceiptStore interface {
	// MarkMessageRead records a receipt; duplicates are silent no-ops.
	MarkMessageRead(messageID, userID int64, at time.Time) error
	// UnreadMessageIDs lists the other party's non-deleted messages in the
	// conversation that have no receipt from userID yet.
	UnreadMessageIDs(conversationID, userID int64) ([]int64, error)
}

// Store is the full persistence surface of the messaging core.
type Store interface {
	ConversationStore
	MessageStore
	ReadReceiptStore

	// WithinTx runs fn as one atomic unit of work. Every multi-write service
	// operation goes through it so a failure after a message insert but
	// before the counter update rolls back entirely.
	WithinTx(fn func(Store) error) error
}
