package domain

import "time"

type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
)

// Conversation is the two-party container for an exchange of messages.
// ParticipantA always holds the smaller user id so a pair of users maps to
// exactly one row regardless of who opened the conversation.
type Conversation struct {
	ID            int64      `json:"id"`
	ParticipantA  int64      `json:"participantA"`
	ParticipantB  int64      `json:"participantB"`
	LastMessageID *int64     `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	UnreadCountA  int64      `json:"-"`
	UnreadCountB  int64      `json:"-"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the two parties.
func (c Conversation) HasParticipant(userID int64) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// OtherParticipant returns the party opposite to userID.
func (c Conversation) OtherParticipant(userID int64) int64 {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// UnreadFor returns the unread counter belonging to userID.
func (c Conversation) UnreadFor(userID int64) int64 {
	if c.ParticipantA == userID {
		return c.UnreadCountA
	}
	return c.UnreadCountB
}

type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversationId"`
	SenderID       int64         `json:"senderId"`
	ReceiverID     int64         `json:"receiverId"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	IsEdited       bool          `json:"isEdited"`
	EditedAt       *time.Time    `json:"editedAt,omitempty"`
	IsDeleted      bool          `json:"-"`
	DeletedAt      *time.Time    `json:"-"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// ReadStatus marks a single message as seen by a single user. It is an
// advisory per-message receipt; the conversation counters are maintained
// independently and stay authoritative for badge counts.
type ReadStatus struct {
	MessageID int64     `json:"messageId"`
	UserID    int64     `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

// UserProfile carries the identity provider's public view of a user.
// This core attaches it to responses but does not own or persist it.
type UserProfile struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
	IsVerified bool   `json:"isVerified"`
}

// ConversationView is the list/detail shape returned to a caller: the
// conversation plus the other party's profile, the preview message, and the
// caller's own unread counter.
type ConversationView struct {
	Conversation Conversation `json:"conversation"`
	OtherUser    UserProfile  `json:"otherUser"`
	LastMessage  *Message     `json:"lastMessage,omitempty"`
	UnreadCount  int64        `json:"unreadCount"`
}
