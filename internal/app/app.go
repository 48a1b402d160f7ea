package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"directmsg/internal/metrics"
	"directmsg/pkg/domain"
	"directmsg/pkg/queue"
	"directmsg/pkg/store"
)

// ProfileProvider resolves public profiles from the identity provider.
type ProfileProvider interface {
	GetProfile(userID int64) (domain.UserProfile, error)
}

// EventPublisher hands new-message events to the notification collaborator.
type EventPublisher interface {
	Publish(ctx context.Context, event queue.MessageEvent) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Profiles    ProfileProvider
	Events      EventPublisher
}

// App is the conversation service: it orchestrates the conversation,
// message, and read-receipt stores, each public operation as one atomic
// unit of work.
type App struct {
	store    store.Store
	profiles ProfileProvider
	events   EventPublisher
}

// New constructs the application with database-backed storage.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("profile provider required")
	}
	return &App{
		store:    dataStore,
		profiles: cfg.Profiles,
		events:   cfg.Events,
	}, nil
}

// GetOrCreateConversation returns the conversation between the caller and
// otherID, creating it on first contact. A create that loses the race to a
// concurrent creator falls back to the lookup, so the operation is
// idempotent from both callers' perspective.
func (a *App) GetOrCreateConversation(callerID, otherID int64) (domain.ConversationView, error) {
	if otherID <= 0 {
		return domain.ConversationView{}, fmt.Errorf("%w: invalid user id", domain.ErrValidation)
	}
	if callerID == otherID {
		return domain.ConversationView{}, fmt.Errorf("%w: cannot start a conversation with yourself", domain.ErrValidation)
	}

	conv, ok, err := a.store.FindByPair(callerID, otherID)
	if err != nil {
		return domain.ConversationView{}, fmt.Errorf("find conversation: %w", err)
	}
	if !ok {
		conv, err = a.store.CreateConversation(callerID, otherID)
		switch {
		case err == nil:
			metrics.ConversationsCreated.Inc()
		case errors.Is(err, domain.ErrConflict):
			// The other participant created the row first; adopt theirs.
			conv, ok, err = a.store.FindByPair(callerID, otherID)
			if err != nil {
				return domain.ConversationView{}, fmt.Errorf("find conversation after conflict: %w", err)
			}
			if !ok {
				return domain.ConversationView{}, fmt.Errorf("conversation vanished after create conflict")
			}
		default:
			return domain.ConversationView{}, fmt.Errorf("create conversation: %w", err)
		}
	}
	return a.buildView(conv, callerID)
}

// SendMessage records a message from the caller, bumps the receiver's
// unread counter, and refreshes the conversation preview, all in one
// transaction. The notification event goes out only after the commit.
func (a *App) SendMessage(callerID, conversationID int64, content string) (domain.Message, error) {
	var msg domain.Message
	err := a.store.WithinTx(func(tx store.Store) error {
		conv, ok, err := tx.GetConversation(conversationID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if !ok || !conv.HasParticipant(callerID) {
			return domain.ErrNotFound
		}
		receiverID := conv.OtherParticipant(callerID)
		msg, err = tx.InsertMessage(conversationID, callerID, receiverID, content)
		if err != nil {
			return err
		}
		if err := tx.IncrementUnread(conversationID, receiverID); err != nil {
			return fmt.Errorf("increment unread: %w", err)
		}
		if err := tx.TouchLastMessage(conversationID, msg.ID, msg.CreatedAt); err != nil {
			return fmt.Errorf("touch last message: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	metrics.MessagesSent.Inc()
	a.publishSent(msg)
	return msg, nil
}

// MarkRead records receipts for the caller and resets the caller's unread
// counter. With explicit messageIDs only those receipts are written; without
// them every unread message gets one. The counter reset always runs: it is
// the authoritative "caught up" signal, receipts are advisory.
func (a *App) MarkRead(callerID, conversationID int64, messageIDs []int64) error {
	return a.store.WithinTx(func(tx store.Store) error {
		conv, ok, err := tx.GetConversation(conversationID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if !ok || !conv.HasParticipant(callerID) {
			return domain.ErrNotFound
		}
		ids := messageIDs
		if len(ids) == 0 {
			ids, err = tx.UnreadMessageIDs(conversationID, callerID)
			if err != nil {
				return fmt.Errorf("collect unread ids: %w", err)
			}
		}
		now := time.Now().UTC()
		for _, id := range ids {
			if err := tx.MarkMessageRead(id, callerID, now); err != nil {
				return fmt.Errorf("mark message %d read: %w", id, err)
			}
		}
		if err := tx.ResetUnread(conversationID, callerID); err != nil {
			return fmt.Errorf("reset unread: %w", err)
		}
		return nil
	})
}

// EditMessage updates a message's content; only its sender may do so.
// Unread counters and the preview pointer are left untouched.
func (a *App) EditMessage(callerID, messageID int64, content string) (domain.Message, error) {
	return a.store.EditMessage(messageID, callerID, content)
}

// DeleteMessage soft-deletes a message; only its sender may do so. The
// receiver's unread counter is not decremented.
func (a *App) DeleteMessage(callerID, messageID int64) error {
	return a.store.SoftDeleteMessage(messageID, callerID)
}

// ListConversations returns the caller's conversations with the other
// party's profile, the preview message, and the caller's unread count.
func (a *App) ListConversations(callerID int64) ([]domain.ConversationView, error) {
	convs, err := a.store.ListConversationsByUser(callerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	views := make([]domain.ConversationView, 0, len(convs))
	for _, conv := range convs {
		view, err := a.buildView(conv, callerID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// ListMessages returns one chronological page of the conversation's history.
func (a *App) ListMessages(callerID, conversationID int64, page, limit int) ([]domain.Message, error) {
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !ok || !conv.HasParticipant(callerID) {
		return nil, domain.ErrNotFound
	}
	return a.store.ListMessages(conversationID, page, limit)
}

// UnreadTotal sums the caller's unread counters across all conversations.
func (a *App) UnreadTotal(callerID int64) (int64, error) {
	return a.store.UnreadTotal(callerID)
}

func (a *App) buildView(conv domain.Conversation, callerID int64) (domain.ConversationView, error) {
	profile, err := a.profiles.GetProfile(conv.OtherParticipant(callerID))
	if err != nil {
		return domain.ConversationView{}, fmt.Errorf("load profile: %w", err)
	}
	view := domain.ConversationView{
		Conversation: conv,
		OtherUser:    profile,
		UnreadCount:  conv.UnreadFor(callerID),
	}
	if conv.LastMessageID != nil {
		if last, ok, err := a.store.GetMessage(*conv.LastMessageID); err != nil {
			return domain.ConversationView{}, fmt.Errorf("load last message: %w", err)
		} else if ok && !last.IsDeleted {
			view.LastMessage = &last
		}
	}
	return view, nil
}

// publishSent enqueues the notification event; delivery is the notification
// collaborator's job and a failure here must not fail the send.
func (a *App) publishSent(msg domain.Message) {
	if a.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	event := queue.MessageEvent{
		Type:           queue.EventMessageSent,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Preview:        preview(msg.Content),
		SentAt:         msg.CreatedAt,
	}
	if err := a.events.Publish(ctx, event); err != nil {
		slog.Warn("publish message event failed", "message_id", msg.ID, "err", err)
	}
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) > 120 {
		return string(runes[:120]) + "…"
	}
	return content
}
