package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"directmsg/pkg/domain"
)

// MaxContentLen bounds message content, counted in runes.
const MaxContentLen = 4000

const defaultPageLimit = 50

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&ConversationModel{}, &MessageModel{}, &ReadStatusModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// WithinTx runs fn against a transaction-scoped store. GORM rolls the
// transaction back when fn returns an error.
func (s *GormStore) WithinTx(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// FindByPair looks up the conversation for a pair of users, in either order.
func (s *GormStore) FindByPair(userA, userB int64) (domain.Conversation, bool, error) {
	low, high := orderPair(userA, userB)
	var model ConversationModel
	err := s.db.Where("participant_a = ? AND participant_b = ?", low, high).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// CreateConversation inserts the pair row. The unique index on the ordered
// pair turns a concurrent duplicate create into domain.ErrConflict.
func (s *GormStore) CreateConversation(userA, userB int64) (domain.Conversation, error) {
	low, high := orderPair(userA, userB)
	now := time.Now().UTC()
	model := ConversationModel{
		ParticipantA: low,
		ParticipantB: high,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Conversation{}, domain.ErrConflict
		}
		return domain.Conversation{}, err
	}
	return conversationFromModel(model), nil
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id int64) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByUser returns the user's conversations, most recently
// active first.
func (s *GormStore) ListConversationsByUser(userID int64) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("last_message_at DESC NULLS LAST").
		Order("updated_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// IncrementUnread bumps the counter belonging to participantID with a single
// "count = count + 1" statement. The participant columns are immutable, so
// matching the column through the WHERE clause is race-free.
func (s *GormStore) IncrementUnread(conversationID, participantID int64) error {
	return s.applyUnread(conversationID, participantID, func(col string) any {
		return gorm.Expr(col + " + 1")
	})
}

// ResetUnread zeroes the counter belonging to participantID.
func (s *GormStore) ResetUnread(conversationID, participantID int64) error {
	return s.applyUnread(conversationID, participantID, func(string) any { return 0 })
}

func (s *GormStore) applyUnread(conversationID, participantID int64, value func(counterCol string) any) error {
	for _, side := range []struct {
		participantCol string
		counterCol     string
	}{
		{"participant_a", "unread_count_a"},
		{"participant_b", "unread_count_b"},
	} {
		res := s.db.Model(&ConversationModel{}).
			Where("id = ? AND "+side.participantCol+" = ?", conversationID, participantID).
			UpdateColumn(side.counterCol, value(side.counterCol))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}
	return domain.ErrNotFound
}

// TouchLastMessage refreshes the preview pointer; last write wins.
func (s *GormStore) TouchLastMessage(conversationID, messageID int64, at time.Time) error {
	return s.db.Model(&ConversationModel{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"last_message_id": messageID,
			"last_message_at": at.UTC(),
			"updated_at":      time.Now().UTC(),
		}).Error
}

// UnreadTotal sums the counters that belong to userID across all of the
// user's conversations.
func (s *GormStore) UnreadTotal(userID int64) (int64, error) {
	var total int64
	err := s.db.Raw(`
		SELECT COALESCE(SUM(CASE WHEN participant_a = @uid THEN unread_count_a ELSE unread_count_b END), 0)
		FROM conversation_models
		WHERE participant_a = @uid OR participant_b = @uid
	`, map[string]any{"uid": userID}).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// InsertMessage validates content and records a new message with status sent.
func (s *GormStore) InsertMessage(conversationID, senderID, receiverID int64, content string) (domain.Message, error) {
	if err := validateContent(content); err != nil {
		return domain.Message{}, err
	}
	now := time.Now().UTC()
	model := MessageModel{
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Status:         string(domain.MessageStatusSent),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Message{}, err
	}
	return messageFromModel(model), nil
}

// GetMessage returns one message by ID, including soft-deleted rows; callers
// decide visibility.
func (s *GormStore) GetMessage(id int64) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// ListMessages returns one page of visible messages in chronological order.
// Pages are cut newest-first so page 1 is the most recent window, then the
// page is reversed for chronological reading.
func (s *GormStore) ListMessages(conversationID int64, page, limit int) ([]domain.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = defaultPageLimit
	}
	var models []MessageModel
	if err := s.db.Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

// EditMessage updates content for the owning sender. The ownership and
// liveness conditions live in the WHERE clause, so missing, deleted, and
// non-owned rows are indistinguishable to the caller.
func (s *GormStore) EditMessage(messageID, callerID int64, content string) (domain.Message, error) {
	if err := validateContent(content); err != nil {
		return domain.Message{}, err
	}
	now := time.Now().UTC()
	res := s.db.Model(&MessageModel{}).
		Where("id = ? AND sender_id = ? AND is_deleted = ?", messageID, callerID, false).
		Updates(map[string]any{
			"content":    content,
			"is_edited":  true,
			"edited_at":  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return domain.Message{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Message{}, domain.ErrNotFound
	}
	msg, ok, err := s.GetMessage(messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, domain.ErrNotFound
	}
	return msg, nil
}

// SoftDeleteMessage marks the row deleted under the same ownership contract
// as EditMessage. The row and its content are retained.
func (s *GormStore) SoftDeleteMessage(messageID, callerID int64) error {
	now := time.Now().UTC()
	res := s.db.Model(&MessageModel{}).
		Where("id = ? AND sender_id = ? AND is_deleted = ?", messageID, callerID, false).
		Updates(map[string]any{
			"is_deleted": true,
			"deleted_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkMessageRead records a receipt. Duplicates hit the composite primary
// key and are dropped by ON CONFLICT DO NOTHING. Receipts for unknown
// messages are skipped silently; receipts are advisory.
func (s *GormStore) MarkMessageRead(messageID, userID int64, at time.Time) error {
	var model MessageModel
	if err := s.db.Select("id", "conversation_id").First(&model, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	receipt := ReadStatusModel{
		MessageID:      messageID,
		UserID:         userID,
		ConversationID: model.ConversationID,
		ReadAt:         at.UTC(),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt).Error
}

// UnreadMessageIDs lists the other party's visible messages without a
// receipt from userID, oldest first.
func (s *GormStore) UnreadMessageIDs(conversationID, userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.Model(&MessageModel{}).
		Where("conversation_id = ? AND is_deleted = ? AND sender_id <> ?", conversationID, false, userID).
		Where(`NOT EXISTS (
			SELECT 1 FROM read_status_models r
			WHERE r.message_id = message_models.id AND r.user_id = ?
		)`, userID).
		Order("created_at ASC").
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func orderPair(userA, userB int64) (int64, int64) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is empty", domain.ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxContentLen {
		return fmt.Errorf("%w: content exceeds %d characters", domain.ErrValidation, MaxContentLen)
	}
	return nil
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:            m.ID,
		ParticipantA:  m.ParticipantA,
		ParticipantB:  m.ParticipantB,
		LastMessageID: m.LastMessageID,
		LastMessageAt: m.LastMessageAt,
		UnreadCountA:  m.UnreadCountA,
		UnreadCountB:  m.UnreadCountB,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Status:         domain.MessageStatus(m.Status),
		IsEdited:       m.IsEdited,
		EditedAt:       m.EditedAt,
		IsDeleted:      m.IsDeleted,
		DeletedAt:      m.DeletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
