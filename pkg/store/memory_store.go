package store

import (
	"sort"
	"sync"
	"time"

	"directmsg/pkg/domain"
)

type receiptKey struct {
	messageID int64
	userID    int64
}

// MemoryStore keeps the messaging core in-process. It backs unit tests and
// local runs without Postgres. Each operation is individually atomic under
// the mutex; WithinTx does not simulate rollback.
type MemoryStore struct {
	mu             sync.RWMutex
	nextConvID     int64
	nextMessageID  int64
	conversations  map[int64]domain.Conversation
	pairIndex      map[[2]int64]int64 // ordered pair -> conversation id
	messages       map[int64]domain.Message
	byConversation map[int64][]int64 // message ids, oldest first
	receipts       map[receiptKey]time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations:  make(map[int64]domain.Conversation),
		pairIndex:      make(map[[2]int64]int64),
		messages:       make(map[int64]domain.Message),
		byConversation: make(map[int64][]int64),
		receipts:       make(map[receiptKey]time.Time),
	}
}

// WithinTx runs fn against the same store. Rollback is not simulated; the
// inner operations stay individually atomic, which is what the concurrency
// tests exercise.
func (m *MemoryStore) WithinTx(fn func(Store) error) error {
	return fn(m)
}

func (m *MemoryStore) FindByPair(userA, userB int64) (domain.Conversation, bool, error) {
	low, high := orderPair(userA, userB)
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pairIndex[[2]int64{low, high}]
	if !ok {
		return domain.Conversation{}, false, nil
	}
	return m.conversations[id], true, nil
}

func (m *MemoryStore) CreateConversation(userA, userB int64) (domain.Conversation, error) {
	low, high := orderPair(userA, userB)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{low, high}
	if _, exists := m.pairIndex[key]; exists {
		return domain.Conversation{}, domain.ErrConflict
	}
	m.nextConvID++
	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:           m.nextConvID,
		ParticipantA: low,
		ParticipantB: high,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.conversations[conv.ID] = conv
	m.pairIndex[key] = conv.ID
	return conv, nil
}

func (m *MemoryStore) GetConversation(id int64) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	return conv, ok, nil
}

func (m *MemoryStore) ListConversationsByUser(userID int64) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for _, conv := range m.conversations {
		if conv.HasParticipant(userID) {
			res = append(res, conv)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		ti, tj := res[i].LastMessageAt, res[j].LastMessageAt
		switch {
		case ti != nil && tj != nil && !ti.Equal(*tj):
			return ti.After(*tj)
		case ti != nil && tj == nil:
			return true
		case ti == nil && tj != nil:
			return false
		}
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return res, nil
}

func (m *MemoryStore) IncrementUnread(conversationID, participantID int64) error {
	return m.updateUnread(conversationID, participantID, func(count int64) int64 { return count + 1 })
}

func (m *MemoryStore) ResetUnread(conversationID, participantID int64) error {
	return m.updateUnread(conversationID, participantID, func(int64) int64 { return 0 })
}

func (m *MemoryStore) updateUnread(conversationID, participantID int64, apply func(int64) int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok || !conv.HasParticipant(participantID) {
		return domain.ErrNotFound
	}
	if conv.ParticipantA == participantID {
		conv.UnreadCountA = apply(conv.UnreadCountA)
	} else {
		conv.UnreadCountB = apply(conv.UnreadCountB)
	}
	conv.UpdatedAt = time.Now().UTC()
	m.conversations[conversationID] = conv
	return nil
}

func (m *MemoryStore) TouchLastMessage(conversationID, messageID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return domain.ErrNotFound
	}
	at = at.UTC()
	conv.LastMessageID = &messageID
	conv.LastMessageAt = &at
	conv.UpdatedAt = time.Now().UTC()
	m.conversations[conversationID] = conv
	return nil
}

func (m *MemoryStore) UnreadTotal(userID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, conv := range m.conversations {
		if conv.HasParticipant(userID) {
			total += conv.UnreadFor(userID)
		}
	}
	return total, nil
}

func (m *MemoryStore) InsertMessage(conversationID, senderID, receiverID int64, content string) (domain.Message, error) {
	if err := validateContent(content); err != nil {
		return domain.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMessageID++
	now := time.Now().UTC()
	msg := domain.Message{
		ID:             m.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Status:         domain.MessageStatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.messages[msg.ID] = msg
	m.byConversation[conversationID] = append(m.byConversation[conversationID], msg.ID)
	return msg, nil
}

func (m *MemoryStore) GetMessage(id int64) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	return msg, ok, nil
}

// ListMessages pages newest-first over visible messages, returning each page
// oldest first, mirroring the SQL store.
func (m *MemoryStore) ListMessages(conversationID int64, page, limit int) ([]domain.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = defaultPageLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	visible := make([]domain.Message, 0)
	for _, id := range m.byConversation[conversationID] {
		if msg := m.messages[id]; !msg.IsDeleted {
			visible = append(visible, msg)
		}
	}
	end := len(visible) - (page-1)*limit
	if end <= 0 {
		return []domain.Message{}, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]domain.Message, end-start)
	copy(out, visible[start:end])
	return out, nil
}

func (m *MemoryStore) EditMessage(messageID, callerID int64, content string) (domain.Message, error) {
	if err := validateContent(content); err != nil {
		return domain.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.IsDeleted || msg.SenderID != callerID {
		return domain.Message{}, domain.ErrNotFound
	}
	now := time.Now().UTC()
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	msg.UpdatedAt = now
	m.messages[messageID] = msg
	return msg, nil
}

func (m *MemoryStore) SoftDeleteMessage(messageID, callerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.IsDeleted || msg.SenderID != callerID {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	msg.IsDeleted = true
	msg.DeletedAt = &now
	msg.UpdatedAt = now
	m.messages[messageID] = msg
	return nil
}

func (m *MemoryStore) MarkMessageRead(messageID, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return nil
	}
	key := receiptKey{messageID: messageID, userID: userID}
	if _, exists := m.receipts[key]; exists {
		return nil
	}
	m.receipts[key] = at.UTC()
	return nil
}

func (m *MemoryStore) UnreadMessageIDs(conversationID, userID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0)
	for _, id := range m.byConversation[conversationID] {
		msg := m.messages[id]
		if msg.IsDeleted || msg.SenderID == userID {
			continue
		}
		if _, seen := m.receipts[receiptKey{messageID: id, userID: userID}]; seen {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReceiptCount reports how many receipts exist for a message; test hook.
func (m *MemoryStore) ReceiptCount(messageID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for key := range m.receipts {
		if key.messageID == messageID {
			n++
		}
	}
	return n
}
