// Package store holds the authoritative in-memory state of the session:
// every message keyed by conversation, plus the recency-ordered
// conversation index derived from it. All mutation goes through Store
// methods under one lock; render/query layers only ever see copies.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the session-scoped message collection. One instance lives for
// the lifetime of a session and is shared by the send path, the
// reconciliation engine and read-side consumers.
type Store struct {
	mu     sync.RWMutex
	selfID int64
	tag    string // session tag prefixed to correlation ids

	convs  map[int64]*Conversation
	order  []int64 // durable conversation ids, most recent activity first
	msgs   map[int64][]*Message
	byCorr map[string]*Message // unconfirmed local messages
	byID   map[int64]int64     // server message id -> conversation id
	active int64               // currently viewed conversation, 0 if none
}

// New creates an empty store for the given session account id.
// Correlation ids are prefixed with a session tag so two client instances
// can never collide.
func New(selfID int64) *Store {
	return &Store{
		selfID: selfID,
		tag:    uuid.NewString()[:8],
		convs:  make(map[int64]*Conversation),
		msgs:   make(map[int64][]*Message),
		byCorr: make(map[string]*Message),
		byID:   make(map[int64]int64),
	}
}

// SelfID returns the session account id.
func (s *Store) SelfID() int64 {
	return s.selfID
}

// AppendOptimistic inserts a pending message at the tail of the
// conversation's list and returns a copy as the caller's handle. The insert
// is synchronous; no network I/O happens before it is visible. An ephemeral
// conversation is promoted to durable here.
func (s *Store) AppendOptimistic(counterpartID int64, draft Draft) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &Message{
		CorrelationID:  fmt.Sprintf("%s-%s", s.tag, uuid.NewString()),
		ConversationID: counterpartID,
		SenderID:       s.selfID,
		Content:        draft.Content,
		Timestamp:      time.Now(),
		Attachment:     draft.Attachment,
		Status:         StatusPending,
	}

	s.msgs[counterpartID] = append(s.msgs[counterpartID], msg)
	s.byCorr[msg.CorrelationID] = msg

	conv := s.ensureConversation(counterpartID, "")
	if conv.Ephemeral {
		conv.Ephemeral = false
		s.order = append([]int64{counterpartID}, s.order...)
	}
	s.touch(conv, msg)

	return *msg
}

// MarkFailed transitions a pending local message to failed. The message
// stays in place and keeps its correlation id so the caller can retry.
// Returns false if the correlation id is unknown or already confirmed.
func (s *Store) MarkFailed(correlationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byCorr[correlationID]
	if !ok || msg.Status != StatusPending {
		return false
	}
	msg.Status = StatusFailed
	return true
}

// Retry moves a failed message back to pending and returns a copy of it
// for re-dispatch. Returns false if the message is not in failed state.
func (s *Store) Retry(correlationID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byCorr[correlationID]
	if !ok || msg.Status != StatusFailed {
		return Message{}, false
	}
	msg.Status = StatusPending
	return *msg, true
}

// SeedEphemeral registers a zero-message conversation from a search
// selection. It is not listed in the index; sending a first message
// promotes it. If a durable conversation already exists it is returned
// unchanged (dedupe by counterpart id).
func (s *Store) SeedEphemeral(c Conversation) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.convs[c.CounterpartID]; ok {
		return *existing
	}
	conv := &Conversation{
		CounterpartID: c.CounterpartID,
		Name:          c.Name,
		Role:          c.Role,
		Extra:         c.Extra,
		AvatarURL:     c.AvatarURL,
		Ephemeral:     true,
	}
	s.convs[c.CounterpartID] = conv
	return *conv
}

// Abandon removes a still-ephemeral conversation. Durable conversations
// are untouched.
func (s *Store) Abandon(counterpartID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.convs[counterpartID]; ok && conv.Ephemeral {
		delete(s.convs, counterpartID)
		delete(s.msgs, counterpartID)
	}
}

// Activate marks a conversation as the one currently viewed and clears its
// unread count. Inbound messages for the active conversation do not
// increment unread.
func (s *Store) Activate(counterpartID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = counterpartID
	if conv, ok := s.convs[counterpartID]; ok {
		conv.Unread = 0
	}
}

// Delete removes all local message and index state for a counterpart.
// Callers invoke this only after the server confirmed the deletion.
func (s *Store) Delete(counterpartID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.msgs[counterpartID] {
		if m.ID != 0 {
			delete(s.byID, m.ID)
		}
		if m.CorrelationID != "" {
			delete(s.byCorr, m.CorrelationID)
		}
	}
	delete(s.msgs, counterpartID)
	delete(s.convs, counterpartID)
	for i, id := range s.order {
		if id == counterpartID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active == counterpartID {
		s.active = 0
	}
}

// Index returns the durable conversation summaries, most recent activity
// first. Ephemeral conversations are not listed.
func (s *Store) Index() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.convs[id])
	}
	return out
}

// Conversation returns a single conversation summary, ephemeral or not.
func (s *Store) Conversation(counterpartID int64) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[counterpartID]
	if !ok {
		return Conversation{}, false
	}
	return *conv, true
}

// Messages returns a copy of the ordered message list for a conversation.
func (s *Store) Messages(counterpartID int64) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.msgs[counterpartID]
	out := make([]Message, 0, len(list))
	for _, m := range list {
		out = append(out, *m)
	}
	return out
}

// Message looks up a local message by correlation id.
func (s *Store) Message(correlationID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byCorr[correlationID]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// ensureConversation returns the conversation for a counterpart, creating
// a durable placeholder if none exists. Caller holds the lock.
func (s *Store) ensureConversation(counterpartID int64, name string) *Conversation {
	conv, ok := s.convs[counterpartID]
	if !ok {
		conv = &Conversation{CounterpartID: counterpartID, Name: name}
		s.convs[counterpartID] = conv
		s.order = append([]int64{counterpartID}, s.order...)
	}
	if conv.Name == "" && name != "" {
		conv.Name = name
	}
	return conv
}

// touch updates the conversation summary from a message and moves the
// conversation to the front of the index. Caller holds the lock.
func (s *Store) touch(conv *Conversation, msg *Message) {
	conv.LastMessage = summarize(msg)
	if msg.Timestamp.After(conv.LastActivity) {
		conv.LastActivity = msg.Timestamp
	}
	if conv.Ephemeral {
		return
	}
	for i, id := range s.order {
		if id == conv.CounterpartID {
			if i > 0 {
				copy(s.order[1:i+1], s.order[:i])
				s.order[0] = conv.CounterpartID
			}
			return
		}
	}
	s.order = append([]int64{conv.CounterpartID}, s.order...)
}

func summarize(msg *Message) string {
	if msg.Content == "" && msg.Attachment != nil {
		return "Sent an attachment"
	}
	return msg.Content
}
