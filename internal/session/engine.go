package session

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/innosphere/chatsync/internal/bus"
	"github.com/innosphere/chatsync/internal/cache"
	"github.com/innosphere/chatsync/internal/channel"
	"github.com/innosphere/chatsync/internal/directory"
	"github.com/innosphere/chatsync/internal/rest"
	"github.com/innosphere/chatsync/internal/status"
	"github.com/innosphere/chatsync/internal/store"
	"github.com/innosphere/chatsync/internal/sync"
	"github.com/innosphere/chatsync/internal/uploader"
	"github.com/innosphere/chatsync/internal/wire"
	"go.uber.org/zap"
)

// DefaultAckTimeout is how long a channel send may stay pending before
// it is marked failed. Confirmations normally arrive within a second.
const DefaultAckTimeout = 15 * time.Second

const bootstrapKey = "last_bootstrap"

// Channel is the push transport the engine sends through. Satisfied by
// *channel.Manager.
type Channel interface {
	Open(ctx context.Context)
	Available() bool
	Send(ctx context.Context, frame wire.SendFrame) error
	Close() error
}

// Engine ties the session together: it owns the send paths, the
// bootstrap sequence, and the session state machine. All reads go
// through the store; the engine only mutates.
type Engine struct {
	st      *store.Store
	cache   *cache.DB
	api     *rest.Client
	channel Channel
	pump    *sync.Engine
	up      *uploader.Uploader
	dir     *directory.Resolver
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	ackTimeout time.Duration

	mu     stdsync.Mutex
	timers map[string]*time.Timer
	cancel context.CancelFunc
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithAckTimeout overrides the pending-ack timeout (used by tests).
func WithAckTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.ackTimeout = d }
}

// NewEngine creates the session engine.
func NewEngine(st *store.Store, db *cache.DB, api *rest.Client, ch Channel, pump *sync.Engine, up *uploader.Uploader, dir *directory.Resolver, machine *status.Machine, b *bus.Bus, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		st:         st,
		cache:      db,
		api:        api,
		channel:    ch,
		pump:       pump,
		up:         up,
		dir:        dir,
		machine:    machine,
		bus:        b,
		logger:     logger,
		ackTimeout: DefaultAckTimeout,
		timers:     make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open brings the session up: cached summaries first so the index is
// usable offline, then the push channel and a REST refresh in the
// background. Open never blocks on the network.
func (e *Engine) Open(ctx context.Context) error {
	if err := e.machine.Transition(status.Connecting); err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	cached, err := e.cache.ListConversations()
	if err != nil {
		return fmt.Errorf("warm load: %w", err)
	}
	e.st.LoadSummaries(cached)
	if last, err := e.cache.GetState(bootstrapKey); err == nil && last != "" {
		e.logger.Info("warm loaded from cache",
			zap.Int("conversations", len(cached)),
			zap.String("last_bootstrap", last))
	} else {
		e.logger.Info("warm loaded from cache", zap.Int("conversations", len(cached)))
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	// Subscribe before the channel dials so the first up/down event
	// cannot be missed.
	events, unsub := e.bus.Subscribe("", 256)
	go e.watch(runCtx, events, unsub)
	e.pump.Start(runCtx)
	e.channel.Open(runCtx)
	go e.refreshIndex(runCtx)

	return nil
}

// Close shuts the session down. In-flight uploads are waited for.
func (e *Engine) Close() error {
	_ = e.machine.Transition(status.Closed)
	if e.cancel != nil {
		e.cancel()
	}
	e.pump.Stop()
	err := e.channel.Close()
	e.up.Wait()

	e.mu.Lock()
	for corr, timer := range e.timers {
		timer.Stop()
		delete(e.timers, corr)
	}
	e.mu.Unlock()
	return err
}

// SendText appends the optimistic echo and delivers in the background.
// Channel first; REST when the channel is down. The returned message is
// pending until a confirmation or the ack timeout resolves it.
func (e *Engine) SendText(ctx context.Context, counterpartID int64, content string) store.Message {
	local := e.st.AppendOptimistic(counterpartID, store.Draft{Content: content})
	e.bus.Publish(bus.Event{
		Topic:     bus.TopicConversationTouched,
		Timestamp: time.Now(),
		Payload:   counterpartID,
	})
	go e.deliver(ctx, counterpartID, content, local.CorrelationID)
	return local
}

// SendAttachment delegates to the uploader, which always goes over REST.
func (e *Engine) SendAttachment(ctx context.Context, counterpartID int64, content string, att uploader.Attachment) store.Message {
	return e.up.Send(ctx, counterpartID, content, att)
}

// Search queries the user directory for conversation partners.
func (e *Engine) Search(ctx context.Context, query string) ([]directory.Candidate, error) {
	return e.dir.Search(ctx, query)
}

// StartConversation turns a directory pick into an active thread. An
// existing thread with the counterpart is reused; otherwise an
// ephemeral conversation is seeded and the thread starts empty.
func (e *Engine) StartConversation(ctx context.Context, c directory.Candidate) []store.Message {
	e.dir.Select(c)
	return e.Activate(ctx, c.ID)
}

// Retry re-delivers a failed message under its original correlation id,
// so the thread position is preserved.
func (e *Engine) Retry(ctx context.Context, correlationID string) error {
	msg, ok := e.st.Retry(correlationID)
	if !ok {
		return fmt.Errorf("retry %s: no failed message", correlationID)
	}

	if msg.Attachment != nil && msg.Attachment.Local {
		e.up.Resend(ctx, msg)
		return nil
	}
	go e.deliver(ctx, msg.ConversationID, msg.Content, msg.CorrelationID)
	return nil
}

// Activate marks a conversation as viewed, clears its unread count, and
// returns its thread. Cached history is loaded on first activation; a
// REST refresh runs in the background.
func (e *Engine) Activate(ctx context.Context, counterpartID int64) []store.Message {
	e.st.Activate(counterpartID)
	if conv, ok := e.st.Conversation(counterpartID); ok && !conv.Ephemeral {
		if err := e.cache.UpsertConversation(conv); err != nil {
			e.logger.Warn("failed to persist unread reset", zap.Error(err))
		}
	}

	if len(e.st.Messages(counterpartID)) == 0 {
		cached, err := e.cache.ListMessages(counterpartID, 0)
		if err != nil {
			e.logger.Warn("failed to read cached history", zap.Error(err))
		} else if len(cached) > 0 {
			e.st.LoadHistory(counterpartID, cached)
		}
	}

	go e.refreshHistory(ctx, counterpartID)
	return e.st.Messages(counterpartID)
}

// DeleteConversation removes a thread, server first. Local state is only
// dropped after the server confirms, so a failed delete leaves the
// thread visible.
func (e *Engine) DeleteConversation(ctx context.Context, counterpartID int64) error {
	if err := e.api.DeleteConversation(ctx, counterpartID); err != nil {
		return err
	}
	e.st.Delete(counterpartID)
	if err := e.cache.DeleteConversation(counterpartID); err != nil {
		e.logger.Warn("failed to drop cached conversation", zap.Error(err))
	}
	e.bus.Publish(bus.Event{
		Topic:     bus.TopicConversationDeleted,
		Timestamp: time.Now(),
		Payload:   counterpartID,
	})
	return nil
}

// deliver sends one text message, channel first with an ack timer, REST
// as fallback.
func (e *Engine) deliver(ctx context.Context, counterpartID int64, content, correlationID string) {
	err := e.channel.Send(ctx, wire.SendFrame{
		ReceiverID: counterpartID,
		Content:    content,
		TempID:     correlationID,
	})
	if err == nil {
		e.startAckTimer(counterpartID, correlationID)
		return
	}
	if !errors.Is(err, channel.ErrUnavailable) {
		e.logger.Warn("channel send failed", zap.Error(err))
	}

	rec, err := e.api.SendMessage(ctx, counterpartID, content, nil)
	if err != nil {
		e.logger.Error("send failed on both paths",
			zap.Error(err),
			zap.String("correlation_id", correlationID))
		e.fail(counterpartID, correlationID, err.Error())
		return
	}
	e.pump.Ingest(sync.RecordEvent(rec, e.st.SelfID(), correlationID))
}

func (e *Engine) startAckTimer(counterpartID int64, correlationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timers[correlationID] = time.AfterFunc(e.ackTimeout, func() {
		e.mu.Lock()
		delete(e.timers, correlationID)
		e.mu.Unlock()
		e.logger.Warn("no confirmation before timeout",
			zap.String("correlation_id", correlationID))
		e.fail(counterpartID, correlationID, "confirmation timeout")
	})
}

func (e *Engine) cancelAckTimer(correlationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if timer, ok := e.timers[correlationID]; ok {
		timer.Stop()
		delete(e.timers, correlationID)
	}
}

func (e *Engine) fail(counterpartID int64, correlationID, reason string) {
	if !e.st.MarkFailed(correlationID) {
		return
	}
	e.bus.Publish(bus.Event{
		Topic:     bus.TopicMessageFailed,
		Timestamp: time.Now(),
		Payload: bus.MessageFailed{
			CounterpartID: counterpartID,
			CorrelationID: correlationID,
			Reason:        reason,
		},
	})
}

// watch drives the state machine off channel events and resolves ack
// timers when confirmations land.
func (e *Engine) watch(ctx context.Context, ch <-chan bus.Event, unsub func()) {
	defer unsub()

	for {
		select {
		case evt := <-ch:
			switch evt.Topic {
			case bus.TopicChannelUp:
				if err := e.machine.Transition(status.Ready); err == nil {
					e.logger.Info("session ready")
				}
			case bus.TopicChannelDown:
				if e.machine.Current() != status.Closed {
					if err := e.machine.Transition(status.Degraded); err == nil {
						e.logger.Warn("session degraded, sends fall back to REST")
					}
				}
			case bus.TopicChannelReconnecting:
				if err := e.machine.Transition(status.Reconnecting); err == nil {
					e.logger.Info("push channel reconnecting")
				}
			case bus.TopicMessageUpserted:
				if up, ok := evt.Payload.(sync.Upserted); ok && up.CorrelationID != "" {
					e.cancelAckTimer(up.CorrelationID)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// refreshIndex reconciles the conversation index against the server.
func (e *Engine) refreshIndex(ctx context.Context) {
	summaries, err := e.api.Conversations(ctx)
	if err != nil {
		e.logger.Warn("index refresh failed, serving cached state", zap.Error(err))
		return
	}

	convs := make([]store.Conversation, 0, len(summaries))
	for _, s := range summaries {
		convs = append(convs, store.Conversation{
			CounterpartID: s.ID,
			Name:          s.Name,
			Role:          s.Role,
			Extra:         s.Extra,
			AvatarURL:     s.ProfilePhoto,
			LastMessage:   s.LastMessage,
			LastActivity:  s.LastTime.Time,
			Unread:        s.Unread,
		})
	}
	e.st.LoadSummaries(convs)
	for _, c := range convs {
		if err := e.cache.UpsertConversation(c); err != nil {
			e.logger.Warn("failed to cache summary", zap.Error(err))
		}
	}
	if err := e.cache.SetState(bootstrapKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("failed to record bootstrap checkpoint", zap.Error(err))
	}
	e.logger.Info("index refreshed", zap.Int("conversations", len(convs)))
}

// refreshHistory pulls the full thread for one counterpart and merges
// anything the cache missed.
func (e *Engine) refreshHistory(ctx context.Context, counterpartID int64) {
	records, err := e.api.History(ctx, counterpartID)
	if err != nil {
		e.logger.Warn("history refresh failed",
			zap.Error(err),
			zap.Int64("counterpart_id", counterpartID))
		return
	}

	history := make([]store.Message, 0, len(records))
	for _, rec := range records {
		evt := sync.RecordEvent(&rec, e.st.SelfID(), "")
		msg := store.Message{
			ID:             evt.ID,
			ConversationID: counterpartID,
			SenderID:       evt.SenderID,
			SenderName:     evt.SenderName,
			Content:        evt.Content,
			Timestamp:      evt.Timestamp,
			Attachment:     evt.Attachment,
			Status:         store.StatusDelivered,
		}
		if evt.FromSelf {
			msg.Status = store.StatusSent
		}
		history = append(history, msg)
	}
	e.st.LoadHistory(counterpartID, history)
	for _, m := range history {
		if err := e.cache.UpsertMessage(m); err != nil {
			e.logger.Warn("failed to cache history row", zap.Error(err))
		}
	}
}
