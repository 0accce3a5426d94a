// Package sync pumps inbound channel events through reconciliation and
// into the cache. It subscribes to "channel." events on the bus, never
// to the websocket directly, so the channel and the pump can fail
// independently.
package sync

import (
	"context"
	"time"

	"github.com/innosphere/chatsync/internal/bus"
	"github.com/innosphere/chatsync/internal/cache"
	"github.com/innosphere/chatsync/internal/store"
	"github.com/innosphere/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Upserted is the payload published on message.upserted after an event
// lands in the store. CorrelationID is empty for inbound messages that
// never had a local echo.
type Upserted struct {
	CounterpartID int64
	CorrelationID string
	ServerID      int64
	Outcome       store.Outcome
}

// Engine reconciles server events against the in-memory store and
// mirrors the result into the cache.
type Engine struct {
	st     *store.Store
	cache  *cache.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new reconciliation engine.
func NewEngine(st *store.Store, db *cache.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		st:     st,
		cache:  db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound channel events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("channel.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	if evt.Topic != bus.TopicChannelMessage {
		return
	}
	frame, ok := evt.Payload.(*wire.ChannelEvent)
	if !ok {
		return
	}
	e.Ingest(e.toServerEvent(frame))
}

// Ingest applies one server event to the store, persists the result,
// and announces it. It is also the landing point for confirmations
// that arrive over REST instead of the channel.
func (e *Engine) Ingest(evt store.ServerEvent) store.Resolution {
	res := e.st.Apply(evt)

	if res.Outcome == store.OutcomeDuplicate {
		return res
	}

	if err := e.cache.UpsertMessage(res.Message); err != nil {
		e.logger.Error("failed to persist message",
			zap.Error(err),
			zap.Int64("server_id", res.Message.ID))
	}
	if conv, ok := e.st.Conversation(evt.ConversationID); ok && !conv.Ephemeral {
		if err := e.cache.UpsertConversation(conv); err != nil {
			e.logger.Error("failed to persist conversation",
				zap.Error(err),
				zap.Int64("counterpart_id", conv.CounterpartID))
		}
	}

	payload := Upserted{
		CounterpartID: evt.ConversationID,
		CorrelationID: res.Message.CorrelationID,
		ServerID:      evt.ID,
		Outcome:       res.Outcome,
	}
	e.bus.Publish(bus.Event{
		Topic:     bus.TopicMessageUpserted,
		Timestamp: time.Now(),
		Payload:   payload,
	})
	return res
}

func (e *Engine) toServerEvent(frame *wire.ChannelEvent) store.ServerEvent {
	fromSelf := frame.SenderID == e.st.SelfID()
	counterpart := frame.SenderID
	if fromSelf {
		counterpart = frame.ReceiverID
	}

	var att *store.Attachment
	if frame.AttachmentURL != "" {
		att = &store.Attachment{
			URL:      frame.AttachmentURL,
			MimeType: frame.AttachmentType,
		}
	}

	return store.ServerEvent{
		ID:             frame.ID,
		CorrelationID:  frame.TempID,
		ConversationID: counterpart,
		SenderID:       frame.SenderID,
		SenderName:     frame.SenderName,
		Content:        frame.Content,
		Timestamp:      frame.Time(),
		Attachment:     att,
		FromSelf:       fromSelf,
	}
}
