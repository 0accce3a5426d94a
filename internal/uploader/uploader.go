// Package uploader carries attachment sends. The websocket frame format
// has no room for binary content, so attachments always go over the REST
// multipart endpoint, with an optimistic local echo shown immediately.
package uploader

import (
	"context"
	"os"
	stdsync "sync"
	"time"

	"github.com/innosphere/chatsync/internal/bus"
	"github.com/innosphere/chatsync/internal/rest"
	"github.com/innosphere/chatsync/internal/store"
	"github.com/innosphere/chatsync/internal/sync"
	"go.uber.org/zap"
)

const uploadTimeout = 2 * time.Minute

// Attachment is a local file staged for upload. Path is where the file
// lives on disk and stays valid until the upload is confirmed, so a
// failed send can be retried from it. Name is the display name shown in
// the conversation.
type Attachment struct {
	Path     string
	Name     string
	MimeType string
}

// Uploader sends attachments over REST in the background.
type Uploader struct {
	st     *store.Store
	api    *rest.Client
	engine *sync.Engine
	bus    *bus.Bus
	logger *zap.Logger
	wg     stdsync.WaitGroup
}

// New creates an attachment uploader.
func New(st *store.Store, api *rest.Client, engine *sync.Engine, b *bus.Bus, logger *zap.Logger) *Uploader {
	return &Uploader{
		st:     st,
		api:    api,
		engine: engine,
		bus:    b,
		logger: logger,
	}
}

// Send appends the optimistic echo and starts the upload in the
// background. The returned message carries the staged attachment
// reference and a pending status.
func (u *Uploader) Send(ctx context.Context, counterpartID int64, content string, att Attachment) store.Message {
	local := u.st.AppendOptimistic(counterpartID, store.Draft{
		Content: content,
		Attachment: &store.Attachment{
			URL:          att.Path,
			MimeType:     att.MimeType,
			OriginalName: att.Name,
			Local:        true,
		},
	})
	u.bus.Publish(bus.Event{
		Topic:     bus.TopicConversationTouched,
		Timestamp: time.Now(),
		Payload:   counterpartID,
	})

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.upload(ctx, counterpartID, content, att, local.CorrelationID)
	}()
	return local
}

// Resend retries a failed attachment message under its original
// correlation id. The staged file is reopened from the reference kept
// on the message.
func (u *Uploader) Resend(ctx context.Context, msg store.Message) {
	att := Attachment{
		Path:     msg.Attachment.URL,
		Name:     msg.Attachment.OriginalName,
		MimeType: msg.Attachment.MimeType,
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.upload(ctx, msg.ConversationID, msg.Content, att, msg.CorrelationID)
	}()
}

// Wait blocks until in-flight uploads finish. Called on shutdown so a
// close does not abandon an upload mid-transfer.
func (u *Uploader) Wait() {
	u.wg.Wait()
}

func (u *Uploader) upload(ctx context.Context, counterpartID int64, content string, att Attachment, correlationID string) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	f, err := os.Open(att.Path)
	if err != nil {
		u.logger.Error("staged attachment unreadable",
			zap.Error(err),
			zap.String("path", att.Path))
		u.fail(counterpartID, correlationID, err)
		return
	}
	defer func() { _ = f.Close() }()

	rec, err := u.api.SendMessage(ctx, counterpartID, content, &rest.Upload{
		Reader:   f,
		Name:     att.Name,
		MimeType: att.MimeType,
	})
	if err != nil {
		u.logger.Error("attachment upload failed",
			zap.Error(err),
			zap.String("correlation_id", correlationID),
			zap.String("name", att.Name))
		u.fail(counterpartID, correlationID, err)
		return
	}

	u.engine.Ingest(sync.RecordEvent(rec, u.st.SelfID(), correlationID))
	u.logger.Info("attachment uploaded",
		zap.Int64("server_id", rec.ID),
		zap.String("name", att.Name))
}

func (u *Uploader) fail(counterpartID int64, correlationID string, cause error) {
	u.st.MarkFailed(correlationID)
	u.bus.Publish(bus.Event{
		Topic:     bus.TopicMessageFailed,
		Timestamp: time.Now(),
		Payload: bus.MessageFailed{
			CounterpartID: counterpartID,
			CorrelationID: correlationID,
			Reason:        cause.Error(),
		},
	})
}
