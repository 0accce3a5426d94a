package sync

import (
	"github.com/innosphere/chatsync/internal/rest"
	"github.com/innosphere/chatsync/internal/store"
)

// RecordEvent converts a REST message record into a server event.
// REST confirmations do not echo the correlation id, so the caller
// injects the one it sent with.
func RecordEvent(rec *rest.MessageRecord, selfID int64, correlationID string) store.ServerEvent {
	fromSelf := rec.SenderID == selfID
	counterpart := rec.SenderID
	if fromSelf {
		counterpart = rec.ReceiverID
	}

	var att *store.Attachment
	if rec.AttachmentURL != "" {
		att = &store.Attachment{
			URL:      rec.AttachmentURL,
			MimeType: rec.AttachmentType,
		}
	}

	return store.ServerEvent{
		ID:             rec.ID,
		CorrelationID:  correlationID,
		ConversationID: counterpart,
		SenderID:       rec.SenderID,
		SenderName:     rec.SenderName,
		Content:        rec.Content,
		Timestamp:      rec.Timestamp.Time,
		Attachment:     att,
		FromSelf:       fromSelf,
	}
}
