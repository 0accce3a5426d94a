package store

import "time"

// Status is the delivery state of a message. A pending message only ever
// moves to sent/delivered (confirmation) or failed (send error); it is
// never silently discarded.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Attachment references binary content carried by a message. Local marks a
// preview reference that has not been uploaded yet; it is replaced by the
// canonical remote reference when the upload finalizes.
type Attachment struct {
	URL          string
	MimeType     string
	OriginalName string
	Local        bool
}

// Message is one entry in a conversation. ID is server-assigned and zero
// while the message is pending; CorrelationID is the client-generated id
// used to match the server confirmation.
type Message struct {
	ID             int64
	CorrelationID  string
	ConversationID int64
	SenderID       int64
	SenderName     string
	Content        string
	Timestamp      time.Time
	Attachment     *Attachment
	Status         Status
}

// Conversation is the denormalized summary of one counterpart thread.
// Ephemeral conversations come from search selection and are invisible to
// the index until a first message promotes them.
type Conversation struct {
	CounterpartID int64
	Name          string
	Role          string
	Extra         string
	AvatarURL     string
	LastMessage   string
	LastActivity  time.Time
	Unread        int
	Ephemeral     bool
}

// Draft is the caller-supplied part of an optimistic message.
type Draft struct {
	Content    string
	Attachment *Attachment
}

// ServerEvent is a normalized confirmation/broadcast event entering the
// reconciliation path. ConversationID is already resolved to the non-self
// participant.
type ServerEvent struct {
	ID             int64
	CorrelationID  string
	ConversationID int64
	SenderID       int64
	SenderName     string
	Content        string
	Timestamp      time.Time
	Attachment     *Attachment
	FromSelf       bool
}
