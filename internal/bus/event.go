package bus

import "time"

// Topics published by the engine. Subscribers filter by prefix, so
// "message." matches every message-level topic.
const (
	TopicChannelMessage      = "channel.message"
	TopicChannelUp           = "channel.up"
	TopicChannelDown         = "channel.down"
	TopicChannelReconnecting = "channel.reconnecting"

	TopicMessageUpserted = "message.upserted"
	TopicMessageFailed   = "message.failed"

	TopicConversationTouched = "conversation.touched"
	TopicConversationDeleted = "conversation.deleted"

	TopicSessionStatus = "session.status_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   any
}

// MessageFailed is the payload for message.failed events. The message
// stays in its thread with a failed status until retried.
type MessageFailed struct {
	CounterpartID int64
	CorrelationID string
	Reason        string
}
