// Package wire defines the payload formats of the full-duplex channel and
// the parser that normalizes inbound frames before they reach the
// reconciliation path.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventNewMessage is the only inbound event type the channel currently
// delivers.
const EventNewMessage = "new_message"

var (
	// ErrUnknownEvent marks a frame whose type is not recognized. Such
	// frames are dropped by the caller, never surfaced as failures.
	ErrUnknownEvent = errors.New("unknown event type")
)

// ChannelEvent is a normalized inbound frame.
type ChannelEvent struct {
	Type           string `json:"type"`
	ID             int64  `json:"id"`
	SenderID       int64  `json:"sender_id"`
	ReceiverID     int64  `json:"receiver_id"`
	SenderName     string `json:"sender_name"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	TempID         string `json:"temp_id,omitempty"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
}

// SendFrame is the outbound text-send frame. temp_id is echoed back in the
// confirmation event and is the only acknowledgment mechanism.
type SendFrame struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	TempID     string `json:"temp_id"`
}

// ParseEvent decodes and validates an inbound frame. A malformed or
// unrecognized frame returns an error so the read loop can drop it without
// touching the store.
func ParseEvent(data []byte) (*ChannelEvent, error) {
	var evt ChannelEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if evt.Type != EventNewMessage {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Type)
	}
	if evt.ID <= 0 || evt.SenderID <= 0 || evt.ReceiverID <= 0 {
		return nil, fmt.Errorf("frame missing identity fields (id=%d sender=%d receiver=%d)", evt.ID, evt.SenderID, evt.ReceiverID)
	}
	return &evt, nil
}

// Time parses the event timestamp. The server emits ISO 8601; anything
// unparseable falls back to the arrival time so ordering stays monotonic.
func (e *ChannelEvent) Time() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if ts, err := time.Parse(layout, e.Timestamp); err == nil {
			return ts
		}
	}
	return time.Now()
}
