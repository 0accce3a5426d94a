package store

import (
	"testing"
	"time"
)

func TestApplyConfirmationReplacesInPlace(t *testing.T) {
	s := New(selfID)
	s.AppendOptimistic(42, Draft{Content: "one"})
	target := s.AppendOptimistic(42, Draft{Content: "two"})
	s.AppendOptimistic(42, Draft{Content: "three"})

	res := s.Apply(ServerEvent{
		ID: 101, CorrelationID: target.CorrelationID,
		ConversationID: 42, SenderID: selfID, FromSelf: true,
		Content: "two", Timestamp: time.Now(),
	})

	if res.Outcome != OutcomeConfirmation {
		t.Fatalf("outcome = %v, want confirmation", res.Outcome)
	}

	msgs := s.Messages(42)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (no duplicate, even transiently)", len(msgs))
	}
	// Same list position.
	if msgs[1].ID != 101 || msgs[1].Status != StatusSent {
		t.Errorf("middle message = {id:%d status:%s}, want {101 sent}", msgs[1].ID, msgs[1].Status)
	}
	if msgs[0].Status != StatusPending || msgs[2].Status != StatusPending {
		t.Error("neighboring pending messages were touched")
	}
}

func TestApplyOutOfOrderConfirmationsPreserveLocalOrder(t *testing.T) {
	s := New(selfID)
	first := s.AppendOptimistic(42, Draft{Content: "first"})
	second := s.AppendOptimistic(42, Draft{Content: "second"})

	// Confirmations arrive reversed.
	now := time.Now()
	s.Apply(ServerEvent{ID: 202, CorrelationID: second.CorrelationID, ConversationID: 42, SenderID: selfID, FromSelf: true, Timestamp: now})
	s.Apply(ServerEvent{ID: 201, CorrelationID: first.CorrelationID, ConversationID: 42, SenderID: selfID, FromSelf: true, Timestamp: now.Add(time.Millisecond)})

	msgs := s.Messages(42)
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("order = [%q %q], want authored order preserved", msgs[0].Content, msgs[1].Content)
	}
	if msgs[0].ID != 201 || msgs[1].ID != 202 {
		t.Errorf("ids = [%d %d], want [201 202]", msgs[0].ID, msgs[1].ID)
	}
}

func TestApplyDuplicateIsIdempotent(t *testing.T) {
	s := New(selfID)
	evt := ServerEvent{ID: 300, ConversationID: 9, SenderID: 9, SenderName: "Orbit VC", Content: "ping", Timestamp: time.Now()}

	first := s.Apply(evt)
	if first.Outcome != OutcomeNewInbound {
		t.Fatalf("first outcome = %v, want new_inbound", first.Outcome)
	}

	before := s.Messages(9)
	second := s.Apply(evt)
	if second.Outcome != OutcomeDuplicate {
		t.Fatalf("second outcome = %v, want duplicate", second.Outcome)
	}
	after := s.Messages(9)
	if len(after) != len(before) {
		t.Errorf("message count changed on duplicate: %d -> %d", len(before), len(after))
	}

	conv, _ := s.Conversation(9)
	if conv.Unread != 1 {
		t.Errorf("unread = %d, want 1 (duplicate must not re-count)", conv.Unread)
	}
}

func TestApplyNewInboundSynthesizesConversation(t *testing.T) {
	s := New(selfID)
	now := time.Now()

	res := s.Apply(ServerEvent{ID: 400, ConversationID: 15, SenderID: 15, SenderName: "Helio Robotics", Content: "hello there", Timestamp: now})
	if res.Outcome != OutcomeNewInbound {
		t.Fatalf("outcome = %v, want new_inbound", res.Outcome)
	}

	idx := s.Index()
	if len(idx) != 1 {
		t.Fatalf("got %d conversations, want 1 synthesized", len(idx))
	}
	if idx[0].Name != "Helio Robotics" {
		t.Errorf("placeholder name = %q, want sender name", idx[0].Name)
	}
	if idx[0].LastMessage != "hello there" || !idx[0].LastActivity.Equal(now) {
		t.Errorf("summary = {%q %v}, want touched by event", idx[0].LastMessage, idx[0].LastActivity)
	}
	if idx[0].Unread != 1 {
		t.Errorf("unread = %d, want 1", idx[0].Unread)
	}
}

func TestApplyTouchesIndexRegardlessOfActiveConversation(t *testing.T) {
	s := New(selfID)
	s.AppendOptimistic(1, Draft{Content: "thread a"})
	s.AppendOptimistic(2, Draft{Content: "thread b"})
	s.Activate(2)

	// Confirmation for the non-viewed conversation still reorders the index.
	msgA := s.Messages(1)[0]
	s.Apply(ServerEvent{ID: 500, CorrelationID: msgA.CorrelationID, ConversationID: 1, SenderID: selfID, FromSelf: true, Timestamp: time.Now()})

	if idx := s.Index(); idx[0].CounterpartID != 1 {
		t.Errorf("front = %d, want 1 (background conversation updated)", idx[0].CounterpartID)
	}
}

func TestApplyConfirmationCarriesCanonicalAttachment(t *testing.T) {
	s := New(selfID)
	local := s.AppendOptimistic(42, Draft{
		Content:    "Hello",
		Attachment: &Attachment{URL: "blob:deck.pdf", MimeType: "application/pdf", OriginalName: "deck.pdf", Local: true},
	})

	s.Apply(ServerEvent{
		ID: 600, CorrelationID: local.CorrelationID,
		ConversationID: 42, SenderID: selfID, FromSelf: true,
		Content:    "Hello",
		Attachment: &Attachment{URL: "/uploads/deck.pdf", MimeType: "application/pdf", OriginalName: "deck.pdf"},
		Timestamp:  time.Now(),
	})

	msgs := s.Messages(42)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	att := msgs[0].Attachment
	if att == nil || att.Local || att.URL != "/uploads/deck.pdf" {
		t.Errorf("attachment = %+v, want canonical remote reference", att)
	}
	if msgs[0].Content != "Hello" {
		t.Errorf("content = %q, want Hello", msgs[0].Content)
	}
}

func TestApplyConfirmationForUnknownCorrelationAppends(t *testing.T) {
	// A temp_id from another client instance must not swallow the event.
	s := New(selfID)
	res := s.Apply(ServerEvent{
		ID: 700, CorrelationID: "other-session-uuid",
		ConversationID: 3, SenderID: 3, Content: "cross-device",
		Timestamp: time.Now(),
	})
	if res.Outcome != OutcomeNewInbound {
		t.Errorf("outcome = %v, want new_inbound for foreign correlation id", res.Outcome)
	}
}
