package store

// Outcome classifies what a server event did to the store. The three cases
// are exhaustive: every inbound event is exactly one of them.
type Outcome int

const (
	// OutcomeConfirmation replaced a pending local message in place.
	OutcomeConfirmation Outcome = iota
	// OutcomeDuplicate matched an already-stored server id; no-op.
	OutcomeDuplicate
	// OutcomeNewInbound appended a message not seen before.
	OutcomeNewInbound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmation:
		return "confirmation"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNewInbound:
		return "new_inbound"
	default:
		return "unknown"
	}
}

// Resolution reports how an event was reconciled and the resulting message
// state.
type Resolution struct {
	Outcome Outcome
	Message Message
}

// Apply merges one server event into the store. Idempotent: applying the
// same event twice leaves the store unchanged after the first application.
//
//   - The event's correlation id matches a pending local message: that
//     message is replaced in place (same list position) with the final id
//     and status, so the author never sees a duplicate-then-disappear.
//   - The event's server id is already stored: duplicate delivery, no-op.
//   - Otherwise the event is appended as a new inbound message.
func (s *Store) Apply(evt ServerEvent) Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()

	if local, ok := s.byCorr[evt.CorrelationID]; ok && evt.CorrelationID != "" && local.ID == 0 {
		return s.confirm(local, evt)
	}
	if convID, ok := s.byID[evt.ID]; ok {
		return s.duplicate(convID, evt)
	}
	return s.appendInbound(evt)
}

func (s *Store) confirm(local *Message, evt ServerEvent) Resolution {
	local.ID = evt.ID
	local.Status = StatusSent
	if evt.Timestamp.After(local.Timestamp) {
		local.Timestamp = evt.Timestamp
	}
	if evt.Attachment != nil {
		local.Attachment = evt.Attachment
	}
	s.byID[evt.ID] = local.ConversationID
	delete(s.byCorr, local.CorrelationID)

	if conv, ok := s.convs[local.ConversationID]; ok {
		s.touch(conv, local)
	}
	return Resolution{Outcome: OutcomeConfirmation, Message: *local}
}

func (s *Store) duplicate(convID int64, evt ServerEvent) Resolution {
	for _, m := range s.msgs[convID] {
		if m.ID == evt.ID {
			return Resolution{Outcome: OutcomeDuplicate, Message: *m}
		}
	}
	// Index said the id exists but the message list disagrees; treat as
	// duplicate anyway rather than re-append.
	return Resolution{Outcome: OutcomeDuplicate}
}

func (s *Store) appendInbound(evt ServerEvent) Resolution {
	msg := &Message{
		ID:             evt.ID,
		ConversationID: evt.ConversationID,
		SenderID:       evt.SenderID,
		SenderName:     evt.SenderName,
		Content:        evt.Content,
		Timestamp:      evt.Timestamp,
		Attachment:     evt.Attachment,
		Status:         statusFor(evt),
	}
	s.msgs[evt.ConversationID] = append(s.msgs[evt.ConversationID], msg)
	s.byID[evt.ID] = evt.ConversationID

	name := ""
	if !evt.FromSelf {
		name = evt.SenderName
	}
	conv := s.ensureConversation(evt.ConversationID, name)
	if conv.Ephemeral {
		conv.Ephemeral = false
		s.order = append([]int64{conv.CounterpartID}, s.order...)
	}
	if !evt.FromSelf && s.active != evt.ConversationID {
		conv.Unread++
	}
	s.touch(conv, msg)

	return Resolution{Outcome: OutcomeNewInbound, Message: *msg}
}

func statusFor(evt ServerEvent) Status {
	if evt.FromSelf {
		return StatusSent
	}
	return StatusDelivered
}
