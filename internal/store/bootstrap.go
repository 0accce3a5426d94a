package store

import "sort"

// LoadSummaries seeds the conversation index from persisted or fetched
// summaries, ordered strictly descending by last activity. The sort is
// stable: summaries with equal timestamps keep their given order. Existing
// conversations are not overwritten; live events win over bootstrap data.
func (s *Store) LoadSummaries(summaries []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range summaries {
		c := summaries[i]
		if _, ok := s.convs[c.CounterpartID]; ok {
			continue
		}
		conv := c
		conv.Ephemeral = false
		s.convs[c.CounterpartID] = &conv
		s.order = append(s.order, c.CounterpartID)
	}

	sort.SliceStable(s.order, func(i, j int) bool {
		return s.convs[s.order[i]].LastActivity.After(s.convs[s.order[j]].LastActivity)
	})
}

// LoadHistory merges fetched history into a conversation's message list.
// Messages whose server id is already stored are skipped, so replaying
// history after live events never duplicates.
func (s *Store) LoadHistory(counterpartID int64, history []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range history {
		m := history[i]
		if m.ID != 0 {
			if _, seen := s.byID[m.ID]; seen {
				continue
			}
		}
		msg := m
		msg.ConversationID = counterpartID
		s.msgs[counterpartID] = append(s.msgs[counterpartID], &msg)
		if msg.ID != 0 {
			s.byID[msg.ID] = counterpartID
		}
	}

	sort.SliceStable(s.msgs[counterpartID], func(i, j int) bool {
		return s.msgs[counterpartID][i].Timestamp.Before(s.msgs[counterpartID][j].Timestamp)
	})
}
