// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// EventKind identifies what changed in the store.
type EventKind int

const (
	EventLoaded EventKind = iota
	EventCreated
	EventDeleted
	EventActivated
	EventRenamed
	EventAppended
	EventUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventLoaded:
		return "loaded"
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	case EventActivated:
		return "activated"
	case EventRenamed:
		return "renamed"
	case EventAppended:
		return "appended"
	case EventUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Event is sent to subscribers after a successful mutation.
type Event struct {
	Kind      EventKind
	SessionID string
}

// subscriberBuffer is the per-subscriber queue length. Events beyond it are
// dropped; subscribers re-read state and never depend on every event.
const subscriberBuffer = 64

// Subscribe returns a channel of store events and a function that ends the
// subscription and closes the channel.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Store) notify(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
