// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// DefaultTitle is the title a session carries until one is derived.
const DefaultTitle = "New chat"

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session holds a persisted conversation thread.
//
// Messages reflect insertion order. Only the last element may change in
// place, and only while it is the assistant placeholder of an active turn.
type Session struct {
	// Identity
	ID        string    `json:"id" yaml:"id"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	Title     string    `json:"title" yaml:"title"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	// Messages
	Messages []Message `json:"messages" yaml:"messages"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return out
}

// Trailing returns a pointer to the last message, or nil when empty.
func (s *Session) Trailing() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// IsEmpty returns true if the session has no messages.
func (s *Session) IsEmpty() bool {
	return len(s.Messages) == 0
}

// MessageCount returns the number of messages in the session.
func (s *Session) MessageCount() int {
	return len(s.Messages)
}

// History returns the messages that form the request context: every stored
// user or assistant message in order.
func (s *Session) History() []Message {
	out := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role.Valid() {
			out = append(out, m)
		}
	}
	return out
}

// Preview returns a preview string from the first user message.
func (s *Session) Preview(maxLen int) string {
	for i := range s.Messages {
		if s.Messages[i].Role == RoleUser && s.Messages[i].Content != "" {
			return s.Messages[i].Preview(maxLen)
		}
	}
	return ""
}
