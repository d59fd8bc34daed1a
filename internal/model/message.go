// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
package model

import (
	"time"

	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role may be stored in a session.
// System messages are accepted on the wire but never persisted.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a session.
type Message struct {
	// Identity
	ID        string    `json:"id" yaml:"id"`
	SessionID string    `json:"session_id" yaml:"session_id"`
	Role      Role      `json:"role" yaml:"role"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// Content
	Content string `json:"content" yaml:"content"`

	// Unsynced is set when the in-memory row could not be persisted.
	Unsynced bool `json:"-" yaml:"-"`
}

// NewMessage creates a message that has not been persisted yet.
func NewMessage(sessionID string, role Role, content string) Message {
	return Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(sessionID, content string) Message {
	return NewMessage(sessionID, RoleUser, content)
}

// NewPlaceholder creates the empty assistant message that reserves the
// reply's position while the stream is in flight.
func NewPlaceholder(sessionID string) Message {
	return NewMessage(sessionID, RoleAssistant, "")
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsPlaceholder reports whether m is an assistant message with no content yet.
func (m *Message) IsPlaceholder() bool {
	return m.Role == RoleAssistant && m.Content == ""
}

// Preview returns a truncated single-line preview of the content.
func (m *Message) Preview(maxLen int) string {
	return util.TruncateRunes(util.SingleLine(m.Content), maxLen)
}

// Wire is the {role, content} pair sent to the completion endpoint.
type Wire struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToWire converts messages to the request representation.
func ToWire(msgs []Message) []Wire {
	out := make([]Wire, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Wire{Role: string(m.Role), Content: m.Content})
	}
	return out
}
