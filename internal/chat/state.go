// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// State is a step of the turn lifecycle.
type State int

const (
	StateIdle State = iota
	StateSessionEnsured
	StateUserAppended
	StateStreaming
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSessionEnsured:
		return "session_ensured"
	case StateUserAppended:
		return "user_appended"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// transitions lists the allowed next states. Every non-terminal state may
// fail; both terminal states return to idle.
var transitions = map[State][]State{
	StateIdle:           {StateSessionEnsured, StateFailed},
	StateSessionEnsured: {StateUserAppended, StateFailed},
	StateUserAppended:   {StateStreaming, StateFailed},
	StateStreaming:      {StateFinalized, StateFailed},
	StateFinalized:      {StateIdle},
	StateFailed:         {StateIdle},
}

// canTransition reports whether from -> to is allowed.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
