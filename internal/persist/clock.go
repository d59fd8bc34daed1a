// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"sync"
	"time"
)

var (
	clockMu sync.Mutex
	lastNow time.Time
)

// Now returns the current UTC time, strictly later than any value it
// returned before in this process. Rows created back to back therefore
// never tie on created_at.
func Now() time.Time {
	clockMu.Lock()
	defer clockMu.Unlock()
	now := time.Now().UTC().Round(0)
	if !now.After(lastNow) {
		now = lastNow.Add(time.Nanosecond)
	}
	lastNow = now
	return now
}

// FromNanos converts a stored UTC nanosecond timestamp.
func FromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
