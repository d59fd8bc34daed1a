// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is used when stdout is not a terminal.
	DefaultTerminalWidth = 80
	minTerminalWidth     = 40
)

// Terminal describes the process's stdin and stdout.
type Terminal struct {
	// Interactive is set when stdin is a terminal.
	Interactive bool
	// Color is set when stdout takes ANSI styling. NO_COLOR clears it.
	Color bool
	Width int
}

// DetectTerminal inspects stdin and stdout.
func DetectTerminal() Terminal {
	out := int(os.Stdout.Fd())
	t := Terminal{
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
		Width:       DefaultTerminalWidth,
	}

	if term.IsTerminal(out) {
		t.Color = termenv.EnvColorProfile() != termenv.Ascii
		if w, _, err := term.GetSize(out); err == nil && w > 0 {
			t.Width = max(w, minTerminalWidth)
		}
	}
	return t
}
