// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package theme holds the chat color themes and the lipgloss styles derived
// from them.
package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// DefaultID names the theme used when none, or an unknown one, is selected.
const DefaultID = "default"

// Palette is the set of colors that distinguishes one theme from another.
type Palette struct {
	Accent    lipgloss.AdaptiveColor
	User      lipgloss.AdaptiveColor
	Assistant lipgloss.AdaptiveColor
}

// Theme is a named palette with its rendered styles.
type Theme struct {
	ID      string
	Name    string
	Palette Palette

	// Terminal capabilities at construction time.
	IsDark       bool
	ColorProfile termenv.Profile

	// ==========================================================================
	// STYLES
	// ==========================================================================

	Title           lipgloss.Style
	Prompt          lipgloss.Style
	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	UserLabel       lipgloss.Style
	AssistantLabel  lipgloss.Style
	SessionItem     lipgloss.Style
	SessionActive   lipgloss.Style
	Muted           lipgloss.Style
	Error           lipgloss.Style
}

// =============================================================================
// CATALOG
// =============================================================================

type entry struct {
	id, name string
	palette  Palette
}

var catalog = []entry{
	{DefaultID, "Clear Blue", Palette{Accent: Blue, User: BlueSoft, Assistant: Gray}},
	{"green", "Calm Green", Palette{Accent: Emerald, User: EmeraldSoft, Assistant: EmeraldFaint}},
	{"purple", "Elegant Purple", Palette{Accent: Purple, User: PurpleSoft, Assistant: PurpleFaint}},
	{"rose", "Warm Rose", Palette{Accent: Rose, User: RoseSoft, Assistant: RoseFaint}},
}

// IDs lists the theme ids in display order.
func IDs() []string {
	ids := make([]string, len(catalog))
	for i, e := range catalog {
		ids[i] = e.id
	}
	return ids
}

// Known reports whether id names a theme.
func Known(id string) bool {
	_, ok := find(id)
	return ok
}

// Lookup builds the theme for id. Unknown ids yield the default theme.
func Lookup(id string) *Theme {
	e, ok := find(id)
	if !ok {
		e = catalog[0]
	}
	return build(e, termenv.ColorProfile(), termenv.HasDarkBackground())
}

// All builds every theme in display order.
func All() []*Theme {
	profile := termenv.ColorProfile()
	dark := termenv.HasDarkBackground()
	out := make([]*Theme, len(catalog))
	for i, e := range catalog {
		out[i] = build(e, profile, dark)
	}
	return out
}

func find(id string) (entry, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, e := range catalog {
		if e.id == id {
			return e, true
		}
	}
	return entry{}, false
}

func build(e entry, profile termenv.Profile, dark bool) *Theme {
	t := &Theme{
		ID:           e.id,
		Name:         e.name,
		Palette:      e.palette,
		IsDark:       dark,
		ColorProfile: profile,
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	p := t.Palette

	t.Title = lipgloss.NewStyle().Bold(true).Foreground(p.Accent)
	t.Prompt = lipgloss.NewStyle().Bold(true).Foreground(p.Accent)

	t.UserBubble = lipgloss.NewStyle().
		Foreground(TextPrimary).
		Background(p.User).
		Padding(0, 1)
	t.AssistantBubble = lipgloss.NewStyle().
		Foreground(TextPrimary).
		Background(p.Assistant).
		Padding(0, 1)

	t.UserLabel = lipgloss.NewStyle().Bold(true).Foreground(p.Accent)
	t.AssistantLabel = lipgloss.NewStyle().Bold(true).Foreground(TextMuted)

	t.SessionItem = lipgloss.NewStyle().PaddingLeft(2)
	t.SessionActive = lipgloss.NewStyle().
		Bold(true).
		Foreground(p.Accent).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(p.Accent).
		PaddingLeft(1)

	t.Muted = lipgloss.NewStyle().Foreground(TextMuted)
	t.Error = lipgloss.NewStyle().Bold(true).Foreground(Rose)
}

// GlamourStyle returns the glamour standard style matching the terminal
// background.
func (t *Theme) GlamourStyle() string {
	if t.ColorProfile == termenv.Ascii {
		return "notty"
	}
	if t.IsDark {
		return "dark"
	}
	return "light"
}
