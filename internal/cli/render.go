// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/theme"
	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// RENDERER
// =============================================================================

// Renderer formats sessions and replies for the terminal.
// With color disabled every method returns plain text.
type Renderer struct {
	theme *theme.Theme
	width int
	color bool
	md    *glamour.TermRenderer
}

// NewRenderer creates a renderer for th. width <= 0 uses the default width.
func NewRenderer(th *theme.Theme, width int, color bool) *Renderer {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	r := &Renderer{theme: th, width: width, color: color}
	if color {
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(th.GlamourStyle()),
			glamour.WithWordWrap(width-4),
		)
		if err == nil {
			r.md = md
		}
	}
	return r
}

// Theme returns the renderer's theme.
func (r *Renderer) Theme() *theme.Theme {
	return r.theme
}

func (r *Renderer) style(st lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return st.Render(text)
}

// Markdown renders a finished reply. The raw text is returned when
// rendering is unavailable.
func (r *Renderer) Markdown(content string) string {
	if r.md == nil {
		return content
	}
	out, err := r.md.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

// Prompt renders the input prompt, showing the active session title.
func (r *Renderer) Prompt(title string) string {
	if title == "" {
		return r.style(r.theme.Prompt, "> ")
	}
	return r.style(r.theme.Prompt, util.TruncateWidth(title, 24)+" > ")
}

// Title renders a heading line.
func (r *Renderer) Title(text string) string {
	return r.style(r.theme.Title, text)
}

// Muted renders secondary text.
func (r *Renderer) Muted(text string) string {
	return r.style(r.theme.Muted, text)
}

// Error renders a failure line.
func (r *Renderer) Error(msg string) string {
	return r.style(r.theme.Error, "[Error]") + " " + msg
}

// RoleLabel renders the speaker label for role.
func (r *Renderer) RoleLabel(role model.Role) string {
	if role == model.RoleUser {
		return r.style(r.theme.UserLabel, role.DisplayName())
	}
	return r.style(r.theme.AssistantLabel, role.DisplayName())
}

// =============================================================================
// SESSION LIST
// =============================================================================

const (
	listTitleWidth = 28
	listTimeLayout = "2006-01-02 15:04"
)

// SessionList renders one line per session, most recent first, marking the
// active one.
func (r *Renderer) SessionList(sessions []model.Session, activeID string) string {
	if len(sessions) == 0 {
		return r.Muted("No sessions yet. Type a message to start one.")
	}

	idxWidth := len(fmt.Sprint(len(sessions)))
	var b strings.Builder
	for i, s := range sessions {
		marker := "  "
		if s.ID == activeID {
			marker = "* "
		}
		title := runewidth.FillRight(runewidth.Truncate(s.Title, listTitleWidth, "…"), listTitleWidth)
		line := fmt.Sprintf("%s%*d  %s  %3d msgs  %s  %s",
			marker, idxWidth, i+1, title, s.MessageCount(),
			s.UpdatedAt.Local().Format(listTimeLayout), shortID(s.ID))

		if s.ID == activeID {
			line = r.style(r.theme.Title, line)
		}
		b.WriteString(line)
		if i < len(sessions)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// shortID keeps enough of an id to address it by prefix.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript renders every message of s. Assistant replies go through the
// markdown renderer.
func (r *Renderer) Transcript(s model.Session) string {
	var b strings.Builder
	b.WriteString(r.Title(s.Title))
	b.WriteByte('\n')
	if len(s.Messages) == 0 {
		b.WriteString(r.Muted("(empty)"))
		return b.String()
	}
	for _, m := range s.Messages {
		b.WriteByte('\n')
		b.WriteString(r.RoleLabel(m.Role))
		if m.Unsynced {
			b.WriteString(r.Muted(" (not saved)"))
		}
		b.WriteByte('\n')
		if m.Role == model.RoleAssistant {
			b.WriteString(r.Markdown(m.Content))
		} else {
			b.WriteString(m.Content)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
