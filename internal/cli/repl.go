// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/streamchat/internal/chat"
	"github.com/jeranaias/streamchat/internal/export"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/prefs"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/theme"
)

// =============================================================================
// INPUT
// =============================================================================

// LineReader reads one line of input. *liner.State implements it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// LinerInput is a liner-backed LineReader with a history file.
type LinerInput struct {
	*liner.State
	historyFile string
}

// NewLinerInput opens the terminal for line editing and loads history.
func NewLinerInput(historyFile string) *LinerInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	in := &LinerInput{State: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return in
}

// Close saves history with owner-only permissions and restores the terminal.
func (in *LinerInput) Close() error {
	if in.historyFile != "" {
		if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = in.State.WriteHistory(f)
			f.Close()
		}
	}
	return in.State.Close()
}

// =============================================================================
// REPL
// =============================================================================

// REPL is the interactive chat loop.
type REPL struct {
	app   *App
	orch  *chat.Orchestrator
	in    LineReader
	out   io.Writer
	width int
	color bool

	renderer atomic.Pointer[Renderer]
	streamed bool
	events   <-chan session.Event
}

// NewREPL creates a chat loop reading from in and writing to out.
func NewREPL(app *App, in LineReader, out io.Writer, color bool, width int) *REPL {
	r := &REPL{app: app, in: in, out: out, width: width, color: color}
	r.renderer.Store(NewRenderer(app.Theme, width, color))
	r.orch = app.NewOrchestrator(chat.WithOnDelta(r.printDelta), chat.WithOnIdle(r.idle))
	return r
}

// Orchestrator returns the orchestrator driving the loop's turns.
func (r *REPL) Orchestrator() *chat.Orchestrator {
	return r.orch
}

func (r *REPL) render() *Renderer {
	return r.renderer.Load()
}

func (r *REPL) println(a ...any) {
	fmt.Fprintln(r.out, a...)
}

func (r *REPL) printDelta(_, delta string) {
	r.streamed = true
	fmt.Fprint(r.out, delta)
}

// idle ends the streamed line and announces sessions the turn created.
func (r *REPL) idle() {
	if r.streamed {
		r.println()
		r.streamed = false
	}
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				r.events = nil
				return
			}
			if ev.Kind == session.EventCreated {
				r.println(r.render().Muted("started session " + shortID(ev.SessionID)))
			}
		default:
			return
		}
	}
}

// applyTheme swaps the renderer. It runs on the prefs watcher goroutine too,
// so it must not touch App.
func (r *REPL) applyTheme(id string) {
	r.renderer.Store(NewRenderer(theme.Lookup(id), r.width, r.color))
}

// Run reads lines until EOF, Ctrl-C at the prompt, /quit or ctx is done.
// Ctrl-C while a reply streams cancels the turn instead.
func (r *REPL) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	events, unsubscribe := r.app.Store.Subscribe()
	defer unsubscribe()
	r.events = events

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				if r.orch.Cancel() {
					r.println("\n" + r.render().Muted("[Cancelled]"))
				}
			}
		}
	}()

	go func() {
		err := r.app.Prefs.Watch(ctx, func(p prefs.Prefs) {
			r.applyTheme(p.ThemeID())
		})
		if err != nil {
			r.app.Log.Debug().Err(err).Msg("PREFS_WATCH_STOPPED")
		}
	}()

	r.println(r.render().Title("streamchat") + r.render().Muted("  /help for commands, Ctrl-D to quit"))

	for ctx.Err() == nil {
		title := ""
		if s, ok := r.app.Store.Active(); ok {
			title = s.Title
		}
		line, err := r.in.Prompt(r.render().Prompt(title))
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				r.println()
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.in.AppendHistory(line)

		quit, err := r.Handle(ctx, line)
		if err != nil {
			r.println(r.render().Error(err.Error()))
		}
		if quit {
			return nil
		}
	}
	return nil
}

// Handle runs one input line: a slash command or a chat turn.
func (r *REPL) Handle(ctx context.Context, line string) (quit bool, err error) {
	if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
		return true, nil
	}
	if strings.HasPrefix(line, "/") {
		return r.command(ctx, line)
	}
	return false, r.turn(ctx, line)
}

// turn submits text and prints the outcome. Failures were already recorded
// in the transcript; they are shown, not returned.
func (r *REPL) turn(ctx context.Context, text string) error {
	r.streamed = false
	_, err := r.orch.SubmitTurn(ctx, text)

	rend := r.render()
	if errors.Is(err, chat.ErrTurnInFlight) || errors.Is(err, chat.ErrEmptyInput) {
		return err
	}
	if err != nil {
		r.println(rend.Error(r.orch.Reporter().Latest()))
		r.println(rend.Muted(r.app.Config.Chat.FallbackText))
		return nil
	}
	if msg := r.orch.Reporter().Latest(); msg != "" {
		r.println(rend.Muted("warning: " + msg))
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const helpText = `Commands:
  /new                 start a new session with the next message
  /sessions, /ls       list sessions
  /switch <n|id>       make a session active
  /show                print the active session
  /rename <title>      rename the active session
  /delete [n|id]       delete a session (default: active)
  /theme [id]          show or select the color theme
  /model [id]          show or select the model
  /export <fmt> [dir]  export the active session (markdown, json, yaml)
  /quit, /q            exit
Ctrl-C cancels a reply in progress.`

func (r *REPL) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	rend := r.render()

	switch strings.ToLower(name) {
	case "help", "h", "?":
		r.println(helpText)

	case "quit", "q", "exit":
		return true, nil

	case "new":
		r.app.Store.ClearActive()
		r.println(rend.Muted("next message starts a new session"))

	case "sessions", "ls":
		r.println(rend.SessionList(r.app.Store.Sessions(), r.app.Store.ActiveID()))

	case "switch", "s":
		if arg == "" {
			return false, errors.New("usage: /switch <n|id>")
		}
		s, err := r.app.ResolveSession(arg)
		if err != nil {
			return false, err
		}
		if err := r.app.Store.SetActive(s.ID); err != nil {
			return false, err
		}
		r.println(rend.Transcript(s))

	case "show":
		s, err := r.app.ResolveSession("")
		if err != nil {
			return false, err
		}
		r.println(rend.Transcript(s))

	case "rename":
		if arg == "" {
			return false, errors.New("usage: /rename <title>")
		}
		id := r.app.Store.ActiveID()
		if id == "" {
			return false, fmt.Errorf("%w: no active session", ErrNoSession)
		}
		return false, r.app.Store.Rename(ctx, id, arg)

	case "delete", "rm":
		s, err := r.app.ResolveSession(arg)
		if err != nil {
			return false, err
		}
		if err := r.app.Store.Delete(ctx, s.ID); err != nil {
			return false, err
		}
		r.println(rend.Muted("deleted " + s.Title))

	case "theme":
		if arg == "" {
			for _, t := range theme.All() {
				r.println(markLine(t.ID == rend.Theme().ID, fmt.Sprintf("%-8s %s", t.ID, t.Name)))
			}
			return false, nil
		}
		if err := r.app.SetTheme(arg); err != nil {
			return false, err
		}
		r.applyTheme(arg)
		r.println(r.render().Muted("theme set to " + r.render().Theme().Name))

	case "model":
		if arg == "" {
			for _, m := range model.Models {
				r.println(markLine(m.ID == r.app.ModelID, fmt.Sprintf("%-12s %s", m.ID, m.Description)))
			}
			return false, nil
		}
		if err := r.app.SetModel(arg); err != nil {
			return false, err
		}
		r.println(rend.Muted("model saved; it applies from the next start"))

	case "export":
		format, dir, _ := strings.Cut(arg, " ")
		if format == "" {
			return false, fmt.Errorf("usage: /export <%s> [dir]", strings.Join(export.Formats(), "|"))
		}
		s, err := r.app.ResolveSession("")
		if err != nil {
			return false, err
		}
		path, err := ExportSession(s, format, strings.TrimSpace(dir))
		if err != nil {
			return false, err
		}
		r.println(rend.Muted("exported to " + path))

	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return false, nil
}

func markLine(active bool, text string) string {
	if active {
		return "* " + text
	}
	return "  " + text
}

// ExportSession writes s to dir in format and returns the file path.
func ExportSession(s model.Session, format, dir string) (string, error) {
	opts := &export.Options{
		OutputDir:         dir,
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Now:               time.Now,
	}
	exp, err := export.ForFormat(format, opts)
	if err != nil {
		return "", err
	}
	return export.ToFile(&s, exp, opts)
}
