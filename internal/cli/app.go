// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/chat"
	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/identity"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/persist"
	"github.com/jeranaias/streamchat/internal/prefs"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/theme"
	"github.com/jeranaias/streamchat/internal/transport"
)

// ErrNoSession is returned when a command needs a session and none matches.
var ErrNoSession = errors.New("no such session")

// =============================================================================
// APP
// =============================================================================

// App holds the wired components shared by every command.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Backend persist.Backend
	Prefs   *prefs.Store
	Store   *session.Store
	Sender  chat.Sender
	Theme   *theme.Theme
	ModelID string
}

type appOptions struct {
	prefsPath string
	sender    chat.Sender
}

// AppOption configures Open.
type AppOption func(*appOptions)

// WithPrefsPath overrides the preferences file location.
func WithPrefsPath(path string) AppOption {
	return func(o *appOptions) { o.prefsPath = path }
}

// WithSender replaces the HTTP transport client.
func WithSender(s chat.Sender) AppOption {
	return func(o *appOptions) { o.sender = s }
}

// Open wires the backend, identity, session store and transport from cfg
// and loads the user's sessions.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...AppOption) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.prefsPath == "" {
		dir, err := config.DataDir()
		if err != nil {
			return nil, err
		}
		o.prefsPath = filepath.Join(dir, prefs.FileName)
	}

	ps := prefs.New(o.prefsPath, prefs.WithLogger(log))
	p, err := ps.Load()
	if err != nil {
		// A corrupt prefs file must not lock the user out.
		log.Warn().Err(err).Str("path", o.prefsPath).Msg("PREFS_LOAD_FAILED")
	}

	backend, err := persist.Open(ctx, persist.Config{
		Backend: cfg.Storage.Backend,
		DSN:     cfg.Storage.DSN,
		Dir:     cfg.Storage.Dir,
	})
	if err != nil {
		return nil, err
	}

	ident := identity.NewAnonymous(ps, backend, identity.WithLogger(log))
	store := session.NewStore(backend, ident,
		session.WithLogger(log),
		session.WithDefaultTitle(cfg.Chat.DefaultTitle),
		session.WithTitleMaxRunes(cfg.Chat.TitleMaxRunes),
	)
	if err := store.Load(ctx); err != nil {
		backend.Close()
		return nil, err
	}

	modelID := cfg.Transport.Model
	if info, ok := model.LookupModel(p.Model); ok {
		modelID = info.ID
	}

	sender := o.sender
	if sender == nil {
		sender = transport.New(transport.Config{
			Endpoint:       cfg.Transport.Endpoint,
			Mode:           transport.Mode(cfg.Transport.Mode),
			Model:          modelID,
			APIKey:         cfg.Transport.APIKey,
			ConnectTimeout: cfg.Transport.ConnectTimeout.Duration,
		}, transport.WithLogger(log))
	}

	log.Debug().
		Str("backend", cfg.Storage.Backend).
		Str("user_id", store.UserID()).
		Int("sessions", len(store.Sessions())).
		Msg("APP_OPENED")

	return &App{
		Config:  cfg,
		Log:     log,
		Backend: backend,
		Prefs:   ps,
		Store:   store,
		Sender:  sender,
		Theme:   theme.Lookup(p.ThemeID()),
		ModelID: modelID,
	}, nil
}

// Close releases the backend.
func (a *App) Close() error {
	return a.Backend.Close()
}

// NewOrchestrator returns an orchestrator configured from the app config.
func (a *App) NewOrchestrator(extra ...chat.Option) *chat.Orchestrator {
	opts := []chat.Option{
		chat.WithLogger(a.Log),
		chat.WithFallbackText(a.Config.Chat.FallbackText),
		chat.WithTurnTimeout(a.Config.Transport.TurnTimeout.Duration),
	}
	opts = append(opts, extra...)
	return chat.NewOrchestrator(a.Store, a.Sender, chat.NewReporter(a.Log), opts...)
}

// ResolveSession finds a session by 1-based list position, full id or
// unique id prefix. An empty ref means the active session.
func (a *App) ResolveSession(ref string) (model.Session, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		if s, ok := a.Store.Active(); ok {
			return s, nil
		}
		return model.Session{}, fmt.Errorf("%w: no active session", ErrNoSession)
	}

	sessions := a.Store.Sessions()
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(sessions) {
			return sessions[n-1], nil
		}
		return model.Session{}, fmt.Errorf("%w: index %d out of range (1-%d)", ErrNoSession, n, len(sessions))
	}

	var match []model.Session
	for _, s := range sessions {
		if s.ID == ref {
			return s, nil
		}
		if strings.HasPrefix(s.ID, ref) {
			match = append(match, s)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return model.Session{}, fmt.Errorf("%w: %q", ErrNoSession, ref)
	default:
		return model.Session{}, fmt.Errorf("%w: %q is ambiguous (%d matches)", ErrNoSession, ref, len(match))
	}
}

// SetTheme stores and applies a theme selection.
func (a *App) SetTheme(id string) error {
	if !theme.Known(id) {
		return fmt.Errorf("unknown theme %q (available: %s)", id, strings.Join(theme.IDs(), ", "))
	}
	t := theme.Lookup(id)
	if err := a.Prefs.SetTheme(t.ID); err != nil {
		return err
	}
	a.Theme = t
	return nil
}

// SetModel stores the model selection. It applies from the next start.
func (a *App) SetModel(id string) error {
	info, ok := model.LookupModel(id)
	if !ok {
		return fmt.Errorf("unknown model %q (available: %s)", id, strings.Join(model.ModelIDs(), ", "))
	}
	return a.Prefs.SetModel(info.ID)
}
