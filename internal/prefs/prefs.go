// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prefs stores local user preferences: the selected theme, the
// selected model and the anonymous user handle.
//
// Preferences live in one JSON file written atomically. Other processes
// sharing the file are picked up through Watch.
package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/util"
)

// FileName is the preferences file inside the data directory.
const FileName = "prefs.json"

// ThemeSelection is the serialized theme choice.
type ThemeSelection struct {
	ID string `json:"id"`
}

// Prefs is the file content. Keys mirror the web client's storage keys.
type Prefs struct {
	ChatTheme *ThemeSelection `json:"chatTheme,omitempty"`
	Model     string          `json:"model,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

// ThemeID returns the selected theme id, or "" when unset.
func (p Prefs) ThemeID() string {
	if p.ChatTheme == nil {
		return ""
	}
	return p.ChatTheme.ID
}

// =============================================================================
// STORE
// =============================================================================

// Store reads and writes the preferences file.
type Store struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New returns a store for the file at path. The file is created on first write.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultPath returns ~/.streamchat/prefs.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".streamchat", FileName), nil
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the preferences. A missing file yields zero Prefs.
func (s *Store) Load() (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Prefs, error) {
	var p Prefs
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return p, errors.Wrap(err, "read prefs")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, errors.Wrapf(err, "decode %s", s.path)
	}
	return p, nil
}

// Update applies fn to the current preferences and writes the result.
func (s *Store) Update(fn func(p *Prefs)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load()
	if err != nil {
		return err
	}
	fn(&p)

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode prefs")
	}
	if err := util.AtomicWriteFile(s.path, data, 0o600); err != nil {
		return errors.Wrap(err, "write prefs")
	}
	s.log.Debug().Str("path", s.path).Msg("PREFS_SAVED")
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// SetTheme stores the selected theme id.
func (s *Store) SetTheme(id string) error {
	return s.Update(func(p *Prefs) { p.ChatTheme = &ThemeSelection{ID: id} })
}

// SetModel stores the selected model id.
func (s *Store) SetModel(id string) error {
	return s.Update(func(p *Prefs) { p.Model = id })
}

// UserID returns the stored user handle, or "" when none was saved.
func (s *Store) UserID() (string, error) {
	p, err := s.Load()
	return p.UserID, err
}

// SetUserID stores the user handle.
func (s *Store) SetUserID(id string) error {
	return s.Update(func(p *Prefs) { p.UserID = id })
}
