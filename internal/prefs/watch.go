// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prefs

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jeranaias/streamchat/internal/util"
)

// Watch calls fn with the new preferences each time another writer changes
// the selected theme. It blocks until ctx is done.
//
// The parent directory is watched rather than the file, since atomic writes
// replace the file's inode.
func (s *Store) Watch(ctx context.Context, fn func(Prefs)) error {
	dir := filepath.Dir(s.path)
	if err := util.EnsureDir(dir); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}

	last, err := s.Load()
	if err != nil {
		s.log.Warn().Err(err).Msg("PREFS_WATCH_INITIAL_LOAD_FAILED")
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cur, err := s.Load()
			if err != nil {
				// Partially visible writes settle on the next event.
				s.log.Debug().Err(err).Msg("PREFS_RELOAD_FAILED")
				continue
			}
			if cur.ThemeID() != last.ThemeID() {
				s.log.Info().Str("from", last.ThemeID()).Str("to", cur.ThemeID()).Msg("PREFS_THEME_CHANGED")
				fn(cur)
			}
			last = cur

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("PREFS_WATCH_ERROR")
		}
	}
}
