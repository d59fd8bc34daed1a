// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/prefs"
	"github.com/jeranaias/streamchat/internal/theme"
)

// openPrefs opens the preferences file without touching storage.
func openPrefs(e *env) (*prefs.Store, error) {
	dir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	return prefs.New(filepath.Join(dir, prefs.FileName), prefs.WithLogger(e.log)), nil
}

func newSettingsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the theme and model preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ps, err := openPrefs(e)
			if err != nil {
				return err
			}
			p, err := ps.Load()
			if err != nil {
				return err
			}
			th := theme.Lookup(p.ThemeID())
			modelID := p.Model
			if modelID == "" {
				modelID = e.cfg.Transport.Model
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "theme: %s (%s)\n", th.ID, th.Name)
			fmt.Fprintf(w, "model: %s\n", modelID)
			fmt.Fprintf(w, "file:  %s\n", ps.Path())
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:       "theme <id>",
			Short:     "Select the color theme",
			Args:      cobra.ExactArgs(1),
			ValidArgs: theme.IDs(),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !theme.Known(args[0]) {
					return fmt.Errorf("unknown theme %q (available: %v)", args[0], theme.IDs())
				}
				ps, err := openPrefs(e)
				if err != nil {
					return err
				}
				return ps.SetTheme(theme.Lookup(args[0]).ID)
			},
		},
		&cobra.Command{
			Use:       "model <id>",
			Short:     "Select the model sent with each request",
			Args:      cobra.ExactArgs(1),
			ValidArgs: model.ModelIDs(),
			RunE: func(cmd *cobra.Command, args []string) error {
				info, ok := model.LookupModel(args[0])
				if !ok {
					return fmt.Errorf("unknown model %q (available: %v)", args[0], model.ModelIDs())
				}
				ps, err := openPrefs(e)
				if err != nil {
					return err
				}
				return ps.SetModel(info.ID)
			},
		},
	)
	return cmd
}
