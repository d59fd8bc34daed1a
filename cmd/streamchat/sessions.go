// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/cli"
	"github.com/jeranaias/streamchat/internal/export"
)

// withApp opens the app for one command and closes it afterwards.
func withApp(e *env, fn func(cmd *cobra.Command, app *cli.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := cli.Open(cmd.Context(), e.cfg, e.log)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(cmd, app, args)
	}
}

func renderer(app *cli.App) *cli.Renderer {
	tty := cli.DetectTerminal()
	return cli.NewRenderer(app.Theme, tty.Width, tty.Color)
}

func newSessionsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "List and manage stored sessions",
		Args:    cobra.NoArgs,
		RunE: withApp(e, func(cmd *cobra.Command, app *cli.App, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), renderer(app).SessionList(app.Store.Sessions(), app.Store.ActiveID()))
			return nil
		}),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List sessions, most recent first",
			Args:    cobra.NoArgs,
			RunE: withApp(e, func(cmd *cobra.Command, app *cli.App, _ []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), renderer(app).SessionList(app.Store.Sessions(), app.Store.ActiveID()))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show <n|id>",
			Short: "Print a session transcript",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(e, func(cmd *cobra.Command, app *cli.App, args []string) error {
				s, err := app.ResolveSession(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderer(app).Transcript(s))
				return nil
			}),
		},
		&cobra.Command{
			Use:     "delete <n|id>",
			Aliases: []string{"rm"},
			Short:   "Delete a session",
			Args:    cobra.ExactArgs(1),
			RunE: withApp(e, func(cmd *cobra.Command, app *cli.App, args []string) error {
				s, err := app.ResolveSession(args[0])
				if err != nil {
					return err
				}
				if err := app.Store.Delete(cmd.Context(), s.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%s)\n", s.Title, s.ID)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "rename <n|id> <title>",
			Short: "Rename a session",
			Args:  cobra.MinimumNArgs(2),
			RunE: withApp(e, func(cmd *cobra.Command, app *cli.App, args []string) error {
				s, err := app.ResolveSession(args[0])
				if err != nil {
					return err
				}
				return app.Store.Rename(cmd.Context(), s.ID, strings.Join(args[1:], " "))
			}),
		},
		newSessionsExportCmd(e),
	)
	return cmd
}

func newSessionsExportCmd(e *env) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "export <n|id>",
		Short: "Export a session to a file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(e, func(cmd *cobra.Command, app *cli.App, args []string) error {
			s, err := app.ResolveSession(args[0])
			if err != nil {
				return err
			}
			path, err := cli.ExportSession(s, format, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown",
		"export format ("+strings.Join(export.Formats(), ", ")+")")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (default current directory)")
	return cmd
}
