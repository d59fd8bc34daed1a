// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/cli"
	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/util"
)

const historyFileName = "history"

func newChatCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, e)
		},
	}
}

func runChat(cmd *cobra.Command, e *env) error {
	ctx := cmd.Context()
	tty := cli.DetectTerminal()
	if !tty.Interactive {
		return errors.New("chat needs an interactive terminal")
	}

	app, err := cli.Open(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer app.Close()

	dir, err := config.DataDir()
	if err != nil {
		return err
	}
	if err := util.EnsureDir(dir); err != nil {
		return err
	}

	in := cli.NewLinerInput(filepath.Join(dir, historyFileName))
	defer in.Close()

	repl := cli.NewREPL(app, in, cmd.OutOrStdout(), tty.Color, tty.Width)
	return repl.Run(ctx)
}
