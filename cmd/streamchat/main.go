// streamchat - a terminal chat client and streaming completion relay.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/logging"

	_ "github.com/jeranaias/streamchat/internal/persist/filestore"
	_ "github.com/jeranaias/streamchat/internal/persist/memstore"
	_ "github.com/jeranaias/streamchat/internal/persist/redisstore"
	_ "github.com/jeranaias/streamchat/internal/persist/sqlstore"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// env is what every subcommand receives once the root command has loaded
// the config.
type env struct {
	configPath string
	cfg        *config.Config
	log        zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "streamchat",
		Short:         "Chat with a streaming completion endpoint from the terminal",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(e.configPath)
			if err != nil {
				return err
			}
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				cfg.Log.Level = lvl
			}
			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.log = log
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, e)
		},
	}

	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "config file (default ~/.streamchat/config.toml)")
	root.PersistentFlags().String("log-level", "", "override log.level")

	root.AddCommand(
		newChatCmd(e),
		newServeCmd(e),
		newSessionsCmd(e),
		newSettingsCmd(e),
		newConfigCmd(e),
	)
	return root
}
