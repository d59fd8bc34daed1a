// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jeranaias/streamchat/internal/server"
	"github.com/jeranaias/streamchat/internal/transport"
)

func newServeCmd(e *env) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the completion relay server",
		Long: `Run the HTTP relay: POST /api/chat forwards a message history to the
configured upstream and streams the reply back as plain text.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := e.cfg.Server
			if addr != "" {
				cfg.Addr = addr
			}
			if cfg.UpstreamURL == "" {
				return errors.New("server.upstream_url is not set")
			}

			upstream := transport.New(transport.Config{
				Endpoint:       cfg.UpstreamURL,
				Mode:           transport.Mode(cfg.UpstreamMode),
				Model:          cfg.UpstreamModel,
				APIKey:         cfg.UpstreamKey,
				ConnectTimeout: e.cfg.Transport.ConnectTimeout.Duration,
			}, transport.WithLogger(e.log))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			srv := server.New(cfg, upstream, server.WithLogger(e.log))
			e.log.Info().
				Str("addr", cfg.Addr).
				Str("upstream", cfg.UpstreamURL).
				Str("mode", string(upstream.Mode())).
				Msg("SERVER_STARTING")
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
