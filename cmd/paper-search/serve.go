// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/paper-search/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve starts the HTTP API used by the browser front end: /api/scrape,
/api/loadData, /api/recompute and /api/search, plus /api/similar/{key},
/api/papers/{key} and /health. With --load the data CSV and index are loaded
before the listener starts.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :5050)")
	serveCmd.Flags().String("log-level", "", "log level: debug, info, warn, error")
	serveCmd.Flags().Bool("load", false, "load data and embeddings at startup")
	bindFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	bindFlag("server.log_level", serveCmd.Flags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: server.ParseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	ctx := cmd.Context()
	svc, closeStore, err := openService(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeStore()

	if load, _ := cmd.Flags().GetBool("load"); load {
		if err := svc.CheckModel(ctx); err != nil {
			logger.Warn("startup load skipped", "error", err)
		} else if resp, err := svc.LoadData(ctx); err != nil {
			logger.Warn("startup load failed", "error", err)
		} else {
			logger.Info("startup load", "message", resp.Message, "rows", resp.EmbeddingsShape[0], "model", resp.Model)
		}
	}

	return server.New(svc, cfg.Server, logger).ListenAndServe(ctx)
}
