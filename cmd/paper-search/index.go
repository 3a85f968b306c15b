// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/paper-search/internal/service"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Load or rebuild the embedding index",
}

var indexLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the data CSV and the saved index, rebuilding it when stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(cmd, (*service.Service).LoadData)
	},
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Recompute every embedding, loading the data CSV if the store is empty",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(cmd, func(svc *service.Service, ctx context.Context) (service.IndexResponse, error) {
			if svc.Status().Records > 0 {
				return svc.Recompute(ctx)
			}
			resp, err := svc.LoadData(ctx)
			if err != nil || resp.Rebuilt {
				return resp, err
			}
			return svc.Recompute(ctx)
		})
	},
}

func init() {
	indexCmd.AddCommand(indexLoadCmd, indexBuildCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, op func(*service.Service, context.Context) (service.IndexResponse, error)) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	svc, closeStore, err := openService(cmd.Context(), cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := svc.CheckModel(cmd.Context()); err != nil {
		return err
	}
	resp, err := op(svc, cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, resp.Message)
	fmt.Fprintf(os.Stdout, "  model: %s\n  shape: %d x %d\n  file:  %d KB\n",
		resp.Model, resp.EmbeddingsShape[0], resp.EmbeddingsShape[1], resp.EmbeddingsFileKB)
	return nil
}
