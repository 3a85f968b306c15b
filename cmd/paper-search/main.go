// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the paper-search CLI: crawl a working
// papers listing, build the embedding index, and serve or run semantic
// searches over it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/paper-search/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// envReplacer maps nested keys to PAPER_SEARCH_* variable names.
var envReplacer = strings.NewReplacer(".", "_")

// loadedSecrets holds credentials loaded from .secrets/ at startup.
var loadedSecrets map[string]string

var rootCmd = &cobra.Command{
	Use:   "paper-search",
	Short: "Scrape working papers and search them semantically",
	Long: `paper-search crawls a paginated working papers listing into a CSV table,
embeds every title and abstract, and answers semantic queries with author and
date filters.

Run "serve" for the HTTP API used by the browser front end, or use the scrape,
index, search and similar subcommands directly.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir, os.Stderr)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./paper-search.yaml or ~/.config/paper-search/paper-search.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets", "directory of credential files")
	rootCmd.PersistentFlags().String("data", "", "data CSV loaded into the store")
	rootCmd.PersistentFlags().String("db", "", "SQLite database file")
	rootCmd.PersistentFlags().String("index-dir", "", "embedding index directory")
	rootCmd.PersistentFlags().String("provider", "", "embedding provider: hash or ollama")
	bindFlag("store.data_csv", rootCmd.PersistentFlags().Lookup("data"))
	bindFlag("store.db_path", rootCmd.PersistentFlags().Lookup("db"))
	bindFlag("index.dir", rootCmd.PersistentFlags().Lookup("index-dir"))
	bindFlag("embedding.provider", rootCmd.PersistentFlags().Lookup("provider"))
}

func initConfig() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if err := registerDefaults(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("paper-search")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "paper-search"))
		}
	}

	viper.SetEnvPrefix("PAPER_SEARCH")
	viper.SetEnvKeyReplacer(envReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
