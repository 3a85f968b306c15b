// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/paper-search/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a semantic search over the indexed papers",
	Long: `Search loads the data CSV and the embedding index, embeds the query and
prints the closest papers. Results can be narrowed to an author substring and
an inclusive publication date range.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var similarCmd = &cobra.Command{
	Use:   "similar <key>",
	Short: "List the papers closest to a stored paper",
	Args:  cobra.ExactArgs(1),
}

func init() {
	// Assigned here rather than in the literal to break the
	// similarCmd -> runSearch -> similarCmd initialization cycle.
	similarCmd.RunE = runSearch
	for _, c := range []*cobra.Command{searchCmd, similarCmd} {
		c.Flags().String("author", "", "case-insensitive author substring")
		c.Flags().String("from", "", "publication date range start (YYYY-MM-DD)")
		c.Flags().String("to", "", "publication date range end (YYYY-MM-DD)")
		c.Flags().Int("top-k", 0, "number of results (default 5)")
		c.Flags().Bool("json", false, "output results as JSON")
		rootCmd.AddCommand(c)
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	q, err := queryFromFlags(cmd, cfg.Search)
	if err != nil {
		return err
	}

	svc, closeStore, err := openService(cmd.Context(), cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeStore()
	if _, err := svc.LoadData(cmd.Context()); err != nil {
		return err
	}

	var results []types.SearchResult
	if cmd == similarCmd {
		results, err = svc.Similar(cmd.Context(), args[0], q)
	} else {
		q.Text = strings.Join(args, " ")
		results, err = svc.Search(cmd.Context(), q)
	}
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	printResults(os.Stdout, results)
	return nil
}

func queryFromFlags(cmd *cobra.Command, cfg types.SearchConfig) (types.SearchQuery, error) {
	var q types.SearchQuery
	q.Author, _ = cmd.Flags().GetString("author")
	q.TopK, _ = cmd.Flags().GetInt("top-k")
	if q.TopK == 0 {
		q.TopK = cfg.DefaultTopK
	}
	for _, bound := range []struct {
		flag string
		dst  **time.Time
	}{{"from", &q.DateStart}, {"to", &q.DateEnd}} {
		s, _ := cmd.Flags().GetString(bound.flag)
		if s == "" {
			continue
		}
		t, err := time.Parse(types.DateLayout, s)
		if err != nil {
			return q, fmt.Errorf("--%s: %q is not a YYYY-MM-DD date", bound.flag, s)
		}
		*bound.dst = &t
	}
	return q, nil
}

func printResults(w io.Writer, results []types.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matching papers.")
		return
	}
	for i, r := range results {
		date := r.DateString()
		if date == "" {
			date = "undated"
		}
		fmt.Fprintf(w, "%2d. [%.3f] %s (%s)\n", i+1, r.Similarity, r.Title, date)
		if a := r.AuthorsString(); a != "" {
			fmt.Fprintf(w, "    %s\n", a)
		}
		fmt.Fprintf(w, "    key: %s\n", r.Key)
		if r.Link != "" {
			fmt.Fprintf(w, "    %s\n", r.Link)
		}
	}
}
