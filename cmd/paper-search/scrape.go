// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/paper-search/internal/service"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Crawl the working papers listing into the output CSV",
	Long: `Scrape walks the paginated listing from page 1, or from the page after the
last checkpoint when a previous run was interrupted, fetches each paper's
detail page and optionally its attachments, and merges the results into the
output CSV. Merged rows are upserted into the record store.`,
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().Bool("download", false, "download paper attachments")
	scrapeCmd.Flags().Int("save-interval", 0, "pages between checkpoints (default 10)")
	scrapeCmd.Flags().Int("max-pages", 0, "stop after this many pages (0 = until the listing ends)")
	scrapeCmd.Flags().Int("retry-attempts", 0, "attempts per page or attachment (default 3)")
	scrapeCmd.Flags().String("output", "", "output CSV (default working_papers_complete.csv)")
	scrapeCmd.Flags().String("temp", "", "checkpoint CSV (default temp_output.csv)")
	scrapeCmd.Flags().String("download-dir", "", "attachment directory (default downloads)")
	scrapeCmd.Flags().String("listing-url", "", "listing URL template with a {page} placeholder")
	scrapeCmd.Flags().Bool("json", false, "print the crawl report as JSON")
	bindFlag("scrape.download_files", scrapeCmd.Flags().Lookup("download"))
	bindFlag("scrape.save_interval", scrapeCmd.Flags().Lookup("save-interval"))
	bindFlag("scrape.max_pages", scrapeCmd.Flags().Lookup("max-pages"))
	bindFlag("scrape.retry_attempts", scrapeCmd.Flags().Lookup("retry-attempts"))
	bindFlag("scrape.output_csv", scrapeCmd.Flags().Lookup("output"))
	bindFlag("scrape.temp_csv", scrapeCmd.Flags().Lookup("temp"))
	bindFlag("scrape.download_dir", scrapeCmd.Flags().Lookup("download-dir"))
	bindFlag("scrape.source.listing_url", scrapeCmd.Flags().Lookup("listing-url"))

	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	svc, closeStore, err := openService(cmd.Context(), cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeStore()

	resp, err := svc.Scrape(cmd.Context(), service.ScrapeRequest{})
	fmt.Fprint(os.Stdout, resp.Stdout)
	fmt.Fprint(os.Stderr, resp.Stderr)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON && resp.Report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Report)
	}
	if !resp.Success {
		return fmt.Errorf("scrape produced no output")
	}
	return nil
}
