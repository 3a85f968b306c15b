// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout bounds every individual network call.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// RetryConfig describes the retry policy applied to network calls.
type RetryConfig struct {
	// Attempts is the total number of attempts per request, including the
	// first one.
	Attempts int `json:"attempts" yaml:"attempts" mapstructure:"attempts"`

	// BaseDelay is the wait before the first retry; it doubles per attempt.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`

	// MaxDelay caps the backoff between attempts.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
}

// SourceConfig describes the paper listing being crawled. The selectors
// default to the markup of the Census Bureau working papers listing.
type SourceConfig struct {
	// ListingURL is the page URL template; "{page}" is replaced with the
	// 1-based page number. Without the placeholder a "page" query
	// parameter is appended.
	ListingURL string `json:"listing_url" yaml:"listing_url" mapstructure:"listing_url"`

	// ItemSelector matches one listing entry (e.g. "a.uscb-list-item").
	ItemSelector string `json:"item_selector" yaml:"item_selector" mapstructure:"item_selector"`

	// TitleSelector matches the entry title inside an item.
	TitleSelector string `json:"title_selector" yaml:"title_selector" mapstructure:"title_selector"`

	// LinkContains filters entry links; links not containing it are skipped.
	LinkContains string `json:"link_contains" yaml:"link_contains" mapstructure:"link_contains"`

	// LinkExcludes lists substrings that disqualify an entry link.
	LinkExcludes []string `json:"link_excludes" yaml:"link_excludes" mapstructure:"link_excludes"`

	// Detail page selectors.
	DetailTitleSelector  string   `json:"detail_title_selector" yaml:"detail_title_selector" mapstructure:"detail_title_selector"`
	DetailDateSelector   string   `json:"detail_date_selector" yaml:"detail_date_selector" mapstructure:"detail_date_selector"`
	DetailAuthorSelector string   `json:"detail_author_selector" yaml:"detail_author_selector" mapstructure:"detail_author_selector"`
	AbstractSelectors    []string `json:"abstract_selectors" yaml:"abstract_selectors" mapstructure:"abstract_selectors"`
	MinParagraphLength   int      `json:"min_paragraph_length" yaml:"min_paragraph_length" mapstructure:"min_paragraph_length"`
	AttachmentExtensions []string `json:"attachment_extensions" yaml:"attachment_extensions" mapstructure:"attachment_extensions"`
}

// ScrapeConfig holds the settings of one crawl run.
type ScrapeConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// DownloadFiles enables attachment downloads.
	DownloadFiles bool `json:"download_files" yaml:"download_files" mapstructure:"download_files"`

	// SaveInterval is the number of pages processed between checkpoints.
	SaveInterval int `json:"save_interval" yaml:"save_interval" mapstructure:"save_interval"`

	// OutputPath is the permanent tabular output.
	OutputPath string `json:"output_csv" yaml:"output_csv" mapstructure:"output_csv"`

	// TempPath is the checkpoint destination.
	TempPath string `json:"temp_csv" yaml:"temp_csv" mapstructure:"temp_csv"`

	// DownloadDir receives attachments.
	DownloadDir string `json:"download_dir" yaml:"download_dir" mapstructure:"download_dir"`

	// RetryAttempts is the total number of attempts per page or attachment.
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts" mapstructure:"retry_attempts"`

	// RetryBaseDelay is the first backoff wait; it doubles per attempt.
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay" mapstructure:"retry_base_delay"`

	// CrawlDelay is the minimum spacing between listing page fetches.
	CrawlDelay time.Duration `json:"crawl_delay" yaml:"crawl_delay" mapstructure:"crawl_delay"`

	// Workers bounds concurrent detail and attachment fetches.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// MaxPages stops the crawl after this many pages; 0 means until the
	// listing runs out.
	MaxPages int `json:"max_pages" yaml:"max_pages" mapstructure:"max_pages"`

	// MaxConsecutiveFailures stops the crawl after this many failed pages
	// in a row.
	MaxConsecutiveFailures int `json:"max_consecutive_failures" yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`

	Source SourceConfig `json:"source" yaml:"source" mapstructure:"source"`
}

// EmbeddingProviderKind selects the embedding backend.
type EmbeddingProviderKind string

const (
	ProviderHash   EmbeddingProviderKind = "hash"
	ProviderOllama EmbeddingProviderKind = "ollama"
)

// EmbeddingConfig holds settings for the embedding model.
type EmbeddingConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Provider selects the backend: hash (offline) or ollama.
	Provider EmbeddingProviderKind `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the model name passed to remote providers.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// Dimensions is the expected vector length.
	Dimensions int `json:"dimensions" yaml:"dimensions" mapstructure:"dimensions"`

	// BaseURL is the remote provider endpoint.
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// APIKey is sent as a bearer token when set.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	Retry RetryConfig `json:"retry" yaml:"retry" mapstructure:"retry"`
}

// StoreConfig holds settings for the record store.
type StoreConfig struct {
	// DataCSV is the tabular file loaded by the loadData operation.
	DataCSV string `json:"data_csv" yaml:"data_csv" mapstructure:"data_csv"`

	// DBPath is the SQLite database file.
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`
}

// IndexConfig holds settings for the persisted embedding index.
type IndexConfig struct {
	// Dir contains embeddings.gob and manifest.yaml.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`
}

// SearchConfig holds settings for the search engine.
type SearchConfig struct {
	// DefaultTopK applies when a request omits top_k.
	DefaultTopK int `json:"default_top_k" yaml:"default_top_k" mapstructure:"default_top_k"`

	// MaxTopK rejects requests asking for more results.
	MaxTopK int `json:"max_top_k" yaml:"max_top_k" mapstructure:"max_top_k"`

	// ExcludeSeed drops the seed record from "more like this" results.
	ExcludeSeed bool `json:"exclude_seed" yaml:"exclude_seed" mapstructure:"exclude_seed"`
}

// ServerConfig holds settings for the HTTP server.
type ServerConfig struct {
	Addr         string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	LogLevel     string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

// ServiceConfig groups all stage configurations.
type ServiceConfig struct {
	Scrape    ScrapeConfig    `json:"scrape" yaml:"scrape" mapstructure:"scrape"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	Store     StoreConfig     `json:"store" yaml:"store" mapstructure:"store"`
	Index     IndexConfig     `json:"index" yaml:"index" mapstructure:"index"`
	Search    SearchConfig    `json:"search" yaml:"search" mapstructure:"search"`
	Server    ServerConfig    `json:"server" yaml:"server" mapstructure:"server"`
}

// DefaultSourceConfig returns selectors for the Census Bureau working
// papers listing.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		ListingURL:           "https://www.census.gov/library/working-papers.html?page={page}",
		TitleSelector:        ".uscb-default-x-column-title",
		LinkContains:         "/library/working-papers/",
		LinkExcludes:         []string{"series.html"},
		DetailTitleSelector:  "h1.cmp-title__text",
		DetailDateSelector:   "time[itemprop=datePublished]",
		DetailAuthorSelector: "div[itemprop=author]",
		AbstractSelectors:    []string{"div.uscb-text-image-text", "div.cmp-text"},
		MinParagraphLength:   50,
		AttachmentExtensions: []string{".pdf", ".xlsx", ".xls", ".csv", ".docx", ".zip"},
	}
}

// DefaultScrapeConfig returns the crawl defaults.
func DefaultScrapeConfig() ScrapeConfig {
	return ScrapeConfig{
		HTTPConfig: HTTPConfig{
			Timeout:   5 * time.Second,
			UserAgent: "Mozilla/5.0 (compatible; paper-search/0.1)",
		},
		SaveInterval:           10,
		OutputPath:             "working_papers_complete.csv",
		TempPath:               "temp_output.csv",
		DownloadDir:            "downloads",
		RetryAttempts:          3,
		RetryBaseDelay:         2 * time.Second,
		CrawlDelay:             4 * time.Second,
		Workers:                10,
		MaxConsecutiveFailures: 5,
		Source:                 DefaultSourceConfig(),
	}
}

// DefaultServiceConfig returns the configuration used when no config file
// or environment overrides are present.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Scrape: DefaultScrapeConfig(),
		Embedding: EmbeddingConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   30 * time.Second,
				UserAgent: "paper-search/0.1",
			},
			Provider:   ProviderHash,
			Model:      "all-minilm:l6-v2",
			Dimensions: 384,
			BaseURL:    "http://localhost:11434",
			Retry: RetryConfig{
				Attempts:  3,
				BaseDelay: 500 * time.Millisecond,
				MaxDelay:  10 * time.Second,
			},
		},
		Store: StoreConfig{
			DataCSV: "working_papers_complete.csv",
			DBPath:  "data/papers.db",
		},
		Index: IndexConfig{
			Dir: "data/index",
		},
		Search: SearchConfig{
			DefaultTopK: DefaultTopK,
			MaxTopK:     100,
		},
		Server: ServerConfig{
			Addr:         ":5050",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			LogLevel:     "info",
		},
	}
}
