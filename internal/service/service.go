// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package service implements the operations behind the HTTP and CLI
// surfaces: scrape, load data, recompute, search, and "more like this".
// Scrape, load and recompute are serialised so a rebuild always reads a
// stable record store; searches run concurrently against the published
// corpus.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pdiddy/paper-search/internal/embedding"
	"github.com/pdiddy/paper-search/internal/index"
	"github.com/pdiddy/paper-search/internal/scrape"
	"github.com/pdiddy/paper-search/internal/search"
	"github.com/pdiddy/paper-search/internal/store"
	"github.com/pdiddy/paper-search/pkg/types"
)

// Errors returned by service operations.
var (
	ErrDataNotFound     = errors.New("data file not found")
	ErrNoRecords        = errors.New("no records loaded")
	ErrModelUnavailable = errors.New("embedding model not available")
)

// modelChecker is a provider that can tell whether its backend serves the
// configured model.
type modelChecker interface {
	HasModel(ctx context.Context) (bool, error)
}

// Option configures a Service.
type Option func(*Service)

// WithProgress sets the writer receiving load and recompute progress.
func WithProgress(w io.Writer) Option {
	return func(s *Service) { s.progress = w }
}

// WithScrapeOptions passes options to every scrape orchestrator.
func WithScrapeOptions(opts ...scrape.Option) Option {
	return func(s *Service) { s.scrapeOpts = append(s.scrapeOpts, opts...) }
}

// Service owns the record store, the embedding provider and the published
// corpus.
type Service struct {
	cfg        types.ServiceConfig
	store      *store.Store
	provider   embedding.Provider
	holder     *index.Holder
	engine     *search.Engine
	progress   io.Writer
	scrapeOpts []scrape.Option

	// mu serialises operations that write the store or the index.
	mu sync.Mutex
}

// New returns a service. Nothing is searchable until LoadData or
// Recompute publishes a corpus.
func New(cfg types.ServiceConfig, st *store.Store, provider embedding.Provider, opts ...Option) *Service {
	holder := &index.Holder{}
	s := &Service{
		cfg:      cfg,
		store:    st,
		provider: provider,
		holder:   holder,
		engine:   search.NewEngine(provider, holder, cfg.Search),
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the search engine.
func (s *Service) Engine() *search.Engine {
	return s.engine
}

// CheckModel fails fast when the embedding backend is unreachable or does
// not serve the configured model. Providers that cannot tell pass.
func (s *Service) CheckModel(ctx context.Context) error {
	mc, ok := s.provider.(modelChecker)
	if !ok {
		return nil
	}
	has, err := mc.HasModel(ctx)
	if err != nil {
		return fmt.Errorf("checking embedding model: %w", err)
	}
	if !has {
		return fmt.Errorf("%w: %s is not installed", ErrModelUnavailable, s.provider.ModelName())
	}
	return nil
}

// ScrapeRequest overrides the configured crawl settings. Nil fields keep
// the configured value.
type ScrapeRequest struct {
	DownloadFiles *bool   `json:"download_files"`
	SaveInterval  *int    `json:"save_interval"`
	OutputCSV     *string `json:"output_csv"`
	TempCSV       *string `json:"temp_csv"`
	DownloadDir   *string `json:"download_dir"`
	RetryAttempts *int    `json:"retry_attempts"`
	MaxPages      *int    `json:"max_pages,omitempty"`
}

// Apply returns base with the request's fields set.
func (r ScrapeRequest) Apply(base types.ScrapeConfig) types.ScrapeConfig {
	cfg := base
	if r.DownloadFiles != nil {
		cfg.DownloadFiles = *r.DownloadFiles
	}
	if r.SaveInterval != nil {
		cfg.SaveInterval = *r.SaveInterval
	}
	if r.OutputCSV != nil {
		cfg.OutputPath = *r.OutputCSV
	}
	if r.TempCSV != nil {
		cfg.TempPath = *r.TempCSV
	}
	if r.DownloadDir != nil {
		cfg.DownloadDir = *r.DownloadDir
	}
	if r.RetryAttempts != nil {
		cfg.RetryAttempts = *r.RetryAttempts
	}
	if r.MaxPages != nil {
		cfg.MaxPages = *r.MaxPages
	}
	return cfg
}

// ScrapeResponse carries the crawl log and report. Success reports
// whether the output table exists and is non-empty.
type ScrapeResponse struct {
	Stdout  string         `json:"stdout"`
	Stderr  string         `json:"stderr"`
	Success bool           `json:"success"`
	Report  *scrape.Report `json:"report,omitempty"`
}

// Scrape runs one crawl and upserts the merged output into the store. The
// response is filled even when an error is returned.
func (s *Service) Scrape(ctx context.Context, req ScrapeRequest) (ScrapeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := req.Apply(s.cfg.Scrape)
	var stdout, stderr bytes.Buffer
	opts := append([]scrape.Option{}, s.scrapeOpts...)
	opts = append(opts, scrape.WithOutput(&stdout, &stderr))

	o, err := scrape.New(cfg, opts...)
	if err != nil {
		return ScrapeResponse{Stderr: err.Error()}, err
	}

	rep, err := o.Run(ctx)
	resp := ScrapeResponse{Report: rep}
	if rep != nil {
		resp.Success = rep.OutputExists
	}
	if err != nil {
		resp.Stdout, resp.Stderr = stdout.String(), stderr.String()
		return resp, err
	}

	if rep.OutputExists {
		sum, err := s.store.ImportCSV(ctx, cfg.OutputPath)
		if err != nil {
			err = fmt.Errorf("importing %s into store: %w", cfg.OutputPath, err)
			fmt.Fprintf(&stderr, "%v\n", err)
			resp.Stdout, resp.Stderr = stdout.String(), stderr.String()
			return resp, err
		}
		fmt.Fprintf(&stdout, "Store: %d inserted, %d updated, %d total\n", sum.Inserted, sum.Updated, s.store.Count())
	}
	resp.Stdout, resp.Stderr = stdout.String(), stderr.String()
	return resp, nil
}

// IndexResponse describes the published index.
type IndexResponse struct {
	Message          string `json:"message"`
	Model            string `json:"model"`
	EmbeddingsShape  [2]int `json:"embeddings_shape"`
	EmbeddingsFileKB int64  `json:"embeddings_file_kb"`
	Rebuilt          bool   `json:"rebuilt"`
}

// LoadData imports the data table into the store, loads the persisted
// index and publishes both. A missing index is rebuilt and saved, as is
// one built with another model or from records whose keys or text have
// since changed. A corrupt index is an error; recompute replaces it.
func (s *Service) LoadData(ctx context.Context) (IndexResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.cfg.Store.DataCSV
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return IndexResponse{}, fmt.Errorf("%w: CSV file %s not found", ErrDataNotFound, path)
		}
		return IndexResponse{}, fmt.Errorf("checking data file: %w", err)
	}

	sum, err := s.store.ImportCSV(ctx, path)
	if err != nil {
		return IndexResponse{}, fmt.Errorf("loading %s: %w", path, err)
	}
	fmt.Fprintf(s.progress, "Loaded %s: %d inserted, %d updated\n", path, sum.Inserted, sum.Updated)

	snap := s.store.Snapshot()
	if snap.Len() == 0 {
		return IndexResponse{}, fmt.Errorf("%w: %s has no rows", ErrNoRecords, path)
	}

	dir := s.cfg.Index.Dir
	model := s.provider.ModelName()
	fingerprint := index.Fingerprint(snap.Records())

	var idx *index.Index
	reason := ""
	if m, err := index.LoadManifest(dir); err == nil && m.Model != model {
		reason = fmt.Sprintf("saved index was built with %s, not %s", m.Model, model)
	}
	if reason == "" {
		idx, err = index.Load(dir)
		switch {
		case errors.Is(err, index.ErrNotFound):
			reason = "no saved index"
		case err != nil:
			return IndexResponse{}, fmt.Errorf("loading index from %s: %w", dir, err)
		case idx.Model != model:
			reason = fmt.Sprintf("saved index was built with %s, not %s", idx.Model, model)
		case !idx.Covers(snap.Keys()):
			reason = fmt.Sprintf("index has %d rows for %d records", idx.Rows(), snap.Len())
		case idx.Fingerprint != fingerprint:
			reason = "records changed since the index was built"
		}
	}

	if reason != "" {
		fmt.Fprintf(s.progress, "Rebuilding embeddings: %s\n", reason)
		idx, err = s.build(ctx, snap)
		if err != nil {
			return IndexResponse{}, err
		}
	} else {
		fmt.Fprintf(s.progress, "Loaded index from %s: %d rows\n", dir, idx.Rows())
	}

	if err := s.publish(idx, snap); err != nil {
		return IndexResponse{}, err
	}
	msg := "Data and embeddings loaded successfully."
	if reason != "" {
		msg = "Data loaded and embeddings rebuilt: " + reason + "."
	}
	return s.indexResponse(idx, msg, reason != ""), nil
}

// Recompute rebuilds the index from every record in the store, saves it
// and publishes it. The live corpus keeps serving until the swap.
func (s *Service) Recompute(ctx context.Context) (IndexResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.store.Snapshot()
	if snap.Len() == 0 {
		return IndexResponse{}, fmt.Errorf("%w: load data or scrape first", ErrNoRecords)
	}
	idx, err := s.build(ctx, snap)
	if err != nil {
		return IndexResponse{}, err
	}
	if err := s.publish(idx, snap); err != nil {
		return IndexResponse{}, err
	}
	return s.indexResponse(idx, "Embeddings recomputed successfully.", true), nil
}

// build embeds snap into a new index and saves it.
func (s *Service) build(ctx context.Context, snap *store.Snapshot) (*index.Index, error) {
	start := time.Now()
	total := snap.Len()
	step := total / 10
	if step < 1 {
		step = 1
	}
	idx, err := index.Build(ctx, s.provider, snap.Records(), func(cur, total int) {
		if cur%step == 0 || cur == total {
			fmt.Fprintf(s.progress, "  embedded %d/%d\n", cur, total)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	if err := idx.Save(s.cfg.Index.Dir); err != nil {
		return nil, fmt.Errorf("saving index: %w", err)
	}
	fmt.Fprintf(s.progress, "Built index: %d rows x %d dims (%d empty) with %s in %s\n",
		idx.Rows(), idx.Dims, idx.Empty, idx.Model, time.Since(start).Round(time.Millisecond))
	return idx, nil
}

func (s *Service) publish(idx *index.Index, snap *store.Snapshot) error {
	c, err := index.NewCorpus(idx, snap)
	if err != nil {
		return fmt.Errorf("publishing index: %w", err)
	}
	s.holder.Swap(c)
	return nil
}

func (s *Service) indexResponse(idx *index.Index, msg string, rebuilt bool) IndexResponse {
	var kb int64
	if size, err := index.FileSize(s.cfg.Index.Dir); err == nil {
		kb = size / 1024
	}
	return IndexResponse{
		Message:          msg,
		Model:            idx.Model,
		EmbeddingsShape:  idx.Shape(),
		EmbeddingsFileKB: kb,
		Rebuilt:          rebuilt,
	}
}

// Search runs a semantic query against the published corpus.
func (s *Service) Search(ctx context.Context, q types.SearchQuery) ([]types.SearchResult, error) {
	return s.engine.Search(ctx, q)
}

// Similar runs a "more like this" query seeded by the record with key.
func (s *Service) Similar(ctx context.Context, key string, q types.SearchQuery) ([]types.SearchResult, error) {
	return s.engine.Similar(ctx, key, q)
}

// Paper returns the stored record with key.
func (s *Service) Paper(key string) (types.PaperRecord, error) {
	return s.store.Get(key)
}

// Status summarises the store and the published corpus.
type Status struct {
	Records   int    `json:"records"`
	IndexRows int    `json:"index_rows"`
	Model     string `json:"model"`
	Ready     bool   `json:"ready"`
}

// Status reports what is currently loaded.
func (s *Service) Status() Status {
	st := Status{Records: s.store.Count(), Model: s.provider.ModelName()}
	if c := s.holder.Load(); c != nil {
		st.IndexRows = c.Index.Rows()
		st.Ready = true
	}
	return st
}
