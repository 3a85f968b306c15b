// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paper-search/internal/embedding"
	"github.com/pdiddy/paper-search/internal/index"
	"github.com/pdiddy/paper-search/internal/scrape"
	"github.com/pdiddy/paper-search/internal/search"
	"github.com/pdiddy/paper-search/internal/store"
	"github.com/pdiddy/paper-search/internal/table"
	"github.com/pdiddy/paper-search/pkg/types"
)

func dataRecords() []types.PaperRecord {
	recs := []types.PaperRecord{
		{Title: "Inflation Dynamics", Abstract: "Inflation dynamics in regional labor markets.", Authors: []string{"Jane Smith"}, Date: types.ParseDate("2021-03-01"), Link: "https://example.gov/wp/1"},
		{Title: "Housing Permits", Abstract: "Residential construction permits by county.", Authors: []string{"Ann Lee"}, Date: types.ParseDate("2019-07-15"), Link: "https://example.gov/wp/2"},
		{Title: "Commuting Patterns", Abstract: "Travel time to work.", Authors: []string{"Bo Kim"}, Link: "https://example.gov/wp/3"},
	}
	for i := range recs {
		recs[i].EnsureKey()
	}
	return recs
}

type fixture struct {
	cfg   types.ServiceConfig
	store *store.Store
}

func newFixture(t *testing.T, recs []types.PaperRecord) fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := types.DefaultServiceConfig()
	cfg.Store.DataCSV = filepath.Join(dir, "working_papers_complete.csv")
	cfg.Store.DBPath = ":memory:"
	cfg.Index.Dir = filepath.Join(dir, "index")
	if recs != nil {
		require.NoError(t, table.WriteAtomic(cfg.Store.DataCSV, recs))
	}
	return fixture{cfg: cfg, store: openStore(t, cfg)}
}

func openStore(t *testing.T, cfg types.ServiceConfig) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), cfg.Store)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestLoadData_MissingCSV(t *testing.T) {
	f := newFixture(t, nil)
	svc := New(f.cfg, f.store, embedding.NewHashProvider(64))

	_, err := svc.LoadData(context.Background())
	assert.ErrorIs(t, err, ErrDataNotFound)
	assert.Contains(t, err.Error(), f.cfg.Store.DataCSV)
}

func TestLoadData_BuildsThenReuses(t *testing.T) {
	f := newFixture(t, dataRecords())
	var progress bytes.Buffer
	svc := New(f.cfg, f.store, embedding.NewHashProvider(64), WithProgress(&progress))

	_, err := svc.Search(context.Background(), types.SearchQuery{Text: "inflation", TopK: 5})
	require.ErrorIs(t, err, search.ErrIndexUnavailable)

	resp, err := svc.LoadData(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Rebuilt)
	assert.Equal(t, [2]int{3, 64}, resp.EmbeddingsShape)
	assert.Equal(t, "hash-bow-v1/64", resp.Model)
	assert.Contains(t, progress.String(), "no saved index")

	m, err := index.LoadManifest(f.cfg.Index.Dir)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Rows)

	results, err := svc.Search(context.Background(), types.SearchQuery{Text: "inflation dynamics", TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Inflation Dynamics", results[0].Title)

	// A fresh process with the same files loads the saved index.
	again := New(f.cfg, openStore(t, f.cfg), embedding.NewHashProvider(64))
	resp, err = again.LoadData(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Rebuilt)
	assert.Equal(t, "Data and embeddings loaded successfully.", resp.Message)
	assert.True(t, again.Status().Ready)
}

func TestLoadData_RebuildsOnModelChange(t *testing.T) {
	f := newFixture(t, dataRecords())
	_, err := New(f.cfg, f.store, embedding.NewHashProvider(64)).LoadData(context.Background())
	require.NoError(t, err)

	svc := New(f.cfg, f.store, embedding.NewHashProvider(32))
	resp, err := svc.LoadData(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Rebuilt)
	assert.Equal(t, [2]int{3, 32}, resp.EmbeddingsShape)
	assert.Contains(t, resp.Message, "hash-bow-v1/64")

	_, err = svc.Search(context.Background(), types.SearchQuery{Text: "permits", TopK: 1})
	assert.NoError(t, err)
}

func TestLoadData_RebuildsStaleIndex(t *testing.T) {
	recs := dataRecords()
	f := newFixture(t, recs[:2])
	svc := New(f.cfg, f.store, embedding.NewHashProvider(64))
	_, err := svc.LoadData(context.Background())
	require.NoError(t, err)

	require.NoError(t, table.WriteAtomic(f.cfg.Store.DataCSV, recs))
	resp, err := svc.LoadData(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Rebuilt)
	assert.Equal(t, 3, resp.EmbeddingsShape[0])
}

func TestLoadData_RebuildsWhenTextChangesUnderSameKey(t *testing.T) {
	recs := dataRecords()
	f := newFixture(t, recs)
	var progress bytes.Buffer
	svc := New(f.cfg, f.store, embedding.NewHashProvider(64), WithProgress(&progress))
	_, err := svc.LoadData(context.Background())
	require.NoError(t, err)

	recs[1].Abstract = "Inflation expectations of households."
	require.NoError(t, table.WriteAtomic(f.cfg.Store.DataCSV, recs))

	resp, err := svc.LoadData(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Rebuilt)
	assert.Contains(t, resp.Message, "records changed")
	assert.Contains(t, progress.String(), "records changed since the index was built")

	results, err := svc.Search(context.Background(), types.SearchQuery{Text: "inflation expectations households", TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, recs[1].Key, results[0].Key)

	// Unchanged records reuse the rebuilt index.
	resp, err = svc.LoadData(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Rebuilt)
}

func TestLoadData_CorruptIndex(t *testing.T) {
	f := newFixture(t, dataRecords())
	require.NoError(t, os.MkdirAll(f.cfg.Index.Dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.Index.Dir, index.EmbeddingsFile), []byte("garbage"), 0o644))

	svc := New(f.cfg, f.store, embedding.NewHashProvider(64))
	_, err := svc.LoadData(context.Background())
	require.ErrorIs(t, err, index.ErrCorrupt)
	assert.False(t, svc.Status().Ready)

	// The records were imported, so a recompute replaces the bad file.
	resp, err := svc.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [2]int{3, 64}, resp.EmbeddingsShape)
	_, err = index.Load(f.cfg.Index.Dir)
	assert.NoError(t, err)
}

func TestRecompute_NoRecords(t *testing.T) {
	f := newFixture(t, nil)
	svc := New(f.cfg, f.store, embedding.NewHashProvider(64))
	_, err := svc.Recompute(context.Background())
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestCheckModel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"all-minilm:l6-v2"}]}`))
	}))
	defer ts.Close()
	f := newFixture(t, nil)

	installed := embedding.NewOllamaProvider(embedding.WithBaseURL(ts.URL), embedding.WithModel("all-minilm:l6-v2"))
	assert.NoError(t, New(f.cfg, f.store, installed).CheckModel(context.Background()))

	missing := embedding.NewOllamaProvider(embedding.WithBaseURL(ts.URL), embedding.WithModel("mxbai-embed-large"))
	err := New(f.cfg, f.store, missing).CheckModel(context.Background())
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), "mxbai-embed-large")

	assert.NoError(t, New(f.cfg, f.store, embedding.NewHashProvider(64)).CheckModel(context.Background()))
}

func TestCheckModel_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	f := newFixture(t, nil)

	p := embedding.NewOllamaProvider(embedding.WithBaseURL(url))
	err := New(f.cfg, f.store, p).CheckModel(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), "checking embedding model")
}

// flakyEmbedder is an Ollama-compatible server that fails its first calls.
func flakyEmbedder(t *testing.T, failures int32, dims int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	inner := embedding.NewHashProvider(dims)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		emb, err := inner.Embed(r.Context(), req.Prompt)
		if err != nil {
			emb.Vector = make([]float32, dims)
		}
		json.NewEncoder(w).Encode(map[string][]float32{"embedding": emb.Vector})
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func TestRecompute_RetriesFlakyEmbedder(t *testing.T) {
	ts, calls := flakyEmbedder(t, 2, 64)
	f := newFixture(t, dataRecords())
	_, err := f.store.ImportCSV(context.Background(), f.cfg.Store.DataCSV)
	require.NoError(t, err)

	provider, err := embedding.New(types.EmbeddingConfig{
		Provider:   types.ProviderOllama,
		Model:      "tiny",
		Dimensions: 64,
		BaseURL:    ts.URL,
		Retry:      types.RetryConfig{Attempts: 3, BaseDelay: time.Millisecond},
	})
	require.NoError(t, err)

	svc := New(f.cfg, f.store, provider)
	resp, err := svc.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [2]int{3, 64}, resp.EmbeddingsShape)
	assert.Equal(t, "tiny", resp.Model)
	assert.Equal(t, int32(5), atomic.LoadInt32(calls), "two failures then one call per record")

	results, err := svc.Search(context.Background(), types.SearchQuery{Text: "construction permits", TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Housing Permits", results[0].Title)
}

func TestRecompute_ReadersSeeConsistentCorpus(t *testing.T) {
	f := newFixture(t, dataRecords())
	svc := New(f.cfg, f.store, embedding.NewHashProvider(64))
	_, err := svc.LoadData(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				results, err := svc.Search(ctx, types.SearchQuery{Text: "inflation", TopK: 10})
				if !assert.NoError(t, err) {
					return
				}
				assert.Len(t, results, 3)
			}
		}()
	}
	for i := 0; i < 5; i++ {
		_, err := svc.Recompute(context.Background())
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
}

func TestSimilarAndPaper(t *testing.T) {
	recs := dataRecords()
	f := newFixture(t, recs)
	svc := New(f.cfg, f.store, embedding.NewHashProvider(64))
	_, err := svc.LoadData(context.Background())
	require.NoError(t, err)

	results, err := svc.Similar(context.Background(), recs[1].Key, types.SearchQuery{TopK: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, recs[1].Key, results[0].Key)

	rec, err := svc.Paper(recs[2].Key)
	require.NoError(t, err)
	assert.Equal(t, "Commuting Patterns", rec.Title)

	_, err = svc.Paper("p-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// listingServer serves pages listing pages, each with two papers.
func listingServer(t *testing.T, pages int) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/list" {
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			fmt.Fprint(w, "<html><body>")
			if page <= pages {
				for i := 0; i < 2; i++ {
					fmt.Fprintf(w, `<a href="/library/working-papers/p%d-%d.html"><span class="uscb-default-x-column-title">Paper %d-%d</span></a>`, page, i, page, i)
				}
			}
			fmt.Fprint(w, "</body></html>")
			return
		}
		fmt.Fprintf(w, `<html><body><h1 class="cmp-title__text">Detail %s</h1><div class="cmp-text"><p>Abstract about wages.</p></div></body></html>`, r.URL.Path)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestScrape_ImportsIntoStore(t *testing.T) {
	ts := listingServer(t, 3)
	f := newFixture(t, nil)
	f.cfg.Scrape.Source.ListingURL = ts.URL + "/list?page={page}"
	f.cfg.Scrape.CrawlDelay = 0
	f.cfg.Scrape.RetryBaseDelay = time.Millisecond
	svc := New(f.cfg, f.store, embedding.NewHashProvider(64))

	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	tmp := filepath.Join(dir, "tmp.csv")
	interval := 2
	resp, err := svc.Scrape(context.Background(), ScrapeRequest{OutputCSV: &out, TempCSV: &tmp, SaveInterval: &interval})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	require.NotNil(t, resp.Report)
	assert.Equal(t, []int{2}, resp.Report.Checkpoints)
	assert.Equal(t, 6, resp.Report.RecordsSaved)
	assert.Contains(t, resp.Stdout, "Store: 6 inserted, 0 updated, 6 total")
	assert.Equal(t, 6, f.store.Count())

	// A second crawl updates rows instead of duplicating them.
	resp, err = svc.Scrape(context.Background(), ScrapeRequest{OutputCSV: &out, TempCSV: &tmp})
	require.NoError(t, err)
	assert.Contains(t, resp.Stdout, "Store: 0 inserted, 6 updated, 6 total")
	assert.Equal(t, 6, f.store.Count())

	_, err = svc.Recompute(context.Background())
	require.NoError(t, err)
	results, err := svc.Search(context.Background(), types.SearchQuery{Text: "wages", TopK: 10})
	require.NoError(t, err)
	assert.Len(t, results, 6)
}

func TestScrape_InvalidRequest(t *testing.T) {
	f := newFixture(t, nil)
	svc := New(f.cfg, f.store, embedding.NewHashProvider(64))

	zero := 0
	resp, err := svc.Scrape(context.Background(), ScrapeRequest{SaveInterval: &zero})
	assert.ErrorIs(t, err, scrape.ErrInvalidConfig)
	assert.Contains(t, resp.Stderr, "save_interval")
	assert.False(t, resp.Success)
}

func TestScrape_UnwritableDownloadDir(t *testing.T) {
	ts := listingServer(t, 1)
	f := newFixture(t, nil)
	f.cfg.Scrape.Source.ListingURL = ts.URL + "/list?page={page}"
	svc := New(f.cfg, f.store, embedding.NewHashProvider(64))

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	out := filepath.Join(dir, "out.csv")
	tmp := filepath.Join(dir, "tmp.csv")
	dl := filepath.Join(blocker, "downloads")
	yes := true

	resp, err := svc.Scrape(context.Background(), ScrapeRequest{OutputCSV: &out, TempCSV: &tmp, DownloadDir: &dl, DownloadFiles: &yes})
	var pe *scrape.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Stderr, "creating download directory")
}

func TestScrapeRequest_Apply(t *testing.T) {
	base := types.DefaultScrapeConfig()
	assert.Equal(t, base, ScrapeRequest{}.Apply(base))

	yes, n, path := true, 7, "x.csv"
	got := ScrapeRequest{DownloadFiles: &yes, RetryAttempts: &n, OutputCSV: &path}.Apply(base)
	assert.True(t, got.DownloadFiles)
	assert.Equal(t, 7, got.RetryAttempts)
	assert.Equal(t, "x.csv", got.OutputPath)
	assert.Equal(t, base.TempPath, got.TempPath)
}
