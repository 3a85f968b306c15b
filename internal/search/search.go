// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search ranks the records of the published corpus by cosine
// similarity to a query, after author and date filters.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/paper-search/internal/embedding"
	"github.com/pdiddy/paper-search/internal/index"
	"github.com/pdiddy/paper-search/internal/store"
	"github.com/pdiddy/paper-search/pkg/types"
)

// ErrIndexUnavailable is returned when no corpus has been published yet.
var ErrIndexUnavailable = errors.New("embedding index unavailable: load data or recompute first")

// ValidationError rejects a query before any work is done.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Engine answers queries against the corpus published in a holder. Every
// query reads one corpus pointer, so a concurrent swap never mixes two
// indexes in one result list.
type Engine struct {
	provider embedding.Provider
	holder   *index.Holder
	cfg      types.SearchConfig
}

// NewEngine returns an engine reading from holder. Queries are embedded
// with provider, which must be the model the published index was built
// with.
func NewEngine(provider embedding.Provider, holder *index.Holder, cfg types.SearchConfig) *Engine {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = types.DefaultTopK
	}
	return &Engine{provider: provider, holder: holder, cfg: cfg}
}

// DefaultTopK returns the result count applied when a request omits it.
func (e *Engine) DefaultTopK() int {
	return e.cfg.DefaultTopK
}

// Validate checks the query parameters.
func (e *Engine) Validate(q types.SearchQuery) error {
	if err := e.validateParams(q); err != nil {
		return err
	}
	if strings.TrimSpace(q.Text) == "" {
		return &ValidationError{Field: "query", Reason: "must not be empty", Err: embedding.ErrEmptyText}
	}
	return nil
}

func (e *Engine) validateParams(q types.SearchQuery) error {
	if q.TopK <= 0 {
		return &ValidationError{Field: "top_k", Reason: fmt.Sprintf("must be positive, got %d", q.TopK)}
	}
	if e.cfg.MaxTopK > 0 && q.TopK > e.cfg.MaxTopK {
		return &ValidationError{Field: "top_k", Reason: fmt.Sprintf("must be at most %d, got %d", e.cfg.MaxTopK, q.TopK)}
	}
	if q.DateStart != nil && q.DateEnd != nil && day(*q.DateStart).After(day(*q.DateEnd)) {
		return &ValidationError{Field: "date_start", Reason: "is after date_end"}
	}
	return nil
}

// Search embeds q.Text and returns the top q.TopK matching records.
func (e *Engine) Search(ctx context.Context, q types.SearchQuery) ([]types.SearchResult, error) {
	if err := e.Validate(q); err != nil {
		return nil, err
	}
	corpus := e.holder.Load()
	if corpus == nil {
		return nil, ErrIndexUnavailable
	}
	return e.run(ctx, corpus, q)
}

// Similar runs a "more like this" query seeded by the record with key.
// The query text is the text the seed's own row was embedded from, so the
// seed scores 1 against itself and ranks first unless ExcludeSeed is set
// or q.ExcludeKey names it. q.Text is ignored.
func (e *Engine) Similar(ctx context.Context, key string, q types.SearchQuery) ([]types.SearchResult, error) {
	if err := e.validateParams(q); err != nil {
		return nil, err
	}
	corpus := e.holder.Load()
	if corpus == nil {
		return nil, ErrIndexUnavailable
	}
	seed, ok := corpus.Snapshot.Get(key)
	if !ok {
		return nil, fmt.Errorf("seed %s: %w", key, store.ErrNotFound)
	}

	q.Text = embedding.RecordText(seed)
	if strings.TrimSpace(q.Text) == "" {
		return nil, &ValidationError{Field: "seed", Reason: "record has no title or abstract", Err: embedding.ErrEmptyText}
	}
	if e.cfg.ExcludeSeed {
		q.ExcludeKey = key
	}
	return e.run(ctx, corpus, q)
}

func (e *Engine) run(ctx context.Context, corpus *index.Corpus, q types.SearchQuery) ([]types.SearchResult, error) {
	idx := corpus.Index
	if err := idx.CheckModel(e.provider.ModelName()); err != nil {
		return nil, err
	}

	emb, err := e.provider.Embed(ctx, q.Text)
	if err != nil {
		if errors.Is(err, embedding.ErrEmptyText) {
			return nil, &ValidationError{Field: "query", Reason: "has no embeddable words", Err: err}
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if emb.Dimensions() != idx.Dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", index.ErrModelMismatch, emb.Dimensions(), idx.Dims)
	}

	return Rank(corpus, emb.Vector, q), nil
}

// Rank scores every row of the corpus against vec, drops records failing
// the filters of q, and returns the best q.TopK sorted by similarity
// descending, ties by key ascending. vec must be unit length.
func Rank(corpus *index.Corpus, vec []float32, q types.SearchQuery) []types.SearchResult {
	idx := corpus.Index
	var results []types.SearchResult
	for i, key := range idx.Keys {
		if key == q.ExcludeKey {
			continue
		}
		rec, ok := corpus.Snapshot.Get(key)
		if !ok || !Matches(rec, q) {
			continue
		}
		results = append(results, types.SearchResult{
			PaperRecord: rec,
			Similarity:  embedding.Dot(vec, idx.Vectors[i]),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Key < results[j].Key
	})
	if q.TopK > 0 && len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return results
}

// Matches reports whether rec passes the author and date filters of q.
// The author filter must occur, ignoring case, within a single author's
// name. Undated records fail any date filter and pass when there is none.
func Matches(rec types.PaperRecord, q types.SearchQuery) bool {
	if author := strings.TrimSpace(q.Author); author != "" && !hasAuthor(rec.Authors, author) {
		return false
	}
	if !q.HasDateFilter() {
		return true
	}
	if !rec.HasDate() {
		return false
	}
	d := day(rec.Date)
	if q.DateStart != nil && d.Before(day(*q.DateStart)) {
		return false
	}
	if q.DateEnd != nil && d.After(day(*q.DateEnd)) {
		return false
	}
	return true
}

func hasAuthor(authors []string, filter string) bool {
	filter = strings.ToLower(filter)
	for _, a := range authors {
		if strings.Contains(strings.ToLower(a), filter) {
			return true
		}
	}
	return false
}

// day truncates t to its calendar date.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
