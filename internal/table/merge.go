// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package table

import "github.com/pdiddy/paper-search/pkg/types"

// Accumulator collects records keyed by identity, keeping first-seen
// order. Adding a known key updates the stored record instead of
// appending a duplicate. It is not safe for concurrent use.
type Accumulator struct {
	order []string
	byKey map[string]types.PaperRecord
}

// NewAccumulator returns an accumulator seeded with recs.
func NewAccumulator(recs ...types.PaperRecord) *Accumulator {
	a := &Accumulator{byKey: make(map[string]types.PaperRecord, len(recs))}
	a.Add(recs...)
	return a
}

// Add inserts or updates records. It reports how many keys were new.
func (a *Accumulator) Add(recs ...types.PaperRecord) int {
	added := 0
	for _, r := range recs {
		r.EnsureKey()
		old, ok := a.byKey[r.Key]
		if !ok {
			a.order = append(a.order, r.Key)
			a.byKey[r.Key] = r
			added++
			continue
		}
		a.byKey[r.Key] = update(old, r)
	}
	return added
}

// Len returns the number of distinct keys.
func (a *Accumulator) Len() int { return len(a.order) }

// Has reports whether key is present.
func (a *Accumulator) Has(key string) bool {
	_, ok := a.byKey[key]
	return ok
}

// Records returns the records in first-seen order.
func (a *Accumulator) Records() []types.PaperRecord {
	out := make([]types.PaperRecord, 0, len(a.order))
	for _, k := range a.order {
		out = append(out, a.byKey[k])
	}
	return out
}

// Merge returns existing with incoming folded in by identity key.
func Merge(existing, incoming []types.PaperRecord) []types.PaperRecord {
	a := NewAccumulator(existing...)
	a.Add(incoming...)
	return a.Records()
}

// update applies the fields of next over prev. Empty fields in next do not
// erase values learned earlier, so a re-scrape whose detail page failed
// keeps the abstract from the previous run.
func update(prev, next types.PaperRecord) types.PaperRecord {
	out := prev
	if next.Title != "" {
		out.Title = next.Title
	}
	if len(next.Authors) > 0 {
		out.Authors = next.Authors
	}
	if next.HasDate() {
		out.Date = next.Date
	}
	if next.Abstract != "" {
		out.Abstract = next.Abstract
	}
	if next.Link != "" {
		out.Link = next.Link
	}
	if len(next.DownloadLinks) > 0 {
		out.DownloadLinks = next.DownloadLinks
	}
	if next.LocalFilePath != "" {
		out.LocalFilePath = next.LocalFilePath
	}
	out.ScrapeError = next.ScrapeError
	return out
}
