// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"fmt"
	"sync/atomic"

	"github.com/pdiddy/paper-search/internal/store"
)

// Corpus pairs a record snapshot with the index built from it. Row i of
// Index embeds the record with key Index.Keys[i], which is present in
// Snapshot.
type Corpus struct {
	Index    *Index
	Snapshot *store.Snapshot
}

// NewCorpus checks that idx covers exactly the keys of snap.
func NewCorpus(idx *Index, snap *store.Snapshot) (*Corpus, error) {
	if idx == nil || snap == nil {
		return nil, fmt.Errorf("corpus needs an index and a snapshot")
	}
	if !idx.Covers(snap.Keys()) {
		return nil, fmt.Errorf("index has %d rows for %d records: keys differ", idx.Rows(), snap.Len())
	}
	return &Corpus{Index: idx, Snapshot: snap}, nil
}

// Holder publishes the live corpus. Readers take the current pointer and
// use it for the rest of their request; a swap never disturbs them.
type Holder struct {
	p atomic.Pointer[Corpus]
}

// Load returns the live corpus, or nil before the first publication.
func (h *Holder) Load() *Corpus {
	return h.p.Load()
}

// Swap publishes c and returns the previous corpus.
func (h *Holder) Swap(c *Corpus) *Corpus {
	return h.p.Swap(c)
}
