// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the paper-search service:
// scraped paper records, search queries and results, and stage configuration.
package types

import "time"

// DefaultTopK is the number of results returned when a query does not set
// TopK.
const DefaultTopK = 5

// SearchQuery holds the parameters of one semantic search. It is built per
// request and never persisted.
type SearchQuery struct {
	// Text is the free-text query or the seed abstract of a "more like
	// this" query.
	Text string `json:"text" yaml:"text"`

	// Author, when set, must be a case-insensitive substring of the
	// record's authors field.
	Author string `json:"author,omitempty" yaml:"author,omitempty"`

	// DateStart and DateEnd are inclusive bounds; either may be nil.
	DateStart *time.Time `json:"date_start,omitempty" yaml:"date_start,omitempty"`
	DateEnd   *time.Time `json:"date_end,omitempty" yaml:"date_end,omitempty"`

	// TopK bounds the number of results.
	TopK int `json:"top_k" yaml:"top_k"`

	// ExcludeKey drops one record from the candidate set. Used by
	// "more like this" queries that do not want the seed returned.
	ExcludeKey string `json:"exclude_key,omitempty" yaml:"exclude_key,omitempty"`
}

// HasDateFilter reports whether either date bound is set.
func (q SearchQuery) HasDateFilter() bool {
	return q.DateStart != nil || q.DateEnd != nil
}

// SearchResult is a paper record with its similarity to the query.
type SearchResult struct {
	PaperRecord `yaml:",inline"`

	// Similarity is the cosine similarity in [-1, 1]; higher is closer.
	Similarity float64 `json:"similarity" yaml:"similarity"`
}
