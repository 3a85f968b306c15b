// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// AuthorsDelimiter separates author names in the stored and displayed
// authors field.
const AuthorsDelimiter = "; "

// PaperRecord holds the metadata scraped for one working paper.
type PaperRecord struct {
	// Key is the identity key used for dedup across repeated and resumed
	// scrapes. See IdentityKey.
	Key string `json:"key" yaml:"key"`

	// Title is the paper title taken from the paper's own page when
	// available, else from the listing.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Date is the publication date. The zero value means unknown.
	Date time.Time `json:"date" yaml:"date"`

	// Abstract is the paper abstract; may be empty.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Link is the URL of the paper's detail page.
	Link string `json:"link,omitempty" yaml:"link,omitempty"`

	// DownloadLinks lists attachment URLs found on the detail page.
	DownloadLinks []string `json:"download_links,omitempty" yaml:"download_links,omitempty"`

	// LocalFilePath is set only when an attachment was downloaded.
	LocalFilePath string `json:"local_file_path,omitempty" yaml:"local_file_path,omitempty"`

	// ScrapeError describes a non-fatal failure while scraping this record
	// (detail page or attachment). Empty on full success.
	ScrapeError string `json:"scrape_error,omitempty" yaml:"scrape_error,omitempty"`
}

// HasDate reports whether the publication date is known.
func (p PaperRecord) HasDate() bool {
	return !p.Date.IsZero()
}

// AuthorsString returns the authors joined with AuthorsDelimiter.
func (p PaperRecord) AuthorsString() string {
	return strings.Join(p.Authors, AuthorsDelimiter)
}

// DateString formats the publication date as YYYY-MM-DD, or "" when unknown.
func (p PaperRecord) DateString() string {
	if !p.HasDate() {
		return ""
	}
	return p.Date.Format(DateLayout)
}

// EnsureKey fills Key from the record's fields when it is empty.
func (p *PaperRecord) EnsureKey() {
	if p.Key == "" {
		p.Key = IdentityKey(p.Title, p.Date, p.Link)
	}
}

// SplitAuthors parses a delimited authors field. Both ";" and the
// AuthorsDelimiter are accepted; blank names are dropped.
func SplitAuthors(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// IdentityKey derives the stable dedup key for a paper. When a source link
// is known the key hashes the canonical link, otherwise it hashes the
// normalised title and the date.
func IdentityKey(title string, date time.Time, link string) string {
	var basis string
	if c := canonicalLink(link); c != "" {
		basis = "link|" + c
	} else {
		d := ""
		if !date.IsZero() {
			d = date.Format(DateLayout)
		}
		basis = "title|" + normalizeTitle(title) + "|" + d
	}
	h := sha256.Sum256([]byte(basis))
	return "p-" + hex.EncodeToString(h[:8])
}

func canonicalLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return strings.ToLower(link)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// DateLayout is the canonical date format used in tabular artifacts and
// API responses.
const DateLayout = "2006-01-02"

// dateLayouts lists the formats accepted by ParseDate, most specific first.
var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"January 2, 2006",
	"January 02, 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"01/02/2006",
	"1/2/2006",
	"January 2006",
	"Jan 2006",
}

// ParseDate parses the date strings seen on listing pages and in tabular
// artifacts. It returns the zero time for empty or unrecognised input,
// including the "Unknown" placeholder written by older scrapes.
func ParseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" || strings.EqualFold(s, "unknown") {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
	return time.Time{}
}
