// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/pdiddy/paper-search/pkg/types"
)

// ParseError reports a page whose structure did not match the configured
// selectors.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %s", e.URL, e.Reason)
}

// ListingEntry is one paper found on a listing page.
type ListingEntry struct {
	Title string
	Link  string
}

// Detail is the metadata extracted from a paper's own page.
type Detail struct {
	Title       string
	Date        time.Time
	Authors     []string
	Abstract    string
	Attachments []string
}

// ParseListing extracts paper entries from a listing page. With an
// ItemSelector each matched item yields its title and link; otherwise the
// n-th title is paired with the n-th link containing LinkContains, which
// is how the Census listing is laid out. Entries whose link matches one
// of LinkExcludes are dropped. A page with neither titles nor paper links
// is the end of the listing and yields no entries and no error; a page
// with only one of the two is a ParseError.
func ParseListing(r io.Reader, pageURL string, src types.SourceConfig) ([]ListingEntry, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: fmt.Sprintf("bad page URL: %v", err)}
	}
	if src.TitleSelector == "" && src.ItemSelector == "" {
		return nil, &ParseError{URL: pageURL, Reason: "no title or item selector configured"}
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: err.Error()}
	}

	var raw []ListingEntry
	if src.ItemSelector != "" {
		raw, err = parseItems(doc, src)
	} else {
		raw, err = parsePaired(doc, src)
	}
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: err.Error()}
	}

	var entries []ListingEntry
	seen := make(map[string]bool)
	for _, e := range raw {
		if e.Title == "" || e.Link == "" {
			continue
		}
		link, ok := resolve(base, e.Link)
		if !ok || excluded(link, src.LinkExcludes) || seen[link] {
			continue
		}
		seen[link] = true
		entries = append(entries, ListingEntry{Title: e.Title, Link: link})
	}
	return entries, nil
}

func parseItems(doc *html.Node, src types.SourceConfig) ([]ListingEntry, error) {
	items := querySelectorAll(doc, src.ItemSelector)
	var out []ListingEntry
	for _, item := range items {
		e := ListingEntry{Title: textContent(item)}
		if src.TitleSelector != "" {
			if t := querySelector(item, src.TitleSelector); t != nil {
				e.Title = textContent(t)
			}
		}
		if item.DataAtom == atom.A && hasAttr(item, "href") {
			e.Link = getAttr(item, "href")
		} else {
			for _, a := range findAllByTag(item, atom.A) {
				if href := getAttr(a, "href"); linkMatches(href, src.LinkContains) {
					e.Link = href
					break
				}
			}
		}
		if linkMatches(e.Link, src.LinkContains) {
			out = append(out, e)
		}
	}
	if len(items) > 0 && len(out) == 0 {
		return nil, fmt.Errorf("%d items matched %q but none had a paper link", len(items), src.ItemSelector)
	}
	return out, nil
}

func parsePaired(doc *html.Node, src types.SourceConfig) ([]ListingEntry, error) {
	titles := querySelectorAll(doc, src.TitleSelector)
	var links []string
	for _, a := range findAllByTag(doc, atom.A) {
		if href := getAttr(a, "href"); href != "" && linkMatches(href, src.LinkContains) {
			links = append(links, href)
		}
	}
	papers := 0
	for _, l := range links {
		if !excluded(l, src.LinkExcludes) {
			papers++
		}
	}
	switch {
	case len(titles) > 0 && len(links) == 0:
		return nil, fmt.Errorf("%d titles matched %q but no paper links", len(titles), src.TitleSelector)
	case len(titles) == 0 && papers > 0:
		return nil, fmt.Errorf("%d paper links but no titles matched %q", papers, src.TitleSelector)
	}

	out := make([]ListingEntry, 0, len(titles))
	for i, t := range titles {
		if i >= len(links) {
			break
		}
		out = append(out, ListingEntry{Title: textContent(t), Link: links[i]})
	}
	return out, nil
}

func linkMatches(href, contains string) bool {
	return href != "" && (contains == "" || strings.Contains(href, contains))
}

func excluded(link string, excludes []string) bool {
	for _, x := range excludes {
		if x != "" && strings.Contains(link, x) {
			return true
		}
	}
	return false
}

// ParseDetail extracts metadata from a paper's detail page. A page missing
// every field is reported as a ParseError; missing individual fields are
// left empty.
func ParseDetail(r io.Reader, pageURL string, src types.SourceConfig) (Detail, error) {
	var d Detail
	base, err := url.Parse(pageURL)
	if err != nil {
		return d, &ParseError{URL: pageURL, Reason: fmt.Sprintf("bad page URL: %v", err)}
	}
	doc, err := html.Parse(r)
	if err != nil {
		return d, &ParseError{URL: pageURL, Reason: err.Error()}
	}

	if src.DetailTitleSelector != "" {
		d.Title = textContent(querySelector(doc, src.DetailTitleSelector))
	}

	if src.DetailDateSelector != "" {
		if n := querySelector(doc, src.DetailDateSelector); n != nil {
			d.Date = types.ParseDate(getAttr(n, "datetime"))
			if d.Date.IsZero() {
				d.Date = types.ParseDate(textContent(n))
			}
		}
	}

	if src.DetailAuthorSelector != "" {
		for _, n := range querySelectorAll(doc, src.DetailAuthorSelector) {
			d.Authors = append(d.Authors, authorNames(n)...)
		}
	}

	d.Abstract = findAbstract(doc, src)
	d.Attachments = findAttachments(doc, base, src.AttachmentExtensions)

	if d.Title == "" && d.Abstract == "" && d.Date.IsZero() && len(d.Authors) == 0 && len(d.Attachments) == 0 {
		return d, &ParseError{URL: pageURL, Reason: "no paper metadata found"}
	}
	return d, nil
}

// findAbstract tries each abstract selector in order, then falls back to
// the first paragraph longer than MinParagraphLength.
func findAbstract(doc *html.Node, src types.SourceConfig) string {
	for _, sel := range src.AbstractSelectors {
		if text := textContent(querySelector(doc, sel)); text != "" {
			return text
		}
	}
	for _, p := range findAllByTag(doc, atom.P) {
		if text := textContent(p); len(text) > src.MinParagraphLength {
			return text
		}
	}
	return ""
}

func findAttachments(doc *html.Node, base *url.URL, exts []string) []string {
	if len(exts) == 0 {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, a := range findAllByTag(doc, atom.A) {
		href := getAttr(a, "href")
		if href == "" {
			continue
		}
		link, ok := resolve(base, href)
		if !ok || seen[link] || !hasExtension(link, exts) {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out
}

func hasExtension(link string, exts []string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// authorNames reads the names in an author block. When the block wraps
// each name in its own element those elements are the names; otherwise
// the text is split on name separators.
func authorNames(n *html.Node) []string {
	var children []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if t := textContent(c); t != "" {
			children = append(children, t)
		}
	}
	if len(children) > 1 {
		var out []string
		for _, t := range children {
			out = append(out, splitAuthorText(t)...)
		}
		return out
	}
	return splitAuthorText(textContent(n))
}

func splitAuthorText(s string) []string {
	s = strings.ReplaceAll(s, " and ", ";")
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' }) {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func resolve(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}
