// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paper-search/internal/httputil"
	"github.com/pdiddy/paper-search/internal/table"
	"github.com/pdiddy/paper-search/pkg/types"
)

// fakeSite serves a paginated listing at /list?page=N, detail pages under
// /library/working-papers/2023/ and attachments under /files/.
type fakeSite struct {
	pages   int
	perPage int

	flaky         map[int]int // page -> 503 responses before success
	down          map[int]bool
	garbled       map[int]bool
	missingDetail map[string]bool
	missingFile   map[string]bool
	stall         map[int]time.Duration // page -> pause after the first bytes, first hit only
	onListing     func(page int)

	mu   sync.Mutex
	hits map[int]int
}

func newFakeSite(pages, perPage int) *fakeSite {
	return &fakeSite{pages: pages, perPage: perPage, hits: make(map[int]int)}
}

func (s *fakeSite) listingHits(page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[page]
}

func (s *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/list":
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		s.mu.Lock()
		s.hits[page]++
		n := s.hits[page]
		s.mu.Unlock()
		if s.onListing != nil {
			s.onListing(page)
		}
		if d := s.stall[page]; d > 0 && n == 1 {
			fmt.Fprint(w, "<html><body>")
			w.(http.Flusher).Flush()
			select {
			case <-time.After(d):
			case <-r.Context().Done():
			}
			return
		}

		switch {
		case s.down[page]:
			w.WriteHeader(http.StatusInternalServerError)
		case n <= s.flaky[page]:
			w.WriteHeader(http.StatusServiceUnavailable)
		case s.garbled[page]:
			fmt.Fprint(w, `<html><body><span class="uscb-default-x-column-title">Orphan</span></body></html>`)
		case page > s.pages:
			fmt.Fprint(w, `<html><body><p>No results.</p></body></html>`)
		default:
			fmt.Fprint(w, "<html><body>")
			for i := 0; i < s.perPage; i++ {
				fmt.Fprintf(w, `<div><a href="/library/working-papers/2023/p%d-%d.html"><span class="uscb-default-x-column-title">Paper %d-%d</span></a></div>`,
					page, i, page, i)
			}
			fmt.Fprint(w, "</body></html>")
		}

	case strings.HasPrefix(r.URL.Path, "/library/working-papers/"):
		name := strings.TrimSuffix(path.Base(r.URL.Path), ".html")
		if s.missingDetail[name] {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><body>
<h1 class="cmp-title__text">Paper %s: Full Title</h1>
<time itemprop="datePublished" datetime="2023-01-15">January 15, 2023</time>
<div itemprop="author">Jane Smith; Ravi Patel</div>
<div class="cmp-text"><p>Abstract of %s on inflation dynamics.</p></div>
<a href="/files/%s.pdf">PDF</a>
</body></html>`, name, name, name)

	case strings.HasPrefix(r.URL.Path, "/files/"):
		name := strings.TrimSuffix(path.Base(r.URL.Path), ".pdf")
		if s.missingFile[name] {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "%%PDF-1.4 %s", name)

	default:
		http.NotFound(w, r)
	}
}

func startSite(t *testing.T, s *fakeSite) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return ts
}

func testScrapeConfig(t *testing.T, baseURL string) types.ScrapeConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := types.DefaultScrapeConfig()
	cfg.Source.ListingURL = baseURL + "/list?page={page}"
	cfg.OutputPath = filepath.Join(dir, "working_papers_complete.csv")
	cfg.TempPath = filepath.Join(dir, "temp_output.csv")
	cfg.DownloadDir = filepath.Join(dir, "downloads")
	cfg.Timeout = 2 * time.Second
	cfg.RetryBaseDelay = time.Millisecond
	cfg.CrawlDelay = 0
	cfg.Workers = 4
	return cfg
}

func paperKey(baseURL, name string) string {
	return types.IdentityKey("", time.Time{}, baseURL+"/library/working-papers/2023/"+name+".html")
}

func recordsByKey(t *testing.T, recs []types.PaperRecord) map[string]types.PaperRecord {
	t.Helper()
	out := make(map[string]types.PaperRecord, len(recs))
	for _, r := range recs {
		_, dup := out[r.Key]
		assert.False(t, dup, "duplicate key %s", r.Key)
		out[r.Key] = r
	}
	return out
}

func TestRun_CheckpointsAndMerge(t *testing.T) {
	site := newFakeSite(25, 2)
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)

	var (
		mu          sync.Mutex
		midRecords  = -1
		midProgress Progress
	)
	site.onListing = func(page int) {
		if page != 11 {
			return
		}
		recs, p, ok, err := (&Checkpoint{Path: cfg.TempPath}).Load()
		mu.Lock()
		defer mu.Unlock()
		if assert.NoError(t, err) && assert.True(t, ok) {
			midRecords = len(recs)
			midProgress = p
		}
	}

	var stdout bytes.Buffer
	o, err := New(cfg, WithOutput(&stdout, nil))
	require.NoError(t, err)
	rep, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, rep.State)
	assert.Equal(t, StateDone, o.State())
	assert.Equal(t, 25, rep.PagesCrawled)
	assert.Equal(t, 50, rep.RecordsFound)
	assert.Equal(t, 50, rep.RecordsSaved)
	assert.Equal(t, 50, rep.NewRecords)
	assert.Equal(t, []int{10, 20}, rep.Checkpoints)
	assert.Empty(t, rep.FailedPages)
	assert.True(t, rep.OutputExists)
	assert.False(t, rep.Resumed)

	mu.Lock()
	assert.Equal(t, 20, midRecords, "checkpoint after page 10 holds pages 1-10")
	assert.Equal(t, 11, midProgress.NextPage)
	mu.Unlock()

	assert.False(t, table.Exists(cfg.TempPath))
	_, err = os.Stat(cfg.TempPath + ".progress.yaml")
	assert.True(t, os.IsNotExist(err))

	recs, err := table.Read(cfg.OutputPath)
	require.NoError(t, err)
	byKey := recordsByKey(t, recs)
	require.Len(t, byKey, 50)

	rec, ok := byKey[paperKey(ts.URL, "p1-0")]
	require.True(t, ok)
	assert.Equal(t, "Paper p1-0: Full Title", rec.Title)
	assert.Equal(t, []string{"Jane Smith", "Ravi Patel"}, rec.Authors)
	assert.Equal(t, "2023-01-15", rec.DateString())
	assert.Equal(t, "Abstract of p1-0 on inflation dynamics.", rec.Abstract)
	assert.Equal(t, []string{ts.URL + "/files/p1-0.pdf"}, rec.DownloadLinks)
	assert.Empty(t, rec.LocalFilePath)
	assert.Empty(t, rec.ScrapeError)

	out := stdout.String()
	assert.Contains(t, out, "state: idle -> crawling")
	assert.Contains(t, out, "state: crawling -> checkpoint_written")
	assert.Contains(t, out, "state: merging -> done")
	assert.Contains(t, out, "No more pages to scrape.")
	assert.Contains(t, out, "Output "+cfg.OutputPath+" found")
}

func TestRun_RetriesFlakyPage(t *testing.T) {
	site := newFakeSite(5, 2)
	site.flaky = map[int]int{3: 2}
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)

	var stderr bytes.Buffer
	o, err := New(cfg, WithOutput(nil, &stderr))
	require.NoError(t, err)
	rep, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, site.listingHits(3))
	assert.Empty(t, rep.FailedPages)
	assert.Equal(t, 10, rep.RecordsSaved)
	assert.Contains(t, stderr.String(), "warning: attempt 1/3 failed")
	assert.Contains(t, stderr.String(), "warning: attempt 2/3 failed")
}

func TestRun_RetriesStalledListing(t *testing.T) {
	site := newFakeSite(3, 2)
	site.stall = map[int]time.Duration{1: 400 * time.Millisecond}
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)
	cfg.Timeout = 150 * time.Millisecond
	cfg.RetryAttempts = 3

	var stderr bytes.Buffer
	o, err := New(cfg, WithOutput(nil, &stderr))
	require.NoError(t, err)
	rep, err := o.Run(context.Background())
	require.NoError(t, err)

	// A truncated first page must not read as the end of the listing.
	assert.Equal(t, 2, site.listingHits(1))
	assert.Empty(t, rep.FailedPages)
	assert.Equal(t, 3, rep.PagesCrawled)
	assert.Equal(t, 6, rep.RecordsSaved)
	assert.Contains(t, stderr.String(), "warning: attempt 1/3 failed")
	assert.Contains(t, stderr.String(), "no data received")
}

func TestRun_DeadlineBeforeNextCrawlSlot(t *testing.T) {
	site := newFakeSite(5, 2)
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)
	cfg.CrawlDelay = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	o, err := New(cfg)
	require.NoError(t, err)
	rep, err := o.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateCancelled, rep.State)
	assert.Equal(t, 1, rep.PagesCrawled)
	assert.Equal(t, []int{1}, rep.Checkpoints)
	assert.Equal(t, 0, site.listingHits(2))
	assert.Less(t, rep.Duration, 2*time.Second, "the run gives up without waiting out the delay")

	recs, progress, ok, err := (&Checkpoint{Path: cfg.TempPath}).Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, recs, 2)
	assert.Equal(t, 2, progress.NextPage)
}

func TestRun_CancelSavesPositionWithoutRecords(t *testing.T) {
	site := newFakeSite(25, 2)
	site.down = map[int]bool{1: true, 2: true}
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var armed atomic.Bool
	armed.Store(true)
	site.onListing = func(page int) {
		if page == 3 && armed.CompareAndSwap(true, false) {
			cancel()
		}
	}

	o, err := New(cfg)
	require.NoError(t, err)
	_, err = o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	recs, progress, ok, err := (&Checkpoint{Path: cfg.TempPath}).Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, recs)
	assert.Equal(t, 3, progress.NextPage)
	assert.Len(t, progress.FailedPages, 2)

	o2, err := New(cfg)
	require.NoError(t, err)
	rep, err := o2.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Resumed)
	assert.Equal(t, 3, rep.ResumedFromPage)
	assert.Equal(t, cfg.RetryAttempts, site.listingHits(1), "failed pages are not retried on resume")
	assert.Equal(t, []int{1, 2}, rep.FailedPageNumbers())
}

func TestRun_SkipsFailedPages(t *testing.T) {
	site := newFakeSite(25, 2)
	site.down = map[int]bool{5: true}
	site.garbled = map[int]bool{7: true}
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)

	o, err := New(cfg)
	require.NoError(t, err)
	rep, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, rep.State)
	assert.Equal(t, 25, rep.PagesCrawled)
	assert.Equal(t, []int{5, 7}, rep.FailedPageNumbers())
	require.Len(t, rep.FailedPages, 2)
	assert.Equal(t, FailureFetch, rep.FailedPages[0].Kind)
	assert.Equal(t, FailureParse, rep.FailedPages[1].Kind)
	assert.Equal(t, cfg.RetryAttempts, site.listingHits(5))
	assert.Equal(t, 46, rep.RecordsSaved)
	assert.Contains(t, rep.Summary(), "Failed pages: 5, 7")
}

func TestRun_StopsAfterConsecutiveFailures(t *testing.T) {
	site := newFakeSite(25, 2)
	site.down = map[int]bool{}
	for p := 1; p <= 25; p++ {
		site.down[p] = true
	}
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)
	cfg.MaxConsecutiveFailures = 3

	o, err := New(cfg)
	require.NoError(t, err)
	rep, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, rep.State)
	assert.Equal(t, 3, rep.PagesCrawled)
	assert.Equal(t, []int{1, 2, 3}, rep.FailedPageNumbers())
	assert.NotEmpty(t, rep.StopReason)
	assert.Equal(t, 0, site.listingHits(4))
	assert.False(t, rep.OutputExists)
	assert.Contains(t, rep.Summary(), "not found")
}

func TestRun_MaxPages(t *testing.T) {
	site := newFakeSite(25, 2)
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)
	cfg.MaxPages = 3

	o, err := New(cfg)
	require.NoError(t, err)
	rep, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, rep.PagesCrawled)
	assert.Equal(t, 6, rep.RecordsSaved)
	assert.Equal(t, 0, site.listingHits(4))
}

func TestRun_CrawlDelay(t *testing.T) {
	site := newFakeSite(3, 1)
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)
	cfg.CrawlDelay = 25 * time.Millisecond

	o, err := New(cfg)
	require.NoError(t, err)
	rep, err := o.Run(context.Background())
	require.NoError(t, err)

	// Four listing fetches, the first one immediate.
	assert.GreaterOrEqual(t, rep.Duration, 70*time.Millisecond)
}

func TestRun_DetailFailureKeepsListingData(t *testing.T) {
	site := newFakeSite(2, 2)
	site.missingDetail = map[string]bool{"p1-1": true}
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)

	o, err := New(cfg)
	require.NoError(t, err)
	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.DetailFailures)
	assert.Equal(t, 4, rep.RecordsSaved)

	recs, err := table.Read(cfg.OutputPath)
	require.NoError(t, err)
	rec := recordsByKey(t, recs)[paperKey(ts.URL, "p1-1")]
	assert.Equal(t, "Paper 1-1", rec.Title)
	assert.Empty(t, rec.Abstract)
	assert.True(t, strings.HasPrefix(rec.ScrapeError, "detail: "))
}

func TestRun_Downloads(t *testing.T) {
	site := newFakeSite(3, 2)
	site.missingFile = map[string]bool{"p2-1": true}
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)
	cfg.DownloadFiles = true

	o, err := New(cfg)
	require.NoError(t, err)
	rep, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Downloaded)
	assert.Equal(t, 1, rep.DownloadFailures)

	recs, err := table.Read(cfg.OutputPath)
	require.NoError(t, err)
	byKey := recordsByKey(t, recs)

	key := paperKey(ts.URL, "p1-0")
	got := byKey[key]
	assert.Equal(t, filepath.Join(cfg.DownloadDir, key+"-p1-0.pdf"), got.LocalFilePath)
	data, err := os.ReadFile(got.LocalFilePath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 p1-0", string(data))

	missing := byKey[paperKey(ts.URL, "p2-1")]
	assert.Empty(t, missing.LocalFilePath)
	assert.Contains(t, missing.ScrapeError, "download: ")
	assert.Equal(t, "Abstract of p2-1 on inflation dynamics.", missing.Abstract)
}

func TestDownloader_RetriesTruncatedAttachment(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 "))
		w.(http.Flusher).Flush()
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
			return
		}
		fmt.Fprint(w, "complete")
	}))
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	d := &Downloader{
		Fetcher: &HTTPFetcher{
			Client:  ts.Client(),
			Timeout: 100 * time.Millisecond,
			Policy:  httputil.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		},
		Dir: dir,
	}
	require.NoError(t, d.Prepare())

	dest, err := d.Download(context.Background(), "k1", ts.URL+"/files/a.pdf")
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 complete", string(data))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "partial files from the stalled attempt are removed")
}

func TestRun_UnwritableDownloadDir(t *testing.T) {
	site := newFakeSite(3, 2)
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.DownloadFiles = true
	cfg.DownloadDir = filepath.Join(blocker, "downloads")

	o, err := New(cfg)
	require.NoError(t, err)
	rep, err := o.Run(context.Background())

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StateFailed, rep.State)
	assert.Equal(t, 0, site.listingHits(1))
}

func TestRun_CancelAndResume(t *testing.T) {
	site := newFakeSite(25, 2)
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var armed atomic.Bool
	armed.Store(true)
	site.onListing = func(page int) {
		if page == 13 && armed.CompareAndSwap(true, false) {
			cancel()
		}
	}

	o, err := New(cfg)
	require.NoError(t, err)
	rep, err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, rep.State)
	assert.Equal(t, []int{10, 12}, rep.Checkpoints)
	assert.False(t, rep.OutputExists)

	recs, progress, ok, err := (&Checkpoint{Path: cfg.TempPath}).Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, recs, 24)
	assert.Equal(t, 13, progress.NextPage)

	o2, err := New(cfg)
	require.NoError(t, err)
	rep2, err := o2.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, rep2.Resumed)
	assert.Equal(t, 13, rep2.ResumedFromPage)
	assert.Equal(t, 13, rep2.PagesCrawled)
	assert.Equal(t, []int{20}, rep2.Checkpoints)
	assert.Equal(t, 50, rep2.RecordsSaved)
	assert.Equal(t, 1, site.listingHits(1), "completed pages are not fetched again")
	assert.Equal(t, 2, site.listingHits(13))

	out, err := table.Read(cfg.OutputPath)
	require.NoError(t, err)
	assert.Len(t, recordsByKey(t, out), 50)
	assert.False(t, table.Exists(cfg.TempPath))
}

func TestRun_ResumeAfterCrashMergesWithoutDuplicates(t *testing.T) {
	site := newFakeSite(25, 2)
	ts := startSite(t, site)
	cfg := testScrapeConfig(t, ts.URL)

	// A crash leaves a checkpoint for pages 1-10 next to an output from an
	// earlier run.
	var checkpointed []types.PaperRecord
	for p := 1; p <= 10; p++ {
		for i := 0; i < 2; i++ {
			rec := types.PaperRecord{
				Title: fmt.Sprintf("Paper %d-%d", p, i),
				Link:  fmt.Sprintf("%s/library/working-papers/2023/p%d-%d.html", ts.URL, p, i),
			}
			rec.EnsureKey()
			checkpointed = append(checkpointed, rec)
		}
	}
	require.NoError(t, (&Checkpoint{Path: cfg.TempPath}).Save(checkpointed, Progress{NextPage: 11, LastPage: 10}))

	earlier := []types.PaperRecord{
		{Title: "Old title", Link: ts.URL + "/library/working-papers/2023/p1-0.html", Abstract: "old"},
		{Title: "Unrelated Paper", Link: "https://example.gov/other.html"},
	}
	for i := range earlier {
		earlier[i].EnsureKey()
	}
	require.NoError(t, table.WriteAtomic(cfg.OutputPath, earlier))

	o, err := New(cfg)
	require.NoError(t, err)
	rep, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, rep.Resumed)
	assert.Equal(t, 11, rep.ResumedFromPage)
	assert.Equal(t, 0, site.listingHits(1))
	assert.Equal(t, 15, rep.PagesCrawled)
	assert.Equal(t, 51, rep.RecordsSaved)
	assert.Equal(t, 49, rep.NewRecords)

	out, err := table.Read(cfg.OutputPath)
	require.NoError(t, err)
	byKey := recordsByKey(t, out)
	assert.Len(t, byKey, 51)
	assert.Equal(t, "Paper 1-0", byKey[paperKey(ts.URL, "p1-0")].Title)
	assert.Equal(t, "old", byKey[paperKey(ts.URL, "p1-0")].Abstract)
}

func TestCheckpoint_MergeRefusesMalformedOutput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(output, []byte("not,a,paper,table\n\"unterminated"), 0o644))

	c := &Checkpoint{Path: filepath.Join(dir, "temp.csv")}
	_, _, err := c.Merge(output, []types.PaperRecord{{Title: "A", Link: "https://example.gov/a"}})

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unterminated", "malformed output is left untouched")
}

func TestCheckpoint_LoadWithoutSidecar(t *testing.T) {
	dir := t.TempDir()
	c := &Checkpoint{Path: filepath.Join(dir, "temp.csv")}

	_, _, ok, err := c.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, table.WriteAtomic(c.Path, []types.PaperRecord{{Title: "A", Link: "https://example.gov/a"}}))
	recs, p, ok, err := c.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, recs, 1)
	assert.Equal(t, 1, p.NextPage)

	require.NoError(t, c.clearLocked())
	_, _, ok, err = c.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpoint_LoadEmptyTable(t *testing.T) {
	c := &Checkpoint{Path: filepath.Join(t.TempDir(), "temp.csv")}
	require.NoError(t, c.Save(nil, Progress{NextPage: 4, LastPage: 3}))
	assert.False(t, table.Exists(c.Path), "header-only table has no rows")

	recs, p, ok, err := c.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, recs)
	assert.Equal(t, 4, p.NextPage)
}

func TestValidate(t *testing.T) {
	base := types.DefaultScrapeConfig()
	tests := []struct {
		name   string
		mutate func(*types.ScrapeConfig)
	}{
		{"zero save interval", func(c *types.ScrapeConfig) { c.SaveInterval = 0 }},
		{"zero retry attempts", func(c *types.ScrapeConfig) { c.RetryAttempts = 0 }},
		{"no output", func(c *types.ScrapeConfig) { c.OutputPath = "" }},
		{"no temp", func(c *types.ScrapeConfig) { c.TempPath = "" }},
		{"same output and temp", func(c *types.ScrapeConfig) { c.TempPath = c.OutputPath }},
		{"downloads without dir", func(c *types.ScrapeConfig) { c.DownloadFiles = true; c.DownloadDir = "" }},
		{"no listing url", func(c *types.ScrapeConfig) { c.Source.ListingURL = "" }},
		{"negative max pages", func(c *types.ScrapeConfig) { c.MaxPages = -1 }},
	}

	require.NoError(t, Validate(base))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.ErrorIs(t, Validate(cfg), ErrInvalidConfig)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
