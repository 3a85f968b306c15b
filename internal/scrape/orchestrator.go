// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scrape crawls a paper listing, extracts records from each
// paper's page, optionally downloads attachments, and checkpoints progress
// so an interrupted crawl resumes where it stopped.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pdiddy/paper-search/internal/httputil"
	"github.com/pdiddy/paper-search/internal/table"
	"github.com/pdiddy/paper-search/pkg/types"
)

// ErrInvalidConfig is returned by Validate and New for unusable settings.
var ErrInvalidConfig = errors.New("invalid scrape configuration")

// State is the orchestrator's position in a run.
type State int32

const (
	StateIdle State = iota
	StateCrawling
	StateCheckpointWritten
	StateMerging
	StateDone
	StateFailed
	StateCancelled
)

var stateNames = [...]string{"idle", "crawling", "checkpoint_written", "merging", "done", "failed", "cancelled"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText renders the state name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Kinds of page failure.
const (
	FailureFetch = "fetch"
	FailureParse = "parse"
)

// PageFailure records a listing page that was skipped.
type PageFailure struct {
	Page   int    `json:"page" yaml:"page"`
	Kind   string `json:"kind" yaml:"kind"`
	Reason string `json:"reason" yaml:"reason"`
}

// Report summarises one run.
type Report struct {
	State            State         `json:"state"`
	PagesCrawled     int           `json:"pages_crawled"`
	RecordsFound     int           `json:"records_found"`
	RecordsSaved     int           `json:"records_saved"`
	NewRecords       int           `json:"new_records"`
	FailedPages      []PageFailure `json:"failed_pages"`
	DetailFailures   int           `json:"detail_failures"`
	Downloaded       int           `json:"downloaded"`
	DownloadFailures int           `json:"download_failures"`
	Checkpoints      []int         `json:"checkpoints"`
	Resumed          bool          `json:"resumed"`
	ResumedFromPage  int           `json:"resumed_from_page,omitempty"`
	StopReason       string        `json:"stop_reason,omitempty"`
	OutputPath       string        `json:"output_path"`
	OutputExists     bool          `json:"output_exists"`
	Duration         time.Duration `json:"duration"`
}

// FailedPageNumbers returns the skipped page numbers in ascending order.
func (r *Report) FailedPageNumbers() []int {
	pages := make([]int, 0, len(r.FailedPages))
	for _, f := range r.FailedPages {
		pages = append(pages, f.Page)
	}
	sort.Ints(pages)
	return pages
}

// Summary renders the report for the progress log.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scrape %s: %d pages crawled, %d records found, %d saved to %s (%d new)",
		r.State, r.PagesCrawled, r.RecordsFound, r.RecordsSaved, r.OutputPath, r.NewRecords)
	if len(r.FailedPages) > 0 {
		nums := r.FailedPageNumbers()
		parts := make([]string, len(nums))
		for i, n := range nums {
			parts[i] = fmt.Sprint(n)
		}
		fmt.Fprintf(&b, "\nFailed pages: %s", strings.Join(parts, ", "))
	}
	if r.DetailFailures > 0 {
		fmt.Fprintf(&b, "\nDetail page failures: %d", r.DetailFailures)
	}
	if r.Downloaded > 0 || r.DownloadFailures > 0 {
		fmt.Fprintf(&b, "\nAttachments: %d downloaded, %d failed", r.Downloaded, r.DownloadFailures)
	}
	if r.StopReason != "" {
		fmt.Fprintf(&b, "\nStopped early: %s", r.StopReason)
	}
	if r.OutputExists {
		fmt.Fprintf(&b, "\nOutput %s found", r.OutputPath)
	} else {
		fmt.Fprintf(&b, "\nOutput %s not found", r.OutputPath)
	}
	return b.String()
}

// Validate checks a scrape configuration before any work begins.
func Validate(cfg types.ScrapeConfig) error {
	switch {
	case cfg.SaveInterval < 1:
		return fmt.Errorf("%w: save_interval must be positive, got %d", ErrInvalidConfig, cfg.SaveInterval)
	case cfg.RetryAttempts < 1:
		return fmt.Errorf("%w: retry_attempts must be positive, got %d", ErrInvalidConfig, cfg.RetryAttempts)
	case cfg.OutputPath == "":
		return fmt.Errorf("%w: output_csv is required", ErrInvalidConfig)
	case cfg.TempPath == "":
		return fmt.Errorf("%w: temp_csv is required", ErrInvalidConfig)
	case cfg.OutputPath == cfg.TempPath:
		return fmt.Errorf("%w: output_csv and temp_csv must differ", ErrInvalidConfig)
	case cfg.DownloadFiles && cfg.DownloadDir == "":
		return fmt.Errorf("%w: download_dir is required when download_files is set", ErrInvalidConfig)
	case cfg.Source.ListingURL == "":
		return fmt.Errorf("%w: source listing_url is required", ErrInvalidConfig)
	case cfg.MaxPages < 0:
		return fmt.Errorf("%w: max_pages must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(o *Orchestrator) { o.fetcher = f }
}

// WithPaginator replaces the listing paginator.
func WithPaginator(p Paginator) Option {
	return func(o *Orchestrator) { o.pages = p }
}

// WithOutput sets the progress and warning writers. A nil writer keeps
// the default, which discards.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *Orchestrator) {
		if stdout != nil {
			o.stdout = stdout
		}
		if stderr != nil {
			o.stderr = stderr
		}
	}
}

// WithHTTPClient sets the client used by the default fetcher.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.client = c }
}

// Orchestrator runs crawls. A value runs one crawl at a time.
type Orchestrator struct {
	cfg        types.ScrapeConfig
	client     *http.Client
	fetcher    Fetcher
	pages      Paginator
	stdout     io.Writer
	stderr     io.Writer
	checkpoint *Checkpoint
	state      atomic.Int32
	running    sync.Mutex
}

// New validates cfg and returns an idle orchestrator.
func New(cfg types.ScrapeConfig, opts ...Option) (*Orchestrator, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	o := &Orchestrator{
		cfg:        cfg,
		stdout:     io.Discard,
		stderr:     io.Discard,
		checkpoint: &Checkpoint{Path: cfg.TempPath},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.stdout = &lockedWriter{w: o.stdout}
	o.stderr = &lockedWriter{w: o.stderr}

	if o.fetcher == nil {
		client := o.client
		if client == nil {
			client = &http.Client{}
		}
		o.fetcher = &HTTPFetcher{
			Client:    client,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.Timeout,
			Policy:    o.policy(),
		}
	}
	if o.pages == nil {
		o.pages = QueryPaginator{Template: cfg.Source.ListingURL}
	}
	return o, nil
}

// policy is the retry policy for every page and attachment fetch.
func (o *Orchestrator) policy() httputil.Policy {
	return httputil.Policy{
		MaxAttempts: o.cfg.RetryAttempts,
		BaseDelay:   o.cfg.RetryBaseDelay,
		MaxDelay:    30 * time.Second,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			fmt.Fprintf(o.stderr, "warning: attempt %d/%d failed: %v (retrying in %s)\n",
				attempt, o.cfg.RetryAttempts, err, wait)
		},
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	old := State(o.state.Swap(int32(s)))
	if old != s {
		fmt.Fprintf(o.stdout, "state: %s -> %s\n", old, s)
	}
}

// Run crawls the listing until it runs out of pages, MaxPages is reached,
// or too many consecutive pages fail, then merges the records into the
// output table. Failed pages are skipped and reported. On cancellation, or
// when the deadline leaves no room for the next crawl-delay slot, it writes
// a final checkpoint and returns an error wrapping context.Canceled or
// context.DeadlineExceeded. A *PersistenceError
// aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.running.Lock()
	defer o.running.Unlock()

	start := time.Now()
	rep := &Report{OutputPath: o.cfg.OutputPath}
	acc := table.NewAccumulator()
	defer func() {
		rep.State = o.State()
		rep.RecordsFound = acc.Len()
		rep.OutputExists = table.Exists(o.cfg.OutputPath)
		rep.Duration = time.Since(start)
	}()

	o.state.Store(int32(StateIdle))
	o.setState(StateCrawling)

	var dl *Downloader
	if o.cfg.DownloadFiles {
		dl = &Downloader{Fetcher: o.fetcher, Dir: o.cfg.DownloadDir}
		if err := dl.Prepare(); err != nil {
			return o.fail(rep, err)
		}
	}

	page := 1
	prior, progress, ok, err := o.checkpoint.Load()
	switch {
	case err != nil:
		fmt.Fprintf(o.stderr, "warning: ignoring unreadable checkpoint: %v\n", err)
	case ok:
		acc.Add(prior...)
		page = progress.NextPage
		rep.FailedPages = append(rep.FailedPages, progress.FailedPages...)
		rep.Resumed = true
		rep.ResumedFromPage = page
		fmt.Fprintf(o.stdout, "Resuming from %s: %d records, next page %d\n", o.checkpoint.Path, len(prior), page)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if o.cfg.CrawlDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(o.cfg.CrawlDelay), 1)
	}

	consecutive := 0
	for ; o.cfg.MaxPages == 0 || page <= o.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			return o.cancel(rep, acc, page, ctx.Err())
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// The deadline falls before the next crawl-delay slot.
				err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			} else {
				err = ctx.Err()
			}
			return o.cancel(rep, acc, page, err)
		}

		fmt.Fprintf(o.stdout, "Scraping page %d...\n", page)
		res, err := o.crawlPage(ctx, page, dl)
		if ctx.Err() != nil {
			return o.cancel(rep, acc, page, ctx.Err())
		}
		if err != nil {
			return o.fail(rep, err)
		}
		if res.empty {
			fmt.Fprintf(o.stdout, "No more pages to scrape.\n")
			break
		}

		rep.PagesCrawled++
		rep.DetailFailures += res.detailFailures
		rep.Downloaded += res.downloaded
		rep.DownloadFailures += res.downloadFailures
		if res.failure != nil {
			rep.FailedPages = append(rep.FailedPages, *res.failure)
			fmt.Fprintf(o.stderr, "warning: skipping page %d (%s): %s\n", page, res.failure.Kind, res.failure.Reason)
		} else {
			added := acc.Add(res.records...)
			fmt.Fprintf(o.stdout, "Page %d: %d entries, %d new records\n", page, len(res.records), added)
		}

		if page%o.cfg.SaveInterval == 0 {
			if err := o.saveCheckpoint(rep, acc, page+1); err != nil {
				return o.fail(rep, err)
			}
			o.setState(StateCrawling)
		}

		if res.failure != nil {
			consecutive++
		} else {
			consecutive = 0
		}
		if o.cfg.MaxConsecutiveFailures > 0 && consecutive >= o.cfg.MaxConsecutiveFailures {
			rep.StopReason = fmt.Sprintf("%d consecutive pages failed", consecutive)
			fmt.Fprintf(o.stderr, "warning: stopping crawl: %s\n", rep.StopReason)
			break
		}
	}

	o.setState(StateMerging)
	saved, added, err := o.checkpoint.Merge(o.cfg.OutputPath, acc.Records())
	if err != nil {
		return o.fail(rep, err)
	}
	rep.RecordsSaved = saved
	rep.NewRecords = added
	o.setState(StateDone)

	rep.State = StateDone
	rep.RecordsFound = acc.Len()
	rep.OutputExists = table.Exists(o.cfg.OutputPath)
	fmt.Fprintln(o.stdout, rep.Summary())
	return rep, nil
}

func (o *Orchestrator) saveCheckpoint(rep *Report, acc *table.Accumulator, nextPage int) error {
	p := Progress{NextPage: nextPage, LastPage: nextPage - 1, FailedPages: rep.FailedPages}
	if err := o.checkpoint.Save(acc.Records(), p); err != nil {
		return err
	}
	rep.Checkpoints = append(rep.Checkpoints, nextPage-1)
	o.setState(StateCheckpointWritten)
	fmt.Fprintf(o.stdout, "Progress saved to %s (%d records through page %d)\n", o.checkpoint.Path, acc.Len(), nextPage-1)
	return nil
}

// cancel flushes the records gathered so far and returns cause, which is
// never nil. page was not completed and is where a resumed run starts.
func (o *Orchestrator) cancel(rep *Report, acc *table.Accumulator, page int, cause error) (*Report, error) {
	fmt.Fprintf(o.stderr, "Scrape cancelled before page %d completed: %v\n", page, cause)
	if acc.Len() > 0 || page > 1 {
		if err := o.saveCheckpoint(rep, acc, page); err != nil {
			return o.fail(rep, err)
		}
	}
	o.setState(StateCancelled)
	return rep, cause
}

func (o *Orchestrator) fail(rep *Report, err error) (*Report, error) {
	fmt.Fprintf(o.stderr, "Scrape failed: %v\n", err)
	o.setState(StateFailed)
	return rep, err
}

type pageResult struct {
	records          []types.PaperRecord
	failure          *PageFailure
	empty            bool
	detailFailures   int
	downloaded       int
	downloadFailures int
}

// crawlPage fetches and parses one listing page, then scrapes every entry
// on a bounded pool of workers. Only persistence failures and
// cancellation are returned as errors.
func (o *Orchestrator) crawlPage(ctx context.Context, page int, dl *Downloader) (pageResult, error) {
	var res pageResult
	pageURL := o.pages.PageURL(page)

	body, err := o.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.failure = &PageFailure{Page: page, Kind: FailureFetch, Reason: err.Error()}
		return res, nil
	}
	entries, err := ParseListing(bytes.NewReader(body), pageURL, o.cfg.Source)
	if err != nil {
		res.failure = &PageFailure{Page: page, Kind: FailureParse, Reason: err.Error()}
		return res, nil
	}
	if len(entries) == 0 {
		res.empty = true
		return res, nil
	}

	recs := make([]types.PaperRecord, len(entries))
	stats := make([]entryStats, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			var err error
			recs[i], stats[i], err = o.scrapeEntry(gctx, e, dl)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.records = recs
	for _, s := range stats {
		if s.detailFailed {
			res.detailFailures++
		}
		res.downloaded += s.downloaded
		res.downloadFailures += s.downloadFailures
	}
	return res, nil
}

type entryStats struct {
	detailFailed     bool
	downloaded       int
	downloadFailures int
}

// scrapeEntry builds the record for one listing entry. A failed detail
// page keeps the listing title and link; failed downloads leave
// LocalFilePath empty. Both are noted in ScrapeError.
func (o *Orchestrator) scrapeEntry(ctx context.Context, e ListingEntry, dl *Downloader) (types.PaperRecord, entryStats, error) {
	var st entryStats
	rec := types.PaperRecord{Title: e.Title, Link: e.Link}
	rec.EnsureKey()
	var problems []string

	body, err := o.fetcher.Fetch(ctx, e.Link)
	if err != nil {
		if ctx.Err() != nil {
			return rec, st, ctx.Err()
		}
		st.detailFailed = true
		fmt.Fprintf(o.stderr, "warning: detail page %s: %v\n", e.Link, err)
		rec.ScrapeError = "detail: " + err.Error()
		return rec, st, nil
	}
	d, err := ParseDetail(bytes.NewReader(body), e.Link, o.cfg.Source)
	if err != nil {
		st.detailFailed = true
		fmt.Fprintf(o.stderr, "warning: %v\n", err)
		problems = append(problems, "detail: "+err.Error())
	}

	if d.Title != "" {
		rec.Title = d.Title
	}
	rec.Date = d.Date
	rec.Authors = d.Authors
	rec.Abstract = d.Abstract
	rec.DownloadLinks = d.Attachments

	if dl != nil {
		for _, link := range d.Attachments {
			path, err := dl.Download(ctx, rec.Key, link)
			if err != nil {
				var pe *PersistenceError
				if errors.As(err, &pe) || ctx.Err() != nil {
					return rec, st, err
				}
				st.downloadFailures++
				fmt.Fprintf(o.stderr, "warning: download %s: %v\n", link, err)
				problems = append(problems, "download: "+err.Error())
				continue
			}
			st.downloaded++
			if rec.LocalFilePath == "" {
				rec.LocalFilePath = path
			}
		}
	}

	rec.ScrapeError = strings.Join(problems, "; ")
	return rec, st, nil
}

// lockedWriter serialises writes from concurrent workers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
