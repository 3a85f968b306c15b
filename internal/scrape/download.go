// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
)

// PersistenceError reports a failure to write local state: the download
// directory, an attachment file, the checkpoint, or the output. It aborts
// the crawl; the last good checkpoint stays on disk.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// unsafeFilename matches characters not allowed in attachment file names.
var unsafeFilename = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// AttachmentName returns the deterministic file name of an attachment:
// the record key, a dash, and the sanitised base name of the URL path.
func AttachmentName(key, rawURL string) string {
	base := "attachment"
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "." && b != "/" {
			base = b
		}
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return key + "-" + unsafeFilename.ReplaceAllString(base, "_")
}

// Downloader saves attachments into Dir.
type Downloader struct {
	Fetcher Fetcher
	Dir     string
}

// Prepare creates the download directory.
func (d *Downloader) Prepare() error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return &PersistenceError{Op: "creating download directory", Path: d.Dir, Err: err}
	}
	return nil
}

// Download fetches rawURL into Dir under AttachmentName(key, rawURL) and
// returns the path. A file already present from an earlier run is reused.
// Fetch failures, including bodies that break off mid-transfer after
// every retry, are returned as-is; local write failures are
// *PersistenceError.
func (d *Downloader) Download(ctx context.Context, key, rawURL string) (string, error) {
	dest := filepath.Join(d.Dir, AttachmentName(key, rawURL))
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return dest, nil
	}

	// Each attempt streams into a fresh temp file; a failed attempt's
	// partial file is removed before the retry.
	var tmpPath string
	err := d.Fetcher.Stream(ctx, rawURL, func(body io.Reader) error {
		tmpFile, err := os.CreateTemp(d.Dir, ".download-*.tmp")
		if err != nil {
			return &PersistenceError{Op: "creating temp file in", Path: d.Dir, Err: err}
		}
		_, copyErr := io.Copy(tmpFile, body)
		closeErr := tmpFile.Close()
		if copyErr != nil {
			os.Remove(tmpFile.Name())
			var pathErr *os.PathError
			if errors.As(copyErr, &pathErr) {
				return &PersistenceError{Op: "writing", Path: dest, Err: copyErr}
			}
			return copyErr
		}
		if closeErr != nil {
			os.Remove(tmpFile.Name())
			return &PersistenceError{Op: "closing", Path: tmpFile.Name(), Err: closeErr}
		}
		tmpPath = tmpFile.Name()
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", &PersistenceError{Op: "renaming", Path: dest, Err: err}
	}
	return dest, nil
}
