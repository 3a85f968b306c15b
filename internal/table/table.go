// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package table reads and writes the tabular artifacts that hold paper
// records: the permanent scrape output and the checkpoint file. Both use
// the same CSV row schema.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdiddy/paper-search/pkg/types"
)

// Column names, in write order. The names after Key match the columns
// written by earlier versions of the scraper so old files stay loadable.
const (
	colKey            = "Key"
	colTitle          = "Title"
	colLink           = "Link"
	colAuthors        = "Authors"
	colDate           = "Date Published"
	colAbstract       = "Abstract"
	colDownloadLinks  = "Download Links"
	colLocalFilePath  = "Local File Path"
	colFilesCount     = "Files Count"
	colDownloadErrors = "Download Errors"
)

var header = []string{
	colKey, colTitle, colLink, colAuthors, colDate, colAbstract,
	colDownloadLinks, colLocalFilePath, colFilesCount, colDownloadErrors,
}

// columnAliases maps legacy column names onto current ones.
var columnAliases = map[string]string{
	"Downloaded Files": colLocalFilePath,
}

const linksDelimiter = "; "

// ErrMalformed reports a file that exists but is not a valid record table.
var ErrMalformed = errors.New("malformed record table")

// Read loads all records from path. A missing file returns an error
// satisfying os.IsNotExist. Rows without a Key column value get one
// derived from their fields.
func Read(path string) ([]types.PaperRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses records from r.
func Decode(r io.Reader) ([]types.PaperRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrMalformed, err)
	}

	cols := make(map[string]int, len(head))
	for i, name := range head {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if alias, ok := columnAliases[name]; ok {
			if _, taken := cols[alias]; taken {
				continue
			}
			name = alias
		}
		cols[name] = i
	}
	if _, ok := cols[colTitle]; !ok {
		return nil, fmt.Errorf("%w: missing %q column", ErrMalformed, colTitle)
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var recs []types.PaperRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}

		rec := types.PaperRecord{
			Key:           field(row, colKey),
			Title:         field(row, colTitle),
			Link:          field(row, colLink),
			Authors:       types.SplitAuthors(field(row, colAuthors)),
			Date:          types.ParseDate(field(row, colDate)),
			Abstract:      field(row, colAbstract),
			LocalFilePath: field(row, colLocalFilePath),
			ScrapeError:   field(row, colDownloadErrors),
		}
		if links := field(row, colDownloadLinks); links != "" {
			for _, l := range strings.Split(links, ";") {
				if l = strings.TrimSpace(l); l != "" {
					rec.DownloadLinks = append(rec.DownloadLinks, l)
				}
			}
		}
		rec.EnsureKey()
		recs = append(recs, rec)
	}
	return recs, nil
}

// Encode writes records to w with a header row.
func Encode(w io.Writer, recs []types.PaperRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.Key,
			r.Title,
			r.Link,
			r.AuthorsString(),
			r.DateString(),
			r.Abstract,
			strings.Join(r.DownloadLinks, linksDelimiter),
			r.LocalFilePath,
			strconv.Itoa(len(r.DownloadLinks)),
			r.ScrapeError,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAtomic replaces path with the given records. The data is written
// to a temporary file in the same directory, synced, and renamed over
// path, so readers see either the old file or the complete new one.
func WriteAtomic(path string, recs []types.PaperRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	writeErr := Encode(tmp, recs)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", path, writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Exists reports whether path is a readable table with at least one
// data row.
func Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false
	}
	recs, err := Read(path)
	return err == nil && len(recs) > 0
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
