// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paper-search/internal/table"
	"github.com/pdiddy/paper-search/pkg/types"
)

// Progress is the crawl position stored next to the checkpoint table.
type Progress struct {
	NextPage    int           `yaml:"next_page"`
	LastPage    int           `yaml:"last_page"`
	Records     int           `yaml:"records"`
	FailedPages []PageFailure `yaml:"failed_pages,omitempty"`
	SavedAt     time.Time     `yaml:"saved_at"`
}

// Checkpoint owns the temp table and its progress sidecar. All writes to
// the checkpoint and to the final output go through its mutex.
type Checkpoint struct {
	Path string
	mu   sync.Mutex
}

// ProgressPath returns the sidecar path.
func (c *Checkpoint) ProgressPath() string {
	return c.Path + ".progress.yaml"
}

// Save replaces the checkpoint with recs, then the sidecar with p. Both
// writes are atomic; a crash between them leaves a table whose sidecar
// points at an earlier page, and resuming from there only re-crawls pages
// whose records dedup by key.
func (c *Checkpoint) Save(recs []types.PaperRecord, p Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := table.WriteAtomic(c.Path, recs); err != nil {
		return &PersistenceError{Op: "writing checkpoint", Path: c.Path, Err: err}
	}

	p.Records = len(recs)
	p.SavedAt = time.Now().UTC()
	data, err := yaml.Marshal(&p)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}
	if err := writeFileAtomic(c.ProgressPath(), data); err != nil {
		return &PersistenceError{Op: "writing checkpoint progress", Path: c.ProgressPath(), Err: err}
	}
	return nil
}

// Load returns the checkpointed records and progress. ok is false when
// there is no checkpoint file. A table with no rows is still a checkpoint,
// so a crawl whose early pages yielded nothing resumes where it stopped. A
// table without a sidecar resumes from page 1.
func (c *Checkpoint) Load() (recs []types.PaperRecord, p Progress, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.Path)
	switch {
	case os.IsNotExist(err):
		return nil, Progress{}, false, nil
	case err != nil:
		return nil, Progress{}, false, fmt.Errorf("reading checkpoint %s: %w", c.Path, err)
	case info.IsDir():
		return nil, Progress{}, false, fmt.Errorf("reading checkpoint %s: is a directory", c.Path)
	}
	recs, err = table.Read(c.Path)
	if err != nil {
		return nil, Progress{}, false, fmt.Errorf("reading checkpoint %s: %w", c.Path, err)
	}

	p = Progress{NextPage: 1}
	data, err := os.ReadFile(c.ProgressPath())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &p); err != nil || p.NextPage < 1 {
			p = Progress{NextPage: 1}
		}
	case !os.IsNotExist(err):
		return nil, Progress{}, false, fmt.Errorf("reading checkpoint progress: %w", err)
	}
	return recs, p, true, nil
}

// Merge folds recs into the table at output and clears the checkpoint.
// It returns the number of rows written and how many of them are new.
func (c *Checkpoint) Merge(output string, recs []types.PaperRecord) (saved, added int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := table.Read(output)
	if err != nil && !os.IsNotExist(err) {
		return 0, 0, &PersistenceError{Op: "reading output", Path: output, Err: err}
	}

	acc := table.NewAccumulator(existing...)
	before := acc.Len()
	acc.Add(recs...)
	merged := acc.Records()

	if len(merged) > 0 {
		if err := table.WriteAtomic(output, merged); err != nil {
			return 0, 0, &PersistenceError{Op: "writing output", Path: output, Err: err}
		}
	}

	return len(merged), acc.Len() - before, c.clearLocked()
}

func (c *Checkpoint) clearLocked() error {
	for _, p := range []string{c.Path, c.ProgressPath()} {
		if err := table.Remove(p); err != nil {
			return &PersistenceError{Op: "clearing checkpoint", Path: p, Err: err}
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		os.Remove(tmpPath)
	}
	return err
}
