// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package index builds, persists, and publishes the embedding matrix used
// by semantic search. Row i of the matrix embeds the record whose key is
// Keys[i].
package index

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paper-search/internal/embedding"
	"github.com/pdiddy/paper-search/pkg/types"
)

// Errors returned by index operations.
var (
	ErrNotFound      = errors.New("embedding index not found")
	ErrCorrupt       = errors.New("embedding index is corrupt")
	ErrModelMismatch = errors.New("embedding index built with a different model")
)

const (
	// EmbeddingsFile holds the gob-encoded Index.
	EmbeddingsFile = "embeddings.gob"

	// ManifestFile describes the index in human-readable form.
	ManifestFile = "manifest.yaml"

	// CurrentVersion is the on-disk format version.
	CurrentVersion = 1
)

// Index is an embedding matrix aligned with record keys. Vectors are unit
// length, except zero rows for records without embeddable text.
type Index struct {
	Version   int
	Model     string
	Dims      int
	Keys      []string
	Vectors   [][]float32
	CreatedAt time.Time

	// Fingerprint digests the embedded text of every row. Indexes saved
	// before it existed decode with it empty.
	Fingerprint string

	// Empty counts zero rows.
	Empty int
}

// Rows returns the number of rows.
func (idx *Index) Rows() int {
	if idx == nil {
		return 0
	}
	return len(idx.Keys)
}

// Shape returns [rows, dims].
func (idx *Index) Shape() [2]int {
	if idx == nil {
		return [2]int{}
	}
	return [2]int{len(idx.Keys), idx.Dims}
}

// CheckModel returns ErrModelMismatch when the index was built with a
// model other than model.
func (idx *Index) CheckModel(model string) error {
	if idx.Model != model {
		return fmt.Errorf("%w: index has %q, provider is %q", ErrModelMismatch, idx.Model, model)
	}
	return nil
}

// Covers reports whether the index rows are exactly keys, in order.
func (idx *Index) Covers(keys []string) bool {
	if idx.Rows() != len(keys) {
		return false
	}
	for i, k := range keys {
		if idx.Keys[i] != k {
			return false
		}
	}
	return true
}

// Fingerprint digests the keys and embedded text of recs, in order. An
// index whose keys still match its records is stale when this differs.
func Fingerprint(recs []types.PaperRecord) string {
	h := sha256.New()
	for _, rec := range recs {
		rec.EnsureKey()
		io.WriteString(h, rec.Key)
		h.Write([]byte{0})
		io.WriteString(h, embedding.RecordText(rec))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ProgressFunc receives build progress.
type ProgressFunc func(current, total int)

// Build embeds every record with provider. The result has one row per
// record, in record order. It reads nothing shared and publishes nothing,
// so a failed or cancelled build leaves the live index untouched.
func Build(ctx context.Context, provider embedding.Provider, recs []types.PaperRecord, progress ProgressFunc) (*Index, error) {
	idx := &Index{
		Version:   CurrentVersion,
		Model:     provider.ModelName(),
		Dims:      provider.Dimensions(),
		Keys:      make([]string, 0, len(recs)),
		Vectors:   make([][]float32, 0, len(recs)),
		CreatedAt: time.Now().UTC(),
	}
	seen := make(map[string]bool, len(recs))

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec.EnsureKey()
		if seen[rec.Key] {
			return nil, fmt.Errorf("duplicate record key %s", rec.Key)
		}
		seen[rec.Key] = true

		emb, err := provider.Embed(ctx, embedding.RecordText(rec))
		switch {
		case errors.Is(err, embedding.ErrEmptyText):
			emb.Vector = make([]float32, idx.Dims)
			idx.Empty++
		case err != nil:
			return nil, fmt.Errorf("embedding %s: %w", rec.Key, err)
		case len(emb.Vector) != idx.Dims:
			return nil, fmt.Errorf("embedding %s: got %d dimensions, want %d", rec.Key, len(emb.Vector), idx.Dims)
		}

		idx.Keys = append(idx.Keys, rec.Key)
		idx.Vectors = append(idx.Vectors, emb.Vector)

		if progress != nil {
			progress(i+1, len(recs))
		}
	}
	idx.Fingerprint = Fingerprint(recs)
	return idx, nil
}

// Manifest is the human-readable description written next to the matrix.
type Manifest struct {
	Version     int       `yaml:"version"`
	Model       string    `yaml:"model"`
	Dims        int       `yaml:"dims"`
	Rows        int       `yaml:"rows"`
	Empty       int       `yaml:"empty_rows"`
	Fingerprint string    `yaml:"fingerprint"`
	CreatedAt   time.Time `yaml:"created_at"`
	FileBytes   int64     `yaml:"file_bytes"`
}

// Save writes the index to dir. Each file is written to a temp file and
// renamed, so readers never observe a partial index.
func (idx *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	path := filepath.Join(dir, EmbeddingsFile)
	if err := writeAtomic(path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(idx)
	}); err != nil {
		return fmt.Errorf("writing embeddings: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat embeddings: %w", err)
	}
	m := Manifest{
		Version:     idx.Version,
		Model:       idx.Model,
		Dims:        idx.Dims,
		Rows:        idx.Rows(),
		Empty:       idx.Empty,
		Fingerprint: idx.Fingerprint,
		CreatedAt:   idx.CreatedAt,
		FileBytes:   info.Size(),
	}
	if err := writeAtomic(filepath.Join(dir, ManifestFile), func(w io.Writer) error {
		return yaml.NewEncoder(w).Encode(&m)
	}); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Load reads and validates the index in dir. A missing matrix returns
// ErrNotFound; anything unreadable or inconsistent returns ErrCorrupt.
func Load(dir string) (*Index, error) {
	f, err := os.Open(filepath.Join(dir, EmbeddingsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()

	var idx Index
	if err := gob.NewDecoder(f).Decode(&idx); err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrCorrupt, err)
	}
	if err := idx.validate(); err != nil {
		return nil, err
	}
	return &idx, nil
}

// LoadManifest reads the manifest in dir. It is small, so callers can
// rule out a stale index without decoding the matrix.
func LoadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return m, ErrNotFound
		}
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	return m, nil
}

// FileSize returns the size of the persisted matrix in bytes.
func FileSize(dir string) (int64, error) {
	info, err := os.Stat(filepath.Join(dir, EmbeddingsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}

func (idx *Index) validate() error {
	if idx.Version != CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, idx.Version)
	}
	if idx.Dims <= 0 {
		return fmt.Errorf("%w: invalid dimensions %d", ErrCorrupt, idx.Dims)
	}
	if len(idx.Keys) != len(idx.Vectors) {
		return fmt.Errorf("%w: %d keys but %d rows", ErrCorrupt, len(idx.Keys), len(idx.Vectors))
	}
	seen := make(map[string]bool, len(idx.Keys))
	for i, k := range idx.Keys {
		if seen[k] {
			return fmt.Errorf("%w: duplicate key %s", ErrCorrupt, k)
		}
		seen[k] = true
		if len(idx.Vectors[i]) != idx.Dims {
			// A zero-length row decodes as a zero row.
			if len(idx.Vectors[i]) == 0 {
				idx.Vectors[i] = make([]float32, idx.Dims)
				continue
			}
			return fmt.Errorf("%w: row %d has %d dimensions, want %d", ErrCorrupt, i, len(idx.Vectors[i]), idx.Dims)
		}
	}
	return nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	err = write(tmp)
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
