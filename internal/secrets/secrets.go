// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files.
// The filename is the key name and the trimmed file contents are the value.
//
// Recognised keys: embedding-api-key (bearer token for the remote
// embedding provider).
package secrets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/paper-search/pkg/types"
)

// EmbeddingAPIKey names the file holding the embedding provider token.
const EmbeddingAPIKey = "embedding-api-key"

// Load reads every regular, non-hidden file in dir. A missing directory
// yields an empty map. Unreadable files are reported on warn and skipped.
func Load(dir string, warn io.Writer) (map[string]string, error) {
	if warn == nil {
		warn = io.Discard
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	found := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(warn, "warning: could not read secret %s: %v\n", name, err)
			continue
		}
		if value := strings.TrimSpace(string(data)); value != "" {
			found[name] = value
		}
	}
	return found, nil
}

// Apply copies known secrets into cfg. Values already set in cfg, from the
// config file or the environment, win.
func Apply(cfg *types.ServiceConfig, found map[string]string) {
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = found[EmbeddingAPIKey]
	}
}
