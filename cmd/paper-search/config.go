// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paper-search/internal/embedding"
	"github.com/pdiddy/paper-search/internal/secrets"
	"github.com/pdiddy/paper-search/internal/service"
	"github.com/pdiddy/paper-search/internal/store"
	"github.com/pdiddy/paper-search/pkg/types"
)

// bindFlag binds a flag to a viper key. Flags are registered at init so a
// failure is a programming error.
func bindFlag(key string, f *pflag.Flag) {
	if err := viper.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", f.Name, err))
	}
}

// registerDefaults registers every key of DefaultServiceConfig with v so
// environment variables can override keys absent from the config file.
func registerDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(types.DefaultServiceConfig())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decoding default config: %w", err)
	}
	for key, value := range flatten("", tree) {
		v.SetDefault(key, value)
	}
	// Omitted from the encoding when empty.
	v.SetDefault("embedding.api_key", "")
	return nil
}

func flatten(prefix string, tree map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// loadConfig decodes the merged configuration over the defaults and fills
// credentials from the secrets directory.
func loadConfig(v *viper.Viper) (types.ServiceConfig, error) {
	cfg := types.DefaultServiceConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	secrets.Apply(&cfg, loadedSecrets)
	return cfg, nil
}

// openService builds the store, provider and service described by cfg.
// The returned close function releases the store.
func openService(ctx context.Context, cfg types.ServiceConfig, progress io.Writer) (*service.Service, func(), error) {
	provider, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	svc := service.New(cfg, st, provider, service.WithProgress(progress))
	return svc, func() { st.Close() }, nil
}
