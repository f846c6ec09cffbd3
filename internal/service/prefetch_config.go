package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"blobxfer/internal/store"
)

const configKeyPrefetch = "prefetch"

// PrefetchConfig is the database-backed prefetch worker configuration.
type PrefetchConfig struct {
	Enabled     bool   `json:"enabled"`
	IntervalStr string `json:"interval"`
	DelayStr    string `json:"delay"`
	PageSize    int    `json:"page_size"`
	Concurrency int    `json:"concurrency"`
}

func DefaultPrefetchConfig() PrefetchConfig {
	return PrefetchConfig{
		Enabled:     false,
		IntervalStr: "10m",
		DelayStr:    "30s",
		PageSize:    100,
		Concurrency: 4,
	}
}

func (c PrefetchConfig) Interval() time.Duration {
	d, err := time.ParseDuration(c.IntervalStr)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func (c PrefetchConfig) Delay() time.Duration {
	d, err := time.ParseDuration(c.DelayStr)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func (c PrefetchConfig) PageSizeOrDefault() int {
	if c.PageSize <= 0 {
		return 100
	}
	return c.PageSize
}

func (c PrefetchConfig) ConcurrencyOrDefault() int {
	if c.Concurrency <= 0 {
		return 4
	}
	return c.Concurrency
}

func (c PrefetchConfig) validate() error {
	if c.IntervalStr != "" {
		if _, err := time.ParseDuration(c.IntervalStr); err != nil {
			return fmt.Errorf("%w: interval %q", ErrInvalidInput, c.IntervalStr)
		}
	}
	if c.DelayStr != "" {
		if _, err := time.ParseDuration(c.DelayStr); err != nil {
			return fmt.Errorf("%w: delay %q", ErrInvalidInput, c.DelayStr)
		}
	}
	if c.PageSize < 0 || c.Concurrency < 0 {
		return fmt.Errorf("%w: page size and concurrency must not be negative", ErrInvalidInput)
	}
	return nil
}

func (s *Service) GetPrefetchConfig(ctx context.Context) (PrefetchConfig, error) {
	raw, err := s.store.GetSystemConfig(ctx, configKeyPrefetch)
	if err != nil {
		if store.IsNotFound(err) {
			return DefaultPrefetchConfig(), nil
		}
		return PrefetchConfig{}, err
	}
	var cfg PrefetchConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return PrefetchConfig{}, fmt.Errorf("parse prefetch config: %w", err)
	}
	return cfg, nil
}

func (s *Service) SavePrefetchConfig(ctx context.Context, cfg PrefetchConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.store.UpsertSystemConfig(ctx, configKeyPrefetch, raw)
}

// SeedPrefetchConfig writes cfg into the DB only if no config exists yet.
func (s *Service) SeedPrefetchConfig(ctx context.Context, cfg PrefetchConfig) error {
	_, err := s.store.GetSystemConfig(ctx, configKeyPrefetch)
	if err == nil {
		return nil
	}
	if !store.IsNotFound(err) {
		return err
	}
	return s.SavePrefetchConfig(ctx, cfg)
}
