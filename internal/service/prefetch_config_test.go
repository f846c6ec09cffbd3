package service

import (
	"context"
	"testing"
	"time"
)

func TestPrefetchConfig_PageSizeOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		pageSize int
		want     int
	}{
		{"positive", 50, 50},
		{"zero", 0, 100},
		{"negative", -1, 100},
		{"one", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := PrefetchConfig{PageSize: tt.pageSize}
			if got := c.PageSizeOrDefault(); got != tt.want {
				t.Fatalf("PageSizeOrDefault() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrefetchConfig_ConcurrencyOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		concurrency int
		want        int
	}{
		{"positive", 8, 8},
		{"zero", 0, 4},
		{"negative", -1, 4},
		{"one", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := PrefetchConfig{Concurrency: tt.concurrency}
			if got := c.ConcurrencyOrDefault(); got != tt.want {
				t.Fatalf("ConcurrencyOrDefault() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrefetchConfig_Durations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		interval     string
		delay        string
		wantInterval time.Duration
		wantDelay    time.Duration
	}{
		{"valid", "5m", "10s", 5 * time.Minute, 10 * time.Second},
		{"empty", "", "", 0, 0},
		{"garbage", "soon", "later", 0, 0},
		{"negative", "-1m", "-1s", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := PrefetchConfig{IntervalStr: tt.interval, DelayStr: tt.delay}
			if got := c.Interval(); got != tt.wantInterval {
				t.Fatalf("Interval() = %s, want %s", got, tt.wantInterval)
			}
			if got := c.Delay(); got != tt.wantDelay {
				t.Fatalf("Delay() = %s, want %s", got, tt.wantDelay)
			}
		})
	}
}

func TestPrefetchConfig_Persistence(t *testing.T) {
	t.Parallel()
	svc := New(newMemStore(), nil, Config{})
	ctx := context.Background()

	got, err := svc.GetPrefetchConfig(ctx)
	if err != nil {
		t.Fatalf("GetPrefetchConfig() error = %v", err)
	}
	if got != DefaultPrefetchConfig() {
		t.Fatalf("GetPrefetchConfig() = %+v, want defaults", got)
	}

	seeded := PrefetchConfig{Enabled: true, IntervalStr: "1m", PageSize: 10}
	if err := svc.SeedPrefetchConfig(ctx, seeded); err != nil {
		t.Fatalf("SeedPrefetchConfig() error = %v", err)
	}
	if err := svc.SeedPrefetchConfig(ctx, PrefetchConfig{PageSize: 99}); err != nil {
		t.Fatalf("second SeedPrefetchConfig() error = %v", err)
	}
	got, err = svc.GetPrefetchConfig(ctx)
	if err != nil {
		t.Fatalf("GetPrefetchConfig() error = %v", err)
	}
	if got != seeded {
		t.Fatalf("GetPrefetchConfig() = %+v, want %+v", got, seeded)
	}

	if err := svc.SavePrefetchConfig(ctx, PrefetchConfig{IntervalStr: "often"}); err == nil {
		t.Fatal("SavePrefetchConfig() accepted an invalid interval")
	}
}
