// Package logr builds the go-logr logger used across the node from the
// configured format and verbosity, on top of log/slog handlers.
package logr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
)

type Format string

const (
	DefaultFormat Format = "default"
	TextFormat    Format = "text"
	JSONFormat    Format = "json"
)

type Config struct {
	Verbosity int
	Format    string
}

// LoadConfigFromFlags adds logging flags to the flagset. Once the caller has
// parsed the flagset, cfg holds their values.
func LoadConfigFromFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.IntVarP(&cfg.Verbosity, "v", "v", cfg.Verbosity, "Logging level")
	flags.StringVar(&cfg.Format, "log-format", orDefault(cfg.Format), "Logging format: default, text or json")
}

// New constructs a logger writing to w. The default format uses slog's
// default handler, filtered to the configured level.
func New(cfg Config, w io.Writer) (logr.Logger, error) {
	level := toSlogLevel(cfg.Verbosity)
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch Format(orDefault(cfg.Format)) {
	case DefaultFormat:
		h = &levelHandler{level: level, Handler: slog.Default().Handler()}
	case TextFormat:
		h = slog.NewTextHandler(w, opts)
	case JSONFormat:
		h = slog.NewJSONHandler(w, opts)
	default:
		return logr.Logger{}, fmt.Errorf("unrecognised logging format: %s", cfg.Format)
	}
	return logr.FromSlogHandler(h), nil
}

// ParseVerbosity accepts a level name (info, debug, trace) or a number.
func ParseVerbosity(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return 0, nil
	case "debug":
		return 1, nil
	case "trace":
		return 2, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return v, nil
}

// toSlogLevel converts a logr verbosity to the slog level logr uses for it.
func toSlogLevel(verbosity int) slog.Level {
	if verbosity <= 0 {
		return slog.LevelInfo
	}
	return slog.Level(-verbosity)
}

func orDefault(format string) string {
	if format == "" {
		return string(DefaultFormat)
	}
	return format
}

// levelHandler raises the minimum level of a wrapped handler.
type levelHandler struct {
	slog.Handler
	level slog.Level
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}
