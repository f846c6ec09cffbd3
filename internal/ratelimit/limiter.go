package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Scope string

// ScopeTransfer covers requests that move blob bytes. They are fewer but
// much heavier than control reads, so they get their own budget.
const (
	ScopeRead     Scope = "read"
	ScopeWrite    Scope = "write"
	ScopeTransfer Scope = "transfer"
)

type BucketKind string

const (
	BucketIP  BucketKind = "ip"
	BucketKey BucketKind = "key"
)

// Config holds request limits per Window. A bucket refills continuously at
// limit/Window and holds at most limit requests. A zero limit disables
// limiting for that scope and bucket kind.
type Config struct {
	Window      time.Duration
	ReadIP      int
	ReadKey     int
	WriteIP     int
	WriteKey    int
	TransferIP  int
	TransferKey int
}

// Result describes one Take. When denied, ResetIn is the number of seconds
// until the next request is allowed; otherwise it is the time until the
// bucket is full again.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   int64
	ResetIn   int64
}

type key struct {
	scope  Scope
	kind   BucketKind
	bucket string
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const maxEntries = 100000

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	entries map[key]*entry
}

func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		entries: make(map[key]*entry, 4096),
	}
}

func (l *Limiter) Take(now time.Time, scope Scope, kind BucketKind, bucket string) Result {
	limit := l.limit(scope, kind)
	if limit <= 0 {
		return Result{Allowed: true, ResetAt: now.Unix()}
	}

	perSecond := float64(limit) / l.cfg.Window.Seconds()
	k := key{scope: scope, kind: kind, bucket: bucket}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[k]
	if !ok {
		if len(l.entries) >= maxEntries {
			l.cleanup(now.Add(-2 * l.cfg.Window))
		}
		e = &entry{lim: rate.NewLimiter(rate.Limit(perSecond), limit)}
		l.entries[k] = e
	}
	e.lastSeen = now

	allowed := e.lim.AllowN(now, 1)
	tokens := e.lim.TokensAt(now)

	var wait float64
	if allowed {
		wait = (float64(limit) - tokens) / perSecond
	} else {
		wait = (1 - tokens) / perSecond
	}
	resetIn := int64(math.Ceil(math.Max(wait, 0)))

	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: int(math.Max(math.Floor(tokens), 0)),
		ResetAt:   now.Unix() + resetIn,
		ResetIn:   resetIn,
	}
}

func (l *Limiter) limit(scope Scope, kind BucketKind) int {
	switch scope {
	case ScopeRead:
		if kind == BucketKey {
			return l.cfg.ReadKey
		}
		return l.cfg.ReadIP
	case ScopeWrite:
		if kind == BucketKey {
			return l.cfg.WriteKey
		}
		return l.cfg.WriteIP
	case ScopeTransfer:
		if kind == BucketKey {
			return l.cfg.TransferKey
		}
		return l.cfg.TransferIP
	default:
		return 0
	}
}

// cleanup drops buckets idle since before cutoff. They have refilled by
// then, so dropping them does not change any later result.
func (l *Limiter) cleanup(cutoff time.Time) {
	for k, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
