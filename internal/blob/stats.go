package blob

import (
	"fmt"
	"math"
	"time"
)

// Stats is a progress report emitted by a running stream. Each report
// supersedes the previous one.
type Stats struct {
	Pos        int64
	Size       int64
	Throughput float64 // bytes per second
	Paused     bool
	FinishTime time.Time
}

// Finished reports whether the stream has completed.
func (s Stats) Finished() bool {
	return !s.FinishTime.IsZero()
}

// Fraction returns how much of the transfer is done, in [0, 1].
func (s Stats) Fraction() float64 {
	if s.Finished() {
		return 1
	}
	if s.Size <= 0 || s.Pos <= 0 {
		return 0
	}
	return math.Min(float64(s.Pos)/float64(s.Size), 1)
}

// FormatThroughput renders s as "<percent>% <rate>", e.g. "42.10% 512 kb/s",
// or "Done" once finished.
func FormatThroughput(s Stats) string {
	if s.Finished() {
		return "Done"
	}

	rate := "Paused"
	if !s.Paused {
		rate = fmt.Sprintf("%d kb/s", int64(math.Floor(s.Throughput/1024)))
	}

	var percent float64
	if s.Size > 0 {
		percent = float64(s.Pos) / float64(s.Size) * 100
	}
	return fmt.Sprintf("%.2f%% %s", percent, rate)
}
