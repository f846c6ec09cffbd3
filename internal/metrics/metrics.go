// Package metrics exports transfer metrics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"blobxfer/internal/blob"
	"blobxfer/internal/ratelimit"
)

const namespace = "blobxfer"

// Recorder implements blob.Recorder.
type Recorder struct {
	active       *prometheus.GaugeVec
	transfers    *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	peerAttempts *prometheus.CounterVec
}

var _ blob.Recorder = (*Recorder)(nil)

// NewRecorder creates the transfer metrics and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "active",
			Help:      "Transfers in flight by direction",
		}, []string{"direction"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "total",
			Help:      "Finished transfers by direction and outcome",
		}, []string{"direction", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "bytes_total",
			Help:      "Bytes moved by completed transfers",
		}, []string{"direction"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "duration_seconds",
			Help:      "Time from transfer start to its end",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"direction", "outcome"}),
		peerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "sync_attempts_total",
			Help:      "Peer sync attempts by result",
		}, []string{"result"}),
	}
	reg.MustRegister(r.active, r.transfers, r.bytes, r.duration, r.peerAttempts)
	return r
}

func (r *Recorder) TransferStarted(_ string, dir blob.Direction) {
	r.active.WithLabelValues(dir.String()).Inc()
}

func (r *Recorder) TransferFinished(ev blob.Event) {
	dir := ev.Direction.String()
	r.active.WithLabelValues(dir).Dec()
	r.transfers.WithLabelValues(dir, ev.Outcome.String()).Inc()
	r.duration.WithLabelValues(dir, ev.Outcome.String()).Observe(ev.Elapsed.Seconds())
	if ev.Outcome == blob.OutcomeCompleted {
		r.bytes.WithLabelValues(dir).Add(float64(ev.Bytes))
	}
}

func (r *Recorder) PeerAttempted(_ string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.peerAttempts.WithLabelValues(result).Inc()
}

// RateLimit counts requests refused by the HTTP rate limiter.
type RateLimit struct {
	rejected *prometheus.CounterVec
}

func NewRateLimit(reg prometheus.Registerer) *RateLimit {
	r := &RateLimit{
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the rate limiter by scope and bucket kind",
		}, []string{"scope", "bucket"}),
	}
	reg.MustRegister(r.rejected)
	return r
}

func (r *RateLimit) Rejected(scope ratelimit.Scope, kind ratelimit.BucketKind) {
	r.rejected.WithLabelValues(string(scope), string(kind)).Inc()
}
