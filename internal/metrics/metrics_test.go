package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"blobxfer/internal/blob"
	"blobxfer/internal/ratelimit"
)

func TestRecorder(t *testing.T) {
	t.Parallel()

	r := NewRecorder(prometheus.NewRegistry())

	r.TransferStarted("c1", blob.DirectionDownload)
	r.TransferStarted("c2", blob.DirectionDownload)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.active.WithLabelValues("download")))

	r.TransferFinished(blob.Event{
		ContentID: "c1",
		Direction: blob.DirectionDownload,
		Outcome:   blob.OutcomeCompleted,
		Bytes:     512,
		Elapsed:   time.Second,
	})
	r.TransferFinished(blob.Event{
		ContentID: "c2",
		Direction: blob.DirectionDownload,
		Outcome:   blob.OutcomeCancelled,
		Bytes:     100,
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(r.active.WithLabelValues("download")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transfers.WithLabelValues("download", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transfers.WithLabelValues("download", "cancelled")))
	assert.Equal(t, 512.0, testutil.ToFloat64(r.bytes.WithLabelValues("download")), "only completed bytes count")

	r.PeerAttempted("c1", errors.New("404"))
	r.PeerAttempted("c1", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.peerAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.peerAttempts.WithLabelValues("success")))
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	r := NewRateLimit(prometheus.NewRegistry())
	r.Rejected(ratelimit.ScopeTransfer, ratelimit.BucketKey)
	r.Rejected(ratelimit.ScopeTransfer, ratelimit.BucketKey)
	r.Rejected(ratelimit.ScopeRead, ratelimit.BucketIP)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.rejected.WithLabelValues("transfer", "key")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rejected.WithLabelValues("read", "ip")))
}
