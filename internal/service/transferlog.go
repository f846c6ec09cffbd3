package service

import (
	"context"
	"errors"
	"time"

	"blobxfer/internal/blob"
	"blobxfer/internal/store"

	"github.com/go-logr/logr"
)

const transferLogTimeout = 5 * time.Second

// TransferLog records every finished transfer in the catalog.
type TransferLog struct {
	store  Store
	logger logr.Logger
}

var _ blob.Recorder = (*TransferLog)(nil)

func NewTransferLog(st Store, logger logr.Logger) *TransferLog {
	return &TransferLog{store: st, logger: logger.WithValues("component", "transfer-log")}
}

func (l *TransferLog) TransferStarted(string, blob.Direction) {}

func (l *TransferLog) TransferFinished(ev blob.Event) {
	t := store.Transfer{
		ContentID:  ev.ContentID,
		Direction:  ev.Direction.String(),
		Outcome:    ev.Outcome.String(),
		Bytes:      ev.Bytes,
		DurationMS: ev.Elapsed.Milliseconds(),
	}
	if ev.Err != nil && !errors.Is(ev.Err, blob.ErrCancelled) {
		msg := ev.Err.Error()
		t.Error = &msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), transferLogTimeout)
	defer cancel()
	if err := l.store.RecordTransfer(ctx, t); err != nil {
		l.logger.Error(err, "record transfer", "content", ev.ContentID, "direction", t.Direction)
	}
}

func (l *TransferLog) PeerAttempted(contentID string, err error) {
	if err != nil {
		l.logger.V(1).Info("peer attempt failed", "content", contentID, "err", err.Error())
	}
}
