package blob

import (
	"errors"
	"fmt"
)

var (
	ErrDownloadFailed = errors.New("download failed")
	ErrSyncExhausted  = errors.New("no peer could provide the content")
	ErrUploadFailed   = errors.New("upload failed")

	// ErrCancelled is returned by a stream closed by its caller. It is
	// never stored as a controller error.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrTooLarge is advisory: the engine never refuses a transfer, callers
	// check Metadata.TooLarge and return this.
	ErrTooLarge = errors.New("content exceeds maximum blob size")
)

// wrap tags cause with kind so errors.Is matches either.
func wrap(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
