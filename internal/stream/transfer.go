package stream

import (
	"bytes"
	"context"
	"io"

	"blobxfer/internal/blob"
)

// Download materializes a Source in memory.
type Download struct {
	*Copier
	buf bytes.Buffer
}

var _ blob.DownloadStream = (*Download)(nil)

func NewDownload(src Source, opts ...Option) *Download {
	d := &Download{}
	d.Copier = New(src, func(_ context.Context, r io.Reader) error {
		_, err := io.Copy(&d.buf, r)
		return err
	}, opts...)
	return d
}

// Bytes returns the downloaded content. Only valid after Run succeeded.
func (d *Download) Bytes() []byte { return d.buf.Bytes() }

// NewUpload pushes caller-supplied content into dst.
func NewUpload(c blob.Content, dst Sink, opts ...Option) *Copier {
	return New(ContentSource(c), dst, opts...)
}
