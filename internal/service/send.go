package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"blobxfer/internal/blob"
	"blobxfer/internal/store"
)

// Send uploads local content under h. Content above the size limit is
// refused before anything is transferred. The handle is catalogued with
// the content's sha256 digest. Content that is already attached keeps its
// handle, so a Send under another filename fails with ErrConflict.
func (s *Service) Send(ctx context.Context, h blob.ContentHandle, content blob.Content) (View, error) {
	h.ID = strings.TrimSpace(h.ID)
	if h.ID == "" {
		return View{}, fmt.Errorf("%w: content id required", ErrInvalidInput)
	}
	size := content.Size()
	if size > s.maxBlobBytes {
		return View{}, fmt.Errorf("%w: %d bytes, limit is %d", ErrTooLarge, size, s.maxBlobBytes)
	}
	h.Length = size
	if c, err := s.controller(h.ID); err == nil {
		if err := sameFile(c, h); err != nil {
			return View{}, err
		}
	}

	digest, err := digestOf(content)
	if err != nil {
		return View{}, fmt.Errorf("digest content: %w", err)
	}

	if _, err := s.store.UpsertContent(ctx, store.Content{
		ID:       h.ID,
		Filename: h.Filename,
		Length:   size,
		Owner:    h.Owner,
		MimeType: blob.Classify(h).MimeType,
		Digest:   &digest,
	}); err != nil {
		return View{}, fmt.Errorf("catalog content: %w", err)
	}

	c, created := s.controllerFor(h)
	if !created {
		if err := sameFile(c, h); err != nil {
			return View{}, err
		}
	}
	if c.Upload(content) == nil {
		return View{}, fmt.Errorf("%w: content %q is being detached", ErrConflict, h.ID)
	}
	return viewOf(c), nil
}

func sameFile(c *blob.Controller, h blob.ContentHandle) error {
	if got := c.Handle().Filename; got != h.Filename {
		return fmt.Errorf("%w: content %q is attached as %q", ErrConflict, h.ID, got)
	}
	return nil
}

func digestOf(content blob.Content) (string, error) {
	rc, err := content.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
