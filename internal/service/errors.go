package service

import (
	"errors"

	"blobxfer/internal/blob"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrTooLarge     = blob.ErrTooLarge
)
