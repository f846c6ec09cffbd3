package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"blobxfer/internal/auth"
	"blobxfer/internal/store"

	"github.com/google/uuid"
)

// CreateToken issues a new API token and returns it in clear text. Only its
// hash is stored.
func (s *Service) CreateToken(ctx context.Context, subject, name, scope string) (string, uuid.UUID, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", uuid.Nil, fmt.Errorf("%w: subject required", ErrInvalidInput)
	}
	if scope == "" {
		scope = store.ScopeClient
	}
	switch scope {
	case store.ScopeClient, store.ScopePeer, store.ScopeAdmin:
	default:
		return "", uuid.Nil, fmt.Errorf("%w: invalid scope %q (must be client, peer, or admin)", ErrInvalidInput, scope)
	}

	token, err := generateToken(32)
	if err != nil {
		return "", uuid.Nil, err
	}
	id, err := s.store.CreateToken(ctx, subject, strings.TrimSpace(name), scope, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", uuid.Nil, fmt.Errorf("%w: token collision, retry", ErrConflict)
		}
		return "", uuid.Nil, err
	}
	return token, id, nil
}

func (s *Service) ListTokens(ctx context.Context) ([]store.APIToken, error) {
	return s.store.ListTokens(ctx)
}

func (s *Service) RevokeToken(ctx context.Context, rawID string) error {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return fmt.Errorf("%w: invalid id", ErrInvalidInput)
	}
	if err := s.store.RevokeToken(ctx, id); err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("%w: token %s", ErrNotFound, id)
		}
		return err
	}
	return nil
}

func generateToken(lengthBytes int) (string, error) {
	if lengthBytes <= 0 {
		lengthBytes = 32
	}
	buf := make([]byte, lengthBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
