package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"blobxfer/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	contents  map[string]store.Content
	transfers []store.Transfer
	configs   map[string]json.RawMessage
	tokens    map[string]store.APIToken // by hash
}

func newMemStore() *memStore {
	return &memStore{
		contents: map[string]store.Content{},
		configs:  map[string]json.RawMessage{},
		tokens:   map[string]store.APIToken{},
	}
}

func (m *memStore) UpsertContent(_ context.Context, c store.Content) (store.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if prev, ok := m.contents[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
		if c.Digest == nil {
			c.Digest = prev.Digest
		}
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.contents[c.ID] = c
	return c, nil
}

func (m *memStore) GetContent(_ context.Context, id string) (store.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return store.Content{}, pgx.ErrNoRows
	}
	return c, nil
}

func (m *memStore) ListContents(_ context.Context, limit, offset int) ([]store.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]store.Content, 0, len(m.contents))
	for _, c := range m.contents {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) RecordTransfer(_ context.Context, t store.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, t)
	return nil
}

func (m *memStore) ListTransfers(_ context.Context, contentID string, limit int) ([]store.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Transfer
	for i := len(m.transfers) - 1; i >= 0 && len(out) < limit; i-- {
		if m.transfers[i].ContentID == contentID {
			out = append(out, m.transfers[i])
		}
	}
	return out, nil
}

func (m *memStore) GetSystemConfig(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.configs[key]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return raw, nil
}

func (m *memStore) UpsertSystemConfig(_ context.Context, key string, config json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[key] = config
	return nil
}

func (m *memStore) transferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}

func (m *memStore) CreateToken(_ context.Context, subject, name, scope, tokenHash string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tokenHash]; ok {
		return uuid.Nil, store.ErrConflict
	}
	t := store.APIToken{ID: uuid.New(), Subject: subject, Name: name, Scope: scope, CreatedAt: time.Now()}
	m.tokens[tokenHash] = t
	return t.ID, nil
}

func (m *memStore) ListTokens(context.Context) ([]store.APIToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.APIToken, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) RevokeToken(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, t := range m.tokens {
		if t.ID == id {
			delete(m.tokens, hash)
			return nil
		}
	}
	return pgx.ErrNoRows
}
