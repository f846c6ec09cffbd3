package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	ScopeClient = "client"
	ScopePeer   = "peer"
	ScopeAdmin  = "admin"
)

var ErrConflict = errors.New("conflict")

// Content is a catalogued content handle.
type Content struct {
	ID        string
	Filename  string
	Length    int64
	Owner     string
	MimeType  string
	Digest    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transfer is one entry of the transfer log.
type Transfer struct {
	ID         uuid.UUID
	ContentID  string
	Direction  string
	Outcome    string
	Bytes      int64
	DurationMS int64
	Error      *string
	CreatedAt  time.Time
}

type APIToken struct {
	ID         uuid.UUID  `json:"id"`
	Subject    string     `json:"subject"`
	Name       string     `json:"name"`
	Scope      string     `json:"scope"`
	Disabled   bool       `json:"disabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ---- Contents ----

// UpsertContent registers a content handle, refreshing its declared fields
// when it already exists. The digest is kept unless c carries one.
func (s *Store) UpsertContent(ctx context.Context, c Content) (Content, error) {
	var out Content
	err := s.db.QueryRow(ctx, `
		INSERT INTO contents (id, filename, length, owner, mime_type, digest)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET filename = EXCLUDED.filename,
		    length = EXCLUDED.length,
		    owner = EXCLUDED.owner,
		    mime_type = EXCLUDED.mime_type,
		    digest = COALESCE(EXCLUDED.digest, contents.digest),
		    updated_at = now()
		RETURNING id, filename, length, owner, mime_type, digest, created_at, updated_at
	`, c.ID, c.Filename, c.Length, c.Owner, c.MimeType, c.Digest).Scan(
		&out.ID, &out.Filename, &out.Length, &out.Owner, &out.MimeType, &out.Digest, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return Content{}, err
	}
	return out, nil
}

func (s *Store) GetContent(ctx context.Context, id string) (Content, error) {
	var c Content
	err := s.db.QueryRow(ctx, `
		SELECT id, filename, length, owner, mime_type, digest, created_at, updated_at
		FROM contents
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Filename, &c.Length, &c.Owner, &c.MimeType, &c.Digest, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Content{}, err
	}
	return c, nil
}

// ListContents pages through the catalog, oldest first.
func (s *Store) ListContents(ctx context.Context, limit, offset int) ([]Content, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, filename, length, owner, mime_type, digest, created_at, updated_at
		FROM contents
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Content
	for rows.Next() {
		var c Content
		if err := rows.Scan(&c.ID, &c.Filename, &c.Length, &c.Owner, &c.MimeType, &c.Digest, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetContentDigest(ctx context.Context, id, digest string, length int64) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE contents SET digest = $2, length = $3, updated_at = now() WHERE id = $1
	`, id, digest, length)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteContent(ctx context.Context, id string) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM contents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ---- Transfer log ----

func (s *Store) RecordTransfer(ctx context.Context, t Transfer) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO transfers (id, content_id, direction, outcome, bytes, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.ContentID, t.Direction, t.Outcome, t.Bytes, t.DurationMS, t.Error)
	return err
}

// ListTransfers returns the latest transfers of a content, newest first.
func (s *Store) ListTransfers(ctx context.Context, contentID string, limit int) ([]Transfer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, content_id, direction, outcome, bytes, duration_ms, error, created_at
		FROM transfers
		WHERE content_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, contentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.ContentID, &t.Direction, &t.Outcome, &t.Bytes, &t.DurationMS, &t.Error, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- API tokens ----

// CreateToken inserts a new token; only its hash is stored.
func (s *Store) CreateToken(ctx context.Context, subject, name, scope, tokenHash string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx, `
		INSERT INTO api_tokens (id, token_hash, subject, name, scope)
		VALUES ($1, $2, $3, $4, $5)
	`, id, tokenHash, subject, name, scope)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, ErrConflict
		}
		return uuid.Nil, err
	}
	return id, nil
}

// AuthenticateToken looks up a token by hash and returns its metadata.
func (s *Store) AuthenticateToken(ctx context.Context, tokenHash string) (APIToken, error) {
	var t APIToken
	err := s.db.QueryRow(ctx, `
		SELECT id, subject, name, scope, disabled, created_at, last_used_at
		FROM api_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&t.ID, &t.Subject, &t.Name, &t.Scope, &t.Disabled, &t.CreatedAt, &t.LastUsedAt)
	if err != nil {
		return APIToken{}, err
	}
	return t, nil
}

// TouchTokenLastUsed updates the last_used_at timestamp.
func (s *Store) TouchTokenLastUsed(ctx context.Context, id uuid.UUID) {
	_, _ = s.db.Exec(ctx, `UPDATE api_tokens SET last_used_at = now() WHERE id = $1`, id)
}

func (s *Store) ListTokens(ctx context.Context) ([]APIToken, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, subject, name, scope, disabled, created_at, last_used_at
		FROM api_tokens
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []APIToken
	for rows.Next() {
		var t APIToken
		if err := rows.Scan(&t.ID, &t.Subject, &t.Name, &t.Scope, &t.Disabled, &t.CreatedAt, &t.LastUsedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *Store) RevokeToken(ctx context.Context, tokenID uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM api_tokens WHERE id = $1`, tokenID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ---- System Config (generic key-value) ----

func (s *Store) GetSystemConfig(ctx context.Context, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := s.db.QueryRow(ctx,
		`SELECT config FROM system_configs WHERE config_key = $1`, key,
	).Scan(&raw)
	return raw, err
}

func (s *Store) UpsertSystemConfig(ctx context.Context, key string, config json.RawMessage) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO system_configs (config_key, config, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (config_key) DO UPDATE
		SET config = EXCLUDED.config, updated_at = now()
	`, key, config)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
