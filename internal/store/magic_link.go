package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/tenantry/internal/code"
	"github.com/dukerupert/tenantry/internal/model"
)

// DefaultMagicLinkTTL is how long a sign-in code stays valid.
const DefaultMagicLinkTTL = 15 * time.Minute

const maxCodeCollisions = 5

type MagicLinkStore struct {
	db         *sql.DB
	now        func() time.Time
	generate   func(length int) (string, error)
	codeLength int
}

func NewMagicLinkStore(db *sql.DB) *MagicLinkStore {
	return &MagicLinkStore{
		db:         db,
		now:        utcNow,
		generate:   code.Generate,
		codeLength: code.DefaultLength,
	}
}

func scanMagicLink(scanner interface{ Scan(...any) error }) (*model.MagicLink, error) {
	var ml model.MagicLink
	err := scanner.Scan(&ml.ID, &ml.Code, &ml.UserID, &ml.Purpose, &ml.ExpiresAt, &ml.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ml, nil
}

const magicLinkCols = `id, code, user_id, purpose, expires_at, created_at`

// Issue creates a magic link for userID that expires after ttl. A fresh
// code is drawn when the generated one is already held by another row.
func (s *MagicLinkStore) Issue(userID int64, purpose model.MagicLinkPurpose, ttl time.Duration) (*model.MagicLink, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("issue magic link: invalid purpose %q", purpose)
	}
	if ttl <= 0 {
		ttl = DefaultMagicLinkTTL
	}

	for attempt := 0; attempt < maxCodeCollisions; attempt++ {
		c, err := s.generate(s.codeLength)
		if err != nil {
			return nil, err
		}
		now := s.now()
		row := s.db.QueryRow(
			`INSERT INTO magic_links (code, user_id, purpose, expires_at, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (code) DO NOTHING
			 RETURNING `+magicLinkCols,
			c, userID, string(purpose), now.Add(ttl), now,
		)
		ml, err := scanMagicLink(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert magic link: %w", err)
		}
		return ml, nil
	}
	return nil, fmt.Errorf("insert magic link: no unique code after %d attempts", maxCodeCollisions)
}

// Consume sanitizes raw, then deletes and returns the matching magic link
// in a single statement, so of several concurrent callers only one can
// receive the row. It returns ErrNotFound when no link matches and
// ErrExpired when the matching link is past its expiry; either way the
// code can no longer be used.
func (s *MagicLinkStore) Consume(raw string) (*model.MagicLink, error) {
	c := code.Sanitize(raw)
	if c == "" {
		return nil, ErrNotFound
	}

	row := s.db.QueryRow(`DELETE FROM magic_links WHERE code = ? RETURNING `+magicLinkCols, c)
	ml, err := scanMagicLink(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume magic link: %w", err)
	}
	if ml.Expired(s.now()) {
		return nil, ErrExpired
	}
	return ml, nil
}

// Cleanup deletes every magic link past its expiry and returns how many
// were removed.
func (s *MagicLinkStore) Cleanup() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM magic_links WHERE expires_at <= ?`, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired magic links: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
