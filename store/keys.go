package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type KeyType string

const (
	Publisher  KeyType = "publisher"
	Subscriber KeyType = "subscriber"
)

func ParseKeyType(s string) (KeyType, error) {
	switch t := KeyType(s); t {
	case Publisher, Subscriber:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKeyType, s)
}

// Key is an API credential scoped to a set of channels. The secret half is
// only known to the caller that created it.
type Key struct {
	ID   uuid.UUID `json:"id"`
	Type KeyType   `json:"type"`
}

// secretBytes of randomness encode to a 64 character secret.
const secretBytes = 48

// GenerateSecret returns a random base64 token.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// HashSecret digests a high entropy random token for storage.
func HashSecret(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Token is the bearer credential clients send: "<id>;<secret>".
func Token(id uuid.UUID, secret string) string {
	return id.String() + ";" + secret
}

// ParseToken splits a bearer credential into its ID and secret.
func ParseToken(token string) (uuid.UUID, string, error) {
	idPart, secret, ok := strings.Cut(token, ";")
	if !ok {
		return uuid.Nil, "", ErrMissingSemicolon
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, "", ErrInvalidKeyID
	}
	return id, secret, nil
}

// CreateKey stores a new key granted on channels and returns it with its
// plaintext secret.
func (s *Store) CreateKey(ctx context.Context, typ KeyType, channels []uuid.UUID) (*Key, string, error) {
	if _, err := ParseKeyType(string(typ)); err != nil {
		return nil, "", err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	k := &Key{ID: uuid.New(), Type: typ}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO keys (id, type, hash) VALUES (?, ?, ?)`, k.ID, string(k.Type), HashSecret(secret))
		if err != nil {
			return fmt.Errorf("insert key: %w", err)
		}
		return grant(ctx, tx, k.ID, channels)
	})
	if err != nil {
		return nil, "", err
	}
	return k, secret, nil
}

func grant(ctx context.Context, tx *sql.Tx, key uuid.UUID, channels []uuid.UUID) error {
	for _, ch := range channels {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO access (key_id, channel_id) VALUES (?, ?)`, key, ch)
		if isConstraint(err, "FOREIGN KEY") {
			return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
		}
		if err != nil {
			return fmt.Errorf("grant channel: %w", err)
		}
	}
	return nil
}

func (s *Store) GetKey(ctx context.Context, id uuid.UUID) (*Key, error) {
	var k Key
	err := s.db.QueryRowContext(ctx, `SELECT id, type FROM keys WHERE id = ?`, id).Scan(&k.ID, &k.Type)
	if err != nil {
		return nil, notFound(err)
	}
	return &k, nil
}

func (s *Store) ListKeys(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type FROM keys ORDER BY type, id`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := []Key{}
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.ID, &k.Type); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// KeyChannels lists the channels a key is granted on.
func (s *Store) KeyChannels(ctx context.Context, id uuid.UUID) ([]Channel, error) {
	if _, err := s.GetKey(ctx, id); err != nil {
		return nil, err
	}
	return s.queryChannels(ctx,
		`SELECT c.id, c.name, c.schema FROM channels c
		 JOIN access a ON a.channel_id = c.id
		 WHERE a.key_id = ? ORDER BY c.name`, id)
}

// SetKeyChannels replaces the set of channels a key is granted on.
func (s *Store) SetKeyChannels(ctx context.Context, id uuid.UUID, channels []uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM keys WHERE id = ?`, id).Scan(&exists); err != nil {
			return notFound(err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM access WHERE key_id = ?`, id); err != nil {
			return fmt.Errorf("revoke channels: %w", err)
		}
		return grant(ctx, tx, id, channels)
	})
}

func (s *Store) DeleteKey(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM keys WHERE id = ?`, id)
	return affected(res, err)
}

// VerifyKey resolves a bearer credential to its key.
func (s *Store) VerifyKey(ctx context.Context, token string) (*Key, error) {
	id, secret, err := ParseToken(token)
	if err != nil {
		return nil, err
	}
	var (
		k    Key
		hash []byte
	)
	err = s.db.QueryRowContext(ctx, `SELECT id, type, hash FROM keys WHERE id = ?`, id).
		Scan(&k.ID, &k.Type, &hash)
	if err != nil {
		return nil, notFound(err)
	}
	if subtle.ConstantTimeCompare(hash, HashSecret(secret)) != 1 {
		return nil, ErrInvalidSecret
	}
	return &k, nil
}

// Authorizes reports whether key is granted on channel.
func (s *Store) Authorizes(ctx context.Context, key, channel uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access WHERE key_id = ? AND channel_id = ?`, key, channel).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check access: %w", err)
	}
	return n > 0, nil
}
