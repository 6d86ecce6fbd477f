// Package store keeps users, channels, keys and key access in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateName    = errors.New("duplicate name")
	ErrWrongPassword    = errors.New("wrong password")
	ErrRootUser         = errors.New("cannot delete the root user")
	ErrInvalidSchema    = errors.New("invalid schema")
	ErrInvalidData      = errors.New("invalid data")
	ErrInvalidKeyType   = errors.New("invalid key type")
	ErrMissingSemicolon = errors.New("missing semi-colon in API key")
	ErrInvalidKeyID     = errors.New("invalid API key ID")
	ErrInvalidSecret    = errors.New("invalid secret key")
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrPasswordTooLong  = errors.New("password longer than 72 bytes")
)

// Store is safe for concurrent use.
type Store struct {
	db         *sql.DB
	bcryptCost int

	mu      sync.Mutex
	schemas map[uuid.UUID]compiledSchema
}

type compiledSchema struct {
	raw    string
	schema *jsonschema.Schema
}

type Option func(*Store)

// WithBcryptCost overrides the password hashing cost. Tests use
// bcrypt.MinCost to stay fast.
func WithBcryptCost(cost int) Option {
	return func(s *Store) { s.bcryptCost = cost }
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. path may be a plain file path or a sqlite:// / file: URL.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection serializes writers and keeps the pragmas on every query
	db.SetMaxOpenConns(1)

	s := &Store{
		db:         db,
		bcryptCost: bcrypt.DefaultCost,
		schemas:    make(map[uuid.UUID]compiledSchema),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Health reports whether the database answers and is fully migrated.
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if want := latestVersion(); version < want {
		return fmt.Errorf("schema at version %d, want %d", version, want)
	}
	return nil
}

// isConstraint reports whether err is a SQLite constraint violation whose
// message mentions kind ("UNIQUE", "FOREIGN KEY").
func isConstraint(err error, kind string) bool {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return strings.Contains(se.Error(), kind)
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// withTx runs fn in a transaction, committing only if fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
