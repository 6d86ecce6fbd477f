// Package sessions stores dashboard login sessions in BadgerDB.
//
// A session is reachable through two bearer tokens: a short lived access
// token sent in the Authorization header and a refresh token kept in a
// cookie. Only SHA-256 digests of the tokens are stored, and every entry
// carries a TTL so expired sessions disappear on their own.
package sessions

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/store"
)

// DefaultTTL is how long a session lives after login or its last refresh.
const DefaultTTL = 24 * time.Hour

const (
	sessionKeyPrefix     = "session:"
	accessKeyPrefix      = "access:"
	refreshKeyPrefix     = "refresh:"
	sessionUserKeyPrefix = "session_user:"
)

var ErrNotFound = errors.New("session not found")

// Session is the public view of a login. AccessToken is only set when the
// token was just issued.
type Session struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Expires     time.Time
	AccessToken string
}

// record is what gets persisted under session:<id>.
type record struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Expires     time.Time `json:"expires"`
	AccessHash  string    `json:"access_hash"`
	RefreshHash string    `json:"refresh_hash"`
}

type Store struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens a badger database in dir, or an in-memory one if dir is empty.
func Open(dir string, opts ...Option) (*Store, error) {
	bopts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an already open badger database.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{db: db, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

func digest(token string) string {
	return hex.EncodeToString(store.HashSecret(token))
}

// Create starts a session for userID and returns it with a fresh access
// token, plus the refresh token.
func (s *Store) Create(ctx context.Context, userID uuid.UUID) (*Session, string, error) {
	access, err := store.GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	refresh, err := store.GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	rec := record{
		ID:          uuid.New(),
		UserID:      userID,
		Expires:     s.now().Add(s.ttl).UTC().Truncate(time.Second),
		AccessHash:  digest(access),
		RefreshHash: digest(refresh),
	}
	if err := s.db.Update(func(txn *badger.Txn) error { return s.put(txn, rec) }); err != nil {
		return nil, "", err
	}
	logging.Ctx(ctx).Debug().Str("user_id", userID.String()).Msg("session created")
	return rec.session(access), refresh, nil
}

// Get resolves an access token.
func (s *Store) Get(ctx context.Context, accessToken string) (*Session, error) {
	rec, err := s.lookup(accessKeyPrefix + digest(accessToken))
	if err != nil {
		return nil, err
	}
	return rec.session(""), nil
}

// Refresh issues a new access token for the session holding refreshToken and
// pushes its expiry out by the TTL. The old access token stops working.
func (s *Store) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	rec, err := s.lookup(refreshKeyPrefix + digest(refreshToken))
	if err != nil {
		return nil, err
	}
	access, err := store.GenerateSecret()
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(accessKeyPrefix + rec.AccessHash)); err != nil {
			return err
		}
		rec.AccessHash = digest(access)
		rec.Expires = s.now().Add(s.ttl).UTC().Truncate(time.Second)
		return s.put(txn, *rec)
	})
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	logging.Ctx(ctx).Debug().Str("user_id", rec.UserID.String()).Msg("session refreshed")
	return rec.session(access), nil
}

// Delete ends the session holding refreshToken. Unknown tokens are ignored.
func (s *Store) Delete(ctx context.Context, refreshToken string) error {
	rec, err := s.lookup(refreshKeyPrefix + digest(refreshToken))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error { return remove(txn, *rec) })
}

// DeleteForUser ends every session of userID and returns how many there were.
func (s *Store) DeleteForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionUserKeyPrefix + userID.String() + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}

	count := 0
	for _, id := range ids {
		rec, err := s.load(sessionKeyPrefix + id)
		if err != nil {
			continue
		}
		if err := s.db.Update(func(txn *badger.Txn) error { return remove(txn, *rec) }); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("session_id", id).Msg("failed to delete session")
			continue
		}
		count++
	}
	return count, nil
}

// RunGC reclaims value log space. Nothing to reclaim is not an error.
func (s *Store) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// lookup follows an index key (access:, refresh:) to its session record.
func (s *Store) lookup(indexKey string) (*record, error) {
	var id []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey))
		if err != nil {
			return err
		}
		id, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session index: %w", err)
	}
	return s.load(sessionKeyPrefix + string(id))
}

// load reads a session record, deleting it if it outlived its expiry.
func (s *Store) load(key string) (*record, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !s.now().Before(rec.Expires) {
		_ = s.db.Update(func(txn *badger.Txn) error { return remove(txn, rec) })
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *Store) put(txn *badger.Txn, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := rec.Expires.Sub(s.now())
	id := []byte(rec.ID.String())
	entries := []*badger.Entry{
		badger.NewEntry([]byte(sessionKeyPrefix+rec.ID.String()), data),
		badger.NewEntry([]byte(accessKeyPrefix+rec.AccessHash), id),
		badger.NewEntry([]byte(refreshKeyPrefix+rec.RefreshHash), id),
		badger.NewEntry([]byte(sessionUserKeyPrefix+rec.UserID.String()+":"+rec.ID.String()), id),
	}
	for _, e := range entries {
		if err := txn.SetEntry(e.WithTTL(ttl)); err != nil {
			return fmt.Errorf("set session entry: %w", err)
		}
	}
	return nil
}

func remove(txn *badger.Txn, rec record) error {
	keys := []string{
		sessionKeyPrefix + rec.ID.String(),
		accessKeyPrefix + rec.AccessHash,
		refreshKeyPrefix + rec.RefreshHash,
		sessionUserKeyPrefix + rec.UserID.String() + ":" + rec.ID.String(),
	}
	for _, k := range keys {
		if err := txn.Delete([]byte(k)); err != nil {
			return fmt.Errorf("delete session entry: %w", err)
		}
	}
	return nil
}

func (r record) session(accessToken string) *Session {
	return &Session{ID: r.ID, UserID: r.UserID, Expires: r.Expires, AccessToken: accessToken}
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	logging.Error().Str("component", "badger").Msgf(f, v...)
}

func (badgerLogger) Warningf(f string, v ...interface{}) {
	logging.Warn().Str("component", "badger").Msgf(f, v...)
}

func (badgerLogger) Infof(f string, v ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(f, v...)
}

func (badgerLogger) Debugf(f string, v ...interface{}) {}
