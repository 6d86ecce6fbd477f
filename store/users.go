package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// RootRank is the rank of the bootstrap user. Lower ranks outrank higher ones.
const RootRank = 0

type User struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Rank int       `json:"rank"`
}

// Outranks reports whether u may manage other.
func (u *User) Outranks(other *User) bool {
	return u.Rank < other.Rank
}

const userColumns = `id, name, rank`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Rank); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// maxPasswordBytes is the most bcrypt will hash.
const maxPasswordBytes = 72

func (s *Store) hashPassword(password string) ([]byte, error) {
	if len(password) > maxPasswordBytes {
		return nil, ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func (s *Store) CreateUser(ctx context.Context, name, password string, rank int) (*User, error) {
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &User{ID: uuid.New(), Name: name, Rank: rank}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, password_hash, rank) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, hash, u.Rank)
	if isConstraint(err, "UNIQUE") {
		return nil, ErrDuplicateName
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// EnsureRootUser creates the root user if the database has no users yet. It
// reports whether a user was created.
func (s *Store) EnsureRootUser(ctx context.Context, name, password string) (bool, error) {
	n, err := s.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := s.CreateUser(ctx, name, password, RootRank); err != nil {
		return false, fmt.Errorf("create root user: %w", err)
	}
	return true, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Store) GetUserByName(ctx context.Context, name string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE name = ?`, name))
}

// Authenticate checks a name and password pair.
func (s *Store) Authenticate(ctx context.Context, name, password string) (*User, error) {
	var (
		u    User
		hash []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE name = ?`, name).
		Scan(&u.ID, &u.Name, &u.Rank, &hash)
	if err != nil {
		return nil, notFound(err)
	}
	// no stored hash came from a longer password; bcrypt would compare a prefix
	if len(password) > maxPasswordBytes {
		return nil, ErrWrongPassword
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrWrongPassword
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}
	return &u, nil
}

// ListUsers returns self followed by every user self outranks.
func (s *Store) ListUsers(ctx context.Context, self *User) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? OR rank > ?
		 ORDER BY id = ? DESC, rank, name`, self.ID, self.Rank, self.ID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) RenameUser(ctx context.Context, id uuid.UUID, name string) (*User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET name = ? WHERE id = ?`, name, id)
	if isConstraint(err, "UNIQUE") {
		return nil, ErrDuplicateName
	}
	if err := affected(res, err); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

func (s *Store) ChangePassword(ctx context.Context, id uuid.UUID, password string) (*User, error) {
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
	if err := affected(res, err); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// DeleteUser removes a user. The root user can never be removed.
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.Rank == RootRank {
		return ErrRootUser
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return affected(res, err)
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// affected turns a zero row update into ErrNotFound.
func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
