package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Channel is a named stream whose messages must satisfy Schema.
type Channel struct {
	ID     uuid.UUID       `json:"id"`
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`

	compiled *jsonschema.Schema
}

const schemaURL = "channel.schema.json"

// CompileSchema parses raw as a JSON Schema document. A $ref may only point
// inside the document; nothing is fetched from disk or network.
func CompileSchema(raw []byte) (*jsonschema.Schema, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidSchema)
	}
	c := jsonschema.NewCompiler()
	c.LoadURL = func(s string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("external $ref %q not allowed", s)
	}
	if err := c.AddResource(schemaURL, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return schema, nil
}

// Validate checks that payload is JSON matching the channel schema and
// returns it compacted.
func (c *Channel) Validate(payload []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if c.compiled != nil {
		if err := c.compiled.Validate(v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return buf.Bytes(), nil
}

// compact normalizes a schema document before storing it.
func compact(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func (s *Store) CreateChannel(ctx context.Context, name string, schema []byte) (*Channel, error) {
	compiled, err := CompileSchema(schema)
	if err != nil {
		return nil, err
	}
	c := &Channel{ID: uuid.New(), Name: name, Schema: json.RawMessage(compact(schema)), compiled: compiled}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channels (id, name, schema) VALUES (?, ?, ?)`, c.ID, c.Name, string(c.Schema))
	if isConstraint(err, "UNIQUE") {
		return nil, ErrDuplicateName
	}
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	s.cacheSchema(c.ID, string(c.Schema), compiled)
	return c, nil
}

func (s *Store) GetChannel(ctx context.Context, id uuid.UUID) (*Channel, error) {
	return s.scanChannel(s.db.QueryRowContext(ctx,
		`SELECT id, name, schema FROM channels WHERE id = ?`, id))
}

func (s *Store) GetChannelByName(ctx context.Context, name string) (*Channel, error) {
	return s.scanChannel(s.db.QueryRowContext(ctx,
		`SELECT id, name, schema FROM channels WHERE name = ?`, name))
}

func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	return s.queryChannels(ctx, `SELECT id, name, schema FROM channels ORDER BY name`)
}

func (s *Store) RenameChannel(ctx context.Context, id uuid.UUID, name string) (*Channel, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE channels SET name = ? WHERE id = ?`, name, id)
	if isConstraint(err, "UNIQUE") {
		return nil, ErrDuplicateName
	}
	if err := affected(res, err); err != nil {
		return nil, err
	}
	return s.GetChannel(ctx, id)
}

func (s *Store) ChangeSchema(ctx context.Context, id uuid.UUID, schema []byte) (*Channel, error) {
	compiled, err := CompileSchema(schema)
	if err != nil {
		return nil, err
	}
	raw := compact(schema)
	res, err := s.db.ExecContext(ctx, `UPDATE channels SET schema = ? WHERE id = ?`, raw, id)
	if err := affected(res, err); err != nil {
		return nil, err
	}
	s.cacheSchema(id, raw, compiled)
	return s.GetChannel(ctx, id)
}

// DeleteChannel removes a channel and, by cascade, every key grant on it.
func (s *Store) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err := affected(res, err); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.schemas, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) queryChannels(ctx context.Context, query string, args ...any) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := []Channel{}
	for rows.Next() {
		c, err := s.scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *c)
	}
	return channels, rows.Err()
}

func (s *Store) scanChannel(row interface{ Scan(...any) error }) (*Channel, error) {
	var (
		c   Channel
		raw string
	)
	if err := row.Scan(&c.ID, &c.Name, &raw); err != nil {
		return nil, notFound(err)
	}
	c.Schema = json.RawMessage(raw)
	compiled, err := s.schemaFor(c.ID, raw)
	if err != nil {
		return nil, err
	}
	c.compiled = compiled
	return &c, nil
}

// schemaFor returns the compiled schema for a channel, compiling at most once
// per schema revision.
func (s *Store) schemaFor(id uuid.UUID, raw string) (*jsonschema.Schema, error) {
	s.mu.Lock()
	cached, ok := s.schemas[id]
	s.mu.Unlock()
	if ok && cached.raw == raw {
		return cached.schema, nil
	}
	compiled, err := CompileSchema([]byte(raw))
	if err != nil {
		return nil, err
	}
	s.cacheSchema(id, raw, compiled)
	return compiled, nil
}

func (s *Store) cacheSchema(id uuid.UUID, raw string, schema *jsonschema.Schema) {
	s.mu.Lock()
	s.schemas[id] = compiledSchema{raw: raw, schema: schema}
	s.mu.Unlock()
}
