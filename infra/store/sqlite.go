// Package store persists requests, providers and appointments in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/model"
	corestore "github.com/kilianp07/vetdispatch/core/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS emergency_requests (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    version INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_emergency_requests_status ON emergency_requests(status);
CREATE TABLE IF NOT EXISTS providers (
    id TEXT PRIMARY KEY,
    record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS appointments (
    id TEXT PRIMARY KEY,
    record TEXT NOT NULL
);`

// DB is a SQLite database holding every dispatch entity. A single connection
// serializes writers so that Mutate is atomic.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Requests returns the request store view.
func (d *DB) Requests() *RequestStore { return &RequestStore{db: d.db} }

// Providers returns the provider directory view.
func (d *DB) Providers() *ProviderDirectory { return &ProviderDirectory{db: d.db} }

// Appointments returns the appointment store view.
func (d *DB) Appointments() *AppointmentStore { return &AppointmentStore{db: d.db} }

var (
	_ corestore.RequestStore      = (*RequestStore)(nil)
	_ corestore.ProviderDirectory = (*ProviderDirectory)(nil)
	_ corestore.AppointmentStore  = (*AppointmentStore)(nil)
)

// RequestStore implements core/store.RequestStore.
type RequestStore struct {
	db *sql.DB
}

func (s *RequestStore) Create(ctx context.Context, req model.EmergencyRequest) (model.EmergencyRequest, error) {
	req.Version = 1
	b, err := json.Marshal(req)
	if err != nil {
		return model.EmergencyRequest{}, fmt.Errorf("store.create: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO emergency_requests (id, status, version, created_at, record) VALUES (?, ?, ?, ?, ?)`,
		req.ID, string(req.Status), req.Version, req.CreatedAt.UnixNano(), string(b))
	if err != nil {
		if isUniqueViolation(err) {
			return model.EmergencyRequest{}, apperr.Conflict("store.create", "request %s already exists", req.ID)
		}
		return model.EmergencyRequest{}, fmt.Errorf("store.create: %w", err)
	}
	return req.Clone(), nil
}

func (s *RequestStore) Get(ctx context.Context, id string) (model.EmergencyRequest, error) {
	var rec string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM emergency_requests WHERE id = ?`, id).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EmergencyRequest{}, apperr.NotFound("store.get", "request %s", id)
	}
	if err != nil {
		return model.EmergencyRequest{}, fmt.Errorf("store.get: %w", err)
	}
	return decodeRequest(rec)
}

// Update stores req when the persisted version still equals req.Version.
func (s *RequestStore) Update(ctx context.Context, req model.EmergencyRequest) (model.EmergencyRequest, error) {
	expected := req.Version
	req.Version++
	b, err := json.Marshal(req)
	if err != nil {
		return model.EmergencyRequest{}, fmt.Errorf("store.update: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE emergency_requests SET status = ?, version = ?, record = ? WHERE id = ? AND version = ?`,
		string(req.Status), req.Version, string(b), req.ID, expected)
	if err != nil {
		return model.EmergencyRequest{}, fmt.Errorf("store.update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.EmergencyRequest{}, fmt.Errorf("store.update: %w", err)
	}
	if n == 0 {
		var cur int64
		err := s.db.QueryRowContext(ctx, `SELECT version FROM emergency_requests WHERE id = ?`, req.ID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return model.EmergencyRequest{}, apperr.NotFound("store.update", "request %s", req.ID)
		}
		if err != nil {
			return model.EmergencyRequest{}, fmt.Errorf("store.update: %w", err)
		}
		return model.EmergencyRequest{}, apperr.Conflict("store.update", "request %s version %d, have %d", req.ID, cur, expected)
	}
	return req.Clone(), nil
}

// ListByStatus returns matching requests oldest first.
func (s *RequestStore) ListByStatus(ctx context.Context, statuses ...model.Status) ([]model.EmergencyRequest, error) {
	query := `SELECT record FROM emergency_requests`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store.list: %w", err)
	}
	defer rows.Close()
	var out []model.EmergencyRequest
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("store.list: %w", err)
		}
		r, err := decodeRequest(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeRequest(rec string) (model.EmergencyRequest, error) {
	var r model.EmergencyRequest
	if err := json.Unmarshal([]byte(rec), &r); err != nil {
		return model.EmergencyRequest{}, fmt.Errorf("store: decode request: %w", err)
	}
	return r, nil
}

// ProviderDirectory implements core/store.ProviderDirectory.
type ProviderDirectory struct {
	db *sql.DB
}

func (d *ProviderDirectory) Get(ctx context.Context, id string) (model.Provider, error) {
	var p model.Provider
	if err := getJSON(ctx, d.db, "providers", id, &p); err != nil {
		return model.Provider{}, notFound(err, "providers.get", "provider %s", id)
	}
	return p, nil
}

func (d *ProviderDirectory) Put(ctx context.Context, p model.Provider) error {
	if p.ID == "" {
		return apperr.Validation("providers.put", "provider id required")
	}
	return putJSON(ctx, d.db, "providers", p.ID, p)
}

func (d *ProviderDirectory) List(ctx context.Context) ([]model.Provider, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT record FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("providers.list: %w", err)
	}
	defer rows.Close()
	var out []model.Provider
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("providers.list: %w", err)
		}
		var p model.Provider
		if err := json.Unmarshal([]byte(rec), &p); err != nil {
			return nil, fmt.Errorf("providers.list: decode: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *ProviderDirectory) Mutate(ctx context.Context, id string, fn func(*model.Provider) error) (model.Provider, error) {
	var p model.Provider
	err := mutateJSON(ctx, d.db, "providers", id, &p, func() error { return fn(&p) })
	if err != nil {
		return model.Provider{}, notFound(err, "providers.mutate", "provider %s", id)
	}
	return p, nil
}

// AppointmentStore implements core/store.AppointmentStore.
type AppointmentStore struct {
	db *sql.DB
}

func (s *AppointmentStore) Get(ctx context.Context, id string) (model.Appointment, error) {
	var a model.Appointment
	if err := getJSON(ctx, s.db, "appointments", id, &a); err != nil {
		return model.Appointment{}, notFound(err, "appointments.get", "appointment %s", id)
	}
	return a, nil
}

func (s *AppointmentStore) Put(ctx context.Context, a model.Appointment) error {
	if a.ID == "" {
		return apperr.Validation("appointments.put", "appointment id required")
	}
	return putJSON(ctx, s.db, "appointments", a.ID, a)
}

func (s *AppointmentStore) Mutate(ctx context.Context, id string, fn func(*model.Appointment) error) (model.Appointment, error) {
	var a model.Appointment
	err := mutateJSON(ctx, s.db, "appointments", id, &a, func() error { return fn(&a) })
	if err != nil {
		return model.Appointment{}, notFound(err, "appointments.mutate", "appointment %s", id)
	}
	return a, nil
}

// table names below are constants of this package, never user input.

func getJSON(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, table, id string, v any) error {
	var rec string
	if err := q.QueryRowContext(ctx, `SELECT record FROM `+table+` WHERE id = ?`, id).Scan(&rec); err != nil {
		return err
	}
	return json.Unmarshal([]byte(rec), v)
}

func putJSON(ctx context.Context, db *sql.DB, table, id string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s.put: %w", table, err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, record) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET record = excluded.record`,
		id, string(b))
	if err != nil {
		return fmt.Errorf("%s.put: %w", table, err)
	}
	return nil
}

func mutateJSON(ctx context.Context, db *sql.DB, table, id string, v any, fn func() error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s.mutate: %w", table, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = getJSON(ctx, tx, table, id, v); err != nil {
		return err
	}
	if err = fn(); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s.mutate: %w", table, err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE `+table+` SET record = ? WHERE id = ?`, string(b), id); err != nil {
		return fmt.Errorf("%s.mutate: %w", table, err)
	}
	return tx.Commit()
}

// notFound maps a missing row to a not_found error and passes others through.
func notFound(err error, op, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(op, format, args...)
	}
	return err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
