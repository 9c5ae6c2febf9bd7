// Package pg provides Postgres-backed implementations of the policy and
// device store interfaces. Records are stored as jsonb documents keyed by id.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fleetconsole.org/internal/device"
	"fleetconsole.org/internal/policy"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool, mainly for tests.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const schema = `
create table if not exists policies (
	id text primary key,
	record jsonb not null,
	updated_at timestamptz not null default now()
);
create table if not exists devices (
	id text primary key,
	seq bigserial,
	record jsonb not null,
	updated_at timestamptz not null default now()
);`

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Policies returns the policy store view.
func (s *Store) Policies() *PolicyStore { return &PolicyStore{db: s.db} }

// Devices returns the device store view.
func (s *Store) Devices() *DeviceStore { return &DeviceStore{db: s.db} }

// PolicyStore persists policy records as jsonb.
type PolicyStore struct {
	db *sql.DB
}

var _ policy.Store = (*PolicyStore)(nil)

func (s *PolicyStore) Get(id string) (policy.Record, error) {
	var raw []byte
	err := s.db.QueryRowContext(context.Background(),
		`select record from policies where id=$1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Record{}, policy.ErrNotFound
	}
	if err != nil {
		return policy.Record{}, err
	}
	var rec policy.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return policy.Record{}, err
	}
	return rec, nil
}

func (s *PolicyStore) Set(id string, rec policy.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(context.Background(), `
		insert into policies(id, record, updated_at)
		values ($1,$2,now())
		on conflict (id) do update
		set record = excluded.record, updated_at = now()
	`, id, raw)
	return err
}

func (s *PolicyStore) Has(id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(context.Background(),
		`select exists(select 1 from policies where id=$1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// DeviceStore persists device records as jsonb. List order follows the
// insertion sequence.
type DeviceStore struct {
	db *sql.DB
}

var _ device.Store = (*DeviceStore)(nil)

func (s *DeviceStore) Get(id string) (device.Device, error) {
	var raw []byte
	err := s.db.QueryRowContext(context.Background(),
		`select record from devices where id=$1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return device.Device{}, device.ErrNotFound
	}
	if err != nil {
		return device.Device{}, err
	}
	var d device.Device
	if err := json.Unmarshal(raw, &d); err != nil {
		return device.Device{}, err
	}
	return d, nil
}

func (s *DeviceStore) Set(id string, d device.Device) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(context.Background(), `
		insert into devices(id, record, updated_at)
		values ($1,$2,now())
		on conflict (id) do update
		set record = excluded.record, updated_at = now()
	`, id, raw)
	return err
}

func (s *DeviceStore) Has(id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(context.Background(),
		`select exists(select 1 from devices where id=$1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *DeviceStore) List() ([]device.Device, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`select record from devices order by seq asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []device.Device
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var d device.Device
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
