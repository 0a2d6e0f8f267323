// Package station assigns pseudo radio frequencies to identities and lists
// stations together with their converted recordings.
package station

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crowd-radio/internal/identity"
)

// Record is a persisted station assignment.
type Record struct {
	Token     string
	Name      string
	Frequency int
}

// Identity returns the identity the record belongs to.
func (r *Record) Identity() identity.Identity {
	return identity.Identity{Name: r.Name, Token: r.Token}
}

// PickFunc chooses a frequency given the set already assigned.
type PickFunc func(assigned map[int]bool) int

// Repository persists station assignments.
type Repository interface {
	// Get returns the identity's station, or nil if it has none.
	Get(ctx context.Context, id identity.Identity) (*Record, error)
	// List returns every station in creation order.
	List(ctx context.Context) ([]*Record, error)
	// Assign returns the identity's existing station, or creates one using
	// pick, in a single transaction. created reports whether a row was added.
	Assign(ctx context.Context, id identity.Identity, pick PickFunc) (rec *Record, created bool, err error)
}

// SQLiteRepository implements Repository with SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite station repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getStation(ctx context.Context, q queryer, id identity.Identity) (*Record, error) {
	rec := &Record{}
	err := q.QueryRowContext(ctx,
		"SELECT token, name, frequency FROM stations WHERE token = ? AND name = ?",
		id.Token, id.Name,
	).Scan(&rec.Token, &rec.Name, &rec.Frequency)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get station: %w", err)
	}
	return rec, nil
}

// Get retrieves the station for an identity (nil if none).
func (r *SQLiteRepository) Get(ctx context.Context, id identity.Identity) (*Record, error) {
	return getStation(ctx, r.db, id)
}

// List retrieves all stations in insertion order.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT token, name, frequency FROM stations ORDER BY rowid ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}
	defer rows.Close()

	var stations []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.Token, &rec.Name, &rec.Frequency); err != nil {
			return nil, fmt.Errorf("failed to scan station: %w", err)
		}
		stations = append(stations, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}

	return stations, nil
}

// Assign looks up, collects assigned frequencies and inserts inside one transaction.
func (r *SQLiteRepository) Assign(ctx context.Context, id identity.Identity, pick PickFunc) (*Record, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := getStation(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	assigned, err := assignedFrequencies(ctx, tx)
	if err != nil {
		return nil, false, err
	}

	rec := &Record{Token: id.Token, Name: id.Name, Frequency: pick(assigned)}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO stations (token, name, frequency) VALUES (?, ?, ?)",
		rec.Token, rec.Name, rec.Frequency,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create station: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit station: %w", err)
	}
	return rec, true, nil
}

func assignedFrequencies(ctx context.Context, tx *sql.Tx) (map[int]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT DISTINCT frequency FROM stations")
	if err != nil {
		return nil, fmt.Errorf("failed to collect frequencies: %w", err)
	}
	defer rows.Close()

	assigned := make(map[int]bool)
	for rows.Next() {
		var f int
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("failed to scan frequency: %w", err)
		}
		assigned[f] = true
	}
	return assigned, rows.Err()
}

// Ensure SQLiteRepository implements the interface.
var _ Repository = (*SQLiteRepository)(nil)
