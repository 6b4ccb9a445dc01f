package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores integration values as JSON rows in app_config.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one row. The boolean is false when the integration was never saved.
func (r *Repository) Get(ctx context.Context, name string) (Stored, bool, error) {
	var s Stored
	err := r.pool.QueryRow(ctx,
		`SELECT name, value, updated_by, updated_at FROM app_config WHERE name = $1`, name,
	).Scan(&s.Name, &s.Value, &s.UpdatedBy, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stored{}, false, nil
	}
	if err != nil {
		return Stored{}, false, fmt.Errorf("load setting %s: %w", name, err)
	}
	return s, true, nil
}

// List loads every saved row keyed by name.
func (r *Repository) List(ctx context.Context) (map[string]Stored, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, value, updated_by, updated_at FROM app_config`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()
	out := map[string]Stored{}
	for rows.Next() {
		var s Stored
		if err := rows.Scan(&s.Name, &s.Value, &s.UpdatedBy, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out[s.Name] = s
	}
	return out, rows.Err()
}

// Put upserts one row.
func (r *Repository) Put(ctx context.Context, name string, value json.RawMessage, updatedBy int64) (Stored, error) {
	var s Stored
	err := r.pool.QueryRow(ctx,
		`INSERT INTO app_config (name, value, updated_by, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()
		 RETURNING name, value, updated_by, updated_at`,
		name, []byte(value), updatedBy,
	).Scan(&s.Name, &s.Value, &s.UpdatedBy, &s.UpdatedAt)
	if err != nil {
		return Stored{}, fmt.Errorf("save setting %s: %w", name, err)
	}
	return s, nil
}
