package invites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danmu-hub/console/internal/accounts"
	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/platform/db"
	"github.com/danmu-hub/console/internal/shared"
)

const inviteColumns = "id, code, created_by, max_uses, used_count, per_hour_limit, permissions, remark, is_enabled, expires_at, created_at"

// Repository persists invites in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	psql sq.StatementBuilderType
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvite(row rowScanner) (Invite, error) {
	var (
		inv   Invite
		perms []byte
		limit *int32
	)
	if err := row.Scan(&inv.ID, &inv.Code, &inv.CreatedBy, &inv.MaxUses, &inv.UsedCount, &limit,
		&perms, &inv.Remark, &inv.IsEnabled, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
		return Invite{}, err
	}
	inv.Permissions = permissions.Overrides{}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &inv.Permissions); err != nil {
			return Invite{}, fmt.Errorf("decode permissions of invite %d: %w", inv.ID, err)
		}
	}
	if limit != nil {
		v := int(*limit)
		inv.PerHourLimit = &v
	}
	return inv, nil
}

func usedPredicate(now time.Time) sq.Or {
	return sq.Or{
		sq.LtOrEq{"expires_at": now},
		sq.Eq{"is_enabled": false},
		sq.Expr("used_count >= max_uses"),
	}
}

// List returns invites newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Invite, error) {
	q := r.psql.Select(inviteColumns).From("invites").OrderBy("created_at DESC", "id DESC")
	if filter.CreatedBy != nil {
		q = q.Where(sq.Eq{"created_by": *filter.CreatedBy})
	}
	switch filter.Status {
	case StatusUsed:
		q = q.Where(usedPredicate(filter.Now))
	case StatusUnused:
		q = q.Where(sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": filter.Now}}).
			Where(sq.Eq{"is_enabled": true}).
			Where(sq.Expr("used_count < max_uses"))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list invites: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()
	var out []Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Get fetches an invite by id.
func (r *Repository) Get(ctx context.Context, id int64) (Invite, error) {
	inv, err := scanInvite(r.pool.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invites WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, shared.NotFound("Invite not found")
	}
	return inv, err
}

// FindByCode fetches an invite by code.
func (r *Repository) FindByCode(ctx context.Context, code string) (Invite, error) {
	inv, err := scanInvite(r.pool.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invites WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, shared.NotFound("Invite not found")
	}
	return inv, err
}

// Create inserts an invite.
func (r *Repository) Create(ctx context.Context, ni NewInvite) (Invite, error) {
	perms, err := json.Marshal(permissions.NormalizeOverrides(ni.Permissions))
	if err != nil {
		return Invite{}, err
	}
	inv, err := scanInvite(r.pool.QueryRow(ctx,
		`INSERT INTO invites (code, created_by, max_uses, per_hour_limit, permissions, remark, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+inviteColumns,
		ni.Code, ni.CreatedBy, ni.MaxUses, ni.PerHourLimit, perms, ni.Remark, ni.ExpiresAt,
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Invite{}, shared.Conflict("Invite code already exists")
		}
		return Invite{}, fmt.Errorf("insert invite: %w", err)
	}
	return inv, nil
}

// Delete removes an invite.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invites WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("Invite not found")
	}
	return nil
}

// Redeem creates the account from nu and charges one use of the invite in a
// single transaction. The invite is re-checked under a row lock.
func (r *Repository) Redeem(ctx context.Context, inviteID int64, nu accounts.NewUser, now time.Time) (accounts.User, error) {
	var created accounts.User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		inv, err := scanInvite(tx.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invites WHERE id = $1 FOR UPDATE`, inviteID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &RejectionError{Reason: ReasonNotFound}
			}
			return err
		}
		if reason := inv.Reject(now); reason != "" {
			return &RejectionError{Reason: reason}
		}
		created, err = accounts.InsertUser(ctx, tx, nu)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE invites SET used_count = used_count + 1 WHERE id = $1`, inviteID); err != nil {
			return fmt.Errorf("charge invite: %w", err)
		}
		return nil
	})
	if db.IsSerializationFailure(err) {
		return accounts.User{}, shared.Conflict("Invite was redeemed concurrently, try again")
	}
	return created, err
}

// PurgeExpired deletes invites that expired before cutoff and reports how
// many were removed.
func (r *Repository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invites WHERE expires_at IS NOT NULL AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge invites: %w", err)
	}
	return tag.RowsAffected(), nil
}
