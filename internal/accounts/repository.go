package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/platform/db"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

const userColumns = "id, username, password_hash, role, permissions, per_hour_limit, remark, created_at, updated_at"

// Repository provides PostgreSQL backed persistence.
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

func scanUser(row rowScanner) (User, error) {
	var (
		u     User
		perms []byte
		limit *int32
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &perms, &limit, &u.Remark, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.Permissions = permissions.Overrides{}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &u.Permissions); err != nil {
			return User{}, fmt.Errorf("decode permissions of user %d: %w", u.ID, err)
		}
	}
	u.Permissions = permissions.NormalizeOverrides(u.Permissions)
	if limit != nil {
		v := int(*limit)
		u.PerHourLimit = &v
	}
	return u, nil
}

// List returns one page of users ordered by id and the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]User, int, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)

	where := sq.And{}
	if q := strings.TrimSpace(filter.Query); q != "" {
		where = append(where, sq.ILike{"username": "%" + q + "%"})
	}

	countSQL, countArgs, err := r.psql.Select("COUNT(*)").From("users").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count users: %w", err)
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	listSQL, listArgs, err := r.psql.Select(userColumns).From("users").Where(where).
		OrderBy("id ASC").
		Limit(uint64(page.PerPage)).
		Offset(uint64(page.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list users: %w", err)
	}
	rows, err := r.pool.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, page.PerPage)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// Get fetches a user by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.NotFound("user not found")
		}
		return User{}, err
	}
	return u, nil
}

// Create inserts a user.
func (r *Repository) Create(ctx context.Context, nu NewUser) (User, error) {
	return InsertUser(ctx, r.pool, nu)
}

// Querier is satisfied by pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InsertUser inserts a user through q, which may be a transaction.
func InsertUser(ctx context.Context, q Querier, nu NewUser) (User, error) {
	perms, err := json.Marshal(permissions.NormalizeOverrides(nu.Permissions))
	if err != nil {
		return User{}, err
	}
	role := nu.Role
	if role == "" {
		role = RoleUser
	}
	u, err := scanUser(q.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, role, permissions, per_hour_limit, remark)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		nu.Username, nu.PasswordHash, role, perms, nu.PerHourLimit, nu.Remark,
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, shared.Conflict("Username already exists")
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// UpdatePermissions replaces the stored overrides of a user.
func (r *Repository) UpdatePermissions(ctx context.Context, id int64, overrides permissions.Overrides) error {
	perms, err := json.Marshal(permissions.NormalizeOverrides(overrides))
	if err != nil {
		return err
	}
	return r.exec(ctx, `UPDATE users SET permissions = $2, updated_at = NOW() WHERE id = $1`, id, perms)
}

// UpdatePassword stores a new password hash.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
}

// UpdateQuota sets the hourly download limit. Nil clears it.
func (r *Repository) UpdateQuota(ctx context.Context, id int64, perHourLimit *int) error {
	return r.exec(ctx, `UPDATE users SET per_hour_limit = $2, updated_at = NOW() WHERE id = $1`, id, perHourLimit)
}

// UpdateRemark sets the remark.
func (r *Repository) UpdateRemark(ctx context.Context, id int64, remark string) error {
	return r.exec(ctx, `UPDATE users SET remark = $2, updated_at = NOW() WHERE id = $1`, id, remark)
}

// Delete removes a user.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM users WHERE id = $1`, id)
}

func (r *Repository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("user not found")
	}
	return nil
}

// LoadPrincipal implements principal.Loader.
func (r *Repository) LoadPrincipal(ctx context.Context, id int64) (principal.Principal, error) {
	u, err := r.Get(ctx, id)
	if err != nil {
		return principal.Principal{}, err
	}
	return ToPrincipal(u), nil
}

// ToPrincipal converts a stored user into the request principal.
func ToPrincipal(u User) principal.Principal {
	return principal.Principal{
		ID:           u.ID,
		Username:     u.Username,
		Role:         u.Role,
		Permissions:  u.Permissions,
		PerHourLimit: u.PerHourLimit,
		Remark:       u.Remark,
	}
}

// Quota is the per-user hourly limit row used by the rate-limit panel.
type Quota struct {
	ID           int64
	Username     string
	PerHourLimit *int
}

// ListQuotas returns every user's hourly limit ordered by id.
func (r *Repository) ListQuotas(ctx context.Context) ([]Quota, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, username, per_hour_limit FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	defer rows.Close()
	var out []Quota
	for rows.Next() {
		var (
			q     Quota
			limit *int32
		)
		if err := rows.Scan(&q.ID, &q.Username, &limit); err != nil {
			return nil, err
		}
		if limit != nil {
			v := int(*limit)
			q.PerHourLimit = &v
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// EnsureSuper creates the super account when it does not exist yet.
func (r *Repository) EnsureSuper(ctx context.Context, username, passwordHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash, role, permissions, updated_at)
		 SELECT $1, $2, $3, '{}'::jsonb, $4
		 WHERE NOT EXISTS (SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))`,
		username, passwordHash, RoleAdmin, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("ensure super: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ RepositoryPort = (*Repository)(nil)
var _ principal.Loader = (*Repository)(nil)
