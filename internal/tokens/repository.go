package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danmu-hub/console/internal/platform/db"
	"github.com/danmu-hub/console/internal/shared"
)

const tokenColumns = "id, name, token, owner_user_id, is_enabled, is_locked, daily_call_limit, daily_call_count, expires_at, created_at"

// ListFilter narrows token listings. A nil OwnerID lists every token.
type ListFilter struct {
	OwnerID *int64
}

// Repository persists tokens and their access logs in PostgreSQL.
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

func scanToken(row rowScanner) (Token, error) {
	var t Token
	err := row.Scan(&t.ID, &t.Name, &t.Token, &t.OwnerUserID, &t.IsEnabled, &t.IsLocked,
		&t.DailyCallLimit, &t.DailyCallCount, &t.ExpiresAt, &t.CreatedAt)
	return t, err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound("token not found")
	}
	return err
}

// List returns tokens ordered by id.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Token, error) {
	q := r.psql.Select(tokenColumns).From("tokens").OrderBy("id ASC")
	if filter.OwnerID != nil {
		q = q.Where(sq.Eq{"owner_user_id": *filter.OwnerID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tokens: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()
	var out []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get fetches a token by id.
func (r *Repository) Get(ctx context.Context, id int64) (Token, error) {
	t, err := scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id))
	return t, notFound(err)
}

// GetByValue fetches a token by its secret value.
func (r *Repository) GetByValue(ctx context.Context, value string) (Token, error) {
	t, err := scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE token = $1`, value))
	return t, notFound(err)
}

// Create inserts a token.
func (r *Repository) Create(ctx context.Context, t Token) (Token, error) {
	out, err := scanToken(r.pool.QueryRow(ctx,
		`INSERT INTO tokens (name, token, owner_user_id, is_enabled, daily_call_limit, expires_at)
		 VALUES ($1, $2, $3, TRUE, $4, $5)
		 RETURNING `+tokenColumns,
		t.Name, t.Token, t.OwnerUserID, t.DailyCallLimit, t.ExpiresAt,
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Token{}, shared.Conflict("Token already exists")
		}
		return Token{}, fmt.Errorf("insert token: %w", err)
	}
	return out, nil
}

// Update stores the editable fields of t.
func (r *Repository) Update(ctx context.Context, t Token) (Token, error) {
	out, err := scanToken(r.pool.QueryRow(ctx,
		`UPDATE tokens SET name = $2, daily_call_limit = $3, expires_at = $4
		 WHERE id = $1 RETURNING `+tokenColumns,
		t.ID, t.Name, t.DailyCallLimit, t.ExpiresAt,
	))
	return out, notFound(err)
}

// SetEnabled toggles the enabled flag.
func (r *Repository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return r.exec(ctx, `UPDATE tokens SET is_enabled = $2 WHERE id = $1`, id, enabled)
}

// SetLocked toggles the locked flag.
func (r *Repository) SetLocked(ctx context.Context, id int64, locked bool) error {
	return r.exec(ctx, `UPDATE tokens SET is_locked = $2 WHERE id = $1`, id, locked)
}

// ResetCounter zeroes the daily call count of one token.
func (r *Repository) ResetCounter(ctx context.Context, id int64) error {
	return r.exec(ctx, `UPDATE tokens SET daily_call_count = 0 WHERE id = $1`, id)
}

// ResetAllCounters zeroes every daily call count and reports how many changed.
func (r *Repository) ResetAllCounters(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE tokens SET daily_call_count = 0 WHERE daily_call_count <> 0`)
	if err != nil {
		return 0, fmt.Errorf("reset token counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a token and its logs.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM tokens WHERE id = $1`, id)
}

// IncrementCalls charges one call unless the daily limit is exhausted. It
// reports false when the limit blocked the call.
func (r *Repository) IncrementCalls(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tokens SET daily_call_count = daily_call_count + 1
		 WHERE id = $1 AND (daily_call_limit < 0 OR daily_call_count < daily_call_limit)`, id)
	if err != nil {
		return false, fmt.Errorf("increment token calls: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertLog appends an access-log row.
func (r *Repository) InsertLog(ctx context.Context, entry AccessLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO token_access_logs (token_id, ip_address, user_agent, path, status, accessed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.TokenID, entry.IP, entry.UserAgent, entry.Path, entry.Status, entry.AccessedAt)
	if err != nil {
		return fmt.Errorf("insert token log: %w", err)
	}
	return nil
}

// ListLogs returns one page of a token's access log, newest first.
func (r *Repository) ListLogs(ctx context.Context, tokenID int64, filter LogFilter) ([]AccessLog, int, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	where := sq.And{sq.Eq{"token_id": tokenID}}
	if filter.Status != "" {
		where = append(where, sq.Eq{"status": filter.Status})
	}

	countSQL, countArgs, err := r.psql.Select("COUNT(*)").From("token_access_logs").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count token logs: %w", err)
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count token logs: %w", err)
	}

	listSQL, listArgs, err := r.psql.
		Select("id, token_id, ip_address, user_agent, path, status, accessed_at").
		From("token_access_logs").Where(where).
		OrderBy("accessed_at DESC", "id DESC").
		Limit(uint64(page.PerPage)).
		Offset(uint64(page.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list token logs: %w", err)
	}
	rows, err := r.pool.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list token logs: %w", err)
	}
	defer rows.Close()
	logs := make([]AccessLog, 0, page.PerPage)
	for rows.Next() {
		var l AccessLog
		if err := rows.Scan(&l.ID, &l.TokenID, &l.IP, &l.UserAgent, &l.Path, &l.Status, &l.AccessedAt); err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}

// Usage counts successful calls per token and UTC day since from. An empty
// ids slice covers every token.
func (r *Repository) Usage(ctx context.Context, ids []int64, from time.Time) ([]UsageRow, error) {
	q := r.psql.
		Select("token_id", "to_char(accessed_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day", "COUNT(*)").
		From("token_access_logs").
		Where(sq.Eq{"status": StatusOK}).
		Where(sq.GtOrEq{"accessed_at": from}).
		GroupBy("token_id", "day").
		OrderBy("day ASC", "token_id ASC")
	if len(ids) > 0 {
		q = q.Where(sq.Eq{"token_id": ids})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build token usage: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("token usage: %w", err)
	}
	defer rows.Close()
	var out []UsageRow
	for rows.Next() {
		var u UsageRow
		if err := rows.Scan(&u.TokenID, &u.Day, &u.Count); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("token not found")
	}
	return nil
}
