package tokens

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

const (
	randomTokenLength = 32
	maxUsageDays      = 90
)

// RepositoryPort defines data access methods for tokens.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter) ([]Token, error)
	Get(ctx context.Context, id int64) (Token, error)
	GetByValue(ctx context.Context, value string) (Token, error)
	Create(ctx context.Context, t Token) (Token, error)
	Update(ctx context.Context, t Token) (Token, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	SetLocked(ctx context.Context, id int64, locked bool) error
	ResetCounter(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	IncrementCalls(ctx context.Context, id int64) (bool, error)
	InsertLog(ctx context.Context, entry AccessLog) error
	ListLogs(ctx context.Context, tokenID int64, filter LogFilter) ([]AccessLog, int, error)
	Usage(ctx context.Context, ids []int64, from time.Time) ([]UsageRow, error)
}

// ErrLocked rejects changes to a locked token.
var ErrLocked = shared.Forbidden("Token is locked")

// Service manages output tokens on behalf of console users.
type Service struct {
	repo   RepositoryPort
	audit  shared.Auditor
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.Auditor, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// CanEditAll reports whether actor manages every token rather than only its own.
func CanEditAll(actor principal.Principal) bool {
	return actor.Can(permissions.EditDanmakuOutput)
}

func ownerFilter(actor principal.Principal) ListFilter {
	if CanEditAll(actor) {
		return ListFilter{}
	}
	id := actor.ID
	return ListFilter{OwnerID: &id}
}

// List returns the tokens visible to actor.
func (s *Service) List(ctx context.Context, actor principal.Principal) ([]Token, error) {
	return s.repo.List(ctx, ownerFilter(actor))
}

// Create issues a token. Actors without editDanmakuOutput always receive a
// private token.
func (s *Service) Create(ctx context.Context, actor principal.Principal, in CreateInput) (Token, error) {
	editAll := CanEditAll(actor)
	if in.Scope == ScopeGlobal && !editAll {
		return Token{}, &permissions.MissingPermissionError{Key: permissions.EditDanmakuOutput}
	}

	value, err := tokenValue(in)
	if err != nil {
		return Token{}, err
	}
	expiresAt, err := in.Validity.ExpiresAt(s.now(), in.CustomExpiresAt, nil)
	if err != nil {
		return Token{}, err
	}
	t := Token{
		Name:           shared.SanitizeText(in.Name),
		Token:          value,
		DailyCallLimit: DefaultDailyCallLimit,
		ExpiresAt:      expiresAt,
	}
	if in.DailyCallLimit != nil {
		t.DailyCallLimit = *in.DailyCallLimit
	}
	if in.Scope != ScopeGlobal {
		owner := actor.ID
		t.OwnerUserID = &owner
	}
	created, err := s.repo.Create(ctx, t)
	if err != nil {
		return Token{}, err
	}
	s.record(ctx, actor, "token.create", created.ID, map[string]any{"name": created.Name, "scope": created.Scope()})
	return created, nil
}

func tokenValue(in CreateInput) (string, error) {
	if in.Generation == "custom" {
		custom := strings.TrimSpace(in.CustomToken)
		if len(custom) < 8 {
			return "", shared.Invalid("Custom token must be at least 8 characters")
		}
		return custom, nil
	}
	return shared.RandomAlphanumeric(randomTokenLength)
}

// visible loads a token and hides tokens the actor may not manage.
func (s *Service) visible(ctx context.Context, actor principal.Principal, id int64) (Token, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Token{}, err
	}
	if !CanEditAll(actor) && !t.OwnedBy(actor.ID) {
		return Token{}, shared.NotFound("token not found")
	}
	return t, nil
}

func (s *Service) unlocked(ctx context.Context, actor principal.Principal, id int64) (Token, error) {
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return Token{}, err
	}
	if t.IsLocked {
		return Token{}, ErrLocked
	}
	return t, nil
}

// Update edits name, expiry and daily limit. An empty validity keeps the
// stored expiry, as does custom validity without a new date.
func (s *Service) Update(ctx context.Context, actor principal.Principal, id int64, in UpdateInput) (Token, error) {
	t, err := s.unlocked(ctx, actor, id)
	if err != nil {
		return Token{}, err
	}
	if in.Validity != "" {
		t.ExpiresAt, err = in.Validity.ExpiresAt(s.now(), in.CustomExpiresAt, t.ExpiresAt)
		if err != nil {
			return Token{}, err
		}
	}
	t.Name = shared.SanitizeText(in.Name)
	if in.DailyCallLimit != nil {
		t.DailyCallLimit = *in.DailyCallLimit
	}
	updated, err := s.repo.Update(ctx, t)
	if err != nil {
		return Token{}, err
	}
	s.record(ctx, actor, "token.update", id, map[string]any{"name": updated.Name, "dailyCallLimit": updated.DailyCallLimit})
	return updated, nil
}

// Toggle flips the enabled flag.
func (s *Service) Toggle(ctx context.Context, actor principal.Principal, id int64) (Token, error) {
	t, err := s.unlocked(ctx, actor, id)
	if err != nil {
		return Token{}, err
	}
	t.IsEnabled = !t.IsEnabled
	if err := s.repo.SetEnabled(ctx, id, t.IsEnabled); err != nil {
		return Token{}, err
	}
	s.record(ctx, actor, "token.toggle", id, map[string]any{"enabled": t.IsEnabled})
	return t, nil
}

// Lock freezes a token against further changes.
func (s *Service) Lock(ctx context.Context, actor principal.Principal, id int64) (Token, error) {
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return Token{}, err
	}
	if !t.IsLocked {
		if err := s.repo.SetLocked(ctx, id, true); err != nil {
			return Token{}, err
		}
		t.IsLocked = true
		s.record(ctx, actor, "token.lock", id, nil)
	}
	return t, nil
}

// Unlock releases a locked token. Only actors managing every token may unlock.
func (s *Service) Unlock(ctx context.Context, actor principal.Principal, id int64) (Token, error) {
	if !CanEditAll(actor) {
		return Token{}, &permissions.MissingPermissionError{Key: permissions.EditDanmakuOutput}
	}
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return Token{}, err
	}
	if t.IsLocked {
		if err := s.repo.SetLocked(ctx, id, false); err != nil {
			return Token{}, err
		}
		t.IsLocked = false
		s.record(ctx, actor, "token.unlock", id, nil)
	}
	return t, nil
}

// ResetCounter zeroes the daily call count.
func (s *Service) ResetCounter(ctx context.Context, actor principal.Principal, id int64) error {
	if _, err := s.unlocked(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.ResetCounter(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "token.reset_counter", id, nil)
	return nil
}

// Delete removes a token.
func (s *Service) Delete(ctx context.Context, actor principal.Principal, id int64) error {
	t, err := s.unlocked(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "token.delete", id, map[string]any{"name": t.Name})
	return nil
}

// Logs pages through a token's access log. Logs of locked tokens are only
// shown to actors managing every token.
func (s *Service) Logs(ctx context.Context, actor principal.Principal, id int64, filter LogFilter) ([]AccessLog, shared.Pagination, error) {
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if t.IsLocked && !CanEditAll(actor) {
		return nil, shared.Pagination{}, shared.Forbidden("Logs of a locked token are hidden")
	}
	logs, total, err := s.repo.ListLogs(ctx, id, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return logs, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Usage aggregates successful calls per token and day over the last days
// days, restricted to the tokens visible to actor.
func (s *Service) Usage(ctx context.Context, actor principal.Principal, days int) ([]UsageRow, error) {
	if days <= 0 {
		days = 7
	}
	if days > maxUsageDays {
		days = maxUsageDays
	}
	var ids []int64
	if !CanEditAll(actor) {
		visible, err := s.repo.List(ctx, ownerFilter(actor))
		if err != nil {
			return nil, err
		}
		if len(visible) == 0 {
			return []UsageRow{}, nil
		}
		for _, t := range visible {
			ids = append(ids, t.ID)
		}
	}
	from := s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	rows, err := s.repo.Usage(ctx, ids, from)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []UsageRow{}
	}
	return rows, nil
}

func (s *Service) record(ctx context.Context, actor principal.Principal, action string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "token",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}
