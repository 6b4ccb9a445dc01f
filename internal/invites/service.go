package invites

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/danmu-hub/console/internal/accounts"
	"github.com/danmu-hub/console/internal/auth"
	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

const codeAttempts = 3

// RepositoryPort defines data access methods for invites.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter) ([]Invite, error)
	Get(ctx context.Context, id int64) (Invite, error)
	FindByCode(ctx context.Context, code string) (Invite, error)
	Create(ctx context.Context, ni NewInvite) (Invite, error)
	Delete(ctx context.Context, id int64) error
	Redeem(ctx context.Context, inviteID int64, nu accounts.NewUser, now time.Time) (accounts.User, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service manages invites and invited registration.
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

func canManage(actor principal.Principal) error {
	return permissions.Can(actor.Subject(), permissions.CreateUsers)
}

// List returns the invites visible to actor. The super administrator sees
// every invite; other managers see their own.
func (s *Service) List(ctx context.Context, actor principal.Principal, status string) ([]Invite, error) {
	if err := canManage(actor); err != nil {
		return nil, err
	}
	switch status {
	case "", StatusAll, StatusUsed, StatusUnused:
	default:
		return nil, shared.Invalid("status must be used, unused or all")
	}
	now := s.now()
	filter := ListFilter{Status: status, Now: now}
	if !actor.IsSuper() {
		id := actor.ID
		filter.CreatedBy = &id
	}
	list, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].IsExpired = list[i].ExpiresAt != nil && !now.Before(*list[i].ExpiresAt)
	}
	return list, nil
}

// Create issues an invite with a fresh random code.
func (s *Service) Create(ctx context.Context, actor principal.Principal, in CreateInput) (Invite, error) {
	if err := canManage(actor); err != nil {
		return Invite{}, err
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return Invite{}, shared.Invalid("expiresAt must be in the future")
	}
	ni := NewInvite{
		CreatedBy:    actor.ID,
		MaxUses:      in.MaxUses,
		PerHourLimit: in.PerHourLimit,
		Permissions:  ParseGrants(in.Permissions),
		Remark:       shared.SanitizeText(in.Remark),
		ExpiresAt:    in.ExpiresAt,
	}
	var (
		created Invite
		err     error
	)
	for attempt := 0; attempt < codeAttempts; attempt++ {
		ni.Code, err = shared.RandomAlphanumeric(CodeLength)
		if err != nil {
			return Invite{}, err
		}
		created, err = s.repo.Create(ctx, ni)
		if !errors.Is(err, shared.ErrConflict) {
			break
		}
	}
	if err != nil {
		return Invite{}, err
	}
	s.record(ctx, actor.ID, "invite.create", created.ID, map[string]any{"maxUses": created.MaxUses})
	return created, nil
}

// Delete removes an invite. Managers other than the super administrator may
// only delete their own invites.
func (s *Service) Delete(ctx context.Context, actor principal.Principal, id int64) error {
	if err := canManage(actor); err != nil {
		return err
	}
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsSuper() && inv.CreatedBy != actor.ID {
		return shared.NotFound("Invite not found")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor.ID, "invite.delete", id, map[string]any{"code": inv.Code})
	return nil
}

// Validate checks a code without redeeming it. Message is left for the caller
// to localize.
func (s *Service) Validate(ctx context.Context, code string) (Validation, error) {
	inv, err := s.repo.FindByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Validation{Reason: ReasonNotFound}, nil
		}
		return Validation{}, err
	}
	reason := inv.Reject(s.now())
	if reason == ReasonDisabled {
		return Validation{Reason: reason}, nil
	}
	return Validation{
		Valid:     reason == "",
		Reason:    reason,
		MaxUses:   &inv.MaxUses,
		UsedCount: &inv.UsedCount,
		ExpiresAt: inv.ExpiresAt,
	}, nil
}

// Register creates an account from an invite code. The account inherits the
// invite's overrides, hourly limit and remark.
func (s *Service) Register(ctx context.Context, in RegisterInput) (accounts.User, error) {
	inv, err := s.repo.FindByCode(ctx, strings.TrimSpace(in.Code))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return accounts.User{}, &RejectionError{Reason: ReasonNotFound}
		}
		return accounts.User{}, err
	}
	now := s.now()
	if reason := inv.Reject(now); reason != "" {
		return accounts.User{}, &RejectionError{Reason: reason}
	}
	username := strings.TrimSpace(in.Username)
	if permissions.IsSuperName(username) {
		return accounts.User{}, shared.Forbidden("Cannot register super admin username")
	}
	if len(in.Password) < auth.MinPasswordLength {
		return accounts.User{}, shared.Invalid("Password must be at least 8 characters")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return accounts.User{}, err
	}
	created, err := s.repo.Redeem(ctx, inv.ID, accounts.NewUser{
		Username:     username,
		PasswordHash: hash,
		Role:         accounts.RoleUser,
		Permissions:  inv.Permissions,
		PerHourLimit: inv.PerHourLimit,
		Remark:       inv.Remark,
	}, now)
	if err != nil {
		return accounts.User{}, err
	}
	s.record(ctx, created.ID, "invite.redeem", inv.ID, map[string]any{"username": created.Username})
	return created, nil
}

// PurgeExpired deletes invites that expired more than retention ago.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PurgeExpired(ctx, s.now().Add(-retention))
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "invite",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}
