package accounts

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/danmu-hub/console/internal/auth"
	"github.com/danmu-hub/console/internal/locale"
	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

// RepositoryPort defines data access methods for accounts.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter) ([]User, int, error)
	Get(ctx context.Context, id int64) (User, error)
	Create(ctx context.Context, nu NewUser) (User, error)
	UpdatePermissions(ctx context.Context, id int64, overrides permissions.Overrides) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	UpdateQuota(ctx context.Context, id int64, perHourLimit *int) error
	UpdateRemark(ctx context.Context, id int64, remark string) error
	Delete(ctx context.Context, id int64) error
}

// PrincipalRefresher drops cached principals after a mutation.
type PrincipalRefresher interface {
	Refresh(ctx context.Context, id int64) error
}

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	DeleteUser(ctx context.Context, userID int64) error
}

// Service handles account business logic. Every mutation re-evaluates the
// authorization guards against the stored target.
type Service struct {
	repo       RepositoryPort
	principals PrincipalRefresher
	sessions   SessionRevoker
	audit      shared.Auditor
	logger     *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, principals PrincipalRefresher, sessions SessionRevoker, audit shared.Auditor, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, principals: principals, sessions: sessions, audit: audit, logger: logger}
}

func canManage(actor principal.Principal) error {
	if actor.Can(permissions.CreateUsers) || actor.Can(permissions.EditUsers) {
		return nil
	}
	return &permissions.MissingPermissionError{Key: permissions.EditUsers}
}

// List returns a page of users. Viewing requires createUsers or editUsers.
func (s *Service) List(ctx context.Context, actor principal.Principal, filter ListFilter) ([]User, shared.Pagination, error) {
	if err := canManage(actor); err != nil {
		return nil, shared.Pagination{}, err
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Create inserts a user from the create form. Inherit states and states equal
// to the catalog default are not persisted.
func (s *Service) Create(ctx context.Context, actor principal.Principal, in CreateInput) (User, error) {
	if err := permissions.Can(actor.Subject(), permissions.CreateUsers); err != nil {
		return User{}, err
	}
	username := strings.TrimSpace(in.Username)
	if permissions.IsSuperName(username) {
		return User{}, shared.Forbidden("Username admin is reserved")
	}
	if len(in.Password) < auth.MinPasswordLength {
		return User{}, shared.Invalid("Password must be at least 8 characters")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	created, err := s.repo.Create(ctx, NewUser{
		Username:     username,
		PasswordHash: hash,
		Role:         RoleUser,
		Permissions:  permissions.BuildInitialOverridesForCreate(permissions.ParseStates(in.PermStates)),
		PerHourLimit: in.PerHourLimit,
		Remark:       shared.SanitizeText(in.Remark),
	})
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "user.create", created.ID, map[string]any{"username": created.Username, "permissions": created.Permissions})
	return created, nil
}

// Permissions loads the tri-state editor for a user.
func (s *Service) Permissions(ctx context.Context, actor principal.Principal, id int64) (PermissionsView, error) {
	if err := canManage(actor); err != nil {
		return PermissionsView{}, err
	}
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return PermissionsView{}, err
	}
	return PermissionsView{
		UserID:   target.ID,
		Username: target.Username,
		States:   permissions.StatesFromOverrides(target.Permissions),
		Groups:   permissions.Groups(),
		Editable: permissions.CanEditPermissions(actor.Subject(), target.Subject()) == nil,
	}, nil
}

// UpdatePermissions persists the sparse delta between the stored overrides
// and the desired editor states.
func (s *Service) UpdatePermissions(ctx context.Context, actor principal.Principal, id int64, desired permissions.States) (PermissionsUpdate, error) {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return PermissionsUpdate{}, err
	}
	if err := permissions.CanEditPermissions(actor.Subject(), target.Subject()); err != nil {
		return PermissionsUpdate{}, err
	}
	delta := permissions.DeltaFromStates(target.Permissions, desired)
	merged := permissions.Merge(target.Permissions, delta)
	if len(delta) > 0 {
		if err := s.repo.UpdatePermissions(ctx, id, merged); err != nil {
			return PermissionsUpdate{}, err
		}
		s.refresh(ctx, id)
		s.record(ctx, actor, "user.permissions", id, map[string]any{"delta": delta})
	}
	return PermissionsUpdate{UserID: id, Delta: delta, Permissions: merged}, nil
}

// SetPassword changes another user's password.
func (s *Service) SetPassword(ctx context.Context, actor principal.Principal, id int64, password string) error {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := permissions.CanChangePassword(actor.Subject(), target.Subject()); err != nil {
		return err
	}
	if len(password) < auth.MinPasswordLength {
		return shared.Invalid("Password must be at least 8 characters")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, id, hash); err != nil {
		return err
	}
	s.refresh(ctx, id)
	s.record(ctx, actor, "user.password", id, nil)
	return nil
}

// SetQuota changes the hourly download limit. Nil clears it; -1 is unlimited.
func (s *Service) SetQuota(ctx context.Context, actor principal.Principal, id int64, perHourLimit *int) error {
	if perHourLimit != nil && *perHourLimit < -1 {
		return shared.Invalid("perHourLimit must be -1 or greater")
	}
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := permissions.CanEditPermissions(actor.Subject(), target.Subject()); err != nil {
		return err
	}
	if err := s.repo.UpdateQuota(ctx, id, perHourLimit); err != nil {
		return err
	}
	s.refresh(ctx, id)
	s.record(ctx, actor, "user.quota", id, map[string]any{"perHourLimit": perHourLimit})
	return nil
}

// SetRemark changes the remark after stripping markup.
func (s *Service) SetRemark(ctx context.Context, actor principal.Principal, id int64, remark string) (string, error) {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if err := permissions.CanEditPermissions(actor.Subject(), target.Subject()); err != nil {
		return "", err
	}
	clean := shared.SanitizeText(remark)
	if err := s.repo.UpdateRemark(ctx, id, clean); err != nil {
		return "", err
	}
	s.refresh(ctx, id)
	s.record(ctx, actor, "user.remark", id, nil)
	return clean, nil
}

// Delete removes a user and revokes its sessions.
func (s *Service) Delete(ctx context.Context, actor principal.Principal, id int64) error {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := permissions.CanDeleteUser(actor.Subject(), target.Subject()); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.sessions != nil {
		if err := s.sessions.DeleteUser(ctx, id); err != nil {
			s.logger.Warn("revoke sessions", slog.Int64("user_id", id), slog.Any("error", err))
		}
	}
	s.refresh(ctx, id)
	s.record(ctx, actor, "user.delete", id, map[string]any{"username": target.Username})
	return nil
}

// Me describes the actor.
func (s *Service) Me(actor principal.Principal) Me {
	role := actor.Role
	if actor.IsSuper() {
		role = RoleAdmin
	}
	return Me{
		ID:           actor.ID,
		Username:     actor.Username,
		Role:         role,
		IsSuper:      actor.IsSuper(),
		PerHourLimit: actor.PerHourLimit,
		Permissions:  permissions.NormalizeOverrides(actor.Permissions),
		States:       permissions.StatesFromOverrides(actor.Permissions),
	}
}

// ChangeOwnPassword changes the actor's password. Failures carry the fixed
// details the console translates.
func (s *Service) ChangeOwnPassword(ctx context.Context, actor principal.Principal, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return shared.Invalid(locale.DetailPasswordMissing)
	}
	if err := permissions.CanChangeOwnPassword(actor.Subject()); err != nil {
		if errors.Is(err, permissions.ErrPasswordChangeDisabled) {
			return shared.Forbidden(locale.DetailPasswordDisabled)
		}
		return err
	}
	if len(newPassword) < auth.MinPasswordLength {
		return shared.Invalid(locale.DetailPasswordTooShort)
	}
	self, err := s.repo.Get(ctx, actor.ID)
	if err != nil {
		return err
	}
	ok, err := auth.CheckPassword(self.PasswordHash, oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Invalid(locale.DetailPasswordIncorrect)
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, actor.ID, hash); err != nil {
		return err
	}
	s.refresh(ctx, actor.ID)
	s.record(ctx, actor, "user.password_self", actor.ID, nil)
	return nil
}

func (s *Service) refresh(ctx context.Context, id int64) {
	if s.principals == nil {
		return
	}
	if err := s.principals.Refresh(ctx, id); err != nil {
		s.logger.Warn("refresh principal", slog.Int64("user_id", id), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor principal.Principal, action string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}
