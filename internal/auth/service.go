package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmu-hub/console/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions *shared.SessionStore
	issuer   *Issuer
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *shared.SessionStore, issuer *Issuer) *Service {
	return &Service{repo: repo, sessions: sessions, issuer: issuer}
}

// Login validates username/password credentials and opens a session.
func (s *Service) Login(ctx context.Context, username, password, ip, ua string) (Token, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Token{}, shared.ErrInvalidCredentials
	}
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Token{}, shared.ErrInvalidCredentials
		}
		return Token{}, err
	}
	ok, err := CheckPassword(user.PasswordHash, password)
	if err != nil {
		return Token{}, fmt.Errorf("auth: compare password: %w", err)
	}
	if !ok {
		return Token{}, shared.ErrInvalidCredentials
	}

	sess, err := s.sessions.Create(ctx, user.ID, ip, ua)
	if err != nil {
		return Token{}, err
	}
	signed, err := s.issuer.Issue(user.ID, sess.ID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		_ = s.sessions.Delete(ctx, sess.ID)
		return Token{}, err
	}
	return Token{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresAt:   sess.ExpiresAt,
		UserID:      user.ID,
		Username:    user.Username,
	}, nil
}

// Resolve maps a bearer token to its live session.
func (s *Service) Resolve(ctx context.Context, bearer string) (shared.Session, error) {
	claims, err := s.issuer.Parse(bearer)
	if err != nil {
		return shared.Session{}, shared.ErrUnauthorized
	}
	userID, err := claims.UserID()
	if err != nil {
		return shared.Session{}, shared.ErrUnauthorized
	}
	sess, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		return shared.Session{}, err
	}
	if sess.UserID != userID {
		return shared.Session{}, shared.ErrUnauthorized
	}
	return sess, nil
}

// Logout revokes a session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}
