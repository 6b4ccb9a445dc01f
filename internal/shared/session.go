package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session is the server side record behind an issued access token.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"ua,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore keeps sessions in Redis keyed by token id. Each user also has a
// set of live session ids so every session can be revoked at once.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &SessionStore{client: client, ttl: ttl, now: time.Now}
}

// TTL exposes the configured session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create records a new session for userID.
func (s *SessionStore) Create(ctx context.Context, userID int64, ip, ua string) (Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Session{}, fmt.Errorf("session id: %w", err)
	}
	now := s.now().UTC()
	sess := Session{
		ID:        id.String(),
		UserID:    userID,
		IP:        ip,
		UserAgent: ua,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return Session{}, err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, s.ttl)
	pipe.SAdd(ctx, userSessionsKey(userID), sess.ID)
	pipe.Expire(ctx, userSessionsKey(userID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return Session{}, fmt.Errorf("session store: %w", err)
	}
	return sess, nil
}

// Get loads a live session. Unknown or expired ids yield ErrUnauthorized.
func (s *SessionStore) Get(ctx context.Context, id string) (Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrUnauthorized
		}
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Delete revokes a single session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil
		}
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, userSessionsKey(sess.UserID), id)
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteUser revokes every session owned by userID.
func (s *SessionStore) DeleteUser(ctx context.Context, userID int64) error {
	ids, err := s.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userSessionsKey(userID))
	return s.client.Del(ctx, keys...).Err()
}

func sessionKey(id string) string {
	return "session:" + id
}

func userSessionsKey(userID int64) string {
	return "session:user:" + strconv.FormatInt(userID, 10)
}
