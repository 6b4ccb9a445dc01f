package principal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Loader reads a principal from the system of record.
type Loader interface {
	LoadPrincipal(ctx context.Context, id int64) (Principal, error)
}

// Store loads principals through a Redis cache. Concurrent loads of the same
// user share one backend read.
type Store struct {
	loader Loader
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewStore constructs a Store. A nil client disables caching.
func NewStore(loader Loader, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{loader: loader, client: client, ttl: ttl, logger: logger}
}

// Load returns the principal for id.
func (s *Store) Load(ctx context.Context, id int64) (Principal, error) {
	if p, ok := s.cached(ctx, id); ok {
		return p, nil
	}
	key := strconv.FormatInt(id, 10)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		bg := context.WithoutCancel(ctx)
		gen := s.generation(bg, id)
		p, err := s.loader.LoadPrincipal(bg, id)
		if err != nil {
			return Principal{}, err
		}
		s.store(bg, p, gen)
		return p, nil
	})
	select {
	case <-ctx.Done():
		return Principal{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Principal{}, res.Err
		}
		return res.Val.(Principal), nil
	}
}

// Refresh drops the cached principal so the next Load reads fresh state. It
// also bumps the user's generation, so a load that started before the call
// cannot write its result back.
func (s *Store) Refresh(ctx context.Context, id int64) error {
	s.group.Forget(strconv.FormatInt(id, 10))
	if s.client == nil {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, generationKey(id))
	pipe.Expire(ctx, generationKey(id), generationTTL)
	pipe.Del(ctx, cacheKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("principal: refresh %d: %w", id, err)
	}
	return nil
}

func (s *Store) generation(ctx context.Context, id int64) string {
	if s.client == nil {
		return "0"
	}
	gen, err := s.client.Get(ctx, generationKey(id)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("principal generation read", slog.Int64("user_id", id), slog.Any("error", err))
		}
		return "0"
	}
	return gen
}

func (s *Store) cached(ctx context.Context, id int64) (Principal, bool) {
	if s.client == nil {
		return Principal{}, false
	}
	data, err := s.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("principal cache read", slog.Int64("user_id", id), slog.Any("error", err))
		}
		return Principal{}, false
	}
	var p Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return Principal{}, false
	}
	return p, true
}

// storeScript writes the cached principal only while the generation still
// equals the one read before the load.
var storeScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

func (s *Store) store(ctx context.Context, p Principal, gen string) {
	if s.client == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	keys := []string{cacheKey(p.ID), generationKey(p.ID)}
	written, err := storeScript.Run(ctx, s.client, keys, gen, data, s.ttl.Milliseconds()).Int()
	if err != nil {
		s.logger.Warn("principal cache write", slog.Int64("user_id", p.ID), slog.Any("error", err))
		return
	}
	if written == 0 {
		s.logger.Debug("principal cache write skipped", slog.Int64("user_id", p.ID))
	}
}

// generationTTL outlives any in-flight load by a wide margin.
const generationTTL = 24 * time.Hour

func cacheKey(id int64) string {
	return "principal:" + strconv.FormatInt(id, 10)
}

func generationKey(id int64) string {
	return "principal:gen:" + strconv.FormatInt(id, 10)
}
