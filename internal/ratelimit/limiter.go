// Package ratelimit tracks hourly download usage per user and globally.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danmu-hub/console/internal/shared"
)

// Unlimited disables a limit.
const Unlimited = -1

const (
	globalField    = "_global"
	globalLimitKey = "rl:global:limit"
	totalsKey      = "rl:total"
	hourPrefix     = "rl:h:"
	dayPrefix      = "rl:d:"
	hourLayout     = "2006010215"
	dayLayout      = "20060102"

	hourTTL = 8 * 24 * time.Hour
	dayTTL  = 35 * 24 * time.Hour

	// MaxWindowHours bounds aggregate queries to the retained history.
	MaxWindowHours = 720
)

// consumeScript checks both limits and increments the counters atomically.
// Result: {status, userUsed, globalUsed}; status 1 ok, -1 user limit, -2 global limit.
var consumeScript = redis.NewScript(`
local userUsed = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local globalUsed = tonumber(redis.call('HGET', KEYS[1], '_global') or '0')
local userLimit = tonumber(ARGV[2])
local globalLimit = tonumber(ARGV[3])
if globalLimit >= 0 and globalUsed >= globalLimit then
  return {-2, userUsed, globalUsed}
end
if userLimit >= 0 and userUsed >= userLimit then
  return {-1, userUsed, globalUsed}
end
userUsed = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
globalUsed = redis.call('HINCRBY', KEYS[1], '_global', 1)
redis.call('EXPIRE', KEYS[1], ARGV[4])
redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
return {1, userUsed, globalUsed}
`)

// Usage is the state of the current hour after a Consume call.
type Usage struct {
	UserUsed    int
	UserLimit   int
	GlobalUsed  int
	GlobalLimit int
	ResetsAt    time.Time
}

// Limiter stores counters in Redis hashes keyed by UTC hour.
type Limiter struct {
	client        *redis.Client
	defaultGlobal int
	now           func() time.Time
}

// NewLimiter constructs a Limiter. defaultGlobal applies until a limit is set.
func NewLimiter(client *redis.Client, defaultGlobal int) *Limiter {
	return &Limiter{client: client, defaultGlobal: defaultGlobal, now: time.Now}
}

func hourKey(t time.Time) string { return hourPrefix + t.UTC().Format(hourLayout) }
func dayKey(t time.Time) string  { return dayPrefix + t.UTC().Format(dayLayout) }

func (l *Limiter) resetsAt() time.Time {
	return l.now().UTC().Truncate(time.Hour).Add(time.Hour)
}

// GlobalLimit returns the configured global hourly limit.
func (l *Limiter) GlobalLimit(ctx context.Context) (int, error) {
	v, err := l.client.Get(ctx, globalLimitKey).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return l.defaultGlobal, nil
		}
		return 0, fmt.Errorf("ratelimit: global limit: %w", err)
	}
	return v, nil
}

// SetGlobalLimit stores the global hourly limit; -1 means unlimited.
func (l *Limiter) SetGlobalLimit(ctx context.Context, limit int) error {
	if limit < Unlimited {
		return shared.Invalid("globalLimit must be -1 or greater")
	}
	return l.client.Set(ctx, globalLimitKey, limit, 0).Err()
}

// Consume charges one download to userID. A nil perHourLimit leaves only the
// global limit in force.
func (l *Limiter) Consume(ctx context.Context, userID int64, perHourLimit *int) (Usage, error) {
	global, err := l.GlobalLimit(ctx)
	if err != nil {
		return Usage{}, err
	}
	userLimit := Unlimited
	if perHourLimit != nil {
		userLimit = *perHourLimit
	}
	now := l.now()
	res, err := consumeScript.Run(ctx, l.client,
		[]string{hourKey(now), totalsKey},
		strconv.FormatInt(userID, 10), userLimit, global, int(hourTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return Usage{}, fmt.Errorf("ratelimit: consume: %w", err)
	}
	usage := Usage{
		UserUsed:    int(res[1]),
		UserLimit:   userLimit,
		GlobalUsed:  int(res[2]),
		GlobalLimit: global,
		ResetsAt:    l.resetsAt(),
	}
	switch res[0] {
	case -2:
		return usage, &shared.DetailError{Kind: shared.ErrRateLimited, Detail: "Global hourly limit reached"}
	case -1:
		return usage, &shared.DetailError{Kind: shared.ErrRateLimited, Detail: "Hourly limit reached"}
	}
	return usage, nil
}

// CurrentHour returns this hour's usage per user and the global total.
func (l *Limiter) CurrentHour(ctx context.Context) (map[int64]int, int, error) {
	raw, err := l.client.HGetAll(ctx, hourKey(l.now())).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("ratelimit: current hour: %w", err)
	}
	users, global := parseCounters(raw)
	return users, global, nil
}

// Aggregate sums usage per user over the last windowHours hours. Hours whose
// day was compacted contribute that whole day once. When all is set the
// all-time totals are returned instead.
func (l *Limiter) Aggregate(ctx context.Context, windowHours int, all bool) (map[int64]int, error) {
	if all {
		raw, err := l.client.HGetAll(ctx, totalsKey).Result()
		if err != nil {
			return nil, fmt.Errorf("ratelimit: totals: %w", err)
		}
		users, _ := parseCounters(raw)
		return users, nil
	}
	if windowHours < 1 || windowHours > MaxWindowHours {
		return nil, shared.Invalid(fmt.Sprintf("windowHours must be between 1 and %d", MaxWindowHours))
	}

	now := l.now().UTC()
	hours := make([]time.Time, windowHours)
	for i := range hours {
		hours[i] = now.Add(-time.Duration(i) * time.Hour)
	}

	pipe := l.client.Pipeline()
	dayExists := map[string]*redis.IntCmd{}
	for _, h := range hours {
		if _, ok := dayExists[dayKey(h)]; !ok {
			dayExists[dayKey(h)] = pipe.Exists(ctx, dayKey(h))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("ratelimit: aggregate days: %w", err)
	}

	pipe = l.client.Pipeline()
	var reads []*redis.MapStringStringCmd
	seenDay := map[string]bool{}
	for _, h := range hours {
		dk := dayKey(h)
		if dayExists[dk].Val() > 0 {
			if !seenDay[dk] {
				seenDay[dk] = true
				reads = append(reads, pipe.HGetAll(ctx, dk))
			}
			continue
		}
		reads = append(reads, pipe.HGetAll(ctx, hourKey(h)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("ratelimit: aggregate hours: %w", err)
	}

	out := map[int64]int{}
	for _, cmd := range reads {
		users, _ := parseCounters(cmd.Val())
		for id, n := range users {
			out[id] += n
		}
	}
	return out, nil
}

// Compact folds hourly buckets of every day older than retain into one daily
// bucket and returns the number of hourly buckets removed.
func (l *Limiter) Compact(ctx context.Context, retain time.Duration) (int, error) {
	cutoff := l.now().UTC().Add(-retain).Truncate(24 * time.Hour)
	folded := 0
	iter := l.client.Scan(ctx, 0, hourPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		at, err := time.Parse(hourLayout, strings.TrimPrefix(key, hourPrefix))
		if err != nil || !at.Before(cutoff) {
			continue
		}
		raw, err := l.client.HGetAll(ctx, key).Result()
		if err != nil {
			return folded, fmt.Errorf("ratelimit: compact read %s: %w", key, err)
		}
		dk := dayKey(at)
		pipe := l.client.TxPipeline()
		for field, v := range raw {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			pipe.HIncrBy(ctx, dk, field, n)
		}
		pipe.Expire(ctx, dk, dayTTL)
		pipe.Del(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			return folded, fmt.Errorf("ratelimit: compact %s: %w", key, err)
		}
		folded++
	}
	if err := iter.Err(); err != nil {
		return folded, fmt.Errorf("ratelimit: compact scan: %w", err)
	}
	return folded, nil
}

func parseCounters(raw map[string]string) (map[int64]int, int) {
	users := make(map[int64]int, len(raw))
	global := 0
	for field, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		if field == globalField {
			global = n
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		users[id] = n
	}
	return users, global
}
