package tokens

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/ratelimit"
	"github.com/danmu-hub/console/internal/shared"
)

// GateRepository is the data access the gate needs.
type GateRepository interface {
	GetByValue(ctx context.Context, value string) (Token, error)
	IncrementCalls(ctx context.Context, id int64) (bool, error)
	InsertLog(ctx context.Context, entry AccessLog) error
}

// OwnerLoader resolves the owner of a private token.
type OwnerLoader interface {
	Load(ctx context.Context, id int64) (principal.Principal, error)
}

// QuotaCharger charges a download against the hourly quotas.
type QuotaCharger interface {
	Consume(ctx context.Context, userID int64, perHourLimit *int) (ratelimit.Usage, error)
}

// GateObserver receives the outcome of every gate call.
type GateObserver interface {
	ObserveGate(status string)
}

// Gate outcomes reported to the observer that never reach the access log.
const (
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// GateConfig tunes the per-token burst limiter.
type GateConfig struct {
	Rate     rate.Limit
	Burst    int
	EvictTTL time.Duration
}

// DefaultGateConfig allows 5 calls per second per token with bursts of 10.
func DefaultGateConfig() GateConfig {
	return GateConfig{Rate: 5, Burst: 10, EvictTTL: 10 * time.Minute}
}

// CallInfo describes the caller of the gate.
type CallInfo struct {
	IP        string
	UserAgent string
	Path      string
}

// HourlyUsage is the owner's quota state after a call.
type HourlyUsage struct {
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	GlobalUsed  int       `json:"globalUsed"`
	GlobalLimit int       `json:"globalLimit"`
	ResetsAt    time.Time `json:"resetsAt"`
}

// GateResult is returned for an accepted call.
type GateResult struct {
	Name           string       `json:"name"`
	Scope          string       `json:"scope"`
	DailyCallCount int          `json:"dailyCallCount"`
	DailyCallLimit int          `json:"dailyCallLimit"`
	ExpiresAt      *time.Time   `json:"expiresAt"`
	Hourly         *HourlyUsage `json:"hourly,omitempty"`
}

// Gate admits external calls made with an output token.
type Gate struct {
	repo     GateRepository
	owners   OwnerLoader
	quota    QuotaCharger
	observer GateObserver
	logger   *slog.Logger
	burst    *burstLimiter
	now      func() time.Time
}

// NewGate constructs a Gate. Call Run to evict idle burst entries.
func NewGate(repo GateRepository, owners OwnerLoader, quota QuotaCharger, observer GateObserver, logger *slog.Logger, cfg GateConfig) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		repo:     repo,
		owners:   owners,
		quota:    quota,
		observer: observer,
		logger:   logger,
		burst:    newBurstLimiter(cfg.Rate, cfg.Burst, cfg.EvictTTL),
		now:      time.Now,
	}
}

// Run evicts idle burst entries until ctx is cancelled.
func (g *Gate) Run(ctx context.Context) {
	g.burst.cleanupLoop(ctx)
}

// Check admits one call. Checks run in order: burst, lookup, enabled, expiry,
// daily limit, owner hourly quota. The daily counter is charged only once every
// check has passed. Every call on a known token is logged.
func (g *Gate) Check(ctx context.Context, value string, call CallInfo) (GateResult, error) {
	if !g.burst.Allow(value) {
		g.observe(StatusBurst)
		return GateResult{}, &shared.DetailError{Kind: shared.ErrRateLimited, Detail: "Too many requests for this token"}
	}

	t, err := g.repo.GetByValue(ctx, value)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			g.observe(StatusNotFound)
			return GateResult{}, shared.NotFound("Invalid token")
		}
		g.observe(StatusError)
		return GateResult{}, err
	}

	now := g.now()
	switch {
	case !t.IsEnabled:
		g.log(ctx, t, call, StatusDisabled, now)
		return GateResult{}, shared.Forbidden("Token is disabled")
	case t.Expired(now):
		g.log(ctx, t, call, StatusExpired, now)
		return GateResult{}, shared.Forbidden("Token has expired")
	}

	if t.DailyExhausted() {
		g.log(ctx, t, call, StatusDailyLimit, now)
		return GateResult{}, &shared.DetailError{Kind: shared.ErrRateLimited, Detail: "Daily call limit reached"}
	}

	result := GateResult{
		Name:           t.Name,
		Scope:          t.Scope(),
		DailyCallLimit: t.DailyCallLimit,
		ExpiresAt:      t.ExpiresAt,
	}
	if t.OwnerUserID != nil {
		owner, err := g.owners.Load(ctx, *t.OwnerUserID)
		if err != nil {
			g.observe(StatusError)
			return GateResult{}, err
		}
		usage, err := g.quota.Consume(ctx, owner.ID, owner.PerHourLimit)
		if err != nil {
			if errors.Is(err, shared.ErrRateLimited) {
				g.log(ctx, t, call, StatusHourlyLimit, now)
			} else {
				g.observe(StatusError)
			}
			return GateResult{}, err
		}
		result.Hourly = &HourlyUsage{
			Used:        usage.UserUsed,
			Limit:       usage.UserLimit,
			GlobalUsed:  usage.GlobalUsed,
			GlobalLimit: usage.GlobalLimit,
			ResetsAt:    usage.ResetsAt,
		}
	}

	// A concurrent call can take the last daily slot after the check above.
	ok, err := g.repo.IncrementCalls(ctx, t.ID)
	if err != nil {
		g.observe(StatusError)
		return GateResult{}, err
	}
	if !ok {
		g.log(ctx, t, call, StatusDailyLimit, now)
		return GateResult{}, &shared.DetailError{Kind: shared.ErrRateLimited, Detail: "Daily call limit reached"}
	}
	result.DailyCallCount = t.DailyCallCount + 1

	g.log(ctx, t, call, StatusOK, now)
	return result, nil
}

func (g *Gate) log(ctx context.Context, t Token, call CallInfo, status string, at time.Time) {
	g.observe(status)
	err := g.repo.InsertLog(ctx, AccessLog{
		TokenID:    t.ID,
		IP:         call.IP,
		UserAgent:  call.UserAgent,
		Path:       call.Path,
		Status:     status,
		AccessedAt: at.UTC(),
	})
	if err != nil {
		g.logger.Warn("token access log", slog.Int64("token_id", t.ID), slog.Any("error", err))
	}
}

func (g *Gate) observe(status string) {
	if g.observer != nil {
		g.observer.ObserveGate(status)
	}
}

type burstLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	r        rate.Limit
	burst    int
	evictTTL time.Duration
}

func newBurstLimiter(r rate.Limit, burst int, evictTTL time.Duration) *burstLimiter {
	if evictTTL <= 0 {
		evictTTL = 10 * time.Minute
	}
	return &burstLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		r:        r,
		burst:    burst,
		evictTTL: evictTTL,
	}
}

// Allow reports whether key is within its burst allowance.
func (b *burstLimiter) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[key]
	if !ok {
		l = rate.NewLimiter(b.r, b.burst)
		b.limiters[key] = l
	}
	b.lastSeen[key] = time.Now()
	return l.Allow()
}

func (b *burstLimiter) evict(cutoff time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, last := range b.lastSeen {
		if last.Before(cutoff) {
			delete(b.limiters, key)
			delete(b.lastSeen, key)
		}
	}
}

func (b *burstLimiter) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.limiters)
}

func (b *burstLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(b.evictTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.evict(time.Now().Add(-b.evictTTL))
		}
	}
}
