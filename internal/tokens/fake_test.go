package tokens

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

type memRepo struct {
	mu     sync.Mutex
	nextID int64
	tokens map[int64]Token
	logs   []AccessLog
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, tokens: map[int64]Token{}}
}

func (m *memRepo) List(_ context.Context, filter ListFilter) ([]Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Token
	for _, t := range m.tokens {
		if filter.OwnerID != nil && !t.OwnedBy(*filter.OwnerID) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) Get(_ context.Context, id int64) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return Token{}, shared.NotFound("token not found")
	}
	return t, nil
}

func (m *memRepo) GetByValue(_ context.Context, value string) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Token == value {
			return t, nil
		}
	}
	return Token{}, shared.NotFound("token not found")
}

func (m *memRepo) Create(_ context.Context, t Token) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tokens {
		if existing.Token == t.Token {
			return Token{}, shared.Conflict("Token already exists")
		}
	}
	t.ID = m.nextID
	t.IsEnabled = true
	t.CreatedAt = time.Now()
	m.tokens[t.ID] = t
	m.nextID++
	return t, nil
}

func (m *memRepo) update(id int64, fn func(*Token)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return shared.NotFound("token not found")
	}
	fn(&t)
	m.tokens[id] = t
	return nil
}

func (m *memRepo) Update(_ context.Context, t Token) (Token, error) {
	err := m.update(t.ID, func(cur *Token) {
		cur.Name = t.Name
		cur.DailyCallLimit = t.DailyCallLimit
		cur.ExpiresAt = t.ExpiresAt
	})
	if err != nil {
		return Token{}, err
	}
	return m.Get(context.Background(), t.ID)
}

func (m *memRepo) SetEnabled(_ context.Context, id int64, enabled bool) error {
	return m.update(id, func(t *Token) { t.IsEnabled = enabled })
}

func (m *memRepo) SetLocked(_ context.Context, id int64, locked bool) error {
	return m.update(id, func(t *Token) { t.IsLocked = locked })
}

func (m *memRepo) ResetCounter(_ context.Context, id int64) error {
	return m.update(id, func(t *Token) { t.DailyCallCount = 0 })
}

func (m *memRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[id]; !ok {
		return shared.NotFound("token not found")
	}
	delete(m.tokens, id)
	return nil
}

func (m *memRepo) IncrementCalls(_ context.Context, id int64) (bool, error) {
	var ok bool
	err := m.update(id, func(t *Token) {
		if t.DailyCallLimit < 0 || t.DailyCallCount < t.DailyCallLimit {
			t.DailyCallCount++
			ok = true
		}
	})
	return ok, err
}

func (m *memRepo) InsertLog(_ context.Context, entry AccessLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memRepo) ListLogs(_ context.Context, tokenID int64, filter LogFilter) ([]AccessLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AccessLog
	for _, l := range m.logs {
		if l.TokenID == tokenID && (filter.Status == "" || l.Status == filter.Status) {
			out = append(out, l)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) Usage(_ context.Context, ids []int64, from time.Time) ([]UsageRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	counts := map[UsageRow]int{}
	for _, l := range m.logs {
		if l.Status != StatusOK || l.AccessedAt.Before(from) || (len(ids) > 0 && !want[l.TokenID]) {
			continue
		}
		counts[UsageRow{TokenID: l.TokenID, Day: l.AccessedAt.UTC().Format("2006-01-02")}]++
	}
	out := make([]UsageRow, 0, len(counts))
	for k, n := range counts {
		k.Count = n
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].TokenID < out[j].TokenID
	})
	return out, nil
}

func (m *memRepo) statuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l.Status)
	}
	return out
}

var (
	admin  = principal.Principal{ID: 1, Username: "admin", Role: "admin"}
	editor = principal.Principal{ID: 2, Username: "editor", Permissions: permissions.Overrides{permissions.EditDanmakuOutput: true}}
	alice  = principal.Principal{ID: 3, Username: "alice"}
	bob    = principal.Principal{ID: 4, Username: "bob"}
)

func intPtr(v int) *int { return &v }

func principalWithoutTokens() principal.Principal {
	return principal.Principal{ID: 99, Username: "carol"}
}
