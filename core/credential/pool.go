package credential

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"hlsrelay/logger"
)

// ErrNoHealthyCredential 池中没有可用凭证
var ErrNoHealthyCredential = errors.New("no healthy credential available")

// Handle identifies the credential chosen by Select.
type Handle struct {
	ID string
}

// State 凭证状态快照
type State struct {
	ID         string    `json:"id"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	Healthy    bool      `json:"healthy"`
}

// Store persists credential state. Implementations must be safe for concurrent use.
type Store interface {
	LoadAll(ctx context.Context) ([]State, error)
	Save(ctx context.Context, state State) error
}

type entry struct {
	lastUsedAt time.Time
	healthy    bool
}

// Pool 进程内的凭证池，所有读写都在锁内完成
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	store   Store
	now     func() time.Time
	intn    func(n int) int
}

// NewPool creates a pool with every id healthy. store may be nil.
func NewPool(ids []string, store Store) *Pool {
	p := &Pool{
		entries: make(map[string]*entry),
		store:   store,
		now:     time.Now,
		intn:    rand.Intn,
	}
	p.Replace(ids)
	return p
}

// WithClock 替换时钟，测试用
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.now = now
	return p
}

// Load merges persisted state for ids already in the pool.
// Unknown persisted ids are ignored; the configured list wins.
func (p *Pool) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	states, err := p.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range states {
		if e, ok := p.entries[s.ID]; ok {
			e.healthy = s.Healthy
			e.lastUsedAt = s.LastUsedAt
		}
	}
	return nil
}

// Select picks uniformly at random among healthy credentials.
func (p *Pool) Select() (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	healthy := make([]string, 0, len(p.order))
	for _, id := range p.order {
		if p.entries[id].healthy {
			healthy = append(healthy, id)
		}
	}
	if len(healthy) == 0 {
		return Handle{}, ErrNoHealthyCredential
	}
	return Handle{ID: healthy[p.intn(len(healthy))]}, nil
}

// ReportOutcome records the result of using h. A success also refreshes lastUsedAt.
func (p *Pool) ReportOutcome(h Handle, healthy bool) {
	p.mu.Lock()
	e, ok := p.entries[h.ID]
	if !ok {
		p.mu.Unlock()
		return
	}
	e.healthy = healthy
	if healthy {
		e.lastUsedAt = p.now()
	}
	state := State{ID: h.ID, LastUsedAt: e.lastUsedAt, Healthy: e.healthy}
	p.mu.Unlock()

	if !healthy {
		logger.Warn("凭证被标记为不可用", logger.String("credential", mask(h.ID)))
	}
	p.persist(state)
}

// SetHealthy 运维手动设置健康状态，id 不存在时返回 false
func (p *Pool) SetHealthy(id string, healthy bool) bool {
	p.mu.Lock()
	e, ok := p.entries[id]
	if !ok {
		p.mu.Unlock()
		return false
	}
	e.healthy = healthy
	state := State{ID: id, LastUsedAt: e.lastUsedAt, Healthy: healthy}
	p.mu.Unlock()

	p.persist(state)
	return true
}

// Contains reports whether id is a pool member.
func (p *Pool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Replace sets the member list. Retained ids keep their state; new ids start healthy.
func (p *Pool) Replace(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]*entry, len(ids))
	order := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := next[id]; dup {
			continue
		}
		if e, ok := p.entries[id]; ok {
			next[id] = e
		} else {
			next[id] = &entry{healthy: true}
		}
		order = append(order, id)
	}
	p.entries = next
	p.order = order
}

// Snapshot returns the state of every credential sorted by id.
func (p *Pool) Snapshot() []State {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]State, 0, len(p.order))
	for _, id := range p.order {
		e := p.entries[id]
		out = append(out, State{ID: id, LastUsedAt: e.lastUsedAt, Healthy: e.healthy})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// persist 尽力写入存储，失败只记日志
func (p *Pool) persist(state State) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.store.Save(ctx, state); err != nil {
		logger.Warn("保存凭证状态失败",
			logger.String("credential", mask(state.ID)),
			logger.ErrorField(err))
	}
}

// mask keeps credentials out of the logs.
func mask(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return id[:4] + "****"
}
