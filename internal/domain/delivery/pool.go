package delivery

import (
	"context"
	"sync"
	"time"

	"delivery-userbot/internal/domain/transport"
)

// Account: то, что пул и диспетчер требуют от аккаунта. Реализуется session.Manager.
// Ready сообщает, что у аккаунта есть учётные данные и сессия; без них
// аккаунт в ротации не участвует. Connect используется при переключении пула
// и не зависит от политики автопереподключения.
type Account interface {
	Name() string
	Ready() bool
	Connect(ctx context.Context) error
	EnsureConnected(ctx context.Context) error
	Disconnect() error
	Messenger() (transport.Messenger, error)
}

type poolEntry struct {
	acc          Account
	limitedUntil time.Time
}

// PoolEntryStatus: снимок записи пула.
type PoolEntryStatus struct {
	Name             string
	RateLimitedUntil time.Time
	Limited          bool
	Ready            bool
}

// Pool: упорядоченный список аккаунтов с отметками flood-лимитов.
// Выбор first-fit: первый по порядку аккаунт, чей лимит уже истёк.
type Pool struct {
	mu      sync.Mutex
	entries []*poolEntry
	now     func() time.Time
}

// NewPool создаёт пул. now == nil: time.Now.
func NewPool(now func() time.Time, accounts ...Account) *Pool {
	if now == nil {
		now = time.Now
	}
	p := &Pool{now: now}
	for _, acc := range accounts {
		p.entries = append(p.entries, &poolEntry{acc: acc})
	}
	return p
}

// Len: число аккаунтов.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next возвращает первый готовый и не ограниченный аккаунт, не входящий в exclude.
func (p *Pool) Next(exclude map[string]struct{}) (Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, e := range p.entries {
		if _, skip := exclude[e.acc.Name()]; skip {
			continue
		}
		if e.limitedUntil.After(now) || !e.acc.Ready() {
			continue
		}
		return e.acc, true
	}
	return nil, false
}

// HasReady сообщает, есть ли в пуле хоть один аккаунт с сессией, включая ограниченные.
func (p *Pool) HasReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.acc.Ready() {
			return true
		}
	}
	return false
}

// MarkLimited ставит аккаунту rate_limited_until = now + wait и возвращает отметку.
func (p *Pool) MarkLimited(name string, wait time.Duration) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	until := p.now().Add(wait)
	for _, e := range p.entries {
		if e.acc.Name() == name {
			e.limitedUntil = until
		}
	}
	return until
}

// Get ищет аккаунт по имени.
func (p *Pool) Get(name string) (Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.acc.Name() == name {
			return e.acc, true
		}
	}
	return nil, false
}

// Snapshot возвращает состояние всех записей в порядке пула.
func (p *Pool) Snapshot() []PoolEntryStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]PoolEntryStatus, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, PoolEntryStatus{
			Name:             e.acc.Name(),
			RateLimitedUntil: e.limitedUntil,
			Limited:          e.limitedUntil.After(now),
			Ready:            e.acc.Ready(),
		})
	}
	return out
}
