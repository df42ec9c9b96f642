package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"feebot/internal/fees"
)

// Memory is an in-process Store. It enforces the same uniqueness rule as the
// sqlite backend.
type Memory struct {
	mu        sync.Mutex
	nextID    int64
	snapshots map[string]fees.Table
	subs      map[int64]Subscription
}

func NewMemory() *Memory {
	return &Memory{
		snapshots: map[string]fees.Table{},
		subs:      map[int64]Subscription{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) GetSnapshot(_ context.Context, key string) (fees.Table, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.snapshots[key]
	return t.Clone(), ok, nil
}

func (m *Memory) PutSnapshot(_ context.Context, key string, t fees.Table) error {
	m.mu.Lock()
	m.snapshots[key] = t.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Memory) AddSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.subs {
		if cur.Platform == s.Platform && cur.Recipient == s.Recipient && cur.From == s.From && cur.To == s.To {
			return ErrDuplicate
		}
	}
	m.nextID++
	s.ID = m.nextID
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.subs[s.ID] = *s
	return nil
}

func (m *Memory) Subscription(_ context.Context, id int64) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) Subscriptions(_ context.Context, f Filter) ([]Subscription, error) {
	m.mu.Lock()
	out := lo.Filter(lo.Values(m.subs), func(s Subscription, _ int) bool { return f.matches(s) })
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateThreshold(_ context.Context, id int64, threshold decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	s.Threshold = threshold
	m.subs[id] = s
	return nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *Memory) DeleteSubscriptions(_ context.Context, f Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.subs {
		if f.matches(s) {
			delete(m.subs, id)
			n++
		}
	}
	return n, nil
}

func (f Filter) matches(s Subscription) bool {
	if f.Platform != "" && s.Platform != f.Platform {
		return false
	}
	if !f.Recipient.IsZero() && s.Recipient != f.Recipient {
		return false
	}
	return true
}
