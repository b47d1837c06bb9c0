package store

import (
	"context"
	"sync"
	"time"

	"anonid/pkg/platform/sentinel"
)

// Memory implements Store with in-process maps and lazy TTL expiry.
// Single-instance deployments and tests use it in place of Redis; it is not
// distributed and state is lost on restart.
type Memory struct {
	mu      sync.RWMutex
	strings map[string]memoryEntry
	hashes  map[string]memoryHash
	sets    map[string]memorySet
	now     func() time.Time
}

type memoryEntry struct {
	value    string
	expireAt time.Time
}

type memoryHash struct {
	fields   map[string]string
	expireAt time.Time
}

type memorySet struct {
	members  map[string]struct{}
	expireAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]memoryEntry),
		hashes:  make(map[string]memoryHash),
		sets:    make(map[string]memorySet),
		now:     time.Now,
	}
}

// SetClock overrides the expiry clock, for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func expired(expireAt, now time.Time) bool {
	return !expireAt.IsZero() && !now.Before(expireAt)
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	if expired(e.expireAt, m.now()) {
		delete(m.strings, key)
		return "", sentinel.ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expireAt = m.now().Add(ttl)
	}
	m.strings[key] = e
	return nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.strings, key)
		delete(m.hashes, key)
		delete(m.sets, key)
	}
	return nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	expireAt := m.now().Add(ttl)
	if e, ok := m.strings[key]; ok {
		e.expireAt = expireAt
		m.strings[key] = e
	}
	if h, ok := m.hashes[key]; ok {
		h.expireAt = expireAt
		m.hashes[key] = h
	}
	if s, ok := m.sets[key]; ok {
		s.expireAt = expireAt
		m.sets[key] = s
	}
	return nil
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok || expired(h.expireAt, m.now()) {
		h = memoryHash{fields: make(map[string]string)}
	}
	for f, v := range fields {
		h.fields[f] = v
	}
	m.hashes[key] = h
	return nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if expired(h.expireAt, m.now()) {
		delete(m.hashes, key)
		return nil, sentinel.ErrNotFound
	}
	out := make(map[string]string, len(h.fields))
	for f, v := range h.fields {
		out[f] = v
	}
	return out, nil
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok || expired(s.expireAt, m.now()) {
		s = memorySet{members: make(map[string]struct{})}
	}
	for _, member := range members {
		s.members[member] = struct{}{}
	}
	m.sets[key] = s
	return nil
}

func (m *Memory) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(s.members, member)
	}
	if len(s.members) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *Memory) SCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return 0, nil
	}
	if expired(s.expireAt, m.now()) {
		delete(m.sets, key)
		return 0, nil
	}
	return int64(len(s.members)), nil
}
