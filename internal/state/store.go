package state

import (
	"context"
	"sync"
	"time"
)

// Store holds dialog state records keyed by user id. Implementations own
// their records: Get returns a copy and Put stores a copy.
type Store interface {
	Get(ctx context.Context, userID string) (*DialogState, bool, error)
	Put(ctx context.Context, s *DialogState) error
	Delete(ctx context.Context, userID string) error
	Len(ctx context.Context) (int, error)
}

// Locker serialises turns for one user. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, userID string) (func(), error)
}

// MemoryStore keeps state in process. It is also a Locker.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*DialogState
	locks  *KeyedMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*DialogState),
		locks:  NewKeyedMutex(),
	}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*DialogState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[userID]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryStore) Put(_ context.Context, s *DialogState) error {
	c := s.Clone()
	c.UpdatedAt = time.Now().UTC()
	m.mu.Lock()
	m.states[s.UserID] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.states, userID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states), nil
}

func (m *MemoryStore) Lock(ctx context.Context, userID string) (func(), error) {
	return m.locks.Lock(ctx, userID)
}

// KeyedMutex is a set of per-key mutexes that are dropped when unused.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
