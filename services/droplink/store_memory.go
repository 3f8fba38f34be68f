package droplink

import (
	"context"
	"sync"
)

// MemoryStore keeps drops in process memory. Transactions stage writes in an
// overlay that is merged only on success.
type MemoryStore struct {
	mu    sync.RWMutex
	drops map[DropID]Drop
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drops: make(map[DropID]Drop)}
}

func (s *MemoryStore) Get(ctx context.Context, id DropID) (Drop, bool, error) {
	if err := ctx.Err(); err != nil {
		return Drop{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drops[id]
	if !ok {
		return Drop{}, false, nil
	}
	return d.Clone(), true, nil
}

func (s *MemoryStore) Create(ctx context.Context, drop Drop) error {
	return s.Update(ctx, func(tx Registry) error {
		return tx.Create(ctx, drop)
	})
}

func (s *MemoryStore) SetInactive(ctx context.Context, id DropID) error {
	return s.Update(ctx, func(tx Registry) error {
		return tx.SetInactive(ctx, id)
	})
}

// Update holds the write lock for the duration of fn.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Registry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{base: s.drops, staged: make(map[DropID]Drop)}
	if err := fn(tx); err != nil {
		return err
	}
	// a cancellation after fn returned still discards the staged writes
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, d := range tx.staged {
		s.drops[id] = d
	}
	return nil
}

func (s *MemoryStore) CountReclaimable(ctx context.Context, now uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.drops {
		if d.Active && now > d.ExpiresAt {
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, tombstones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drops)
}

type memoryTx struct {
	base   map[DropID]Drop
	staged map[DropID]Drop
}

func (tx *memoryTx) lookup(id DropID) (Drop, bool) {
	if d, ok := tx.staged[id]; ok {
		return d, true
	}
	d, ok := tx.base[id]
	return d, ok
}

func (tx *memoryTx) Get(ctx context.Context, id DropID) (Drop, bool, error) {
	if err := ctx.Err(); err != nil {
		return Drop{}, false, err
	}
	d, ok := tx.lookup(id)
	if !ok || !d.Exists() {
		return Drop{}, false, nil
	}
	return d.Clone(), true, nil
}

func (tx *memoryTx) Create(ctx context.Context, drop Drop) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if existing, ok := tx.lookup(drop.ID); ok && existing.Exists() {
		return ErrDropExists.WithDetails("id", drop.ID.Hex())
	}
	tx.staged[drop.ID] = drop.Clone()
	return nil
}

func (tx *memoryTx) SetInactive(ctx context.Context, id DropID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, ok := tx.lookup(id)
	if !ok || !d.Active {
		return nil
	}
	d = d.Clone()
	d.Active = false
	tx.staged[id] = d
	return nil
}
