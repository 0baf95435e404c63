package store

import (
	"context"
	"slices"
	"sync"

	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
)

// Memory is an in-process EntityStore. It is used by tests and by the
// reduce command when no database should be touched.
type Memory[S reduce.State[S], P reduce.Payload] struct {
	codec *reduce.Codec[S, P]

	mu       sync.Mutex
	entities map[string]reduce.Entity[S, P]
	archive  map[string][]reduce.Event[P]
}

// NewMemory creates an empty in-memory store.
func NewMemory[S reduce.State[S], P reduce.Payload](codec *reduce.Codec[S, P]) *Memory[S, P] {
	return &Memory[S, P]{
		codec:    codec,
		entities: make(map[string]reduce.Entity[S, P]),
		archive:  make(map[string][]reduce.Event[P]),
	}
}

func (m *Memory[S, P]) Get(ctx context.Context, id string) (reduce.Entity[S, P], error) {
	if err := ctx.Err(); err != nil {
		return reduce.Entity[S, P]{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entities[id]
	if !ok {
		return reduce.Entity[S, P]{}, reduce.ErrNotFound
	}
	return ent.Clone(), nil
}

func (m *Memory[S, P]) CreateIfAbsent(ctx context.Context, id string) (reduce.Entity[S, P], error) {
	if err := ctx.Err(); err != nil {
		return reduce.Entity[S, P]{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entities[id]
	if !ok {
		ent = m.codec.NewEntity(id)
		m.entities[id] = ent
	}
	return ent.Clone(), nil
}

func (m *Memory[S, P]) Save(ctx context.Context, ent reduce.Entity[S, P]) (reduce.Entity[S, P], error) {
	if err := ctx.Err(); err != nil {
		return reduce.Entity[S, P]{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entities[ent.ID]
	if (ok && stored.Version != ent.Version) || (!ok && ent.Version != 0) {
		return reduce.Entity[S, P]{}, reduce.ErrWriteConflict
	}

	if len(ent.Evicted) > 0 {
		m.archive[ent.ID] = append(m.archive[ent.ID], ent.Evicted...)
	}

	saved := ent.Clone()
	saved.Version++
	saved.Evicted = nil
	m.entities[ent.ID] = saved
	return saved.Clone(), nil
}

// Archived returns every event evicted from the window of id, oldest first.
func (m *Memory[S, P]) Archived(_ context.Context, id string) ([]reduce.Event[P], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.archive[id]), nil
}

// IDs returns the stored entity ids in sorted order.
func (m *Memory[S, P]) IDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.entities))
	for id := range m.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
