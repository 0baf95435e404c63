package reduce

import "context"

// EventSource produces the events relevant to one entity, split into the
// durable chain lane and the lazy lane. Each lane is returned in Compare
// order and only contains records whose sequence is greater than afterSeq.
type EventSource[P Payload] interface {
	ConfirmedEvents(ctx context.Context, id string, afterSeq uint64) ([]Event[P], error)
	LazyEvents(ctx context.Context, id string, afterSeq uint64) ([]Event[P], error)
}

// EntityStore persists entities of one family.
type EntityStore[S State[S], P Payload] interface {
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (Entity[S, P], error)
	// CreateIfAbsent stores the zero entity for id unless one exists, and
	// returns whatever is stored afterwards.
	CreateIfAbsent(ctx context.Context, id string) (Entity[S, P], error)
	// Save writes ent only if the stored version still equals ent.Version,
	// returning the entity with its new version. A mismatch is ErrWriteConflict.
	Save(ctx context.Context, ent Entity[S, P]) (Entity[S, P], error)
}

// Notifier receives the old and new entity after every successful update.
type Notifier[S State[S], P Payload] interface {
	Notify(ctx context.Context, old, updated Entity[S, P]) error
}

// ReindexRequest asks for a full re-derivation of one entity.
type ReindexRequest struct {
	Family   string
	EntityID string
	EventID  EventID
	Ordinal  Ordinal
	Reason   string
}

// ReindexScheduler accepts reindex requests raised by the driver.
type ReindexScheduler interface {
	ScheduleReindex(ctx context.Context, req ReindexRequest) error
}
