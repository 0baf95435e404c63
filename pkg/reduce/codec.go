package reduce

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
)

// PayloadCodec serializes the payloads of one family, discriminated by kind.
type PayloadCodec[P Payload] struct {
	kinds map[string]reflect.Type
}

// NewPayloadCodec registers the payload kinds from sample values.
// Every sample must be a non-pointer struct value.
func NewPayloadCodec[P Payload](samples ...P) *PayloadCodec[P] {
	c := &PayloadCodec[P]{kinds: make(map[string]reflect.Type, len(samples))}
	for _, sample := range samples {
		t := reflect.TypeOf(sample)
		if t.Kind() == reflect.Pointer {
			panic(fmt.Sprintf("payload kind %s must be registered by value", sample.Kind()))
		}
		if _, dup := c.kinds[sample.Kind()]; dup {
			panic(fmt.Sprintf("payload kind %s registered twice", sample.Kind()))
		}
		c.kinds[sample.Kind()] = t
	}
	return c
}

// Kinds returns the number of registered payload kinds.
func (c *PayloadCodec[P]) Kinds() int {
	return len(c.kinds)
}

// Encode returns the kind and JSON body of a payload.
func (c *PayloadCodec[P]) Encode(p P) (string, []byte, error) {
	if any(p) == nil {
		return "", nil, fmt.Errorf("failed to encode payload: nil payload")
	}
	kind := p.Kind()
	if _, ok := c.kinds[kind]; !ok {
		return "", nil, fmt.Errorf("failed to encode payload: unknown kind %q", kind)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return kind, data, nil
}

// Decode rebuilds a payload from its kind and JSON body.
func (c *PayloadCodec[P]) Decode(kind string, data []byte) (P, error) {
	var zero P
	t, ok := c.kinds[kind]
	if !ok {
		return zero, fmt.Errorf("failed to decode payload: unknown kind %q", kind)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return zero, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	p, ok := ptr.Elem().Interface().(P)
	if !ok {
		return zero, fmt.Errorf("failed to decode payload: %s does not implement the family payload", t)
	}
	return p, nil
}

type eventRecord struct {
	ID      EventID         `json:"id"`
	Status  Status          `json:"status"`
	Lane    Lane            `json:"lane"`
	Ordinal Ordinal         `json:"ordinal"`
	Seq     uint64          `json:"seq"`
	TxHash  common.Hash     `json:"tx_hash"`
	Source  common.Address  `json:"source"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvents serializes a list of events.
func (c *PayloadCodec[P]) EncodeEvents(events []Event[P]) ([]byte, error) {
	records := make([]eventRecord, 0, len(events))
	for _, ev := range events {
		kind, data, err := c.Encode(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		records = append(records, eventRecord{
			ID:      ev.ID,
			Status:  ev.Status,
			Lane:    ev.Lane,
			Ordinal: ev.Ordinal,
			Seq:     ev.Seq,
			TxHash:  ev.TxHash,
			Source:  ev.Source,
			Kind:    kind,
			Payload: data,
		})
	}
	return json.Marshal(records)
}

// DecodeEvents rebuilds a list of events. Empty input decodes to nil.
func (c *PayloadCodec[P]) DecodeEvents(data []byte) ([]Event[P], error) {
	if len(data) == 0 {
		return nil, nil
	}
	var records []eventRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	events := make([]Event[P], 0, len(records))
	for _, rec := range records {
		payload, err := c.Decode(rec.Kind, rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", rec.ID, err)
		}
		events = append(events, Event[P]{
			ID:      rec.ID,
			Status:  rec.Status,
			Lane:    rec.Lane,
			Ordinal: rec.Ordinal,
			Seq:     rec.Seq,
			TxHash:  rec.TxHash,
			Source:  rec.Source,
			Payload: payload,
		})
	}
	return events, nil
}

// Codec serializes whole entities of one family.
type Codec[S State[S], P Payload] struct {
	*PayloadCodec[P]
	newState func(id string) S
}

// NewCodec creates a new entity codec. newState builds the zero state for
// an id and is used by stores for get-or-create.
func NewCodec[S State[S], P Payload](newState func(id string) S, payloads *PayloadCodec[P]) *Codec[S, P] {
	return &Codec[S, P]{PayloadCodec: payloads, newState: newState}
}

// NewEntity returns the zero entity for id.
func (c *Codec[S, P]) NewEntity(id string) Entity[S, P] {
	return NewEntity[S, P](id, c.newState(id))
}

// EncodeState serializes an entity state.
func (c *Codec[S, P]) EncodeState(state S) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

// DecodeState rebuilds the state of the entity with the given id.
func (c *Codec[S, P]) DecodeState(id string, data []byte) (S, error) {
	state := c.newState(id)
	if err := json.Unmarshal(data, &state); err != nil {
		var zero S
		return zero, fmt.Errorf("failed to decode state: %w", err)
	}
	return state, nil
}

type entityDocument struct {
	ID        string          `json:"id"`
	Version   uint64          `json:"version"`
	State     json.RawMessage `json:"state"`
	Events    json.RawMessage `json:"revertable_events,omitempty"`
	Baseline  *Ordinal        `json:"baseline,omitempty"`
	Lifecycle Lifecycle       `json:"lifecycle"`
	Cursor    Cursor          `json:"cursor"`
}

// Encode serializes an entity into a single JSON document.
func (c *Codec[S, P]) Encode(ent Entity[S, P]) ([]byte, error) {
	state, err := c.EncodeState(ent.State)
	if err != nil {
		return nil, err
	}
	doc := entityDocument{
		ID:        ent.ID,
		Version:   ent.Version,
		State:     state,
		Baseline:  ent.Baseline,
		Lifecycle: ent.Lifecycle,
		Cursor:    ent.Cursor,
	}
	if len(ent.RevertableEvents) > 0 {
		if doc.Events, err = c.EncodeEvents(ent.RevertableEvents); err != nil {
			return nil, err
		}
	}
	return json.Marshal(doc)
}

// Decode rebuilds an entity from a document produced by Encode.
func (c *Codec[S, P]) Decode(data []byte) (Entity[S, P], error) {
	var doc entityDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Entity[S, P]{}, fmt.Errorf("failed to decode entity: %w", err)
	}
	state, err := c.DecodeState(doc.ID, doc.State)
	if err != nil {
		return Entity[S, P]{}, err
	}
	events, err := c.DecodeEvents(doc.Events)
	if err != nil {
		return Entity[S, P]{}, err
	}
	return Entity[S, P]{
		ID:               doc.ID,
		State:            state,
		RevertableEvents: events,
		Baseline:         doc.Baseline,
		Lifecycle:        doc.Lifecycle,
		Cursor:           doc.Cursor,
		Version:          doc.Version,
	}, nil
}
