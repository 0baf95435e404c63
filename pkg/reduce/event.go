package reduce

import (
	"cmp"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Ordinal is the position of a chain event: block number, log index and
// the sub-index of the action inside a single log (e.g. one element of an
// ERC-1155 TransferBatch).
type Ordinal struct {
	BlockNumber   uint64 `json:"block_number"`
	LogIndex      uint64 `json:"log_index"`
	MinorLogIndex uint64 `json:"minor_log_index"`
}

// Compare returns -1, 0 or +1 depending on whether o sorts before, equal to or after other.
func (o Ordinal) Compare(other Ordinal) int {
	if c := cmp.Compare(o.BlockNumber, other.BlockNumber); c != 0 {
		return c
	}
	if c := cmp.Compare(o.LogIndex, other.LogIndex); c != 0 {
		return c
	}
	return cmp.Compare(o.MinorLogIndex, other.MinorLogIndex)
}

func (o Ordinal) String() string {
	return fmt.Sprintf("%d/%d/%d", o.BlockNumber, o.LogIndex, o.MinorLogIndex)
}

// EventID is the logical identity of an event. A pending, confirmed and
// reverted record of the same log share it.
type EventID string

// NewEventID derives the identity of the action at (txHash, logIndex, minorLogIndex).
func NewEventID(txHash common.Hash, logIndex, minorLogIndex uint64) EventID {
	return EventID(fmt.Sprintf("%s:%d:%d", txHash.Hex(), logIndex, minorLogIndex))
}

// Payload is the semantic action of an event. Every entity family declares
// a closed set of payload kinds.
type Payload interface {
	// Kind is the stable discriminator used for storage and dispatch.
	Kind() string
	// Validate checks the payload structurally before any reducer sees it.
	Validate() error
}

// Event is an immutable fact folded into an entity.
type Event[P Payload] struct {
	ID      EventID
	Status  Status
	Lane    Lane
	Ordinal Ordinal
	// Seq is the arrival sequence assigned by the event source. It orders
	// pending and lazy events and breaks ties between records at the same ordinal.
	Seq    uint64
	TxHash common.Hash
	// Source is the emitting contract, zero for lazy events.
	Source  common.Address
	Payload P
}

// WithStatus returns a copy of the event carrying the given status.
func (e Event[P]) WithStatus(status Status) Event[P] {
	e.Status = status
	return e
}

// IsChainConfirmed reports whether the event is a confirmed on-chain log.
func (e Event[P]) IsChainConfirmed() bool {
	return e.Lane == LaneChain && e.Status == StatusConfirmed
}

func (e Event[P]) String() string {
	kind := "<nil>"
	if any(e.Payload) != nil {
		kind = e.Payload.Kind()
	}
	return fmt.Sprintf("%s[%s %s %s]", kind, e.ID, e.Status, e.Ordinal)
}

// rank groups events by how they are ordered against each other:
// lazy events first, then pending events, then chain events by ordinal.
func rank[P Payload](e Event[P]) int {
	switch {
	case e.Lane == LaneLazy:
		return 0
	case e.Status == StatusPending:
		return 1
	default:
		return 2
	}
}

// Compare orders two events of the same entity. Lazy events sort before
// pending ones, pending before chain events, each group by arrival; chain
// events sort by ordinal and then by arrival.
func Compare[P Payload](a, b Event[P]) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	if ra == 2 { //nolint:mnd
		if c := a.Ordinal.Compare(b.Ordinal); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// Merge interleaves two individually ordered event sequences into one ordered sequence.
// Equal events keep the order of a before b.
func Merge[P Payload](a, b []Event[P]) []Event[P] {
	merged := make([]Event[P], 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if Compare(b[j], a[i]) < 0 {
			merged = append(merged, b[j])
			j++
			continue
		}
		merged = append(merged, a[i])
		i++
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return merged
}
