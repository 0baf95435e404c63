package reduce

import (
	"fmt"
	"strings"
)

// Status is the lifecycle status of an event.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusConfirmed
	StatusReverted
)

var statusNames = map[Status]string{
	StatusPending:   "PENDING",
	StatusConfirmed: "CONFIRMED",
	StatusReverted:  "REVERTED",
}

// String returns the canonical upper-case name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for status, name := range statusNames {
		if name == upper {
			return status, nil
		}
	}
	return 0, fmt.Errorf("invalid event status: %q (must be one of: PENDING, CONFIRMED, REVERTED)", s)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid event status: %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Lane identifies where an event came from.
// Chain events carry block coordinates; lazy events are off-chain and final on arrival.
type Lane uint8

const (
	LaneChain Lane = iota
	LaneLazy
)

func (l Lane) String() string {
	switch l {
	case LaneChain:
		return "chain"
	case LaneLazy:
		return "lazy"
	default:
		return fmt.Sprintf("Lane(%d)", uint8(l))
	}
}

func (l Lane) MarshalText() ([]byte, error) {
	switch l {
	case LaneChain, LaneLazy:
		return []byte(l.String()), nil
	default:
		return nil, fmt.Errorf("invalid event lane: %d", uint8(l))
	}
}

func (l *Lane) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "chain":
		*l = LaneChain
	case "lazy":
		*l = LaneLazy
	default:
		return fmt.Errorf("invalid event lane: %q", string(text))
	}
	return nil
}
