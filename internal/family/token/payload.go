package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
)

// Standard is the token standard a collection implements.
type Standard string

const (
	StandardERC721  Standard = "ERC721"
	StandardERC1155 Standard = "ERC1155"
)

// Payload is the closed set of collection actions.
type Payload interface {
	reduce.Payload
	tokenPayload()
}

// CreateCollection registers a collection deployed by a factory.
type CreateCollection struct {
	Owner    common.Address `json:"owner"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Standard Standard       `json:"standard"`
}

// OwnershipTransferred records an Ownable owner change. The owner is derived
// from the latest change by ordinal, so Previous is informational.
type OwnershipTransferred struct {
	Previous common.Address `json:"previous"`
	New      common.Address `json:"new"`
}

func (CreateCollection) Kind() string     { return "create_collection" }
func (OwnershipTransferred) Kind() string { return "ownership_transferred" }

func (CreateCollection) tokenPayload()     {}
func (OwnershipTransferred) tokenPayload() {}

func (c CreateCollection) Validate() error {
	switch c.Standard {
	case StandardERC721, StandardERC1155:
		return nil
	default:
		return fmt.Errorf("unknown token standard %q", c.Standard)
	}
}

func (o OwnershipTransferred) Validate() error {
	if o.Previous == o.New {
		return errors.New("ownership transferred to the same owner")
	}
	return nil
}

// Payloads registers every collection payload kind for storage.
var Payloads = reduce.NewPayloadCodec[Payload](CreateCollection{}, OwnershipTransferred{})
