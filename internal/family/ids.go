package family

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// ItemID is the entity id of one token of a collection.
func ItemID(token common.Address, tokenID *uint256.Int) string {
	return token.Hex() + ":" + tokenIDString(tokenID)
}

// OwnershipID is the entity id of one holder's share of an item.
func OwnershipID(token common.Address, tokenID *uint256.Int, owner common.Address) string {
	return ItemID(token, tokenID) + ":" + owner.Hex()
}

// TokenID is the entity id of a collection.
func TokenID(token common.Address) string {
	return token.Hex()
}

// ParseItemID splits an item id into its collection and token id.
func ParseItemID(id string) (common.Address, *uint256.Int, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 2 { //nolint:mnd
		return common.Address{}, nil, fmt.Errorf("invalid item id %q", id)
	}
	return parseTokenParts(id, parts[0], parts[1])
}

// ParseOwnershipID splits an ownership id into collection, token id and owner.
func ParseOwnershipID(id string) (common.Address, *uint256.Int, common.Address, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || !common.IsHexAddress(parts[2]) { //nolint:mnd
		return common.Address{}, nil, common.Address{}, fmt.Errorf("invalid ownership id %q", id)
	}
	token, tokenID, err := parseTokenParts(id, parts[0], parts[1])
	if err != nil {
		return common.Address{}, nil, common.Address{}, err
	}
	return token, tokenID, common.HexToAddress(parts[2]), nil
}

func parseTokenParts(id, token, tokenID string) (common.Address, *uint256.Int, error) {
	if !common.IsHexAddress(token) {
		return common.Address{}, nil, fmt.Errorf("invalid collection address in id %q", id)
	}
	n, err := uint256.FromDecimal(tokenID)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("invalid token id in id %q: %w", id, err)
	}
	return common.HexToAddress(token), n, nil
}

func tokenIDString(tokenID *uint256.Int) string {
	if tokenID == nil {
		return "0"
	}
	return tokenID.Dec()
}

// OrderID is the entity id of an exchange order.
func OrderID(hash common.Hash) string {
	return hash.Hex()
}

// ParseOrderID returns the order hash of an order id.
func ParseOrderID(id string) (common.Hash, error) {
	b, err := hexutil.Decode(id)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid order id %q", id)
	}
	return common.BytesToHash(b), nil
}
