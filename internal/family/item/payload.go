package item

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainReducer/internal/amount"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/holiman/uint256"
)

// Payload is the closed set of item actions.
type Payload interface {
	reduce.Payload
	itemPayload()
}

// Transfer moves Value units between holders. A transfer from the zero
// address is a mint; a transfer to it is a burn.
type Transfer struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *uint256.Int   `json:"value"`
}

// LazyMint creates off-chain supply that is minted on chain later.
type LazyMint struct {
	Owner common.Address `json:"owner"`
	Value *uint256.Int   `json:"value"`
}

// BurnLazyMint cancels off-chain supply before it was minted.
type BurnLazyMint struct {
	From  common.Address `json:"from"`
	Value *uint256.Int   `json:"value"`
}

func (Transfer) Kind() string     { return "transfer" }
func (LazyMint) Kind() string     { return "lazy_mint" }
func (BurnLazyMint) Kind() string { return "lazy_burn" }

func (Transfer) itemPayload()     {}
func (LazyMint) itemPayload()     {}
func (BurnLazyMint) itemPayload() {}

// IsMint reports whether the transfer creates supply.
func (t Transfer) IsMint() bool { return t.From == (common.Address{}) }

// IsBurn reports whether the transfer destroys supply.
func (t Transfer) IsBurn() bool { return t.To == (common.Address{}) }

func (t Transfer) Validate() error {
	if t.IsMint() && t.IsBurn() {
		return errors.New("transfer from and to the zero address")
	}
	return validateValue(t.Value)
}

func (m LazyMint) Validate() error {
	if m.Owner == (common.Address{}) {
		return errors.New("lazy mint without owner")
	}
	return validateValue(m.Value)
}

func (b BurnLazyMint) Validate() error {
	return validateValue(b.Value)
}

func validateValue(v *uint256.Int) error {
	if amount.OrZero(v).IsZero() {
		return errors.New("value must be positive")
	}
	return nil
}

// Payloads registers every item payload kind for storage. The ownership
// family folds the same records.
var Payloads = reduce.NewPayloadCodec[Payload](Transfer{}, LazyMint{}, BurnLazyMint{})
