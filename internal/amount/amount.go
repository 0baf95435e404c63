// Package amount implements the token arithmetic used by the value reducers.
//
// Amounts are *uint256.Int values with wrapping two's-complement semantics,
// so a balance can go transiently negative while events arrive out of order
// and still return exactly to its previous value when they are undone.
// Values are never mutated in place, and a zero amount is always nil.
package amount

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// normalize maps zero to nil.
func normalize(v *uint256.Int) *uint256.Int {
	if v == nil || v.IsZero() {
		return nil
	}
	return v
}

// OrZero returns v, or a fresh zero when v is nil.
func OrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// Add returns a+b.
func Add(a, b *uint256.Int) *uint256.Int {
	return normalize(new(uint256.Int).Add(OrZero(a), OrZero(b)))
}

// Sub returns a-b.
func Sub(a, b *uint256.Int) *uint256.Int {
	return normalize(new(uint256.Int).Sub(OrZero(a), OrZero(b)))
}

// IsNegative reports whether v is negative when read as a signed value.
func IsNegative(v *uint256.Int) bool {
	return v != nil && v.Sign() < 0
}

// NonNegative returns max(0, v).
func NonNegative(v *uint256.Int) *uint256.Int {
	if IsNegative(v) {
		return nil
	}
	return normalize(v)
}

// Min returns the smaller of two signed values.
func Min(a, b *uint256.Int) *uint256.Int {
	if OrZero(a).Slt(OrZero(b)) {
		return normalize(a)
	}
	return normalize(b)
}

// Cmp compares two signed values.
func Cmp(a, b *uint256.Int) int {
	x, y := OrZero(a), OrZero(b)
	switch {
	case x.Slt(y):
		return -1
	case x.Sgt(y):
		return 1
	default:
		return 0
	}
}

// Equal reports whether a and b are the same amount.
func Equal(a, b *uint256.Int) bool {
	return OrZero(a).Eq(OrZero(b))
}

// MulDiv returns v*num/den, rounding down. It returns nil when den is zero
// or the intermediate product overflows.
func MulDiv(v, num, den *uint256.Int) *uint256.Int {
	if den == nil || den.IsZero() {
		return nil
	}
	out, overflow := new(uint256.Int).MulDivOverflow(OrZero(v), OrZero(num), den)
	if overflow {
		return nil
	}
	return normalize(out)
}

// New returns the amount for n.
func New(n uint64) *uint256.Int {
	return normalize(uint256.NewInt(n))
}

// String formats v as a signed decimal.
func String(v *uint256.Int) string {
	if IsNegative(v) {
		return "-" + new(uint256.Int).Neg(v).Dec()
	}
	return OrZero(v).Dec()
}

// Balances maps holders to signed balances. Holders with a zero balance
// are absent, and an empty map is nil.
type Balances map[common.Address]*uint256.Int

// Clone returns a copy of b. Values are shared because they are immutable.
func (b Balances) Clone() Balances {
	if len(b) == 0 {
		return nil
	}
	out := make(Balances, len(b))
	for holder, v := range b {
		out[holder] = v
	}
	return out
}

// Of returns the balance of holder.
func (b Balances) Of(holder common.Address) *uint256.Int {
	return b[holder]
}

// Add credits v to holder and returns the updated map.
func (b Balances) Add(holder common.Address, v *uint256.Int) Balances {
	return b.set(holder, Add(b[holder], v))
}

// Sub debits v from holder and returns the updated map.
func (b Balances) Sub(holder common.Address, v *uint256.Int) Balances {
	return b.set(holder, Sub(b[holder], v))
}

func (b Balances) set(holder common.Address, v *uint256.Int) Balances {
	if v == nil {
		delete(b, holder)
		if len(b) == 0 {
			return nil
		}
		return b
	}
	if b == nil {
		b = make(Balances)
	}
	b[holder] = v
	return b
}

// PositiveTotal sums the non-negative balances.
func (b Balances) PositiveTotal() *uint256.Int {
	var total *uint256.Int
	for _, v := range b {
		total = Add(total, NonNegative(v))
	}
	return total
}

// Holders returns the number of holders with a positive balance.
func (b Balances) Holders() int {
	n := 0
	for _, v := range b {
		if NonNegative(v) != nil {
			n++
		}
	}
	return n
}
