package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("hash", textMeddler[common.Hash]{
		parse:  func(s string) (common.Hash, error) { return common.HexToHash(s), nil },
		format: common.Hash.Hex,
	})
	meddler.Register("address", textMeddler[common.Address]{
		parse:  func(s string) (common.Address, error) { return common.HexToAddress(s), nil },
		format: common.Address.Hex,
	})
	meddler.Register("uint256", textMeddler[uint256.Int]{
		parse: func(s string) (uint256.Int, error) {
			v, err := uint256.FromDecimal(s)
			if err != nil {
				return uint256.Int{}, err
			}
			return *v, nil
		},
		format: func(v uint256.Int) string { return v.Dec() },
	})
}

// textMeddler stores a value as TEXT. It handles both T and *T fields;
// NULL reads as the zero value or a nil pointer.
type textMeddler[T any] struct {
	parse  func(string) (T, error)
	format func(T) string
}

func (m textMeddler[T]) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (m textMeddler[T]) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **T:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		v, err := m.parse(ns.String)
		if err != nil {
			return fmt.Errorf("failed to parse %q: %w", ns.String, err)
		}
		*ptr = &v
		return nil
	case *T:
		var zero T
		if !ns.Valid {
			*ptr = zero
			return nil
		}
		v, err := m.parse(ns.String)
		if err != nil {
			return fmt.Errorf("failed to parse %q: %w", ns.String, err)
		}
		*ptr = v
		return nil
	default:
		var zero T
		return fmt.Errorf("expected *%T or **%T, got %T", zero, zero, fieldAddr)
	}
}

func (m textMeddler[T]) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case *T:
		if v == nil {
			return nil, nil
		}
		return m.format(*v), nil
	case T:
		return m.format(v), nil
	default:
		var zero T
		return nil, fmt.Errorf("expected %T or *%T, got %T", zero, zero, field)
	}
}
