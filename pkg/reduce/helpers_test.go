package reduce

import (
	"errors"
	"fmt"
	"maps"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const testFamily = "ledger"

// ledgerState is a minimal family used to exercise the engine.
type ledgerState struct {
	Total    int64            `json:"total"`
	Accounts map[string]int64 `json:"accounts,omitempty"`
}

func (s ledgerState) Clone() ledgerState {
	out := s
	if s.Accounts != nil {
		out.Accounts = maps.Clone(s.Accounts)
	}
	return out
}

type ledgerPayload interface {
	Payload
	isLedger()
}

type deposit struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

func (deposit) Kind() string { return "deposit" }
func (deposit) isLedger()    {}

func (d deposit) Validate() error {
	if d.Account == "" {
		return errors.New("missing account")
	}
	if d.Amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", d.Amount)
	}
	return nil
}

type memo struct {
	Text string `json:"text"`
}

func (memo) Kind() string    { return "memo" }
func (memo) isLedger()       {}
func (memo) Validate() error { return nil }

type (
	ledgerEntity = Entity[ledgerState, ledgerPayload]
	ledgerEvent  = Event[ledgerPayload]
)

func addTo(s ledgerState, account string, delta int64) ledgerState {
	s.Total += delta
	if s.Accounts == nil {
		s.Accounts = make(map[string]int64)
	}
	s.Accounts[account] += delta
	if s.Accounts[account] == 0 {
		delete(s.Accounts, account)
	}
	if len(s.Accounts) == 0 {
		s.Accounts = nil
	}
	return s
}

func ledgerValueStep() StateStep[ledgerState, ledgerPayload] {
	return StateStep[ledgerState, ledgerPayload]{
		StepName: "value",
		Apply: func(s ledgerState, ev ledgerEvent) ledgerState {
			if d, ok := ev.Payload.(deposit); ok && ev.Status == StatusConfirmed {
				return addTo(s, d.Account, d.Amount)
			}
			return s
		},
		Revert: func(s ledgerState, ev ledgerEvent) ledgerState {
			if d, ok := ev.Payload.(deposit); ok && ev.Status == StatusConfirmed {
				return addTo(s, d.Account, -d.Amount)
			}
			return s
		},
	}
}

func newLedgerChain(cfg WindowConfig) *Chain[ledgerState, ledgerPayload] {
	return NewChain[ledgerState, ledgerPayload](testFamily, nil,
		LifecycleStep[ledgerState, ledgerPayload]{},
		NewWindowManager[ledgerState, ledgerPayload](cfg),
		ledgerValueStep(),
	)
}

func newLedgerEntity() ledgerEntity {
	return NewEntity[ledgerState, ledgerPayload]("acct-1", ledgerState{})
}

func txHash(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

func chainEvent(block, logIndex uint64, status Status, p ledgerPayload) ledgerEvent {
	tx := txHash(block*1000 + logIndex)
	return ledgerEvent{
		ID:      NewEventID(tx, logIndex, 0),
		Status:  status,
		Lane:    LaneChain,
		Ordinal: Ordinal{BlockNumber: block, LogIndex: logIndex},
		Seq:     block*1000 + logIndex,
		TxHash:  tx,
		Payload: p,
	}
}

func lazyEvent(seq uint64, p ledgerPayload) ledgerEvent {
	return ledgerEvent{
		ID:      EventID(fmt.Sprintf("lazy:%d", seq)),
		Status:  StatusConfirmed,
		Lane:    LaneLazy,
		Seq:     seq,
		Payload: p,
	}
}
