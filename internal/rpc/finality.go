package rpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
)

// BlockFinality selects which block tag bounds a scan.
type BlockFinality string

const (
	FinalityFinalized BlockFinality = "finalized"
	FinalitySafe      BlockFinality = "safe"
	FinalityLatest    BlockFinality = "latest"
)

func (f BlockFinality) String() string {
	return string(f)
}

// IsValid checks if the BlockFinality value is valid.
func (f BlockFinality) IsValid() bool {
	switch f {
	case FinalityFinalized, FinalitySafe, FinalityLatest:
		return true
	default:
		return false
	}
}

// ParseBlockFinality parses a configured finality mode.
func ParseBlockFinality(s string) (BlockFinality, error) {
	f := BlockFinality(s)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid block finality: %s (must be one of: finalized, safe, latest)", s)
	}
	return f, nil
}

// HeaderAt returns the chain head as seen under finality f.
func HeaderAt(ctx context.Context, client EthClient, f BlockFinality) (*types.Header, error) {
	var (
		header *types.Header
		err    error
	)
	switch f {
	case FinalityFinalized:
		header, err = client.GetFinalizedBlockHeader(ctx)
	case FinalitySafe:
		header, err = client.GetSafeBlockHeader(ctx)
	case FinalityLatest:
		header, err = client.GetLatestBlockHeader(ctx)
	default:
		return nil, fmt.Errorf("invalid block finality: %s", f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s block header: %w", f, err)
	}
	return header, nil
}
