// Package rpctest provides an in-memory chain implementing rpc.EthClient.
package rpctest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainReducer/internal/rpc"
)

var _ rpc.EthClient = (*Chain)(nil)

// Chain is a linear chain of headers with logs attached to blocks. Fork
// replaces every block from a height onwards.
type Chain struct {
	mu        sync.Mutex
	headers   []*types.Header
	logs      map[uint64][]types.Log
	finalized uint64
	safe      uint64
	fork      uint64

	// LogsErr, when set, is returned by the next GetLogs call.
	LogsErr error
	// LogQueries records every GetLogs query.
	LogQueries []ethereum.FilterQuery
}

// NewChain builds a chain with blocks 0..head.
func NewChain(head uint64) *Chain {
	c := &Chain{logs: make(map[uint64][]types.Log)}
	c.extend(head)
	return c
}

func (c *Chain) extend(head uint64) {
	for n := uint64(len(c.headers)); n <= head; n++ {
		parent := common.Hash{}
		if n > 0 {
			parent = c.headers[n-1].Hash()
		}
		c.headers = append(c.headers, &types.Header{
			Number:     new(big.Int).SetUint64(n),
			ParentHash: parent,
			Difficulty: big.NewInt(1),
			GasLimit:   30_000_000,
			Time:       1_700_000_000 + n,
			Extra:      []byte(fmt.Sprintf("fork-%d", c.fork)),
		})
	}
}

// Mine appends blocks up to head.
func (c *Chain) Mine(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extend(head)
}

// Fork rebuilds every block from height onwards with new hashes, up to head,
// and drops their logs.
func (c *Chain) Fork(height, head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fork++
	c.headers = c.headers[:height]
	for n := range c.logs {
		if n >= height {
			delete(c.logs, n)
		}
	}
	c.extend(head)
}

// SetFinality sets the finalized and safe heights.
func (c *Chain) SetFinality(finalized, safe uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized, c.safe = finalized, safe
}

// Header returns the current header at n.
func (c *Chain) Header(n uint64) *types.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[n]
}

// AddLog attaches l to its block, filling in the block hash and index.
func (c *Chain) AddLog(l types.Log) types.Log {
	c.mu.Lock()
	defer c.mu.Unlock()

	l.BlockHash = c.headers[l.BlockNumber].Hash()
	l.Index = uint(len(c.logs[l.BlockNumber]))
	c.logs[l.BlockNumber] = append(c.logs[l.BlockNumber], l)
	return l
}

func (c *Chain) Close() {}

func (c *Chain) GetLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.LogQueries = append(c.LogQueries, q)
	if err := c.LogsErr; err != nil {
		c.LogsErr = nil
		return nil, err
	}

	addresses := make(map[common.Address]bool, len(q.Addresses))
	for _, a := range q.Addresses {
		addresses[a] = true
	}

	var out []types.Log
	for n := q.FromBlock.Uint64(); n <= q.ToBlock.Uint64(); n++ {
		for _, l := range c.logs[n] {
			if len(addresses) == 0 || addresses[l.Address] {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (c *Chain) GetBlockHeader(_ context.Context, n uint64) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header(n)
}

func (c *Chain) header(n uint64) (*types.Header, error) {
	if n >= uint64(len(c.headers)) {
		return nil, ethereum.NotFound
	}
	return c.headers[n], nil
}

func (c *Chain) GetLatestBlockHeader(_ context.Context) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[len(c.headers)-1], nil
}

func (c *Chain) GetFinalizedBlockHeader(_ context.Context) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header(c.finalized)
}

func (c *Chain) GetSafeBlockHeader(_ context.Context) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header(c.safe)
}

func (c *Chain) BatchGetBlockHeaders(_ context.Context, nums []uint64) ([]*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*types.Header, 0, len(nums))
	for _, n := range nums {
		h, err := c.header(n)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", n, err)
		}
		out = append(out, h)
	}
	return out, nil
}
