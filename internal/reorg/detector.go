// Package reorg detects chain reorganizations from recorded block hashes.
package reorg

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/db"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/internal/metrics"
	"github.com/goran-ethernal/ChainReducer/internal/rpc"
	"github.com/russross/meddler"
)

//go:embed migrations/001_block_hashes.sql
var mig001 string

// Migrations creates the block_hashes table.
var Migrations = []db.Migration{
	{
		ID:  "reorg_001_block_hashes.sql",
		SQL: mig001,
	},
}

// Detector verifies scanned ranges against the chain.
type Detector interface {
	VerifyAndRecordBlocks(ctx context.Context, logs []types.Log, fromBlock, toBlock uint64) ([]*types.Header, error)
	Rewind(ctx context.Context, fromBlock uint64) error
}

var _ Detector = (*ReorgDetector)(nil)

// ReorgDetector detects blockchain reorganizations by tracking the hashes of
// every non-finalized block it has seen.
type ReorgDetector struct {
	db    *sql.DB
	log   *logger.Logger
	rpc   rpc.EthClient
	maint db.Maintenance
}

// StoredBlock is a recorded block hash.
type StoredBlock struct {
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
	ParentHash  common.Hash `meddler:"parent_hash,hash"`
}

// NewReorgDetector creates a detector over an already migrated database.
// maint may be nil.
func NewReorgDetector(
	database *sql.DB,
	rpcClient rpc.EthClient,
	log *logger.Logger,
	maint db.Maintenance,
) *ReorgDetector {
	if maint == nil {
		maint = &db.NoOpMaintenance{}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, true)

	return &ReorgDetector{
		db:    database,
		rpc:   rpcClient,
		log:   log.WithComponent(internalcommon.ComponentReorgDetector),
		maint: maint,
	}
}

// VerifyAndRecordBlocks checks for reorgs and records blocks for the given range.
// It follows these steps:
// 1. Get the last finalized block and prune finalized blocks from DB
// 2. Verify all non-finalized blocks in DB against current chain state
// 3. Fetch headers for the new block range and verify consistency
// 4. Record the new blocks to DB
// All database operations are performed atomically within a single transaction.
func (r *ReorgDetector) VerifyAndRecordBlocks(
	ctx context.Context,
	logs []types.Log, fromBlock, toBlock uint64) ([]*types.Header, error) {
	unlock := r.maint.AcquireOperationLock()
	defer unlock()

	r.log.Debugw("verifying blocks", "logs", len(logs), "from_block", fromBlock, "to_block", toBlock)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	finalizedHeader, err := r.rpc.GetFinalizedBlockHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get finalized block header: %w", err)
	}
	finalized := finalizedHeader.Number.Uint64()

	if err := r.pruneFinalizedTx(tx, finalizedHeader); err != nil {
		return nil, err
	}

	if err := r.verifyStoredTx(ctx, tx, finalized); err != nil {
		return nil, err
	}

	blockNums := make([]uint64, 0, toBlock-fromBlock+1)
	for n := max(fromBlock, finalized+1); n <= toBlock; n++ {
		blockNums = append(blockNums, n)
	}
	if len(blockNums) == 0 {
		return nil, tx.Commit()
	}

	headers, err := r.rpc.BatchGetBlockHeaders(ctx, blockNums)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch headers for range: %w", err)
	}

	if err := verifyLogsAgainstHeaders(logs, headers, finalized); err != nil {
		r.log.Warnw("reorg detected during fetch", "error", err)
		return nil, err
	}
	if err := r.verifyContinuityTx(tx, headers); err != nil {
		r.log.Warnw("chain discontinuity detected", "error", err)
		return nil, err
	}

	if err := r.recordBlocksTx(ctx, tx, headers); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debugw("recorded block hashes",
		"from_block", blockNums[0], "to_block", blockNums[len(blockNums)-1], "count", len(headers))
	return headers, nil
}

// Rewind drops every recorded block at or above fromBlock.
func (r *ReorgDetector) Rewind(ctx context.Context, fromBlock uint64) error {
	unlock := r.maint.AcquireOperationLock()
	defer unlock()

	res, err := r.db.ExecContext(ctx, "DELETE FROM block_hashes WHERE block_number >= ?", fromBlock)
	if err != nil {
		return fmt.Errorf("failed to rewind block hashes from %d: %w", fromBlock, err)
	}

	dropped, _ := res.RowsAffected()
	blocksRewound.Add(float64(dropped))
	r.log.Infow("rewound block hashes", "from_block", fromBlock, "dropped", dropped)
	return nil
}

// pruneFinalizedTx keeps only blocks above the finalized one, provided the
// recorded finalized hash still matches.
func (r *ReorgDetector) pruneFinalizedTx(tx *sql.Tx, finalized *types.Header) error {
	num := finalized.Number.Uint64()

	stored, err := r.getStoredBlockTx(tx, num)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query finalized block hash: %w", err)
	}
	if stored.BlockHash != finalized.Hash() {
		return nil
	}

	res, err := tx.Exec("DELETE FROM block_hashes WHERE block_number <= ?", num)
	if err != nil {
		return fmt.Errorf("failed to prune finalized blocks: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.log.Debugw("pruned finalized block hashes", "finalized_block", num, "deleted", n)
	}
	return nil
}

// verifyStoredTx compares recorded non-finalized hashes with the chain.
func (r *ReorgDetector) verifyStoredTx(ctx context.Context, tx *sql.Tx, finalized uint64) error {
	var stored []*StoredBlock
	if err := meddler.QueryAll(tx, &stored,
		"SELECT * FROM block_hashes WHERE block_number > ? ORDER BY block_number ASC", finalized); err != nil {
		return fmt.Errorf("failed to get non-finalized blocks: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}

	nums := make([]uint64, len(stored))
	for i, b := range stored {
		nums[i] = b.BlockNumber
	}
	current, err := r.rpc.BatchGetBlockHeaders(ctx, nums)
	if err != nil {
		return fmt.Errorf("failed to fetch non-finalized headers: %w", err)
	}

	for i, header := range current {
		if cached := stored[i].BlockHash; cached != header.Hash() {
			r.log.Warnw("reorg detected in recorded blocks",
				"block", stored[i].BlockNumber, "cached_hash", cached.Hex(), "current_hash", header.Hash().Hex())
			reorgDetectedLog(uint64(len(stored) - i))
			return NewReorgError(stored[i].BlockNumber,
				fmt.Sprintf("cached_hash=%s current_hash=%s", cached.Hex(), header.Hash().Hex()))
		}
	}
	return nil
}

// verifyLogsAgainstHeaders catches a reorg that happened between the log
// query and the header query.
func verifyLogsAgainstHeaders(logs []types.Log, headers []*types.Header, finalized uint64) error {
	byNumber := make(map[uint64]common.Hash, len(headers))
	for _, h := range headers {
		byNumber[h.Number.Uint64()] = h.Hash()
	}

	for _, l := range logs {
		if l.BlockNumber <= finalized || l.Removed {
			continue
		}
		if headerHash, ok := byNumber[l.BlockNumber]; ok && headerHash != l.BlockHash {
			reorgDetectedLog(headers[len(headers)-1].Number.Uint64() - l.BlockNumber + 1)
			return NewReorgError(l.BlockNumber,
				fmt.Sprintf("log_hash=%s header_hash=%s", l.BlockHash.Hex(), headerHash.Hex()))
		}
	}
	return nil
}

// verifyContinuityTx checks that headers chain onto each other and onto the
// last recorded block below them.
func (r *ReorgDetector) verifyContinuityTx(tx *sql.Tx, headers []*types.Header) error {
	first := headers[0].Number.Uint64()
	if first > 0 {
		prev, err := r.getStoredBlockTx(tx, first-1)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to query block %d: %w", first-1, err)
		case prev.BlockHash != headers[0].ParentHash:
			reorgDetectedLog(uint64(len(headers)) + 1)
			return NewReorgError(first-1,
				fmt.Sprintf("recorded block %d is not the parent of block %d", first-1, first))
		}
	}

	for i := 1; i < len(headers); i++ {
		if headers[i].ParentHash != headers[i-1].Hash() {
			reorgDetectedLog(uint64(len(headers) - i))
			return NewReorgError(headers[i].Number.Uint64(),
				fmt.Sprintf("chain discontinuity between blocks %d and %d",
					headers[i-1].Number.Uint64(), headers[i].Number.Uint64()))
		}
	}
	return nil
}

func (r *ReorgDetector) getStoredBlockTx(tx *sql.Tx, blockNum uint64) (StoredBlock, error) {
	var block StoredBlock
	if err := meddler.QueryRow(tx, &block, "SELECT * FROM block_hashes WHERE block_number = ?", blockNum); err != nil {
		return StoredBlock{}, err
	}
	return block, nil
}

func (r *ReorgDetector) recordBlocksTx(ctx context.Context, tx *sql.Tx, headers []*types.Header) error {
	for _, header := range headers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO block_hashes (block_number, block_hash, parent_hash) VALUES (?, ?, ?)
			ON CONFLICT(block_number) DO UPDATE SET
				block_hash = excluded.block_hash, parent_hash = excluded.parent_hash
		`, header.Number.Uint64(), header.Hash().Hex(), header.ParentHash.Hex()); err != nil {
			return fmt.Errorf("failed to record block %d: %w", header.Number.Uint64(), err)
		}
	}
	return nil
}

// Close marks the detector unhealthy. The database is owned by the caller.
func (r *ReorgDetector) Close() {
	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, false)
}
