package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/eventlog"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/internal/metrics"
	"github.com/goran-ethernal/ChainReducer/internal/reorg"
	"github.com/goran-ethernal/ChainReducer/internal/rpc"
	"github.com/goran-ethernal/ChainReducer/pkg/config"
)

const scannerName = "chain"

// Dispatcher hands affected entity ids, keyed by family, to the reducers.
type Dispatcher interface {
	Dispatch(ctx context.Context, ids map[string][]string) error
}

// Scanner follows the chain up to the configured finality, records decoded
// logs in the event log and dispatches the touched entities.
type Scanner struct {
	cfg        config.ScannerConfig
	finality   rpc.BlockFinality
	rpc        rpc.EthClient
	detector   reorg.Detector
	events     *eventlog.Log
	decoder    *Decoder
	dispatcher Dispatcher
	addresses  []common.Address
	log        *logger.Logger
}

// NewScanner creates a Scanner. cfg must have its defaults applied.
func NewScanner(
	cfg config.ScannerConfig,
	rpcClient rpc.EthClient,
	detector reorg.Detector,
	events *eventlog.Log,
	dispatcher Dispatcher,
	log *logger.Logger,
) (*Scanner, error) {
	if rpcClient == nil {
		return nil, errors.New("RPC client is required")
	}
	if detector == nil {
		return nil, errors.New("reorg detector is required")
	}
	if events == nil {
		return nil, errors.New("event log is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.ChunkSize == 0 {
		return nil, errors.New("chunk size must be positive")
	}
	finality, err := rpc.ParseBlockFinality(cfg.Finality)
	if err != nil {
		return nil, fmt.Errorf("invalid finality configuration: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	contracts, exchanges := cfg.Addresses()
	s := &Scanner{
		cfg:        cfg,
		finality:   finality,
		rpc:        rpcClient,
		detector:   detector,
		events:     events,
		decoder:    NewDecoder(exchanges, log),
		dispatcher: dispatcher,
		addresses:  append(contracts, exchanges...),
		log:        log.WithComponent(internalcommon.ComponentScanner),
	}

	s.log.Infow("scanner initialized",
		"contracts", len(contracts),
		"exchanges", len(exchanges),
		"finality", finality,
		"chunk_size", cfg.ChunkSize,
	)
	return s, nil
}

// Run scans until ctx is cancelled or a step fails.
func (s *Scanner) Run(ctx context.Context) error {
	metrics.ComponentHealthSet(internalcommon.ComponentScanner, true)
	defer metrics.ComponentHealthSet(internalcommon.ComponentScanner, false)

	for {
		caughtUp, err := s.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("scan cancelled")
				return ctx.Err()
			}
			metrics.ErrorsInc(internalcommon.ComponentScanner, "error")
			return err
		}
		if !caughtUp {
			continue
		}

		select {
		case <-ctx.Done():
			s.log.Info("scan cancelled")
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval.Duration):
		}
	}
}

// Step scans the next chunk. It reports true when there was nothing new
// below the finality head.
func (s *Scanner) Step(ctx context.Context) (bool, error) {
	start := time.Now()

	from, err := s.nextBlock(ctx)
	if err != nil {
		return false, err
	}

	head, err := rpc.HeaderAt(ctx, s.rpc, s.finality)
	if err != nil {
		return false, err
	}
	if from > head.Number.Uint64() {
		return true, nil
	}
	to := min(from+s.cfg.ChunkSize-1, head.Number.Uint64())

	logs, to, err := s.fetchLogs(ctx, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to fetch logs: %w", err)
	}

	if _, err := s.detector.VerifyAndRecordBlocks(ctx, logs, from, to); err != nil {
		if reorgErr, ok := reorg.AsReorg(err); ok {
			s.log.Warnw("reorg detected, reverting", "block", reorgErr.FirstReorgBlock, "details", reorgErr.Details)
			return false, s.handleReorg(ctx, reorgErr.FirstReorgBlock, from)
		}
		return false, fmt.Errorf("failed to verify blocks %d-%d: %w", from, to, err)
	}

	records := s.decode(logs)
	added, err := s.events.Append(ctx, records...)
	if err != nil {
		return false, err
	}
	if err := s.events.SetLastScannedBlock(ctx, to); err != nil {
		return false, err
	}

	metrics.LastScannedBlockSet(scannerName, to)
	metrics.BlocksProcessedInc(scannerName, to-from+1)
	metrics.ChunkProcessingTimeLog(scannerName, time.Since(start))
	if elapsed := time.Since(start).Seconds(); elapsed > 0 {
		metrics.ScanRateLog(scannerName, float64(to-from+1)/elapsed)
	}

	s.log.Infow("scanned range",
		"from_block", from,
		"to_block", to,
		"logs", len(logs),
		"records", len(records),
		"new_records", added,
	)

	s.dispatch(ctx, eventlog.Affected(records))
	return false, nil
}

func (s *Scanner) nextBlock(ctx context.Context) (uint64, error) {
	last, ok, err := s.events.LastScannedBlock(ctx)
	if err != nil {
		return 0, err
	}
	if !ok || last < s.cfg.StartBlock {
		return s.cfg.StartBlock, nil
	}
	return last + 1, nil
}

// fetchLogs queries [from, to], shrinking the range while the provider
// reports too many results. It returns the range actually covered.
func (s *Scanner) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, uint64, error) {
	for {
		logs, err := s.rpc.GetLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: s.addresses,
			Topics:    [][]common.Hash{s.decoder.Topics()},
		})
		if err == nil {
			return logs, to, nil
		}
		if match, _ := rpc.IsTooManyResultsError(err); !match {
			return nil, 0, err
		}

		if sFrom, sTo, ok := rpc.SuggestedRange(err); ok && sFrom == from && sTo < to {
			s.log.Infow("too many logs, using suggested range", "from_block", from, "to_block", sTo, "was", to)
			to = sTo
			continue
		}
		if to == from {
			return nil, 0, fmt.Errorf("cannot split range further, single block %d has too many logs", from)
		}
		to = from + (to-from)/2 //nolint:mnd
		s.log.Infow("too many logs, halving range", "from_block", from, "to_block", to)
	}
}

// decode maps logs to records. Malformed logs are logged and skipped.
func (s *Scanner) decode(logs []types.Log) []eventlog.Record {
	var records []eventlog.Record
	perFamily := make(map[string]int)

	for _, l := range logs {
		recs, err := s.decoder.Decode(l)
		if err != nil {
			s.log.Warnw("skipping undecodable log", "tx", l.TxHash.Hex(), "index", l.Index, "error", err)
			metrics.ErrorsInc(internalcommon.ComponentScanner, "warning")
			continue
		}
		for _, r := range recs {
			perFamily[r.Family]++
		}
		records = append(records, recs...)
	}

	for fam, n := range perFamily {
		metrics.EventsDecodedInc(fam, n)
	}
	return records
}

// handleReorg reverts everything recorded from the fork block on, rewinds
// the detector and the checkpoint, and re-dispatches the affected entities.
// scanFrom is the first block of the chunk being scanned, which has not been
// recorded yet.
func (s *Scanner) handleReorg(ctx context.Context, fork, scanFrom uint64) error {
	affected, err := s.events.RevertFrom(ctx, fork)
	if err != nil {
		return fmt.Errorf("failed to revert events from block %d: %w", fork, err)
	}
	if err := s.detector.Rewind(ctx, fork); err != nil {
		return err
	}

	resume := min(fork, scanFrom)
	if resume > 0 {
		if err := s.events.SetLastScannedBlock(ctx, resume-1); err != nil {
			return err
		}
	}

	s.log.Infow("reorg handled, resuming", "fork_block", fork, "resume_block", resume, "families", len(affected))
	s.dispatch(ctx, affected)
	return nil
}

// dispatch hands ids to the reducers. Failures are logged: the records are
// already durable and the next update of each entity folds them.
func (s *Scanner) dispatch(ctx context.Context, ids map[string][]string) {
	if len(ids) == 0 {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, ids); err != nil {
		s.log.Errorw("failed to reduce affected entities", "error", err)
		metrics.ErrorsInc(internalcommon.ComponentScanner, "error")
	}
}
