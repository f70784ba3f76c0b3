package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"ratescope/internal/amm"
	"ratescope/internal/checkpoint"
	"ratescope/internal/vamm"
)

// ErrOrderViolation is returned when two events share a (blockNumber,
// txIndex) slot. The total order is what makes cashflow merges and tick
// transitions deterministic, so a tie is a data-source defect and must not
// be resolved by silently picking an order.
var ErrOrderViolation = errors.New("event order violation")

// LogSource is the chain access the ingestor needs. *chain.Client satisfies
// it; tests substitute an in-memory sequence.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, contract common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (int64, error)
}

// Config tunes one ingestor.
type Config struct {
	// BatchSize bounds the block span of one log query.
	BatchSize uint64
	// AllowedOwners, when non-empty, restricts mint/burn/swap events to
	// the listed accounts (controlled-rollout filter). Addresses are
	// matched case-insensitively.
	AllowedOwners []string
}

// Window is the result of one checkpointed scan: every requested event in
// (Cursor, Head], in total order.
type Window struct {
	// Cursor is the resume point the scan started after.
	Cursor uint64
	// Head is the chain head the scan ran up to; the checkpoint advances
	// to it after a successful persist.
	Head uint64
	// Events is ordered by (blockNumber, txIndex) ascending.
	Events []vamm.Event
}

// Ingestor resumes per-AMM event scanning from durable cursors.
type Ingestor struct {
	cfg         Config
	source      LogSource
	decoder     *vamm.Decoder
	checkpoints checkpoint.Store
	logger      *zap.Logger
	allowed     map[string]struct{}
}

func NewIngestor(cfg Config, source LogSource, decoder *vamm.Decoder, checkpoints checkpoint.Store, logger *zap.Logger) (*Ingestor, error) {
	if source == nil {
		return nil, fmt.Errorf("log source is nil")
	}
	if decoder == nil {
		return nil, fmt.Errorf("decoder is nil")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is nil")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var allowed map[string]struct{}
	if len(cfg.AllowedOwners) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedOwners))
		for _, owner := range cfg.AllowedOwners {
			allowed[strings.ToLower(owner)] = struct{}{}
		}
	}

	return &Ingestor{
		cfg:         cfg,
		source:      source,
		decoder:     decoder,
		checkpoints: checkpoints,
		logger:      logger,
		allowed:     allowed,
	}, nil
}

// FetchWindow reads the cursor for (process, pool), defaulting to the pool's
// genesis block, and returns every event of the requested kinds in
// (cursor, head] in total order.
func (in *Ingestor) FetchWindow(ctx context.Context, process string, pool amm.AMM, kinds []vamm.Kind) (Window, error) {
	cursor, ok, err := in.checkpoints.Get(ctx, process, pool.ChainID, pool.VAMMAddress)
	if err != nil {
		return Window{}, fmt.Errorf("read cursor: %w", err)
	}
	from := pool.GenesisBlock
	if ok && cursor.BlockNumber > from {
		from = cursor.BlockNumber
	}

	head, err := in.source.LatestBlockNumber(ctx)
	if err != nil {
		return Window{}, fmt.Errorf("read chain head: %w", err)
	}

	window := Window{Cursor: from, Head: head}
	if head <= from {
		return window, nil
	}

	events, err := in.fetchEvents(ctx, pool, kinds, from+1, head)
	if err != nil {
		return Window{}, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Meta.BlockNumber != events[j].Meta.BlockNumber {
			return events[i].Meta.BlockNumber < events[j].Meta.BlockNumber
		}
		return events[i].Meta.TxIndex < events[j].Meta.TxIndex
	})
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1].Meta, events[i].Meta
		if prev.BlockNumber == cur.BlockNumber && prev.TxIndex == cur.TxIndex {
			return Window{}, fmt.Errorf("%w: two events at block %d tx %d", ErrOrderViolation, cur.BlockNumber, cur.TxIndex)
		}
	}

	window.Events = events
	return window, nil
}

// ResolveStartTick rederives the tick active at the cursor by requerying the
// pool's initialization event. The cursor never caches the tick; independent
// rederivation every resume is deliberate (a partial cursor can not poison
// the tick).
func (in *Ingestor) ResolveStartTick(ctx context.Context, pool amm.AMM) (int32, bool, error) {
	head, err := in.source.LatestBlockNumber(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("read chain head: %w", err)
	}
	if head < pool.GenesisBlock {
		return 0, false, nil
	}

	contract := common.HexToAddress(pool.VAMMAddress)
	topics := []common.Hash{in.decoder.InitializationTopic()}

	ranges, err := SplitRange(pool.GenesisBlock, head, in.cfg.BatchSize)
	if err != nil {
		return 0, false, err
	}

	for _, blockRange := range ranges {
		logs, err := in.source.FilterLogs(ctx, blockRange.From, blockRange.To, contract, topics)
		if err != nil {
			return 0, false, fmt.Errorf("query initialization event: %w", err)
		}
		if len(logs) == 0 {
			continue
		}

		ts, err := in.source.BlockTimestamp(ctx, logs[0].BlockNumber)
		if err != nil {
			return 0, false, fmt.Errorf("initialization timestamp: %w", err)
		}
		event, err := in.decoder.Decode(pool, logs[0], ts)
		if err != nil {
			return 0, false, fmt.Errorf("decode initialization event: %w", err)
		}
		if event.Kind != vamm.KindPriceChange || !event.PriceChange.IsInitial {
			return 0, false, fmt.Errorf("unexpected initialization event kind %q", event.Kind)
		}
		return event.PriceChange.Tick, true, nil
	}

	return 0, false, nil
}

func (in *Ingestor) fetchEvents(ctx context.Context, pool amm.AMM, kinds []vamm.Kind, from, to uint64) ([]vamm.Event, error) {
	contract := common.HexToAddress(pool.VAMMAddress)
	topics := in.decoder.TopicsFor(kinds)

	ranges, err := SplitRange(from, to, in.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	events := make([]vamm.Event, 0)
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		logs, err := in.source.FilterLogs(ctx, blockRange.From, blockRange.To, contract, topics)
		if err != nil {
			return nil, fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}

		for _, log := range logs {
			ts, err := in.source.BlockTimestamp(ctx, log.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
			}

			event, err := in.decoder.Decode(pool, log, ts)
			if err != nil {
				return nil, fmt.Errorf("decode log %s/%d: %w", log.TxHash.Hex(), log.Index, err)
			}
			if in.excluded(event) {
				continue
			}
			events = append(events, event)
		}
	}

	in.logger.Debug("fetched events",
		zap.String("vamm", pool.VAMMAddress),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("events", len(events)),
	)
	return events, nil
}

// excluded applies the owner allow-list; price changes carry no owner and
// always pass.
func (in *Ingestor) excluded(event vamm.Event) bool {
	if in.allowed == nil {
		return false
	}

	var owner string
	switch event.Kind {
	case vamm.KindMint:
		owner = event.Mint.OwnerAddress
	case vamm.KindBurn:
		owner = event.Burn.OwnerAddress
	case vamm.KindSwap:
		owner = event.Swap.OwnerAddress
	default:
		return false
	}

	_, ok := in.allowed[strings.ToLower(owner)]
	return !ok
}
