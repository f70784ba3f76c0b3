package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"ratescope/internal/amm"
	"ratescope/internal/checkpoint"
	"ratescope/internal/ingest"
	"ratescope/internal/ledger"
	"ratescope/internal/oracle"
	"ratescope/internal/passive"
	"ratescope/internal/position"
	"ratescope/internal/vamm"
)

// DefaultProcess names the position sync process in cursor keys.
const DefaultProcess = "lp_sync"

var allKinds = []vamm.Kind{vamm.KindMint, vamm.KindBurn, vamm.KindSwap, vamm.KindPriceChange}

// Config tunes one sync engine.
type Config struct {
	// Process distinguishes independent cursors over the same AMM.
	Process string
	// MaxRetries bounds retry attempts around chain and storage I/O.
	MaxRetries int
	// RetryDelay is the initial backoff delay; it doubles per attempt.
	RetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Process == "" {
		c.Process = DefaultProcess
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
}

// Engine synchronizes one AMM: it scans the next event window, folds real
// events and synthesized passive swaps onto position rows, persists the batch
// atomically, and only then advances the cursor.
type Engine struct {
	cfg         Config
	pool        amm.AMM
	ingestor    *ingest.Ingestor
	projector   *position.Projector
	ledger      ledger.Store
	rateOracle  oracle.RateOracle
	checkpoints checkpoint.Store
	logger      *zap.Logger
}

func NewEngine(
	cfg Config,
	pool amm.AMM,
	ingestor *ingest.Ingestor,
	store ledger.Store,
	rateOracle oracle.RateOracle,
	checkpoints checkpoint.Store,
	logger *zap.Logger,
) (*Engine, error) {
	if err := pool.Validate(); err != nil {
		return nil, fmt.Errorf("invalid amm: %w", err)
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ledger store is nil")
	}
	if rateOracle == nil {
		return nil, fmt.Errorf("rate oracle is nil")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	return &Engine{
		cfg:         cfg,
		pool:        pool,
		ingestor:    ingestor,
		projector:   position.NewProjector(pool),
		ledger:      store,
		rateOracle:  rateOracle,
		checkpoints: checkpoints,
		logger:      logger.With(zap.String("vamm", pool.VAMMAddress), zap.Uint64("chain", pool.ChainID)),
	}, nil
}

// RunCycle executes one scan/fold/persist/advance pass. On any error before
// the persist step the cursor is left untouched, so the next cycle replays
// the same window; the per-row watermark makes that replay a no-op for rows
// that already absorbed their events.
func (e *Engine) RunCycle(ctx context.Context) error {
	var window ingest.Window
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryDelay, func(ctx context.Context) error {
		var err error
		window, err = e.ingestor.FetchWindow(ctx, e.cfg.Process, e.pool, allKinds)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch window: %w", err)
	}

	if window.Head <= window.Cursor {
		return nil
	}
	if len(window.Events) == 0 {
		e.advanceCursor(ctx, window.Head)
		return nil
	}

	currentTick, _, err := e.ingestor.ResolveStartTick(ctx, e.pool)
	if err != nil {
		return fmt.Errorf("resolve start tick: %w", err)
	}

	pending := newPendingRows()
	indexes := make(map[int64]float64)

	for _, event := range window.Events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Kind {
		case vamm.KindPriceChange:
			tick, err := e.applyPriceChange(ctx, event, pending, indexes)
			if err != nil {
				return err
			}
			currentTick = tick

		case vamm.KindSwap:
			if err := e.applySwap(ctx, event, pending, indexes, currentTick); err != nil {
				return err
			}

		case vamm.KindMint, vamm.KindBurn:
			if err := e.applyLiquidityChange(ctx, event, pending, currentTick); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unhandled event kind %q", event.Kind)
		}
	}

	// A shutdown request received mid-window still lets the atomic persist
	// and the cursor advance complete; the cycle is the unit of work.
	persistCtx := context.WithoutCancel(ctx)

	rows := pending.ordered()
	if len(rows) > 0 {
		err = withRetry(persistCtx, e.cfg.MaxRetries, e.cfg.RetryDelay, func(ctx context.Context) error {
			return e.ledger.UpsertPositions(ctx, rows)
		})
		if err != nil {
			return fmt.Errorf("persist %d positions: %w", len(rows), err)
		}
	}

	e.advanceCursor(persistCtx, window.Head)

	e.logger.Info("sync cycle complete",
		zap.Uint64("from", window.Cursor),
		zap.Uint64("to", window.Head),
		zap.Int("events", len(window.Events)),
		zap.Int("positions", len(rows)),
	)
	return nil
}

// applyPriceChange synthesizes the passive swaps the tick move implies and
// folds them onto the affected rows. Returns the new current tick.
func (e *Engine) applyPriceChange(ctx context.Context, event vamm.Event, pending *pendingRows, indexes map[int64]float64) (int32, error) {
	change := event.PriceChange
	if change.IsInitial {
		return change.Tick, nil
	}

	rows, err := e.candidateRows(ctx, change.Timestamp, pending)
	if err != nil {
		return 0, err
	}

	result, err := passive.Synthesize(e.pool, rows, *change)
	if err != nil {
		return 0, fmt.Errorf("synthesize passive swaps: %w", err)
	}
	if len(result.Events) == 0 {
		return change.Tick, nil
	}

	index, err := e.liquidityIndexAt(ctx, change.Timestamp, indexes)
	if err != nil {
		return 0, err
	}

	for i := range result.Events {
		affected := result.Affected[i]
		updated, applied, err := e.projector.ApplySwap(&affected, &result.Events[i], event.Meta, change.Tick, index)
		if err != nil {
			return 0, fmt.Errorf("apply passive swap %s: %w", result.Events[i].EventID, err)
		}
		if applied {
			pending.put(updated)
		}
	}

	return change.Tick, nil
}

func (e *Engine) applySwap(ctx context.Context, event vamm.Event, pending *pendingRows, indexes map[int64]float64, currentTick int32) error {
	swap := event.Swap
	key := position.Key{
		ChainID:      swap.ChainID,
		VAMMAddress:  swap.VAMMAddress,
		OwnerAddress: swap.OwnerAddress,
		TickLower:    swap.TickLower,
		TickUpper:    swap.TickUpper,
	}

	prior, err := e.priorRow(ctx, key, pending)
	if err != nil {
		return err
	}

	index, err := e.liquidityIndexAt(ctx, swap.Timestamp, indexes)
	if err != nil {
		return err
	}

	updated, applied, err := e.projector.ApplySwap(prior, swap, event.Meta, currentTick, index)
	if err != nil {
		return fmt.Errorf("apply swap %s: %w", swap.EventID, err)
	}
	if applied {
		pending.put(updated)
	}
	return nil
}

func (e *Engine) applyLiquidityChange(ctx context.Context, event vamm.Event, pending *pendingRows, currentTick int32) error {
	var (
		chainID      uint64
		vammAddress  string
		ownerAddress string
		tickLower    int32
		tickUpper    int32
	)
	if event.Kind == vamm.KindMint {
		chainID, vammAddress, ownerAddress = event.Mint.ChainID, event.Mint.VAMMAddress, event.Mint.OwnerAddress
		tickLower, tickUpper = event.Mint.TickLower, event.Mint.TickUpper
	} else {
		chainID, vammAddress, ownerAddress = event.Burn.ChainID, event.Burn.VAMMAddress, event.Burn.OwnerAddress
		tickLower, tickUpper = event.Burn.TickLower, event.Burn.TickUpper
	}

	key := position.Key{
		ChainID:      chainID,
		VAMMAddress:  vammAddress,
		OwnerAddress: ownerAddress,
		TickLower:    tickLower,
		TickUpper:    tickUpper,
	}

	prior, err := e.priorRow(ctx, key, pending)
	if err != nil {
		return err
	}

	var (
		updated position.Row
		applied bool
	)
	if event.Kind == vamm.KindMint {
		updated, applied, err = e.projector.ApplyMint(prior, event.Mint, event.Meta, currentTick)
	} else {
		updated, applied, err = e.projector.ApplyBurn(prior, event.Burn, event.Meta, currentTick)
	}
	if err != nil {
		return fmt.Errorf("apply %s at block %d: %w", event.Kind, event.Meta.BlockNumber, err)
	}
	if applied {
		pending.put(updated)
	}
	return nil
}

// candidateRows merges stored rows last updated strictly before the event
// with the rows already modified this cycle. A pending row at or past the
// event timestamp supersedes its stored version and is excluded: its passive
// exposure up to the event is already folded in.
func (e *Engine) candidateRows(ctx context.Context, eventTimestamp int64, pending *pendingRows) ([]position.Row, error) {
	var stored []position.Row
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryDelay, func(ctx context.Context) error {
		var err error
		stored, err = e.ledger.ActivePositions(ctx, e.pool.ChainID, e.pool.VAMMAddress, eventTimestamp)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load active positions: %w", err)
	}

	merged := make(map[position.Key]position.Row, len(stored))
	for _, row := range stored {
		merged[row.Key] = row
	}
	for key, row := range pending.rows {
		if row.LastUpdatedTimestamp < eventTimestamp {
			merged[key] = row
		} else {
			delete(merged, key)
		}
	}

	out := make([]position.Row, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (e *Engine) priorRow(ctx context.Context, key position.Key, pending *pendingRows) (*position.Row, error) {
	if row, ok := pending.get(key); ok {
		return &row, nil
	}

	var (
		row position.Row
		ok  bool
	)
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryDelay, func(ctx context.Context) error {
		var err error
		row, ok, err = e.ledger.GetPosition(ctx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", key.String(), err)
	}
	if !ok {
		return nil, nil
	}
	return &row, nil
}

// liquidityIndexAt memoizes oracle reads per timestamp for the cycle.
func (e *Engine) liquidityIndexAt(ctx context.Context, timestamp int64, indexes map[int64]float64) (float64, error) {
	if index, ok := indexes[timestamp]; ok {
		return index, nil
	}

	var index float64
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryDelay, func(ctx context.Context) error {
		var err error
		index, err = e.rateOracle.LiquidityIndexAt(ctx, e.pool, timestamp)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("liquidity index at %d: %w", timestamp, err)
	}

	indexes[timestamp] = index
	return index, nil
}

// advanceCursor is best-effort: the ledger already holds the truth and the
// per-row watermark absorbs the replay a stale cursor causes.
func (e *Engine) advanceCursor(ctx context.Context, head uint64) {
	err := e.checkpoints.Set(ctx, e.cfg.Process, e.pool.ChainID, e.pool.VAMMAddress, head)
	if err != nil {
		e.logger.Warn("cursor advance failed, window will replay", zap.Uint64("head", head), zap.Error(err))
	}
}

// pendingRows accumulates the rows modified within one cycle so later events
// in the same window observe earlier updates before anything is persisted.
type pendingRows struct {
	rows  map[position.Key]position.Row
	order []position.Key
}

func newPendingRows() *pendingRows {
	return &pendingRows{rows: make(map[position.Key]position.Row)}
}

func (p *pendingRows) get(key position.Key) (position.Row, bool) {
	row, ok := p.rows[key]
	return row, ok
}

func (p *pendingRows) put(row position.Row) {
	if _, ok := p.rows[row.Key]; !ok {
		p.order = append(p.order, row.Key)
	}
	p.rows[row.Key] = row
}

func (p *pendingRows) ordered() []position.Row {
	out := make([]position.Row, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.rows[key])
	}
	return out
}
