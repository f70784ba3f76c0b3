package ingest

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"ratescope/internal/amm"
	"ratescope/internal/checkpoint"
	"ratescope/internal/vamm"
)

type fakeSource struct {
	head uint64
	logs []types.Log
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, fromBlock, toBlock uint64, contract common.Address, topic0 []common.Hash) ([]types.Log, error) {
	wanted := make(map[common.Hash]struct{}, len(topic0))
	for _, topic := range topic0 {
		wanted[topic] = struct{}{}
	}

	out := make([]types.Log, 0)
	for _, log := range f.logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if log.Address != contract {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[log.Topics[0]]; !ok {
				continue
			}
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (int64, error) {
	return int64(number) * 10, nil
}

func testPool() amm.AMM {
	return amm.AMM{
		ChainID:              1,
		VAMMAddress:          "0xA1b2C3d4E5F6a1B2c3D4e5f6A1b2C3D4E5f6A1B2",
		TokenDecimals:        18,
		TermStartTimestampMS: 1_600_000_000_000,
		TermEndTimestampMS:   1_660_000_000_000,
		GenesisBlock:         100,
	}
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func mintLog(t *testing.T, pool amm.AMM, owner common.Address, tickLower, tickUpper int64, amount *big.Int, block uint64, txIndex, logIndex uint) types.Log {
	t.Helper()

	vammABI, err := vamm.ABI()
	require.NoError(t, err)
	event := vammABI.Events["Mint"]

	data, err := event.Inputs.NonIndexed().Pack(common.Address{}, amount)
	require.NoError(t, err)

	return types.Log{
		Address: common.HexToAddress(pool.VAMMAddress),
		Topics: []common.Hash{
			event.ID,
			addressTopic(owner),
			common.BigToHash(big.NewInt(tickLower)),
			common.BigToHash(big.NewInt(tickUpper)),
		},
		Data:        data,
		BlockNumber: block,
		TxIndex:     txIndex,
		Index:       logIndex,
		TxHash:      common.HexToHash("0xfeed"),
	}
}

func priceChangeLog(t *testing.T, pool amm.AMM, tick int64, block uint64, txIndex, logIndex uint) types.Log {
	t.Helper()

	vammABI, err := vamm.ABI()
	require.NoError(t, err)
	event := vammABI.Events["VAMMPriceChange"]

	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(tick))
	require.NoError(t, err)

	return types.Log{
		Address:     common.HexToAddress(pool.VAMMAddress),
		Topics:      []common.Hash{event.ID},
		Data:        data,
		BlockNumber: block,
		TxIndex:     txIndex,
		Index:       logIndex,
		TxHash:      common.HexToHash("0xfeed"),
	}
}

func initializationLog(t *testing.T, pool amm.AMM, tick int64, block uint64) types.Log {
	t.Helper()

	vammABI, err := vamm.ABI()
	require.NoError(t, err)
	event := vammABI.Events["VAMMInitialization"]

	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(1), big.NewInt(tick))
	require.NoError(t, err)

	return types.Log{
		Address:     common.HexToAddress(pool.VAMMAddress),
		Topics:      []common.Hash{event.ID},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0xfeed"),
	}
}

func newTestIngestor(t *testing.T, cfg Config, source LogSource, cursors checkpoint.Store) *Ingestor {
	t.Helper()

	decoder, err := vamm.NewDecoder()
	require.NoError(t, err)

	ingestor, err := NewIngestor(cfg, source, decoder, cursors, nil)
	require.NoError(t, err)
	return ingestor
}

func TestFetchWindowStartsAtGenesis(t *testing.T) {
	pool := testPool()
	owner := common.HexToAddress("0x4444444444444444444444444444444444444444")
	amount := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	source := &fakeSource{
		head: 110,
		logs: []types.Log{
			mintLog(t, pool, owner, 100, 200, amount, 105, 0, 0),
			priceChangeLog(t, pool, 150, 108, 0, 1),
		},
	}

	ingestor := newTestIngestor(t, Config{}, source, checkpoint.NewMemoryStore())

	window, err := ingestor.FetchWindow(context.Background(), "lp_sync", pool, []vamm.Kind{vamm.KindMint, vamm.KindPriceChange})
	require.NoError(t, err)
	require.Equal(t, pool.GenesisBlock, window.Cursor)
	require.Equal(t, uint64(110), window.Head)
	require.Len(t, window.Events, 2)

	require.Equal(t, vamm.KindMint, window.Events[0].Kind)
	require.Equal(t, 1.0, window.Events[0].Mint.LiquidityDelta)
	require.Equal(t, int32(100), window.Events[0].Mint.TickLower)
	require.Equal(t, int64(1050), window.Events[0].Meta.Timestamp)

	require.Equal(t, vamm.KindPriceChange, window.Events[1].Kind)
	require.Equal(t, int32(150), window.Events[1].PriceChange.Tick)
	require.False(t, window.Events[1].PriceChange.IsInitial)
}

func TestFetchWindowResumesFromCursor(t *testing.T) {
	pool := testPool()
	owner := common.HexToAddress("0x4444444444444444444444444444444444444444")
	amount := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	source := &fakeSource{
		head: 110,
		logs: []types.Log{
			mintLog(t, pool, owner, 100, 200, amount, 105, 0, 0),
			mintLog(t, pool, owner, 100, 200, amount, 109, 0, 0),
		},
	}

	cursors := checkpoint.NewMemoryStore()
	require.NoError(t, cursors.Set(context.Background(), "lp_sync", pool.ChainID, pool.VAMMAddress, 105))

	ingestor := newTestIngestor(t, Config{}, source, cursors)

	window, err := ingestor.FetchWindow(context.Background(), "lp_sync", pool, []vamm.Kind{vamm.KindMint})
	require.NoError(t, err)
	require.Equal(t, uint64(105), window.Cursor)
	require.Len(t, window.Events, 1)
	require.Equal(t, uint64(109), window.Events[0].Meta.BlockNumber)
}

func TestFetchWindowEmptyWhenAtHead(t *testing.T) {
	pool := testPool()

	cursors := checkpoint.NewMemoryStore()
	require.NoError(t, cursors.Set(context.Background(), "lp_sync", pool.ChainID, pool.VAMMAddress, 110))

	ingestor := newTestIngestor(t, Config{}, &fakeSource{head: 110}, cursors)

	window, err := ingestor.FetchWindow(context.Background(), "lp_sync", pool, []vamm.Kind{vamm.KindMint})
	require.NoError(t, err)
	require.Empty(t, window.Events)
	require.Equal(t, uint64(110), window.Cursor)
	require.Equal(t, uint64(110), window.Head)
}

func TestFetchWindowOrdersAcrossBatches(t *testing.T) {
	pool := testPool()
	owner := common.HexToAddress("0x4444444444444444444444444444444444444444")
	amount := big.NewInt(1)

	source := &fakeSource{
		head: 200,
		logs: []types.Log{
			mintLog(t, pool, owner, 100, 200, amount, 180, 2, 0),
			mintLog(t, pool, owner, 100, 200, amount, 180, 1, 0),
			mintLog(t, pool, owner, 100, 200, amount, 120, 5, 0),
		},
	}

	// Batch size 10 forces multiple filter queries over the window.
	ingestor := newTestIngestor(t, Config{BatchSize: 10}, source, checkpoint.NewMemoryStore())

	window, err := ingestor.FetchWindow(context.Background(), "lp_sync", pool, []vamm.Kind{vamm.KindMint})
	require.NoError(t, err)
	require.Len(t, window.Events, 3)
	require.Equal(t, uint64(120), window.Events[0].Meta.BlockNumber)
	require.Equal(t, uint(1), window.Events[1].Meta.TxIndex)
	require.Equal(t, uint(2), window.Events[2].Meta.TxIndex)
}

func TestFetchWindowRejectsOrderTie(t *testing.T) {
	pool := testPool()
	owner := common.HexToAddress("0x4444444444444444444444444444444444444444")

	source := &fakeSource{
		head: 200,
		logs: []types.Log{
			mintLog(t, pool, owner, 100, 200, big.NewInt(1), 120, 5, 0),
			mintLog(t, pool, owner, 300, 400, big.NewInt(1), 120, 5, 1),
		},
	}

	ingestor := newTestIngestor(t, Config{}, source, checkpoint.NewMemoryStore())

	_, err := ingestor.FetchWindow(context.Background(), "lp_sync", pool, []vamm.Kind{vamm.KindMint})
	require.ErrorIs(t, err, ErrOrderViolation)
}

func TestFetchWindowAppliesOwnerAllowList(t *testing.T) {
	pool := testPool()
	allowed := common.HexToAddress("0x4444444444444444444444444444444444444444")
	other := common.HexToAddress("0x5555555555555555555555555555555555555555")

	source := &fakeSource{
		head: 200,
		logs: []types.Log{
			mintLog(t, pool, allowed, 100, 200, big.NewInt(1), 120, 0, 0),
			mintLog(t, pool, other, 100, 200, big.NewInt(1), 130, 0, 0),
			priceChangeLog(t, pool, 150, 140, 0, 0),
		},
	}

	cfg := Config{AllowedOwners: []string{allowed.Hex()}}
	ingestor := newTestIngestor(t, cfg, source, checkpoint.NewMemoryStore())

	window, err := ingestor.FetchWindow(context.Background(), "lp_sync", pool, []vamm.Kind{vamm.KindMint, vamm.KindPriceChange})
	require.NoError(t, err)
	require.Len(t, window.Events, 2)
	require.Equal(t, vamm.KindMint, window.Events[0].Kind)
	require.Equal(t, vamm.KindPriceChange, window.Events[1].Kind)
}

func TestResolveStartTick(t *testing.T) {
	pool := testPool()

	source := &fakeSource{
		head: 200,
		logs: []types.Log{initializationLog(t, pool, -120, 100)},
	}

	ingestor := newTestIngestor(t, Config{}, source, checkpoint.NewMemoryStore())

	tick, found, err := ingestor.ResolveStartTick(context.Background(), pool)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int32(-120), tick)
}

func TestResolveStartTickUninitializedPool(t *testing.T) {
	pool := testPool()
	ingestor := newTestIngestor(t, Config{}, &fakeSource{head: 200}, checkpoint.NewMemoryStore())

	_, found, err := ingestor.ResolveStartTick(context.Background(), pool)
	require.NoError(t, err)
	require.False(t, found)
}
