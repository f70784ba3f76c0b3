package vamm

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"ratescope/internal/amm"
)

// Decoder converts raw vAMM logs into tagged events.
type Decoder struct {
	vammABI     abi.ABI
	topicToName map[common.Hash]string
}

// NewDecoder builds a vAMM event decoder.
func NewDecoder() (*Decoder, error) {
	vammABI, err := ABI()
	if err != nil {
		return nil, err
	}

	topicToName := map[common.Hash]string{
		vammABI.Events["Mint"].ID:               "Mint",
		vammABI.Events["Burn"].ID:               "Burn",
		vammABI.Events["Swap"].ID:               "Swap",
		vammABI.Events["VAMMPriceChange"].ID:    "VAMMPriceChange",
		vammABI.Events["VAMMInitialization"].ID: "VAMMInitialization",
	}

	return &Decoder{vammABI: vammABI, topicToName: topicToName}, nil
}

// TopicsFor returns the topic0 hashes matching the requested kinds, for use
// in a log filter. KindPriceChange covers both the initialization and the
// running price-change signatures.
func (d *Decoder) TopicsFor(kinds []Kind) []common.Hash {
	topics := make([]common.Hash, 0, len(kinds)+1)
	for _, kind := range kinds {
		switch kind {
		case KindMint:
			topics = append(topics, d.vammABI.Events["Mint"].ID)
		case KindBurn:
			topics = append(topics, d.vammABI.Events["Burn"].ID)
		case KindSwap:
			topics = append(topics, d.vammABI.Events["Swap"].ID)
		case KindPriceChange:
			topics = append(topics, d.vammABI.Events["VAMMPriceChange"].ID, d.vammABI.Events["VAMMInitialization"].ID)
		}
	}
	return topics
}

// InitializationTopic returns the topic0 of the pool genesis event.
func (d *Decoder) InitializationTopic() common.Hash {
	return d.vammABI.Events["VAMMInitialization"].ID
}

// PriceChangeTopic returns the topic0 of the running price-change event.
func (d *Decoder) PriceChangeTopic() common.Hash {
	return d.vammABI.Events["VAMMPriceChange"].ID
}

// CanDecode reports whether topic0 belongs to a known vAMM event.
func (d *Decoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToName[topic0]
	return ok
}

// Decode converts one log into a tagged Event. Token amounts are descaled by
// the AMM's underlying token decimals.
func (d *Decoder) Decode(pool amm.AMM, log types.Log, timestamp int64) (Event, error) {
	if len(log.Topics) == 0 {
		return Event{}, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[log.Topics[0]]
	if !ok {
		return Event{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	meta := LogMeta{
		BlockNumber: log.BlockNumber,
		TxIndex:     log.TxIndex,
		LogIndex:    log.Index,
		TxHash:      log.TxHash.Hex(),
		Timestamp:   timestamp,
	}

	switch name {
	case "Mint":
		payload, err := d.decodeLiquidityChange(pool, log, "Mint")
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: KindMint, Meta: meta, Mint: payload}, nil
	case "Burn":
		payload, err := d.decodeLiquidityChange(pool, log, "Burn")
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: KindBurn, Meta: meta, Burn: (*BurnEvent)(payload)}, nil
	case "Swap":
		payload, err := d.decodeSwap(pool, log, meta)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: KindSwap, Meta: meta, Swap: payload}, nil
	case "VAMMPriceChange":
		payload, err := d.decodePriceChange(pool, log, meta, false)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: KindPriceChange, Meta: meta, PriceChange: payload}, nil
	case "VAMMInitialization":
		payload, err := d.decodePriceChange(pool, log, meta, true)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: KindPriceChange, Meta: meta, PriceChange: payload}, nil
	default:
		return Event{}, fmt.Errorf("unsupported event name: %s", name)
	}
}

func (d *Decoder) decodeLiquidityChange(pool amm.AMM, log types.Log, name string) (*MintEvent, error) {
	event := d.vammABI.Events[name]
	if len(log.Topics) != 4 {
		return nil, fmt.Errorf("%s: expected 4 topics, got %d", name, len(log.Topics))
	}

	var indexed struct {
		Owner     common.Address
		TickLower *big.Int
		TickUpper *big.Int
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%s: parse topics: %w", name, err)
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack data: %w", name, err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("%s: unexpected values: %d", name, len(values))
	}

	amount, err := asBigInt(values[1])
	if err != nil {
		return nil, fmt.Errorf("%s amount: %w", name, err)
	}

	tickLower, err := int24FromBig(indexed.TickLower)
	if err != nil {
		return nil, fmt.Errorf("%s tickLower: %w", name, err)
	}
	tickUpper, err := int24FromBig(indexed.TickUpper)
	if err != nil {
		return nil, fmt.Errorf("%s tickUpper: %w", name, err)
	}

	return &MintEvent{
		ChainID:        pool.ChainID,
		VAMMAddress:    strings.ToLower(log.Address.Hex()),
		OwnerAddress:   strings.ToLower(indexed.Owner.Hex()),
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		LiquidityDelta: Descale(amount, pool.TokenDecimals),
	}, nil
}

func (d *Decoder) decodeSwap(pool amm.AMM, log types.Log, meta LogMeta) (*SwapEvent, error) {
	event := d.vammABI.Events["Swap"]
	if len(log.Topics) != 4 {
		return nil, fmt.Errorf("swap: expected 4 topics, got %d", len(log.Topics))
	}

	var indexed struct {
		Recipient common.Address
		TickLower *big.Int
		TickUpper *big.Int
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("swap: parse topics: %w", err)
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("swap: unpack data: %w", err)
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("swap: unexpected values: %d", len(values))
	}

	variableTokenDelta, err := asBigInt(values[2])
	if err != nil {
		return nil, fmt.Errorf("swap variableTokenDelta: %w", err)
	}
	fixedTokenDeltaUnbalanced, err := asBigInt(values[3])
	if err != nil {
		return nil, fmt.Errorf("swap fixedTokenDeltaUnbalanced: %w", err)
	}
	feeIncurred, err := asBigInt(values[4])
	if err != nil {
		return nil, fmt.Errorf("swap cumulativeFeeIncurred: %w", err)
	}

	tickLower, err := int24FromBig(indexed.TickLower)
	if err != nil {
		return nil, fmt.Errorf("swap tickLower: %w", err)
	}
	tickUpper, err := int24FromBig(indexed.TickUpper)
	if err != nil {
		return nil, fmt.Errorf("swap tickUpper: %w", err)
	}

	return &SwapEvent{
		EventID:                   fmt.Sprintf("%s_%d", strings.ToLower(meta.TxHash), meta.LogIndex),
		ChainID:                   pool.ChainID,
		VAMMAddress:               strings.ToLower(log.Address.Hex()),
		OwnerAddress:              strings.ToLower(indexed.Recipient.Hex()),
		TickLower:                 tickLower,
		TickUpper:                 tickUpper,
		VariableTokenDelta:        Descale(variableTokenDelta, pool.TokenDecimals),
		FixedTokenDeltaUnbalanced: Descale(fixedTokenDeltaUnbalanced, pool.TokenDecimals),
		FeePaidToLps:              Descale(feeIncurred, pool.TokenDecimals),
		BlockNumber:               meta.BlockNumber,
		Timestamp:                 meta.Timestamp,
	}, nil
}

func (d *Decoder) decodePriceChange(pool amm.AMM, log types.Log, meta LogMeta, isInitial bool) (*PriceChangeEvent, error) {
	name := "VAMMPriceChange"
	if isInitial {
		name = "VAMMInitialization"
	}
	event := d.vammABI.Events[name]

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack data: %w", name, err)
	}

	tickValue := values[0]
	if isInitial {
		if len(values) != 2 {
			return nil, fmt.Errorf("%s: unexpected values: %d", name, len(values))
		}
		tickValue = values[1]
	}

	tickInt, err := asBigInt(tickValue)
	if err != nil {
		return nil, fmt.Errorf("%s tick: %w", name, err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return nil, fmt.Errorf("%s tick: %w", name, err)
	}

	return &PriceChangeEvent{
		ChainID:     pool.ChainID,
		VAMMAddress: strings.ToLower(log.Address.Hex()),
		Tick:        tick,
		IsInitial:   isInitial,
		BlockNumber: meta.BlockNumber,
		Timestamp:   meta.Timestamp,
	}, nil
}

// Descale converts a raw token amount into a float in whole-token units.
func Descale(raw *big.Int, decimals int) float64 {
	scale := new(big.Float).SetFloat64(math.Pow10(decimals))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
	return out
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func asBigInt(value interface{}) (*big.Int, error) {
	out, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", value)
	}
	return out, nil
}

func int24FromBig(value *big.Int) (int32, error) {
	if value == nil {
		return 0, fmt.Errorf("nil tick")
	}
	if !value.IsInt64() {
		return 0, fmt.Errorf("tick does not fit int64: %s", value)
	}
	v := value.Int64()
	if v < -8388608 || v > 8388607 {
		return 0, fmt.Errorf("tick out of int24 range: %d", v)
	}
	return int32(v), nil
}
