package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"ratescope/internal/amm"
	"ratescope/internal/chain"
)

const rateOracleABIJSON = `[
  {
    "inputs": [
      {"internalType": "uint256", "name": "from", "type": "uint256"},
      {"internalType": "uint256", "name": "to", "type": "uint256"}
    ],
    "name": "getRateFromTo",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	rateOracleABI     abi.ABI
	rateOracleABIErr  error
	rateOracleABIOnce sync.Once
)

func rateOracleContractABI() (abi.ABI, error) {
	rateOracleABIOnce.Do(func() {
		rateOracleABI, rateOracleABIErr = abi.JSON(strings.NewReader(rateOracleABIJSON))
	})
	return rateOracleABI, rateOracleABIErr
}

// rayScale is the oracle's 1e27 fixed-point unit.
var rayScale = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil))

// ChainOracle reads rates from the AMM's rate-oracle contract.
type ChainOracle struct {
	chain *chain.Client
}

func NewChainOracle(chainClient *chain.Client) *ChainOracle {
	return &ChainOracle{chain: chainClient}
}

// LiquidityIndexAt derives the index at a timestamp as 1 plus the rate
// accrued since term start.
func (o *ChainOracle) LiquidityIndexAt(ctx context.Context, pool amm.AMM, timestamp int64) (float64, error) {
	rate, err := o.rateFromTo(ctx, pool, pool.StartTimestamp(), timestamp)
	if err != nil {
		return 0, err
	}
	return 1 + rate, nil
}

// VariableFactorBetween returns the rate accrued between two millisecond
// timestamps.
func (o *ChainOracle) VariableFactorBetween(ctx context.Context, pool amm.AMM, fromMS, toMS int64) (float64, error) {
	return o.rateFromTo(ctx, pool, fromMS/1000, toMS/1000)
}

func (o *ChainOracle) rateFromTo(ctx context.Context, pool amm.AMM, from, to int64) (float64, error) {
	if o.chain == nil {
		return 0, fmt.Errorf("chain client is nil")
	}
	if to < from {
		return 0, fmt.Errorf("rate window inverted: %d > %d", from, to)
	}
	if !common.IsHexAddress(pool.RateOracleAddress) {
		return 0, fmt.Errorf("invalid rate oracle address: %s", pool.RateOracleAddress)
	}

	oracleABI, err := rateOracleContractABI()
	if err != nil {
		return 0, fmt.Errorf("parse rate oracle abi: %w", err)
	}

	input, err := oracleABI.Pack("getRateFromTo", big.NewInt(from), big.NewInt(to))
	if err != nil {
		return 0, fmt.Errorf("pack getRateFromTo: %w", err)
	}

	target := common.HexToAddress(pool.RateOracleAddress)
	output, err := o.chain.CallContract(ctx, ethereum.CallMsg{To: &target, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("call getRateFromTo: %w", err)
	}

	values, err := oracleABI.Unpack("getRateFromTo", output)
	if err != nil {
		return 0, fmt.Errorf("unpack getRateFromTo: %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("unexpected getRateFromTo values: %d", len(values))
	}
	ray, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("expected *big.Int, got %T", values[0])
	}

	rate, _ := new(big.Float).Quo(new(big.Float).SetInt(ray), rayScale).Float64()
	return rate, nil
}
