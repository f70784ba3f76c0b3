package amm

import (
	"fmt"
	"strings"
)

// AMM describes one deployed interest-rate pool instance. Descriptors are
// static configuration; the sync engine never mutates them.
type AMM struct {
	ChainID              uint64 `mapstructure:"chain_id" json:"chain_id"`
	VAMMAddress          string `mapstructure:"vamm_address" json:"vamm_address"`
	MarginEngineAddress  string `mapstructure:"margin_engine_address" json:"margin_engine_address"`
	RateOracleAddress    string `mapstructure:"rate_oracle_address" json:"rate_oracle_address"`
	RateOracleIndex      int    `mapstructure:"rate_oracle_index" json:"rate_oracle_index"`
	UnderlyingToken      string `mapstructure:"underlying_token" json:"underlying_token"`
	TokenDecimals        int    `mapstructure:"token_decimals" json:"token_decimals"`
	TermStartTimestampMS int64  `mapstructure:"term_start_timestamp_ms" json:"term_start_timestamp_ms"`
	TermEndTimestampMS   int64  `mapstructure:"term_end_timestamp_ms" json:"term_end_timestamp_ms"`
	GenesisBlock         uint64 `mapstructure:"genesis_block" json:"genesis_block"`
}

// ID uniquely identifies the pool across chains.
func (a AMM) ID() string {
	return fmt.Sprintf("%d:%s", a.ChainID, strings.ToLower(a.VAMMAddress))
}

// MaturityTimestamp is the term end in unix seconds.
func (a AMM) MaturityTimestamp() int64 {
	return a.TermEndTimestampMS / 1000
}

// StartTimestamp is the term start in unix seconds.
func (a AMM) StartTimestamp() int64 {
	return a.TermStartTimestampMS / 1000
}

// Validate checks the fields the sync engine depends on.
func (a AMM) Validate() error {
	if a.ChainID == 0 {
		return fmt.Errorf("amm %s: chain id is required", a.VAMMAddress)
	}
	if a.VAMMAddress == "" {
		return fmt.Errorf("vamm address is required")
	}
	if a.TokenDecimals <= 0 {
		return fmt.Errorf("amm %s: token decimals must be positive", a.VAMMAddress)
	}
	if a.TermEndTimestampMS <= a.TermStartTimestampMS {
		return fmt.Errorf("amm %s: term end must be after term start", a.VAMMAddress)
	}
	return nil
}
