package models

import (
	"math/big"
	"time"
)

// FeeBalance is a snapshot of one asset held by the fee accumulator at the
// start of a cycle. Amounts are in the asset's base units (wei for ETH).
type FeeBalance struct {
	Symbol       string    `json:"symbol"`
	TokenAddress string    `json:"token_address"` // empty for ETH
	Amount       *big.Int  `json:"amount"`
	Decimals     int       `json:"decimals"`
	ObservedAt   time.Time `json:"observed_at"`
}

// IsEther reports whether the balance is the accumulator's native ETH balance.
func (b FeeBalance) IsEther() bool {
	return b.TokenAddress == ""
}
