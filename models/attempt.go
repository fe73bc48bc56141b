package models

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus is the terminal state of a liquidation or transfer attempt.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptSkipped   AttemptStatus = "skipped"
)

// LiquidationAttempt records one sell of an accumulated fee asset for ETH.
// MinOutput is the smallest acceptable amount of ETH (in wei) derived from
// the reference price, the maximum liquidation fee and the slippage bound.
type LiquidationAttempt struct {
	ID             string        `json:"id"`
	Symbol         string        `json:"symbol"`
	TokenAddress   string        `json:"token_address"`
	Venue          string        `json:"venue"`
	AmountIn       *big.Int      `json:"amount_in"`
	ReferencePrice float64       `json:"reference_price"`
	MinOutput      *big.Int      `json:"min_output"`
	Output         *big.Int      `json:"output,omitempty"`
	TxHash         string        `json:"tx_hash,omitempty"`
	OrderID        string        `json:"order_id,omitempty"`
	Status         AttemptStatus `json:"status"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

// NewLiquidationAttempt initialises an attempt for the given balance.
func NewLiquidationAttempt(balance FeeBalance, venue string) *LiquidationAttempt {
	return &LiquidationAttempt{
		ID:           uuid.New().String(),
		Symbol:       balance.Symbol,
		TokenAddress: balance.TokenAddress,
		Venue:        venue,
		AmountIn:     new(big.Int).Set(balance.Amount),
		StartedAt:    time.Now().UTC(),
	}
}

// Finish marks the attempt terminal with the given status.
func (a *LiquidationAttempt) Finish(status AttemptStatus, reason string) {
	a.Status = status
	a.FailureReason = reason
	a.FinishedAt = time.Now().UTC()
}

// TransferAttempt records one movement of settled ETH to the operator account.
type TransferAttempt struct {
	ID            string        `json:"id"`
	Amount        *big.Int      `json:"amount"`
	Destination   string        `json:"destination"`
	TxHash        string        `json:"tx_hash,omitempty"`
	Status        AttemptStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// NewTransferAttempt initialises a transfer attempt of amount wei.
func NewTransferAttempt(amount *big.Int, destination string) *TransferAttempt {
	return &TransferAttempt{
		ID:          uuid.New().String(),
		Amount:      new(big.Int).Set(amount),
		Destination: destination,
		StartedAt:   time.Now().UTC(),
	}
}

// Finish marks the attempt terminal with the given status.
func (t *TransferAttempt) Finish(status AttemptStatus, reason string) {
	t.Status = status
	t.FailureReason = reason
	t.FinishedAt = time.Now().UTC()
}
