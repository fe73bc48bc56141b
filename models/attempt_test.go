package models

import (
	"math/big"
	"testing"
	"time"
)

func TestNewLiquidationAttemptCopiesAmount(t *testing.T) {
	balance := FeeBalance{
		Symbol:       "DAI",
		TokenAddress: "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		Amount:       big.NewInt(1000),
		Decimals:     18,
		ObservedAt:   time.Now(),
	}
	a := NewLiquidationAttempt(balance, "uniswap")

	if a.ID == "" {
		t.Error("attempt must get an ID")
	}
	if a.Venue != "uniswap" || a.Symbol != "DAI" {
		t.Errorf("unexpected attempt: %+v", a)
	}

	// Mutating the source balance must not affect the attempt.
	balance.Amount.SetInt64(0)
	if a.AmountIn.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("amount was not copied: %s", a.AmountIn)
	}
}

func TestFinishSetsTerminalState(t *testing.T) {
	a := NewLiquidationAttempt(FeeBalance{Symbol: "DAI", Amount: big.NewInt(1)}, "binance")
	a.Finish(AttemptFailed, "exchange unavailable")

	if a.Status != AttemptFailed || a.FailureReason != "exchange unavailable" {
		t.Errorf("unexpected terminal state: %+v", a)
	}
	if a.FinishedAt.IsZero() {
		t.Error("FinishedAt must be set")
	}
}

func TestIsEther(t *testing.T) {
	if !(FeeBalance{Amount: big.NewInt(1)}).IsEther() {
		t.Error("empty token address must be ether")
	}
	if (FeeBalance{TokenAddress: "0x01", Amount: big.NewInt(1)}).IsEther() {
		t.Error("token balance misreported as ether")
	}
}

func TestCycleOutcomeFailed(t *testing.T) {
	outcome := &CycleOutcome{}
	if outcome.Failed() {
		t.Error("empty outcome must not be failed")
	}

	outcome.Liquidations = append(outcome.Liquidations, &LiquidationAttempt{Status: AttemptSkipped})
	if outcome.Failed() {
		t.Error("skipped attempts are not failures")
	}

	outcome.Liquidations = append(outcome.Liquidations, &LiquidationAttempt{Status: AttemptFailed})
	if !outcome.Failed() {
		t.Error("failed liquidation must fail the outcome")
	}

	outcome = &CycleOutcome{Transfer: &TransferAttempt{Status: AttemptFailed}}
	if !outcome.Failed() {
		t.Error("failed transfer must fail the outcome")
	}

	outcome = &CycleOutcome{Error: "rpc unreachable"}
	if !outcome.Failed() {
		t.Error("cycle error must fail the outcome")
	}
}
