package seller

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appconfig "feeseller/config"
	"feeseller/internal/chain"
	auditchannel "feeseller/internal/channel/audit"
	"feeseller/internal/pricefeed"
	"feeseller/internal/venue"
	"feeseller/logger"
	"feeseller/models"
)

// etherGasReserve is left on the accumulator when sweeping settled ETH so the
// transfer transaction itself can always be paid for.
var etherGasReserve = big.NewInt(2_000_000_000_000_000) // 0.002 ETH

// Notifier delivers cycle outcomes. Delivery is best effort: a returned error
// is logged and never fails the cycle.
type Notifier interface {
	Notify(ctx context.Context, outcome *models.CycleOutcome) error
}

// Seller_Worker runs the polling loop: balance check, conditional
// liquidation, conditional transfer, notification. Exactly one cycle is in
// flight at a time; a failed cycle is retried on the next interval.
type Seller_Worker struct {
	config   *appconfig.Config
	chain    chain.Client
	prices   pricefeed.Source
	venue    venue.Venue
	notifier Notifier
	audit    *auditchannel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// Seller_NewWorker wires the worker to its collaborators. The audit channel
// and notifier may be nil when the corresponding surfaces are disabled.
func Seller_NewWorker(cfg *appconfig.Config, chainClient chain.Client, prices pricefeed.Source, v venue.Venue, n Notifier, audit *auditchannel.Channels) *Seller_Worker {
	return &Seller_Worker{
		config:   cfg,
		chain:    chainClient,
		prices:   prices,
		venue:    v,
		notifier: n,
		audit:    audit,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Seller_Start begins the polling loop.
func (w *Seller_Worker) Seller_Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("seller worker already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()

	w.log.WithComponent("seller_worker").WithFields(logger.Fields{
		"poll_interval": w.config.Worker.PollInterval.String(),
		"venue":         w.venue.Name(),
		"accumulator":   w.config.Env.Accumulator.Hex(),
	}).Info("seller worker started")
	return nil
}

// Seller_Stop waits for the in-flight cycle to finish.
func (w *Seller_Worker) Seller_Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.WithComponent("seller_worker").Info("stopping seller worker")
	w.wg.Wait()
	w.log.WithComponent("seller_worker").Info("seller worker stopped")
}

func (w *Seller_Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Worker.PollInterval)
	defer ticker.Stop()

	for {
		w.RunCycle(w.ctx)

		select {
		case <-ticker.C:
		case <-w.ctx.Done():
			return
		}
	}
}

// RunCycle executes one full cycle: poll balances, liquidate everything above
// the per-token sell threshold, sweep settled ETH above the transfer
// threshold, then notify. Errors never escape a cycle; they are reported in
// the outcome and retried on the next interval.
func (w *Seller_Worker) RunCycle(ctx context.Context) *models.CycleOutcome {
	outcome := &models.CycleOutcome{
		CycleID:     uuid.New().String(),
		Network:     w.config.Env.Network,
		Accumulator: w.config.Env.Accumulator.Hex(),
		Severity:    models.SeverityInfo,
		StartedAt:   time.Now().UTC(),
	}

	log := w.log.WithComponent("seller_worker").WithFields(logger.Fields{
		"cycle_id": outcome.CycleID,
	})

	balances, err := w.PollOnce(ctx)
	if err != nil {
		outcome.Error = err.Error()
		outcome.Severity = models.SeverityError
		outcome.FinishedAt = time.Now().UTC()
		log.WithError(err).Error("balance poll failed, cycle aborted")
		logger.IncrementCycle(false)
		w.notify(ctx, outcome)
		return outcome
	}

	succeeded := 0
	for _, balance := range balances {
		attempt := w.liquidate(ctx, balance)
		outcome.Liquidations = append(outcome.Liquidations, attempt)
		w.recordAudit(ctx, models.AuditFromLiquidation(outcome.CycleID, outcome.Network, attempt))

		switch attempt.Status {
		case models.AttemptSucceeded:
			succeeded++
		case models.AttemptFailed:
			outcome.Severity = models.SeverityError
		case models.AttemptSkipped:
			if outcome.Severity == models.SeverityInfo {
				outcome.Severity = models.SeverityWarn
			}
		}
	}

	// Settled ETH is swept only after a fully successful liquidation pass.
	// A failed or price-bounded sell leaves the settled amount uncertain;
	// the next cycle retries with fresh balances.
	if len(outcome.Liquidations) > 0 && succeeded == len(outcome.Liquidations) {
		if transfer := w.transferSettled(ctx); transfer != nil {
			outcome.Transfer = transfer
			w.recordAudit(ctx, models.AuditFromTransfer(outcome.CycleID, outcome.Network, transfer))
			if transfer.Status == models.AttemptFailed {
				outcome.Severity = models.SeverityError
			}
		}
	}

	outcome.Skipped = len(outcome.Liquidations) == 0 && outcome.Transfer == nil && outcome.Error == ""
	outcome.FinishedAt = time.Now().UTC()
	logger.IncrementCycle(outcome.Skipped)

	if outcome.Skipped {
		log.Debug("nothing above thresholds, cycle skipped")
		return outcome
	}

	finished := log.WithFields(logger.Fields{
		"liquidations": len(outcome.Liquidations),
		"transferred":  outcome.Transfer != nil,
		"severity":     outcome.Severity,
	})
	if outcome.Failed() {
		finished.Error("cycle finished with failures")
	} else {
		finished.Info("cycle finished")
	}

	w.notify(ctx, outcome)
	return outcome
}

// PollOnce reads the accumulator's token balances and returns those at or
// above their sell threshold. It performs no chain-mutating calls.
func (w *Seller_Worker) PollOnce(ctx context.Context) ([]models.FeeBalance, error) {
	var ready []models.FeeBalance

	for _, token := range w.config.Tokens {
		minSell, err := token.MinSellBase()
		if err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, w.config.Worker.CallTimeout)
		amount, err := w.chain.TokenBalance(callCtx, common.HexToAddress(token.Address), w.config.Env.Accumulator)
		cancel()
		if err != nil {
			return nil, err
		}

		if amount.Sign() <= 0 || amount.Cmp(minSell) < 0 {
			continue
		}
		ready = append(ready, models.FeeBalance{
			Symbol:       token.Symbol,
			TokenAddress: token.Address,
			Amount:       amount,
			Decimals:     token.Decimals,
			ObservedAt:   time.Now().UTC(),
		})
	}
	return ready, nil
}

// liquidate sells one fee balance for ETH. The minimum acceptable output is
// the reference-price proceeds scaled by the configured fee and slippage
// bounds.
func (w *Seller_Worker) liquidate(ctx context.Context, balance models.FeeBalance) *models.LiquidationAttempt {
	attempt := models.NewLiquidationAttempt(balance, w.venue.Name())
	log := w.log.WithComponent("seller_worker").WithFields(logger.Fields{
		"attempt_id": attempt.ID,
		"symbol":     balance.Symbol,
		"amount":     balance.Amount.String(),
	})

	// Native ETH is the settlement asset; it is swept, never sold.
	if balance.IsEther() {
		attempt.Finish(models.AttemptSkipped, "ether is the settlement asset")
		log.Warn("liquidation skipped, ether is not sellable")
		return attempt
	}

	priceCtx, cancel := context.WithTimeout(ctx, w.config.Worker.CallTimeout)
	price, err := w.prices.TokenPrice(priceCtx, balance.Symbol)
	cancel()
	if err != nil {
		attempt.Finish(models.AttemptFailed, fmt.Sprintf("reference price unavailable: %v", err))
		log.WithError(err).Error("liquidation failed")
		return attempt
	}

	attempt.ReferencePrice, _ = price.Float64()
	attempt.MinOutput = MinOutput(balance.Amount, balance.Decimals, price, w.config.Env.SellBound())

	// An on-chain sell submits a transaction and waits for it to land, so the
	// bound is the call timeout plus the confirmation wait. A wedged exchange
	// or node fails the attempt; the next cycle retries with fresh balances.
	sellCtx, cancelSell := context.WithTimeout(ctx, w.settleTimeout())
	defer cancelSell()
	fill, err := w.venue.Sell(sellCtx, venue.Order{
		Symbol:       balance.Symbol,
		TokenAddress: common.HexToAddress(balance.TokenAddress),
		Decimals:     balance.Decimals,
		AmountIn:     balance.Amount,
		MinOutput:    attempt.MinOutput,
	})
	switch {
	case errors.Is(err, venue.ErrInsufficientOutput):
		attempt.Finish(models.AttemptSkipped, err.Error())
		log.WithError(err).Warn("liquidation skipped, output below bound")
	case err != nil:
		attempt.Finish(models.AttemptFailed, err.Error())
		log.WithError(err).Error("liquidation failed")
	default:
		attempt.Output = fill.Output
		attempt.TxHash = fill.TxHash
		attempt.OrderID = fill.OrderID
		attempt.Finish(models.AttemptSucceeded, "")
		logger.IncrementLiquidation()
		log.WithFields(logger.Fields{
			"output":  fill.Output.String(),
			"tx_hash": fill.TxHash,
		}).Info("liquidation succeeded")
	}
	return attempt
}

// transferSettled sweeps the accumulator's ETH to the operator account when
// it exceeds the transfer threshold. Returns nil when transfers are disabled
// or the balance is below the threshold.
func (w *Seller_Worker) transferSettled(ctx context.Context) *models.TransferAttempt {
	if !w.config.Env.TransfersEnabled {
		return nil
	}

	log := w.log.WithComponent("seller_worker").WithFields(logger.Fields{
		"operation": "transfer",
	})

	callCtx, cancel := context.WithTimeout(ctx, w.config.Worker.CallTimeout)
	settled, err := w.chain.EtherBalance(callCtx, w.config.Env.Accumulator)
	cancel()
	if err != nil {
		attempt := models.NewTransferAttempt(big.NewInt(0), w.config.Env.OperatorAddress.Hex())
		attempt.Finish(models.AttemptFailed, err.Error())
		log.WithError(err).Error("settled balance read failed")
		return attempt
	}

	if settled.Cmp(w.config.Env.TransferThreshold) <= 0 {
		return nil
	}

	amount := new(big.Int).Sub(settled, etherGasReserve)
	if amount.Sign() <= 0 {
		return nil
	}

	attempt := models.NewTransferAttempt(amount, w.config.Env.OperatorAddress.Hex())
	sendCtx, cancel := context.WithTimeout(ctx, w.config.Worker.CallTimeout)
	hash, err := w.chain.Transfer(sendCtx, w.config.Env.OperatorAddress, amount)
	cancel()
	if err != nil {
		attempt.Finish(models.AttemptFailed, err.Error())
		log.WithError(err).Error("transfer submission failed")
		return attempt
	}
	attempt.TxHash = hash.Hex()

	waitCtx, cancelWait := context.WithTimeout(ctx, w.settleTimeout())
	defer cancelWait()
	if err := w.chain.WaitMined(waitCtx, hash); err != nil {
		attempt.Finish(models.AttemptFailed, err.Error())
		log.WithError(err).WithFields(logger.Fields{"tx_hash": hash.Hex()}).Error("transfer confirmation failed")
		return attempt
	}

	attempt.Finish(models.AttemptSucceeded, "")
	logger.IncrementTransfer()
	log.WithFields(logger.Fields{
		"amount":  amount.String(),
		"tx_hash": hash.Hex(),
	}).Info("settled ETH transferred")
	return attempt
}

// settleTimeout bounds operations that submit a transaction and wait for it
// to land: the call timeout covers the submission, the confirmation wait
// covers mining.
func (w *Seller_Worker) settleTimeout() time.Duration {
	return w.config.Worker.CallTimeout + w.config.Worker.ConfirmationWait
}

func (w *Seller_Worker) notify(ctx context.Context, outcome *models.CycleOutcome) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, outcome); err != nil {
		w.log.WithComponent("seller_worker").WithFields(logger.Fields{
			"cycle_id": outcome.CycleID,
		}).WithError(err).Warn("outcome notification failed")
	}
}

func (w *Seller_Worker) recordAudit(ctx context.Context, record models.AuditRecord) {
	if w.audit == nil {
		return
	}
	w.audit.Send(ctx, record)
}

// MinOutput computes the smallest acceptable ETH proceeds in wei for selling
// amount base units at the given reference price (ETH per whole token),
// scaled down by the sell bound.
func MinOutput(amount *big.Int, decimals int, price decimal.Decimal, sellBound float64) *big.Int {
	proceeds := decimal.NewFromBigInt(amount, 0).
		Div(decimal.New(1, int32(decimals))).
		Mul(price).
		Mul(decimal.NewFromFloat(sellBound))
	return proceeds.Mul(decimal.New(1, 18)).BigInt()
}
