package seller

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	appconfig "feeseller/config"
	"feeseller/internal/venue"
	"feeseller/models"
)

var (
	testAccumulator = common.HexToAddress("0x52312AD6f01657413b2eaE9287f6B9ADaD93D5FE")
	testOperator    = common.HexToAddress("0xde03a0B5963f75f1C8485B355fF6D30f3093BDE7")
	testToken       = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

type stubChain struct {
	mu            sync.Mutex
	tokenBalances map[common.Address]*big.Int
	etherBalance  *big.Int
	balanceErr    error
	transferErr   error
	waitBlocks    bool
	transfers     []*big.Int
	executes      int
}

func (s *stubChain) FeeAccount() common.Address { return testAccumulator }

func (s *stubChain) EtherBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if s.balanceErr != nil {
		return nil, s.balanceErr
	}
	return new(big.Int).Set(s.etherBalance), nil
}

func (s *stubChain) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	if s.balanceErr != nil {
		return nil, s.balanceErr
	}
	if b, ok := s.tokenBalances[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (s *stubChain) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return nil, nil
}

func (s *stubChain) Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferErr != nil {
		return common.Hash{}, s.transferErr
	}
	s.transfers = append(s.transfers, new(big.Int).Set(amount))
	return common.HexToHash("0x01"), nil
}

func (s *stubChain) Execute(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executes++
	return common.HexToHash("0x02"), nil
}

func (s *stubChain) WaitMined(ctx context.Context, hash common.Hash) error {
	if s.waitBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// blockingVenue never completes a sell; it models a wedged exchange call.
type blockingVenue struct{}

func (b *blockingVenue) Name() string { return "blocking" }

func (b *blockingVenue) Sell(ctx context.Context, order venue.Order) (*venue.Fill, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type stubPrices struct {
	price decimal.Decimal
	err   error
}

func (s *stubPrices) TokenPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.price, s.err
}

type stubVenue struct {
	mu     sync.Mutex
	orders []venue.Order
	fill   *venue.Fill
	err    error
}

func (s *stubVenue) Name() string { return "stub" }

func (s *stubVenue) Sell(ctx context.Context, order venue.Order) (*venue.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
	if s.err != nil {
		return nil, s.err
	}
	return s.fill, nil
}

type stubNotifier struct {
	mu       sync.Mutex
	outcomes []*models.CycleOutcome
	err      error
}

func (s *stubNotifier) Notify(ctx context.Context, outcome *models.CycleOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return s.err
}

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Worker: appconfig.WorkerConfig{
			PollInterval:     time.Second,
			CallTimeout:      time.Second,
			ConfirmationWait: time.Second,
		},
		Tokens: []appconfig.TokenConfig{{
			Symbol:        "DAI",
			Address:       testToken.Hex(),
			Decimals:      18,
			MinSellAmount: "100",
		}},
		Env: appconfig.EnvConfig{
			MaxFeePercent:     5,
			SlippagePercent:   1,
			Accumulator:       testAccumulator,
			Network:           "mainnet",
			TransferThreshold: eth(3),
			OperatorAddress:   testOperator,
			TransfersEnabled:  true,
		},
	}
}

// eth converts whole ETH (or whole 18-decimal tokens) into base units.
func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestPollOnceBelowThresholdIsNoOp(t *testing.T) {
	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{testToken: eth(50)}, // below 100 DAI
		etherBalance:  big.NewInt(0),
	}
	venueStub := &stubVenue{}
	notifierStub := &stubNotifier{}
	w := Seller_NewWorker(testConfig(), chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, venueStub, notifierStub, nil)

	outcome := w.RunCycle(context.Background())

	if !outcome.Skipped {
		t.Fatal("cycle should be skipped below the sell threshold")
	}
	if len(venueStub.orders) != 0 {
		t.Errorf("no sell should be attempted, got %d", len(venueStub.orders))
	}
	if len(chainStub.transfers) != 0 || chainStub.executes != 0 {
		t.Error("no chain-mutating calls expected for a skipped cycle")
	}
	if len(notifierStub.outcomes) != 0 {
		t.Errorf("skipped cycles must not notify, got %d notifications", len(notifierStub.outcomes))
	}
}

func TestMinOutputFormula(t *testing.T) {
	// 1000 tokens at 0.5 ETH with a 6% combined bound: 1000*0.5*0.94 = 470 ETH.
	got := MinOutput(eth(1000), 18, decimal.NewFromFloat(0.5), 0.94)
	if got.Cmp(eth(470)) != 0 {
		t.Errorf("MinOutput = %s, want %s", got, eth(470))
	}

	// Non-18-decimals input: 2500 USDC-like units at 0.001 ETH, bound 0.9.
	amount := big.NewInt(2500_000_000) // 2500 tokens with 6 decimals
	got = MinOutput(amount, 6, decimal.NewFromFloat(0.001), 0.9)
	want := decimal.NewFromFloat(2.25).Mul(decimal.New(1, 18)).BigInt()
	if got.Cmp(want) != 0 {
		t.Errorf("MinOutput = %s, want %s", got, want)
	}
}

func TestRunCycleLiquidatesAndTransfers(t *testing.T) {
	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{testToken: eth(1000)},
		etherBalance:  eth(5), // above the 3 ETH threshold
	}
	venueStub := &stubVenue{fill: &venue.Fill{Output: eth(480), TxHash: "0xab"}}
	notifierStub := &stubNotifier{}
	w := Seller_NewWorker(testConfig(), chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, venueStub, notifierStub, nil)

	outcome := w.RunCycle(context.Background())

	if outcome.Skipped {
		t.Fatal("cycle should not be skipped")
	}
	if len(outcome.Liquidations) != 1 {
		t.Fatalf("expected 1 liquidation, got %d", len(outcome.Liquidations))
	}
	liq := outcome.Liquidations[0]
	if liq.Status != models.AttemptSucceeded {
		t.Errorf("unexpected liquidation status: %s (%s)", liq.Status, liq.FailureReason)
	}
	if liq.MinOutput.Cmp(eth(470)) != 0 {
		t.Errorf("MinOutput = %s, want %s", liq.MinOutput, eth(470))
	}
	if len(venueStub.orders) != 1 || venueStub.orders[0].MinOutput.Cmp(eth(470)) != 0 {
		t.Error("venue did not receive the bounded order")
	}

	if outcome.Transfer == nil {
		t.Fatal("expected a transfer above the threshold")
	}
	if outcome.Transfer.Status != models.AttemptSucceeded {
		t.Errorf("unexpected transfer status: %s", outcome.Transfer.Status)
	}
	if len(chainStub.transfers) != 1 {
		t.Fatalf("exactly one transfer must be submitted, got %d", len(chainStub.transfers))
	}
	if outcome.Severity != models.SeverityInfo {
		t.Errorf("unexpected severity: %s", outcome.Severity)
	}
	if len(notifierStub.outcomes) != 1 {
		t.Errorf("expected 1 notification, got %d", len(notifierStub.outcomes))
	}
}

func TestInsufficientOutputSkipsTransfer(t *testing.T) {
	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{testToken: eth(1000)},
		etherBalance:  eth(5),
	}
	venueStub := &stubVenue{err: venue.ErrInsufficientOutput}
	notifierStub := &stubNotifier{}
	w := Seller_NewWorker(testConfig(), chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, venueStub, notifierStub, nil)

	outcome := w.RunCycle(context.Background())

	if len(outcome.Liquidations) != 1 || outcome.Liquidations[0].Status != models.AttemptSkipped {
		t.Fatalf("expected a skipped liquidation, got %+v", outcome.Liquidations)
	}
	if outcome.Transfer != nil {
		t.Error("no transfer attempt may follow a price-bounded sell")
	}
	if len(chainStub.transfers) != 0 {
		t.Errorf("no transfer must be submitted, got %d", len(chainStub.transfers))
	}
	if outcome.Severity != models.SeverityWarn {
		t.Errorf("unexpected severity: %s", outcome.Severity)
	}
}

func TestFailedLiquidationSkipsTransfer(t *testing.T) {
	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{testToken: eth(1000)},
		etherBalance:  eth(5),
	}
	venueStub := &stubVenue{err: errors.New("exchange unavailable")}
	w := Seller_NewWorker(testConfig(), chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, venueStub, &stubNotifier{}, nil)

	outcome := w.RunCycle(context.Background())

	if outcome.Liquidations[0].Status != models.AttemptFailed {
		t.Fatalf("expected a failed liquidation, got %s", outcome.Liquidations[0].Status)
	}
	if outcome.Transfer != nil || len(chainStub.transfers) != 0 {
		t.Error("no transfer may follow a failed liquidation")
	}
	if outcome.Severity != models.SeverityError {
		t.Errorf("unexpected severity: %s", outcome.Severity)
	}
	if !outcome.Failed() {
		t.Error("outcome should report failure")
	}
}

func TestTransferBelowThresholdSkipped(t *testing.T) {
	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{testToken: eth(1000)},
		etherBalance:  eth(2), // below the 3 ETH threshold
	}
	venueStub := &stubVenue{fill: &venue.Fill{Output: eth(480)}}
	w := Seller_NewWorker(testConfig(), chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, venueStub, &stubNotifier{}, nil)

	outcome := w.RunCycle(context.Background())

	if outcome.Transfer != nil {
		t.Error("transfer below the threshold must be skipped")
	}
	if len(chainStub.transfers) != 0 {
		t.Errorf("no transfer must be submitted, got %d", len(chainStub.transfers))
	}
}

func TestTransfersDisabledWithoutOperator(t *testing.T) {
	cfg := testConfig()
	cfg.Env.TransfersEnabled = false

	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{testToken: eth(1000)},
		etherBalance:  eth(100),
	}
	venueStub := &stubVenue{fill: &venue.Fill{Output: eth(480)}}
	w := Seller_NewWorker(cfg, chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, venueStub, &stubNotifier{}, nil)

	outcome := w.RunCycle(context.Background())

	if outcome.Transfer != nil || len(chainStub.transfers) != 0 {
		t.Error("transfers must stay disabled without an operator address")
	}
}

func TestNotifierFailureDoesNotFailCycle(t *testing.T) {
	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{testToken: eth(1000)},
		etherBalance:  big.NewInt(0),
	}
	venueStub := &stubVenue{fill: &venue.Fill{Output: eth(480)}}
	notifierStub := &stubNotifier{err: errors.New("webhook down")}
	w := Seller_NewWorker(testConfig(), chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, venueStub, notifierStub, nil)

	outcome := w.RunCycle(context.Background())

	if outcome.Liquidations[0].Status != models.AttemptSucceeded {
		t.Error("notification failure must not affect the liquidation result")
	}
	if outcome.Severity != models.SeverityInfo {
		t.Errorf("unexpected severity: %s", outcome.Severity)
	}
}

func TestPollErrorAbortsCycle(t *testing.T) {
	chainStub := &stubChain{balanceErr: errors.New("rpc unreachable")}
	venueStub := &stubVenue{}
	notifierStub := &stubNotifier{}
	w := Seller_NewWorker(testConfig(), chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, venueStub, notifierStub, nil)

	outcome := w.RunCycle(context.Background())

	if outcome.Error == "" || outcome.Severity != models.SeverityError {
		t.Fatalf("expected an errored outcome, got %+v", outcome)
	}
	if len(venueStub.orders) != 0 {
		t.Error("no sell may be attempted when the poll fails")
	}
	if len(notifierStub.outcomes) != 1 {
		t.Errorf("errored cycles must notify, got %d notifications", len(notifierStub.outcomes))
	}
}

func TestPriceFeedFailureFailsLiquidation(t *testing.T) {
	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{testToken: eth(1000)},
		etherBalance:  big.NewInt(0),
	}
	venueStub := &stubVenue{fill: &venue.Fill{Output: eth(480)}}
	w := Seller_NewWorker(testConfig(), chainStub, &stubPrices{err: errors.New("ticker unavailable")}, venueStub, &stubNotifier{}, nil)

	outcome := w.RunCycle(context.Background())

	if outcome.Liquidations[0].Status != models.AttemptFailed {
		t.Fatalf("expected a failed liquidation, got %s", outcome.Liquidations[0].Status)
	}
	if len(venueStub.orders) != 0 {
		t.Error("no sell may be attempted without a reference price")
	}
}

func TestLiquidateNeverSellsEther(t *testing.T) {
	venueStub := &stubVenue{fill: &venue.Fill{Output: eth(480)}}
	w := Seller_NewWorker(testConfig(), &stubChain{}, &stubPrices{price: decimal.NewFromFloat(0.5)}, venueStub, &stubNotifier{}, nil)

	attempt := w.liquidate(context.Background(), models.FeeBalance{
		Symbol:     "ETH",
		Amount:     eth(5),
		Decimals:   18,
		ObservedAt: time.Now().UTC(),
	})

	if attempt.Status != models.AttemptSkipped {
		t.Fatalf("expected a skipped attempt for native ETH, got %s", attempt.Status)
	}
	if len(venueStub.orders) != 0 {
		t.Errorf("native ETH must never reach the venue, got %d orders", len(venueStub.orders))
	}
}

func TestStalledSellFailsCycleWithinDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Worker.CallTimeout = 20 * time.Millisecond
	cfg.Worker.ConfirmationWait = 30 * time.Millisecond

	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{testToken: eth(1000)},
		etherBalance:  eth(5),
	}
	w := Seller_NewWorker(cfg, chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, &blockingVenue{}, &stubNotifier{}, nil)

	done := make(chan *models.CycleOutcome, 1)
	go func() { done <- w.RunCycle(context.Background()) }()

	select {
	case outcome := <-done:
		if outcome.Liquidations[0].Status != models.AttemptFailed {
			t.Fatalf("expected a failed liquidation, got %s", outcome.Liquidations[0].Status)
		}
		if len(chainStub.transfers) != 0 {
			t.Error("no transfer may follow a stalled sell")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("a stalled sell must fail the cycle, not block the loop")
	}
}

func TestStalledConfirmationFailsTransferWithinDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Worker.CallTimeout = 20 * time.Millisecond
	cfg.Worker.ConfirmationWait = 30 * time.Millisecond

	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{testToken: eth(1000)},
		etherBalance:  eth(5),
		waitBlocks:    true,
	}
	venueStub := &stubVenue{fill: &venue.Fill{Output: eth(480)}}
	w := Seller_NewWorker(cfg, chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, venueStub, &stubNotifier{}, nil)

	done := make(chan *models.CycleOutcome, 1)
	go func() { done <- w.RunCycle(context.Background()) }()

	select {
	case outcome := <-done:
		if outcome.Transfer == nil || outcome.Transfer.Status != models.AttemptFailed {
			t.Fatalf("expected a failed transfer, got %+v", outcome.Transfer)
		}
		if outcome.Severity != models.SeverityError {
			t.Errorf("unexpected severity: %s", outcome.Severity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("a stalled confirmation must fail the cycle, not block the loop")
	}
}

func TestStartStop(t *testing.T) {
	chainStub := &stubChain{
		tokenBalances: map[common.Address]*big.Int{},
		etherBalance:  big.NewInt(0),
	}
	w := Seller_NewWorker(testConfig(), chainStub, &stubPrices{price: decimal.NewFromFloat(0.5)}, &stubVenue{}, &stubNotifier{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Seller_Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := w.Seller_Start(ctx); err == nil {
		t.Error("second start must fail while running")
	}
	cancel()
	w.Seller_Stop()
}
