package binance

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	appconfig "feeseller/config"
	"feeseller/internal/venue"
	"feeseller/logger"
)

// Binance_Venue liquidates fee tokens with spot market sells against the
// token/ETH pair.
type Binance_Venue struct {
	client  *binance.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// Binance_NewVenue creates the venue from the tuning configuration. API key
// and secret must belong to the account holding the fee tokens.
func Binance_NewVenue(cfg *appconfig.Config) *Binance_Venue {
	log := logger.GetLogger()

	client := binance.NewClient(cfg.Venue.Binance.APIKey, cfg.Venue.Binance.APISecret)
	if cfg.Venue.Binance.URL != "" {
		if parsed, err := url.Parse(cfg.Venue.Binance.URL); err == nil && parsed.Host != "" {
			client.BaseURL = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		}
	}

	rl := cfg.Venue.RateLimit
	rps := rl.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := rl.BurstSize
	if burst <= 0 {
		burst = 1
	}

	log.WithComponent("binance_venue").Info("binance venue initialized")

	return &Binance_Venue{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}
}

func (v *Binance_Venue) Name() string { return "binance" }

// Sell places a market sell order for the full token amount and verifies the
// executed quote proceeds against the order's minimum acceptable output.
func (v *Binance_Venue) Sell(ctx context.Context, order venue.Order) (*venue.Fill, error) {
	log := v.log.WithComponent("binance_venue").WithFields(logger.Fields{
		"symbol":    order.Symbol,
		"operation": "sell",
	})

	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	pair := strings.ToUpper(order.Symbol) + "ETH"
	quantity := baseToWhole(order.AmountIn, order.Decimals)

	start := time.Now()
	resp, err := v.client.NewCreateOrderService().
		Symbol(pair).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(quantity.String()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place market sell %s: %w", pair, err)
	}
	logger.LogPerformanceEntry(log, "binance_venue", "create_order", time.Since(start), logger.Fields{
		"pair": pair,
	})

	proceeds, err := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	if err != nil {
		return nil, fmt.Errorf("invalid quote quantity %q: %w", resp.CummulativeQuoteQuantity, err)
	}
	outputWei := wholeToWei(proceeds)

	log.WithFields(logger.Fields{
		"order_id":   resp.OrderID,
		"executed":   resp.ExecutedQuantity,
		"proceeds":   proceeds.String(),
		"min_output": order.MinOutput.String(),
	}).Info("market sell executed")

	if outputWei.Cmp(order.MinOutput) < 0 {
		return nil, fmt.Errorf("%s sell of %s: %w", pair, quantity, venue.ErrInsufficientOutput)
	}

	return &venue.Fill{
		Output:  outputWei,
		OrderID: fmt.Sprintf("%d", resp.OrderID),
	}, nil
}

// baseToWhole converts base units into whole tokens for the order quantity.
func baseToWhole(amount *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, 0).Div(decimal.New(1, int32(decimals)))
}

// wholeToWei converts a whole-ETH decimal into wei.
func wholeToWei(amount decimal.Decimal) *big.Int {
	return amount.Mul(decimal.New(1, 18)).BigInt()
}
