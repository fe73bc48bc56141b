package kucoin

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	sdkapi "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	spotorder "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/spot/order"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	appconfig "feeseller/config"
	"feeseller/internal/venue"
	"feeseller/logger"
)

// Kucoin_Venue liquidates fee tokens with spot market sells through the
// KuCoin REST API.
type Kucoin_Venue struct {
	orderAPI spotorder.OrderAPI
	limiter  *rate.Limiter
	log      *logger.Log
}

// Kucoin_NewVenue initialises the REST client backed venue.
func Kucoin_NewVenue(cfg *appconfig.Config) *Kucoin_Venue {
	log := logger.GetLogger()
	kcfg := cfg.Venue.Kucoin

	baseURL := kcfg.URL
	if baseURL == "" {
		baseURL = "https://api.kucoin.com"
	} else if u, err := url.Parse(kcfg.URL); err == nil && u.Host != "" {
		baseURL = fmt.Sprintf("https://%s", u.Host)
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetTimeout(cfg.Worker.CallTimeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithKey(kcfg.APIKey).
		WithSecret(kcfg.APISecret).
		WithPassphrase(kcfg.Passphrase).
		WithSpotEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()

	client := sdkapi.NewClient(option)
	orderAPI := client.RestService().GetSpotService().GetOrderAPI()

	rl := cfg.Venue.RateLimit
	rps := rl.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := rl.BurstSize
	if burst <= 0 {
		burst = 1
	}

	log.WithComponent("kucoin_venue").Info("kucoin venue initialized")

	return &Kucoin_Venue{
		orderAPI: orderAPI,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		log:      log,
	}
}

func (v *Kucoin_Venue) Name() string { return "kucoin" }

// Sell places a synchronous market sell order for the full token amount and
// verifies the dealt quote funds against the order's minimum acceptable
// output.
func (v *Kucoin_Venue) Sell(ctx context.Context, order venue.Order) (*venue.Fill, error) {
	log := v.log.WithComponent("kucoin_venue").WithFields(logger.Fields{
		"symbol":    order.Symbol,
		"operation": "sell",
	})

	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	pair := strings.ToUpper(order.Symbol) + "-ETH"
	size := decimal.NewFromBigInt(order.AmountIn, 0).Div(decimal.New(1, int32(order.Decimals)))

	req := spotorder.NewAddOrderSyncReqBuilder().
		SetClientOid(uuid.New().String()).
		SetSide("sell").
		SetSymbol(pair).
		SetType("market").
		SetSize(size.String()).
		Build()

	start := time.Now()
	resp, err := v.orderAPI.AddOrderSync(req, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place market sell %s: %w", pair, err)
	}
	logger.LogPerformanceEntry(log, "kucoin_venue", "add_order_sync", time.Since(start), logger.Fields{
		"pair": pair,
	})
	if resp == nil || resp.OrderId == "" {
		return nil, fmt.Errorf("empty order response for %s", pair)
	}

	detailReq := spotorder.NewGetOrderByOrderIdReqBuilder().
		SetSymbol(pair).
		SetOrderId(resp.OrderId).
		Build()
	detail, err := v.orderAPI.GetOrderByOrderId(detailReq, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", resp.OrderId, err)
	}

	proceeds, err := decimal.NewFromString(detail.DealFunds)
	if err != nil {
		return nil, fmt.Errorf("invalid deal funds %q: %w", detail.DealFunds, err)
	}
	outputWei := wholeToWei(proceeds)

	log.WithFields(logger.Fields{
		"order_id":   resp.OrderId,
		"deal_size":  detail.DealSize,
		"proceeds":   proceeds.String(),
		"min_output": order.MinOutput.String(),
	}).Info("market sell executed")

	if outputWei.Cmp(order.MinOutput) < 0 {
		return nil, fmt.Errorf("%s sell of %s: %w", pair, size, venue.ErrInsufficientOutput)
	}

	return &venue.Fill{
		Output:  outputWei,
		OrderID: resp.OrderId,
	}, nil
}

// wholeToWei converts a whole-ETH decimal into wei.
func wholeToWei(amount decimal.Decimal) *big.Int {
	return amount.Mul(decimal.New(1, 18)).BigInt()
}
