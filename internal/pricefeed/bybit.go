package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"

	"feeseller/config"
	"feeseller/logger"
)

// Source quotes the reference price of one whole token in ETH. The worker
// derives the minimum acceptable liquidation output from it.
type Source interface {
	TokenPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BybitSource reads spot tickers from Bybit. Market data endpoints need no
// credentials.
type BybitSource struct {
	client       *bybit.Client
	quoteSuffix  string
	maxStaleness time.Duration
	log          *logger.Log
}

// NewBybitSource builds the reference price source from the tuning config.
func NewBybitSource(cfg config.PricefeedConfig) *BybitSource {
	log := logger.GetLogger()

	opts := []bybit.ClientOption{}
	if cfg.URL != "" {
		base := cfg.URL
		if parsed, err := url.Parse(cfg.URL); err == nil && parsed.Host != "" {
			base = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		}
		opts = append(opts, bybit.WithBaseURL(base))
	}
	client := bybit.NewBybitHttpClient("", "", opts...)

	suffix := cfg.QuoteSuffix
	if suffix == "" {
		suffix = "ETH"
	}

	log.WithComponent("pricefeed").WithFields(logger.Fields{
		"quote_suffix":  suffix,
		"max_staleness": cfg.MaxStaleness.String(),
	}).Info("bybit pricefeed initialized")

	return &BybitSource{
		client:       client,
		quoteSuffix:  suffix,
		maxStaleness: cfg.MaxStaleness,
		log:          log,
	}
}

type tickerResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

// TokenPrice returns the last traded spot price of symbol quoted in the
// configured quote asset.
func (s *BybitSource) TokenPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	market := strings.ToUpper(symbol) + s.quoteSuffix

	params := map[string]interface{}{
		"category": "spot",
		"symbol":   market,
	}

	start := time.Now()
	resp, err := s.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch ticker %s: %w", market, err)
	}
	logger.LogPerformanceEntry(s.log.WithComponent("pricefeed"), "pricefeed", "ticker_request", time.Since(start), logger.Fields{
		"symbol": market,
	})

	if resp.RetCode != 0 {
		return decimal.Zero, fmt.Errorf("ticker request for %s rejected: %s", market, resp.RetMsg)
	}
	if s.maxStaleness > 0 && resp.Time > 0 {
		age := time.Since(time.UnixMilli(resp.Time))
		if age > s.maxStaleness {
			return decimal.Zero, fmt.Errorf("ticker for %s is stale by %s", market, age)
		}
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to marshal ticker result: %w", err)
	}

	var result tickerResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode ticker result: %w", err)
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("no ticker returned for %s", market)
	}

	price, err := decimal.NewFromString(result.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid last price %q for %s: %w", result.List[0].LastPrice, market, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive last price for %s", market)
	}
	return price, nil
}
