package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	appconfig "feeseller/config"
	"feeseller/internal/chain"
	"feeseller/internal/venue"
	"feeseller/logger"
)

// V2-style router fragment: quote the sell first, then swap the exact token
// amount for ETH.
const routerABIJSON = `[
 {"constant":true,"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"type":"function"},
 {"constant":false,"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"name":"amounts","type":"uint256[]"}],"type":"function"}
]`

var routerABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic("uniswap: invalid router abi: " + err.Error())
	}
	routerABI = parsed
}

var maxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Uniswap_Venue liquidates fee tokens on-chain through a V2-style router,
// swapping the exact token amount for ETH credited to the fee account.
type Uniswap_Venue struct {
	client   chain.Client
	router   common.Address
	weth     common.Address
	gasLimit uint64
	deadline time.Duration
	log      *logger.Log
}

// Uniswap_NewVenue wires the venue to the shared chain client.
func Uniswap_NewVenue(cfg *appconfig.Config, client chain.Client) *Uniswap_Venue {
	log := logger.GetLogger()
	ucfg := cfg.Venue.Uniswap

	log.WithComponent("uniswap_venue").WithFields(logger.Fields{
		"router": ucfg.RouterAddress,
	}).Info("uniswap venue initialized")

	return &Uniswap_Venue{
		client:   client,
		router:   common.HexToAddress(ucfg.RouterAddress),
		weth:     common.HexToAddress(ucfg.WETHAddress),
		gasLimit: ucfg.GasLimit,
		deadline: ucfg.Deadline,
		log:      log,
	}
}

func (v *Uniswap_Venue) Name() string { return "uniswap" }

// Sell quotes the token->WETH path, rejects quotes below the order minimum
// before spending gas, then submits the swap with the minimum enforced
// on-chain as amountOutMin.
func (v *Uniswap_Venue) Sell(ctx context.Context, order venue.Order) (*venue.Fill, error) {
	log := v.log.WithComponent("uniswap_venue").WithFields(logger.Fields{
		"symbol":    order.Symbol,
		"operation": "sell",
	})

	path := []common.Address{order.TokenAddress, v.weth}

	quote, err := v.quote(ctx, order.AmountIn, path)
	if err != nil {
		return nil, err
	}
	if quote.Cmp(order.MinOutput) < 0 {
		return nil, fmt.Errorf("%s quote %s below minimum %s: %w",
			order.Symbol, quote, order.MinOutput, venue.ErrInsufficientOutput)
	}

	if err := v.ensureAllowance(ctx, order.TokenAddress, order.AmountIn); err != nil {
		return nil, err
	}

	deadline := big.NewInt(time.Now().Add(v.deadline).Unix())
	data, err := routerABI.Pack("swapExactTokensForETH",
		order.AmountIn, order.MinOutput, path, v.client.FeeAccount(), deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap: %w", err)
	}

	start := time.Now()
	hash, err := v.client.Execute(ctx, v.router, data, v.gasLimit)
	if err != nil {
		return nil, err
	}
	if err := v.client.WaitMined(ctx, hash); err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(log, "uniswap_venue", "swap", time.Since(start), logger.Fields{
		"tx_hash": hash.Hex(),
	})

	log.WithFields(logger.Fields{
		"tx_hash":    hash.Hex(),
		"quote":      quote.String(),
		"min_output": order.MinOutput.String(),
	}).Info("swap mined")

	return &venue.Fill{
		Output: quote,
		TxHash: hash.Hex(),
	}, nil
}

// quote asks the router how much ETH the sell would currently return.
func (v *Uniswap_Venue) quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quote: %w", err)
	}
	ret, err := v.client.CallContract(ctx, v.router, data)
	if err != nil {
		return nil, err
	}
	outs, err := routerABI.Unpack("getAmountsOut", ret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	amounts, ok := outs[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("malformed quote response")
	}
	return amounts[len(amounts)-1], nil
}

// ensureAllowance grants the router an unlimited allowance once per token
// instead of approving before every swap.
func (v *Uniswap_Venue) ensureAllowance(ctx context.Context, token common.Address, amountIn *big.Int) error {
	data, err := chain.ERC20ABI.Pack("allowance", v.client.FeeAccount(), v.router)
	if err != nil {
		return fmt.Errorf("failed to encode allowance: %w", err)
	}
	ret, err := v.client.CallContract(ctx, token, data)
	if err != nil {
		return err
	}
	outs, err := chain.ERC20ABI.Unpack("allowance", ret)
	if err != nil {
		return fmt.Errorf("failed to decode allowance: %w", err)
	}
	allowance, ok := outs[0].(*big.Int)
	if !ok {
		return fmt.Errorf("malformed allowance response")
	}
	if allowance.Cmp(amountIn) >= 0 {
		return nil
	}

	approve, err := chain.ERC20ABI.Pack("approve", v.router, maxAllowance)
	if err != nil {
		return fmt.Errorf("failed to encode approve: %w", err)
	}
	hash, err := v.client.Execute(ctx, token, approve, v.gasLimit)
	if err != nil {
		return err
	}
	if err := v.client.WaitMined(ctx, hash); err != nil {
		return err
	}

	v.log.WithComponent("uniswap_venue").WithFields(logger.Fields{
		"token":   token.Hex(),
		"tx_hash": hash.Hex(),
	}).Info("router allowance granted")
	return nil
}
