package venue

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientOutput is returned when a liquidation would execute (or
// executed) below the minimum acceptable output. The token is left in the
// accumulator and retried on a later cycle.
var ErrInsufficientOutput = errors.New("executed output below minimum acceptable")

// Order is one liquidation request: sell AmountIn base units of the token
// for ETH, accepting no less than MinOutput wei.
type Order struct {
	Symbol       string
	TokenAddress common.Address
	Decimals     int
	AmountIn     *big.Int
	MinOutput    *big.Int
}

// Fill reports the executed liquidation. Output is in wei. Exactly one of
// TxHash (on-chain venues) and OrderID (exchange venues) is set.
type Fill struct {
	Output  *big.Int
	TxHash  string
	OrderID string
}

// Venue sells accumulated fee tokens for ETH.
type Venue interface {
	Name() string
	Sell(ctx context.Context, order Order) (*Fill, error)
}
