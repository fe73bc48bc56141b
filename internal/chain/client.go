package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"feeseller/logger"
)

const (
	etherTransferGas   = 21000
	receiptPollPeriod  = 5 * time.Second
)

// Client is the read/write surface the worker needs from Ethereum. All
// methods honour their context; mutating methods return the transaction hash
// once broadcast.
type Client interface {
	FeeAccount() common.Address
	EtherBalance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error)
	Execute(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) error
}

// networkChainIDs maps ETH_NETWORK values onto chain ids.
var networkChainIDs = map[string]int64{
	"mainnet":   1,
	"ropsten":   3,
	"rinkeby":   4,
	"goerli":    5,
	"sepolia":   11155111,
	"localhost": 1337,
}

// EthereumClient implements Client on top of ethclient.
type EthereumClient struct {
	rpc              *ethclient.Client
	key              *ecdsa.PrivateKey
	from             common.Address
	chainID          *big.Int
	confirmationWait time.Duration
	log              *logger.Log
}

// Dial connects to the node at web3URL and verifies that it serves the
// configured network. The private key signs every outgoing transaction.
func Dial(ctx context.Context, web3URL, network string, key *ecdsa.PrivateKey, confirmationWait time.Duration) (*EthereumClient, error) {
	log := logger.GetLogger()

	want, ok := networkChainIDs[network]
	if !ok {
		return nil, fmt.Errorf("unknown ETH_NETWORK %q", network)
	}

	rpc, err := ethclient.DialContext(ctx, web3URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", web3URL, err)
	}

	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if chainID.Int64() != want {
		rpc.Close()
		return nil, fmt.Errorf("node serves chain id %s, expected %d for %s", chainID, want, network)
	}

	client := &EthereumClient{
		rpc:              rpc,
		key:              key,
		from:             crypto.PubkeyToAddress(key.PublicKey),
		chainID:          chainID,
		confirmationWait: confirmationWait,
		log:              log,
	}

	log.WithComponent("chain_client").WithFields(logger.Fields{
		"network":  network,
		"chain_id": chainID.String(),
		"account":  client.from.Hex(),
	}).Info("chain client connected")

	return client, nil
}

// Close releases the underlying RPC connection.
func (c *EthereumClient) Close() {
	c.rpc.Close()
}

// FeeAccount returns the address derived from the configured private key.
func (c *EthereumClient) FeeAccount() common.Address {
	return c.from
}

// EtherBalance reads the current ETH balance of account.
func (c *EthereumClient) EtherBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.rpc.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, &ChainError{Op: "balance_at", Err: err}
	}
	return balance, nil
}

// TokenBalance reads holder's balance of the given ERC-20 token.
func (c *EthereumClient) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := ERC20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, &ChainError{Op: "pack_balance_of", Err: err}
	}

	out, err := c.CallContract(ctx, token, data)
	if err != nil {
		return nil, err
	}

	results, err := ERC20ABI.Unpack("balanceOf", out)
	if err != nil || len(results) != 1 {
		return nil, &ChainError{Op: "unpack_balance_of", Err: err}
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, &ChainError{Op: "unpack_balance_of", Err: errors.New("unexpected result type")}
	}
	return balance, nil
}

// CallContract performs a read-only eth_call against to.
func (c *EthereumClient) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, &ChainError{Op: "call_contract", Err: err}
	}
	return out, nil
}

// Transfer sends amount wei from the fee account to the destination.
func (c *EthereumClient) Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	return c.submit(ctx, &to, amount, nil, etherTransferGas)
}

// Execute broadcasts a signed contract call from the fee account.
func (c *EthereumClient) Execute(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	return c.submit(ctx, &to, new(big.Int), data, gasLimit)
}

func (c *EthereumClient) submit(ctx context.Context, to *common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := c.rpc.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, &ChainError{Op: "pending_nonce", Err: err}
	}

	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, &ChainError{Op: "suggest_gas_price", Err: err}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, &ChainError{Op: "sign_tx", Err: err}
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, &ChainError{Op: "send_transaction", Err: err}
	}

	c.log.WithComponent("chain_client").WithFields(logger.Fields{
		"tx_hash":   signed.Hash().Hex(),
		"nonce":     nonce,
		"gas_price": gasPrice.String(),
	}).Info("transaction broadcast")

	return signed.Hash(), nil
}

// WaitMined polls for the transaction receipt until it lands or the
// confirmation wait elapses. A reverted transaction is a ChainError; an
// expired wait is a TimeoutError.
func (c *EthereumClient) WaitMined(ctx context.Context, hash common.Hash) error {
	deadline := time.NewTimer(c.confirmationWait)
	defer deadline.Stop()

	ticker := time.NewTicker(receiptPollPeriod)
	defer ticker.Stop()

	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return &ChainError{Op: "wait_mined", Err: fmt.Errorf("transaction %s reverted", hash.Hex())}
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
			// Still pending.
		default:
			return &ChainError{Op: "transaction_receipt", Err: err}
		}

		select {
		case <-ctx.Done():
			return &ChainError{Op: "wait_mined", Err: ctx.Err()}
		case <-deadline.C:
			return &TimeoutError{Op: "wait_mined", Wait: c.confirmationWait}
		case <-ticker.C:
		}
	}
}
