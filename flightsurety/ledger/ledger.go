// Package ledger talks to the FlightSurety application contract through an
// Ethereum node. Transactions are sent from accounts managed and unlocked by the
// node itself, the way a truffle/ganache development chain exposes them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"golang.org/x/time/rate"
)

var ErrTransactionReverted = errors.New("transaction reverted")

// Options carries the gas settings attached to every transaction. Zero values
// leave the choice to the node.
type Options struct {
	Gas      uint64
	GasPrice *big.Int
	// TxPerSecond throttles outgoing transactions across all accounts.
	// Zero means unlimited.
	TxPerSecond float64
}

type Client struct {
	eth     *ethclient.Client
	rpc     *rpc.Client
	binding *contract.Binding
	address common.Address
	opts    Options
	limiter *rate.Limiter
	log     log.Logger
}

// Dial connects to the node at url. Event subscriptions need a websocket or IPC
// endpoint.
func Dial(ctx context.Context, url string, address common.Address, binding *contract.Binding, opts Options, logger log.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}
	return NewClient(rpcClient, address, binding, opts, logger), nil
}

func NewClient(rpcClient *rpc.Client, address common.Address, binding *contract.Binding, opts Options, logger log.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.TxPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.TxPerSecond), 1)
	}
	return &Client{
		eth:     ethclient.NewClient(rpcClient),
		rpc:     rpcClient,
		binding: binding,
		address: address,
		opts:    opts,
		limiter: limiter,
		log:     logger.New("contract", address),
	}
}

func (c *Client) Close() {
	c.eth.Close()
}

// Accounts lists the accounts the node manages.
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := c.rpc.CallContext(ctx, &accounts, "eth_accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	return accounts, nil
}

func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (c *Client) RegistrationFee(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, common.Address{}, contract.MethodRegistrationFee)
	if err != nil {
		return nil, err
	}
	return c.binding.UnpackFee(out)
}

func (c *Client) RegisterOracle(ctx context.Context, from common.Address, fee *big.Int) (*types.Receipt, error) {
	data, err := c.binding.Pack(contract.MethodRegisterOracle)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, from, fee, contract.MethodRegisterOracle, data)
}

// AssignedIndexes queries getMyIndexes on behalf of from.
func (c *Client) AssignedIndexes(ctx context.Context, from common.Address) ([]uint8, error) {
	out, err := c.call(ctx, from, contract.MethodGetMyIndexes)
	if err != nil {
		return nil, err
	}
	return c.binding.UnpackIndexes(out)
}

func (c *Client) SubmitResponse(ctx context.Context, from common.Address, resp contract.Response) (*types.Receipt, error) {
	data, err := c.binding.PackResponse(resp)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, from, nil, contract.MethodSubmitResponse, data)
}

func (c *Client) call(ctx context.Context, from common.Address, method string, args ...any) ([]byte, error) {
	data, err := c.binding.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	return out, nil
}

// sendTxArgs mirrors the eth_sendTransaction argument object.
type sendTxArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data"`
}

func (c *Client) transact(ctx context.Context, from common.Address, value *big.Int, method string, data []byte) (*types.Receipt, error) {
	args := sendTxArgs{
		From: from,
		To:   &c.address,
		Data: data,
	}
	if c.opts.Gas != 0 {
		args.Gas = (*hexutil.Uint64)(&c.opts.Gas)
	}
	if c.opts.GasPrice != nil {
		args.GasPrice = (*hexutil.Big)(c.opts.GasPrice)
	}
	if value != nil {
		args.Value = (*hexutil.Big)(value)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	var txHash common.Hash
	err := c.rpc.CallContext(ctx, &txHash, "eth_sendTransaction", args)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	c.log.Debug("Transaction sent", "method", method, "from", from, "tx", txHash)

	receipt, err := bind.WaitMinedHash(ctx, c.eth, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for %s: %w", method, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s %s", ErrTransactionReverted, method, txHash)
	}

	return receipt, nil
}
