// Package chain wraps the node RPC surface the scanner needs: chain head,
// block timestamps, and log range queries.
package chain

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

type Client struct {
	eth     *ethclient.Client
	rpc     *rpc.Client
	timeout time.Duration
}

func Dial(endpoint string, timeout time.Duration) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}
	rpcClient, err := rpc.DialHTTPWithClient(endpoint, httpClient)
	if err != nil {
		return nil, err
	}
	rpcClient.SetHeader("User-Agent", "taskwatch")
	return &Client{
		eth:     ethclient.NewClient(rpcClient),
		rpc:     rpcClient,
		timeout: timeout,
	}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

// BlockTime returns the unix timestamp of block n.
func (c *Client) BlockTime(ctx context.Context, n uint64) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.eth.FilterLogs(ctx, q)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
