package txbuilder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

const DefaultTimeout = 30 * time.Second

type Client struct {
	rpchost   string
	rpcClient *rpc.Client
	client    *ethclient.Client
	logger    *logrus.Entry
	Timeout   time.Duration
}

func NewClient(rpchost string) (*Client, error) {
	rpcClient, err := rpc.DialOptions(context.Background(), rpchost, rpc.WithHTTPClient(&http.Client{}))
	if err != nil {
		return nil, fmt.Errorf("%w: failed connecting to %v: %v", ErrTransport, rpchost, err)
	}
	return &Client{
		rpchost:   rpchost,
		rpcClient: rpcClient,
		client:    ethclient.NewClient(rpcClient),
		logger:    logrus.WithField("rpc", rpchost),
		Timeout:   DefaultTimeout,
	}, nil
}

func (client *Client) GetRPCHost() string {
	return client.rpchost
}

func (client *Client) Close() {
	client.rpcClient.Close()
}

func (client *Client) getContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if client.Timeout > 0 {
		return context.WithTimeout(ctx, client.Timeout)
	}
	return context.WithCancel(ctx)
}

// UpdateWallet loads chain id and pending nonce for the wallet. Both are read
// in sequence right before the transaction is built.
func (client *Client) UpdateWallet(ctx context.Context, wallet *Wallet) error {
	chainId, err := client.GetChainId(ctx)
	if err != nil {
		return err
	}
	wallet.SetChainId(chainId)

	nonce, err := client.GetPendingNonceAt(ctx, wallet.GetAddress())
	if err != nil {
		return err
	}
	wallet.SetNonce(nonce)

	client.logger.Debugf("loaded wallet %v (chainid: %v, nonce: %v)", wallet.GetAddress().String(), chainId, nonce)
	return nil
}

func (client *Client) GetChainId(ctx context.Context) (*big.Int, error) {
	ctx, cancel := client.getContext(ctx)
	defer cancel()
	chainId, err := client.client.ChainID(ctx)
	if err != nil {
		return nil, wrapCallError("eth_chainId", err)
	}
	return chainId, nil
}

func (client *Client) GetPendingNonceAt(ctx context.Context, wallet common.Address) (uint64, error) {
	ctx, cancel := client.getContext(ctx)
	defer cancel()
	nonce, err := client.client.PendingNonceAt(ctx, wallet)
	if err != nil {
		return 0, wrapCallError("eth_getTransactionCount", err)
	}
	return nonce, nil
}

// GetSuggestedFee returns a max fee and tip per gas. The max fee is twice the
// node's gas price so the transaction survives a few base fee increases.
func (client *Client) GetSuggestedFee(ctx context.Context) (*uint256.Int, *uint256.Int, error) {
	callCtx, cancel := client.getContext(ctx)
	defer cancel()
	tipCap, err := client.client.SuggestGasTipCap(callCtx)
	if err != nil {
		return nil, nil, wrapCallError("eth_maxPriorityFeePerGas", err)
	}

	callCtx, cancel = client.getContext(ctx)
	defer cancel()
	gasPrice, err := client.client.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, nil, wrapCallError("eth_gasPrice", err)
	}

	feeCap := new(big.Int).Mul(gasPrice, big.NewInt(2))
	if feeCap.Cmp(tipCap) < 0 {
		feeCap.Set(tipCap)
	}
	feeCap256, overflow := uint256.FromBig(feeCap)
	if overflow {
		return nil, nil, fmt.Errorf("suggested fee cap out of range: %v", feeCap)
	}
	tipCap256, overflow := uint256.FromBig(tipCap)
	if overflow {
		return nil, nil, fmt.Errorf("suggested tip cap out of range: %v", tipCap)
	}
	return feeCap256, tipCap256, nil
}

// GetBlobFeeCap returns twice the current blob base fee. Nodes without
// eth_blobBaseFee get a 1 gwei fallback.
func (client *Client) GetBlobFeeCap(ctx context.Context) (*uint256.Int, error) {
	ctx, cancel := client.getContext(ctx)
	defer cancel()

	var blobBaseFee hexutil.Big
	err := client.rpcClient.CallContext(ctx, &blobBaseFee, "eth_blobBaseFee")
	if err != nil {
		err = wrapCallError("eth_blobBaseFee", err)
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			client.logger.Warnf("could not get blob base fee, using fallback: %v", err)
			return uint256.NewInt(params.GWei), nil
		}
		return nil, err
	}

	blobFeeCap, overflow := uint256.FromBig(new(big.Int).Mul(blobBaseFee.ToInt(), big.NewInt(2)))
	if overflow {
		return nil, fmt.Errorf("blob fee cap out of range: %v", blobBaseFee.String())
	}
	return blobFeeCap, nil
}

// SubmitTransaction sends the network wrapper bytes once via
// eth_sendRawTransaction and returns the hash reported by the node.
func (client *Client) SubmitTransaction(ctx context.Context, txBytes []byte) (common.Hash, error) {
	ctx, cancel := client.getContext(ctx)
	defer cancel()

	var txHash common.Hash
	err := client.rpcClient.CallContext(ctx, &txHash, "eth_sendRawTransaction", hexutil.Encode(txBytes))
	if err != nil {
		return common.Hash{}, wrapCallError("eth_sendRawTransaction", err)
	}

	client.logger.Infof("submitted transaction %v", txHash.String())
	return txHash, nil
}

type jsonrpcErrorResponse struct {
	Error *struct {
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data,omitempty"`
	} `json:"error"`
}

// wrapCallError maps a failed call to *RPCError when the node answered with a
// JSON-RPC error object, and to ErrTransport otherwise.
func wrapCallError(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		callErr := &RPCError{
			Method:  method,
			Code:    rpcErr.ErrorCode(),
			Message: rpcErr.Error(),
		}
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			callErr.Data = dataErr.ErrorData()
		}
		return callErr
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		var response jsonrpcErrorResponse
		if json.Unmarshal(httpErr.Body, &response) == nil && response.Error != nil {
			return &RPCError{
				Method:  method,
				Code:    response.Error.Code,
				Message: response.Error.Message,
				Data:    response.Error.Data,
			}
		}
		return fmt.Errorf("%w: %v failed with http status %v", ErrTransport, method, httpErr.Status)
	}

	return fmt.Errorf("%w: %v failed: %v", ErrTransport, method, err)
}
