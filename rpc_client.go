package kaleido

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/lightninglabs/kaleido/proof"
)

// BitcoindConfig holds the connection details of the bitcoind RPC server.
type BitcoindConfig struct {
	Host string `long:"rpchost" description:"The bitcoind RPC host:port."`
	User string `long:"rpcuser" description:"Username for bitcoind RPC."`
	Pass string `long:"rpcpass" description:"Password for bitcoind RPC."`

	// Wallet names the bitcoind wallet to use if more than one is
	// loaded.
	Wallet string `long:"wallet" description:"The bitcoind wallet to use, if more than one is loaded."`
}

// NewBitcoindClient connects to bitcoind in HTTP POST mode.
func NewBitcoindClient(cfg *BitcoindConfig,
	params *chaincfg.Params) (*rpcclient.Client, error) {

	host := cfg.Host
	if cfg.Wallet != "" {
		host = fmt.Sprintf("%s/wallet/%s", host, cfg.Wallet)
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		Params:       params.Name,
		DisableTLS:   true,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return nil, &proof.CollaboratorError{
			Op:  "connect to bitcoind",
			Err: err,
		}
	}

	return client, nil
}

// rpcResult waits for a blocking RPC call, giving up when the context is
// cancelled. The call itself keeps running until bitcoind answers.
func rpcResult[T any](ctx context.Context, op string,
	call func() (T, error)) (T, error) {

	type result struct {
		val T
		err error
	}

	resChan := make(chan result, 1)
	go func() {
		val, err := call()
		resChan <- result{val: val, err: err}
	}()

	var zero T
	select {
	case res := <-resChan:
		if res.err != nil {
			return zero, &proof.CollaboratorError{
				Op:  op,
				Err: res.err,
			}
		}
		return res.val, nil

	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// rawRequest sends a request that has no typed counterpart in rpcclient.
func rawRequest(ctx context.Context, client *rpcclient.Client, method string,
	result any, params ...any) error {

	rawParams := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		rawParam, err := json.Marshal(param)
		if err != nil {
			return err
		}
		rawParams = append(rawParams, rawParam)
	}

	resp, err := rpcResult(ctx, method, func() (json.RawMessage, error) {
		return client.RawRequest(method, rawParams)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp, result); err != nil {
		return &proof.CollaboratorError{
			Op:  method,
			Err: fmt.Errorf("unable to decode response: %w", err),
		}
	}

	return nil
}

// isRPCError returns true if err carries the given bitcoind error code.
func isRPCError(err error, code btcjson.RPCErrorCode) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
