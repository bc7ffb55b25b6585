package kaleido

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/proof"
)

// BitcoindChainBridge looks up anchor transactions through bitcoind. Lookups
// of transactions outside the wallet need bitcoind's txindex.
type BitcoindChainBridge struct {
	client *rpcclient.Client
}

// NewBitcoindChainBridge creates a new chain bridge.
func NewBitcoindChainBridge(client *rpcclient.Client) *BitcoindChainBridge {
	return &BitcoindChainBridge{
		client: client,
	}
}

// FetchTransaction returns the transaction with the given id.
//
// NOTE: This implements the proof.ChainLookup interface.
func (b *BitcoindChainBridge) FetchTransaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	tx, err := rpcResult(ctx, "getrawtransaction",
		func() (*btcutil.Tx, error) {
			return b.client.GetRawTransaction(&txid)
		},
	)
	switch {
	case isRPCError(err, btcjson.ErrRPCNoTxInfo):
		return nil, fmt.Errorf("%w: %v", proof.ErrTxNotFound, txid)

	case err != nil:
		return nil, err
	}

	return tx.MsgTx(), nil
}

// A compile-time interface to ensure BitcoindChainBridge meets the
// proof.ChainLookup interface.
var _ proof.ChainLookup = (*BitcoindChainBridge)(nil)
