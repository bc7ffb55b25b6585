package kaleido

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/freighter"
)

// finalizePsbtResult is the response of bitcoind's finalizepsbt.
type finalizePsbtResult struct {
	Psbt     string `json:"psbt"`
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

// BitcoindWallet is a freighter.WalletAnchor backed by a bitcoind wallet.
type BitcoindWallet struct {
	client *rpcclient.Client
	params *chaincfg.Params
}

// NewBitcoindWallet creates a new wallet anchor.
func NewBitcoindWallet(client *rpcclient.Client,
	params *chaincfg.Params) *BitcoindWallet {

	return &BitcoindWallet{
		client: client,
		params: params,
	}
}

// ListUnspent returns all spendable outputs of the wallet.
//
// NOTE: This implements the freighter.WalletAnchor interface.
func (b *BitcoindWallet) ListUnspent(
	ctx context.Context) ([]freighter.Utxo, error) {

	unspent, err := rpcResult(ctx, "listunspent",
		func() ([]btcjson.ListUnspentResult, error) {
			return b.client.ListUnspent()
		},
	)
	if err != nil {
		return nil, err
	}

	utxos := make([]freighter.Utxo, 0, len(unspent))
	for _, u := range unspent {
		if !u.Spendable {
			continue
		}

		txid, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %v: %w", u.TxID,
				err)
		}
		amt, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %v: %w",
				u.Amount, err)
		}

		utxos = append(utxos, freighter.Utxo{
			OutPoint: wire.OutPoint{Hash: *txid, Index: u.Vout},
			Amount:   amt,
		})
	}

	return freighter.SortUtxos(utxos), nil
}

// NewAddress returns a fresh bech32 receiving address.
//
// NOTE: This implements the freighter.WalletAnchor interface.
func (b *BitcoindWallet) NewAddress(ctx context.Context) (btcutil.Address,
	error) {

	var addrStr string
	err := rawRequest(
		ctx, b.client, "getnewaddress", &addrStr, "", "bech32",
	)
	if err != nil {
		return nil, err
	}

	addr, err := btcutil.DecodeAddress(addrStr, b.params)
	if err != nil {
		return nil, fmt.Errorf("wallet returned invalid address %v: %w",
			addrStr, err)
	}
	if !addr.IsForNet(b.params) {
		return nil, fmt.Errorf("wallet address %v not for network %v",
			addrStr, b.params.Name)
	}

	return addr, nil
}

// SignPsbt has the wallet sign and finalize every input of the packet.
//
// NOTE: This implements the freighter.WalletAnchor interface.
func (b *BitcoindWallet) SignPsbt(ctx context.Context,
	packet *psbt.Packet) (*wire.MsgTx, error) {

	b64, err := packet.B64Encode()
	if err != nil {
		return nil, fmt.Errorf("unable to encode psbt: %w", err)
	}

	sign := true
	processed, err := rpcResult(ctx, "walletprocesspsbt",
		func() (*btcjson.WalletProcessPsbtResult, error) {
			return b.client.WalletProcessPsbt(
				b64, &sign, rpcclient.SigHashAll, nil,
			)
		},
	)
	if err != nil {
		return nil, err
	}
	if !processed.Complete {
		return nil, fmt.Errorf("wallet couldn't sign every input")
	}

	var finalized finalizePsbtResult
	err = rawRequest(
		ctx, b.client, "finalizepsbt", &finalized, processed.Psbt, true,
	)
	if err != nil {
		return nil, err
	}
	if !finalized.Complete || finalized.Hex == "" {
		return nil, fmt.Errorf("unable to finalize psbt")
	}

	txBytes, err := hex.DecodeString(finalized.Hex)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}

	return &tx, nil
}

// PublishTransaction broadcasts the transaction.
//
// NOTE: This implements the freighter.WalletAnchor interface.
func (b *BitcoindWallet) PublishTransaction(ctx context.Context,
	tx *wire.MsgTx) error {

	txid, err := rpcResult(ctx, "sendrawtransaction",
		func() (*chainhash.Hash, error) {
			return b.client.SendRawTransaction(tx, false)
		},
	)
	if err != nil {
		return err
	}

	srvrLog.Infof("Published transaction %v", txid)

	return nil
}

// A compile-time interface to ensure BitcoindWallet meets the
// freighter.WalletAnchor interface.
var _ freighter.WalletAnchor = (*BitcoindWallet)(nil)
