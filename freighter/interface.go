package freighter

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/proof"
)

// Utxo is an unspent output controlled by the wallet.
type Utxo struct {
	// OutPoint identifies the output.
	OutPoint wire.OutPoint

	// Amount is the on-chain value of the output.
	Amount btcutil.Amount
}

// WalletAnchor is the bitcoin wallet the engine anchors proofs with.
type WalletAnchor interface {
	// ListUnspent returns all spendable outputs of the wallet.
	ListUnspent(ctx context.Context) ([]Utxo, error)

	// NewAddress returns a fresh receiving address of the wallet.
	NewAddress(ctx context.Context) (btcutil.Address, error)

	// SignPsbt signs every wallet input of the packet and returns the
	// final transaction. Outputs must not be changed.
	SignPsbt(ctx context.Context, packet *psbt.Packet) (*wire.MsgTx, error)

	// PublishTransaction broadcasts the transaction.
	PublishTransaction(ctx context.Context, tx *wire.MsgTx) error
}

// CollaboratorError wraps a failed wallet or relay call.
type CollaboratorError = proof.CollaboratorError

// collaboratorErr wraps err unless it already is a CollaboratorError.
func collaboratorErr(op string, err error) error {
	var collabErr *CollaboratorError
	if errors.As(err, &collabErr) {
		return err
	}
	return &CollaboratorError{Op: op, Err: err}
}
