package commitment

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// kaleidoMarkerTag is the preimage to the KaleidoMarker that prefixes
	// every commitment.
	kaleidoMarkerTag = "kaleido"

	// markerLen is the number of marker bytes placed in front of the
	// committed digest.
	markerLen = 4

	// payloadLen is the size of the data pushed by a commitment output.
	payloadLen = markerLen + sha256.Size
)

var (
	// KaleidoMarker is a static identifier whose prefix is included in a
	// commitment output to tell it apart from other OP_RETURN outputs.
	KaleidoMarker = sha256.Sum256([]byte(kaleidoMarkerTag))

	// ErrNoCommitment is returned when a transaction doesn't commit to
	// the expected digest.
	ErrNoCommitment = errors.New("transaction has no matching commitment")

	// ErrAlreadyCommitted is returned when a commitment is added to a
	// transaction that already carries one.
	ErrAlreadyCommitted = errors.New("transaction already carries a " +
		"commitment")
)

// Committer embeds a proof digest into a transaction and finds it again.
type Committer interface {
	// Commit adds a commitment to the digest to the transaction. Existing
	// outputs must keep their index.
	Commit(tx *wire.MsgTx, digest [sha256.Size]byte) error

	// Verify returns nil if the transaction commits to the digest.
	Verify(tx *wire.MsgTx, digest [sha256.Size]byte) error
}

// OpReturnCommitter commits to a digest with a zero value OP_RETURN output
// appended after all other outputs.
type OpReturnCommitter struct{}

// NewOpReturnCommitter returns a new OP_RETURN committer.
func NewOpReturnCommitter() *OpReturnCommitter {
	return &OpReturnCommitter{}
}

// payload returns the data pushed by the commitment output.
func payload(digest [sha256.Size]byte) []byte {
	data := make([]byte, 0, payloadLen)
	data = append(data, KaleidoMarker[:markerLen]...)
	return append(data, digest[:]...)
}

// committedData extracts the pushed data of a commitment output. The second
// return value is false if the script isn't one.
func committedData(pkScript []byte) ([]byte, bool) {
	if txscript.GetScriptClass(pkScript) != txscript.NullDataTy {
		return nil, false
	}

	pushes, err := txscript.PushedData(pkScript)
	if err != nil || len(pushes) != 1 {
		return nil, false
	}

	data := pushes[0]
	if len(data) != payloadLen {
		return nil, false
	}
	if !bytes.Equal(data[:markerLen], KaleidoMarker[:markerLen]) {
		return nil, false
	}

	return data, true
}

// Commit adds a commitment to the digest to the transaction.
//
// NOTE: This is part of the Committer interface.
func (o *OpReturnCommitter) Commit(tx *wire.MsgTx,
	digest [sha256.Size]byte) error {

	for _, txOut := range tx.TxOut {
		if _, ok := committedData(txOut.PkScript); ok {
			return ErrAlreadyCommitted
		}
	}

	script, err := txscript.NullDataScript(payload(digest))
	if err != nil {
		return fmt.Errorf("unable to create commitment script: %w", err)
	}

	tx.AddTxOut(wire.NewTxOut(0, script))

	log.Tracef("Committed to digest %x in output %d", digest[:],
		len(tx.TxOut)-1)

	return nil
}

// Verify returns nil if the transaction commits to the digest.
//
// NOTE: This is part of the Committer interface.
func (o *OpReturnCommitter) Verify(tx *wire.MsgTx,
	digest [sha256.Size]byte) error {

	want := payload(digest)
	for _, txOut := range tx.TxOut {
		data, ok := committedData(txOut.PkScript)
		if ok && bytes.Equal(data, want) {
			return nil
		}
	}

	return fmt.Errorf("%w: digest %x, tx %v", ErrNoCommitment, digest[:],
		tx.TxHash())
}

// A compile-time assertion to ensure OpReturnCommitter meets the Committer
// interface.
var _ Committer = (*OpReturnCommitter)(nil)
