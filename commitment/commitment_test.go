package commitment

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestOpReturnCommitment(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{})
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x00, 0x14}))

	digest := sha256.Sum256([]byte("proof"))
	other := sha256.Sum256([]byte("other"))

	committer := NewOpReturnCommitter()
	require.ErrorIs(t, committer.Verify(tx, digest), ErrNoCommitment)

	require.NoError(t, committer.Commit(tx, digest))

	// The commitment is appended, existing outputs keep their index.
	require.Len(t, tx.TxOut, 2)
	require.EqualValues(t, 1000, tx.TxOut[0].Value)
	require.Zero(t, tx.TxOut[1].Value)

	require.NoError(t, committer.Verify(tx, digest))
	require.ErrorIs(t, committer.Verify(tx, other), ErrNoCommitment)

	// A second commitment is refused.
	require.ErrorIs(t, committer.Commit(tx, other), ErrAlreadyCommitted)
}

func TestForeignOpReturnIgnored(t *testing.T) {
	t.Parallel()

	digest := sha256.Sum256([]byte("proof"))

	// An OP_RETURN with the right length but the wrong marker must not
	// count as a commitment.
	foreign := make([]byte, 0, payloadLen)
	foreign = append(foreign, 0xde, 0xad, 0xbe, 0xef)
	foreign = append(foreign, digest[:]...)

	script := append([]byte{0x6a, byte(len(foreign))}, foreign...)

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(0, script))

	_, ok := committedData(script)
	require.False(t, ok)
	require.ErrorIs(t, NewOpReturnCommitter().Verify(tx, digest),
		ErrNoCommitment)
}
