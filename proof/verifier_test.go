package proof

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/commitment"
	"github.com/lightninglabs/kaleido/internal/test"
	"github.com/stretchr/testify/require"
)

// requireFailure asserts that one of the report's failures matches target.
func requireFailure(t *testing.T, report *Report, target error) {
	t.Helper()

	for _, err := range report.Failures {
		if errors.Is(err, target) {
			return
		}
	}
	t.Fatalf("expected failure %v, got: %v", target,
		spew.Sdump(report.Failures))
}

// spend creates a proof that spends the given outpoints.
func spend(inputs []wire.OutPoint, outputs ...asset.Entry) *Proof {
	return &Proof{
		Inputs:     inputs,
		Outputs:    outputs,
		AnchorTxid: test.RandHash(),
	}
}

func op(p *Proof, idx uint32) wire.OutPoint {
	return wire.OutPoint{Hash: p.AnchorTxid, Index: idx}
}

func saveAll(t *testing.T, archiver Archiver, proofs ...*Proof) {
	t.Helper()

	for _, p := range proofs {
		require.NoError(t, archiver.SaveProof(context.Background(), p))
	}
}

func TestVerifyChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemArchiver()

	genesis := RandGenesisProof(t, 1000)
	x := genesis.Contract.AssetID()

	send := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 400, asset.SpendSeal(0)),
		asset.NewEntry(x, 600, asset.SpendSeal(1)),
	)
	burn := spend(
		[]wire.OutPoint{op(send, 1)},
		asset.NewEntry(x, 100, asset.BurnSeal()),
		asset.NewEntry(x, 500, asset.SpendSeal(0)),
	)
	saveAll(t, store, genesis, send, burn)

	verifier := NewVerifier(VerifierConfig{Source: store})
	report, err := verifier.Verify(ctx, burn)
	require.NoError(t, err)
	require.Equal(t, StateVerified, report.State, spew.Sdump(report))
	require.Equal(t, 2, report.Ancestors)
	require.Len(t, report.Ancestry, 2)
	require.Equal(t, genesis.Digest(), report.Ancestry[0].Digest())
	require.Equal(t, send.Digest(), report.Ancestry[1].Digest())
	require.NoError(t, report.Err())
	require.True(t, report.Accepted())

	// The genesis proof verifies on its own.
	report, err = verifier.Verify(ctx, genesis)
	require.NoError(t, err)
	require.Equal(t, StateVerified, report.State)
	require.Zero(t, report.Ancestors)
	require.Empty(t, report.Ancestry)
}

func TestVerifyConservationViolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemArchiver()

	genesis := RandGenesisProof(t, 1000)
	x := genesis.Contract.AssetID()
	saveAll(t, store, genesis)

	inflate := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 1001, asset.SpendSeal(0)),
	)
	report, err := NewVerifier(VerifierConfig{Source: store}).Verify(
		ctx, inflate,
	)
	require.NoError(t, err)
	require.Equal(t, StateFailed, report.State)
	requireFailure(t, report, ErrConservationViolation)
	require.ErrorIs(t, report.Failures[0], ErrConservationViolation)

	// Minting a foreign asset out of nothing is a violation as well.
	foreign := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 1000, asset.SpendSeal(0)),
		asset.NewEntry(asset.RandID(t), 1, asset.SpendSeal(0)),
	)
	report, err = NewVerifier(VerifierConfig{Source: store}).Verify(
		ctx, foreign,
	)
	require.NoError(t, err)
	requireFailure(t, report, ErrConservationViolation)
}

// TestVerifyMissingAncestor makes sure a chain whose root isn't reachable
// fails instead of passing silently.
func TestVerifyMissingAncestor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemArchiver()

	genesis := RandGenesisProof(t, 1000)
	x := genesis.Contract.AssetID()
	send := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 1000, asset.SpendSeal(0)),
	)
	saveAll(t, store, send)

	report, err := NewVerifier(VerifierConfig{Source: store}).Verify(
		ctx, send,
	)
	require.NoError(t, err)
	require.Equal(t, StateFailed, report.State)
	require.Len(t, report.Failures, 1)
	require.ErrorIs(t, report.Failures[0], ErrMissingAncestor)
	require.ErrorIs(t, report.Err(), ErrMissingAncestor)

	// A proof without inputs and contract bottoms out immediately.
	orphan := spend(nil, asset.NewEntry(x, 1, asset.SpendSeal(0)))
	report, err = NewVerifier(VerifierConfig{Source: store}).Verify(
		ctx, orphan,
	)
	require.NoError(t, err)
	requireFailure(t, report, ErrMissingAncestor)
}

// TestVerifyBurnNotSpendable makes sure burned amounts can't be claimed by
// a later proof.
func TestVerifyBurnNotSpendable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemArchiver()

	genesis := RandGenesisProof(t, 10)
	x := genesis.Contract.AssetID()
	burn := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 10, asset.BurnSeal()),
	)
	saveAll(t, store, genesis, burn)

	report, err := NewVerifier(VerifierConfig{Source: store}).Verify(
		ctx, burn,
	)
	require.NoError(t, err)
	require.Equal(t, StateVerified, report.State)

	// No output index of the burn transaction carries the amount.
	for i := uint32(0); i < 3; i++ {
		revive := spend(
			[]wire.OutPoint{op(burn, i)},
			asset.NewEntry(x, 10, asset.SpendSeal(0)),
		)
		report, err := NewVerifier(VerifierConfig{Source: store}).Verify(
			ctx, revive,
		)
		require.NoError(t, err)
		requireFailure(t, report, ErrMissingAncestor)
	}
}

func TestVerifyCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemArchiver()

	// The anchor txid isn't covered by the digest, so a forged proof can
	// claim to be anchored in the transaction it spends from.
	txid := test.RandHash()
	x := asset.RandID(t)
	loop := &Proof{
		Inputs:     []wire.OutPoint{{Hash: txid, Index: 0}},
		Outputs:    []asset.Entry{asset.NewEntry(x, 10, asset.SpendSeal(0))},
		AnchorTxid: txid,
	}
	saveAll(t, store, loop)

	report, err := NewVerifier(VerifierConfig{Source: store}).Verify(
		ctx, loop,
	)
	require.NoError(t, err)
	require.Equal(t, StateFailed, report.State)
	requireFailure(t, report, ErrCycleDetected)
}

// TestVerifyCollectsAllFindings makes sure verification doesn't stop at the
// first problem.
func TestVerifyCollectsAllFindings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemArchiver()

	genesis := RandGenesisProof(t, 100)
	x := genesis.Contract.AssetID()
	bad := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 150, asset.SpendSeal(0)),
	)
	saveAll(t, store, genesis, bad)

	merge := spend(
		[]wire.OutPoint{op(bad, 0), test.RandOp(t)},
		asset.NewEntry(x, 150, asset.SpendSeal(0)),
		asset.Entry{AssetID: x, Amount: 1},
	)
	report, err := NewVerifier(VerifierConfig{Source: store}).Verify(
		ctx, merge,
	)
	require.NoError(t, err)
	require.Equal(t, StateFailed, report.State)
	requireFailure(t, report, ErrMissingAncestor)
	requireFailure(t, report, ErrConservationViolation)
	requireFailure(t, report, asset.ErrMalformedEntry)
}

func TestVerifyInvalidGenesis(t *testing.T) {
	t.Parallel()

	genesis := RandGenesisProof(t, 100)
	genesis.Inputs = genesis.Inputs[:1]

	report, err := NewVerifier(VerifierConfig{
		Source: NewMemArchiver(),
	}).Verify(context.Background(), genesis)
	require.NoError(t, err)
	requireFailure(t, report, ErrInvalidGenesis)
}

// anchorTx builds a transaction spending the proof's inputs with the given
// number of outputs and commits to the proof.
func anchorTx(t *testing.T, p *Proof, numOutputs int) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	for _, in := range p.Inputs {
		tx.AddTxIn(wire.NewTxIn(&in, nil, nil))
	}
	for i := 0; i < numOutputs; i++ {
		tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	}
	err := commitment.NewOpReturnCommitter().Commit(tx, p.Digest())
	require.NoError(t, err)

	p.AnchorTxid = tx.TxHash()
	return tx
}

func TestVerifyAnchors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemArchiver()
	chain := NewMockChainLookup()
	verifier := NewVerifier(VerifierConfig{
		Source:    store,
		Chain:     chain,
		Committer: commitment.NewOpReturnCommitter(),
	})

	genesis := RandGenesisProof(t, 100)
	x := genesis.Contract.AssetID()
	chain.AddTx(anchorTx(t, genesis, 1))
	saveAll(t, store, genesis)

	report, err := verifier.Verify(ctx, genesis)
	require.NoError(t, err)
	require.Equal(t, StateVerified, report.State, spew.Sdump(report))

	// A transfer that hasn't been broadcast yet is only partially
	// resolved, not failed.
	pending := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 100, asset.SpendSeal(1)),
	)
	anchorTx(t, pending, 2)

	report, err = verifier.Verify(ctx, pending)
	require.NoError(t, err)
	require.Equal(t, StatePartiallyResolved, report.State)
	require.Equal(t, []chainhash.Hash{pending.AnchorTxid}, report.Unresolved)
	require.NotEmpty(t, report.Warnings)
	require.True(t, report.Accepted())

	// Binding to an output the transaction doesn't have fails.
	unbound := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 100, asset.SpendSeal(3)),
	)
	chain.AddTx(anchorTx(t, unbound, 2))
	report, err = verifier.Verify(ctx, unbound)
	require.NoError(t, err)
	require.Equal(t, StateFailed, report.State)
	requireFailure(t, report, ErrAnchorMismatch)

	// A transaction without the commitment fails.
	uncommitted := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 100, asset.SpendSeal(0)),
	)
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&uncommitted.Inputs[0], nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	uncommitted.AnchorTxid = tx.TxHash()
	chain.AddTx(tx)

	report, err = verifier.Verify(ctx, uncommitted)
	require.NoError(t, err)
	requireFailure(t, report, ErrAnchorMismatch)

	// A transaction that doesn't spend the proof's input fails.
	detached := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 100, asset.SpendSeal(0)),
	)
	tx = wire.NewMsgTx(2)
	other := test.RandOp(t)
	tx.AddTxIn(wire.NewTxIn(&other, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	require.NoError(t, commitment.NewOpReturnCommitter().Commit(
		tx, detached.Digest(),
	))
	detached.AnchorTxid = tx.TxHash()
	chain.AddTx(tx)

	report, err = verifier.Verify(ctx, detached)
	require.NoError(t, err)
	requireFailure(t, report, ErrAnchorMismatch)
}

// TestVerifyReanchoredCopy makes sure a copy of an honest proof anchored in
// another transaction is checked against its own anchor instead of being
// taken for the original.
func TestVerifyReanchoredCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemArchiver()
	chain := NewMockChainLookup()
	verifier := NewVerifier(VerifierConfig{
		Source:    store,
		Chain:     chain,
		Committer: commitment.NewOpReturnCommitter(),
	})

	genesis := RandGenesisProof(t, 100)
	x := genesis.Contract.AssetID()
	chain.AddTx(anchorTx(t, genesis, 1))

	send := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 100, asset.SpendSeal(0)),
	)
	chain.AddTx(anchorTx(t, send, 1))

	// The copy claims the output of a transaction that carries no
	// commitment.
	copied := *send
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&send.Inputs[0], nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	copied.AnchorTxid = tx.TxHash()
	chain.AddTx(tx)

	require.Equal(t, send.Digest(), copied.Digest())
	require.NotEqual(t, send.Identity(), copied.Identity())
	saveAll(t, store, genesis, send, &copied)

	inflate := spend(
		[]wire.OutPoint{op(send, 0), op(&copied, 0)},
		asset.NewEntry(x, 200, asset.SpendSeal(0)),
	)
	chain.AddTx(anchorTx(t, inflate, 1))

	report, err := verifier.Verify(ctx, inflate)
	require.NoError(t, err)
	require.Equal(t, StateFailed, report.State, spew.Sdump(report))
	requireFailure(t, report, ErrAnchorMismatch)
	require.Equal(t, 3, report.Ancestors)
	require.Len(t, report.Ancestry, 3)

	// Both outputs of a single parent only visit it once.
	split := spend(
		[]wire.OutPoint{op(genesis, 0)},
		asset.NewEntry(x, 60, asset.SpendSeal(0)),
		asset.NewEntry(x, 40, asset.SpendSeal(1)),
	)
	chain.AddTx(anchorTx(t, split, 2))
	saveAll(t, store, split)

	merge := spend(
		[]wire.OutPoint{op(split, 0), op(split, 1)},
		asset.NewEntry(x, 100, asset.SpendSeal(0)),
	)
	chain.AddTx(anchorTx(t, merge, 1))

	report, err = verifier.Verify(ctx, merge)
	require.NoError(t, err)
	require.Equal(t, StateVerified, report.State, spew.Sdump(report))
	require.Equal(t, 2, report.Ancestors)
}

func TestVerifyCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewVerifier(VerifierConfig{Source: NewMemArchiver()}).Verify(
		ctx, RandGenesisProof(t, 1),
	)
	require.ErrorIs(t, err, context.Canceled)
}
