package freighter

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/internal/test"
	"github.com/lightninglabs/kaleido/proof"
	"github.com/stretchr/testify/require"
)

// holdingProof creates and stores a proof that assigns entries to the
// outputs of a random anchor transaction.
func holdingProof(t *testing.T, store proof.Archiver,
	entries ...asset.Entry) *proof.Proof {

	t.Helper()

	p := &proof.Proof{
		Inputs:     []wire.OutPoint{test.RandOp(t)},
		Outputs:    entries,
		AnchorTxid: test.RandHash(),
	}
	require.NoError(t, store.SaveProof(context.Background(), p))

	return p
}

func utxoAt(p *proof.Proof, idx uint32, amt btcutil.Amount) Utxo {
	return Utxo{
		OutPoint: wire.OutPoint{Hash: p.AnchorTxid, Index: idx},
		Amount:   amt,
	}
}

// TestSelectCommitmentsChange checks that the surplus of the selected output
// is returned as change.
func TestSelectCommitmentsChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := proof.NewMemArchiver()

	genesis := proof.RandGenesisProof(t, 100)
	require.NoError(t, store.SaveProof(ctx, genesis))
	x := genesis.Contract.AssetID()

	utxo := utxoAt(genesis, 0, 5000)
	alloc, err := SelectCommitments(ctx, store, x, 30, []Utxo{utxo})
	require.NoError(t, err)

	require.Equal(t, x, alloc.AssetID)
	require.Equal(t, []wire.OutPoint{utxo.OutPoint}, alloc.Inputs)
	require.Len(t, alloc.Proofs, 1)
	require.Equal(t, genesis.Digest(), alloc.Proofs[0].Digest())
	require.EqualValues(t, 30, alloc.AssetAmount)
	require.Equal(t, map[asset.ID]uint64{x: 70}, alloc.Change)
	require.Equal(t, btcutil.Amount(5000), alloc.AnchorValue)

	totals, err := alloc.Totals()
	require.NoError(t, err)
	require.Equal(t, map[asset.ID]uint64{x: 100}, totals)
}

// TestSelectCommitmentsMultiAsset checks that the other assets sharing a
// selected output are carried over as change.
func TestSelectCommitmentsMultiAsset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := proof.NewMemArchiver()

	x, y := asset.RandID(t), asset.RandID(t)
	p := holdingProof(
		t, store,
		asset.NewEntry(x, 50, asset.SpendSeal(0)),
		asset.NewEntry(y, 20, asset.SpendSeal(0)),
	)

	alloc, err := SelectCommitments(
		ctx, store, x, 10, []Utxo{utxoAt(p, 0, 1000)},
	)
	require.NoError(t, err)

	require.EqualValues(t, 10, alloc.AssetAmount)
	require.Equal(t, map[asset.ID]uint64{x: 40, y: 20}, alloc.Change)
}

// TestSelectCommitmentsGreedy checks that outputs are consumed in order
// until the amount is covered.
func TestSelectCommitmentsGreedy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := proof.NewMemArchiver()

	x := asset.RandID(t)
	p := holdingProof(
		t, store,
		asset.NewEntry(x, 40, asset.SpendSeal(0)),
		asset.NewEntry(x, 40, asset.SpendSeal(1)),
		asset.NewEntry(x, 40, asset.SpendSeal(2)),
	)
	utxos := []Utxo{
		utxoAt(p, 2, 1000), utxoAt(p, 0, 1000), utxoAt(p, 1, 1000),
	}

	alloc, err := SelectCommitments(ctx, store, x, 60, utxos)
	require.NoError(t, err)

	require.Equal(t, []wire.OutPoint{
		utxoAt(p, 0, 0).OutPoint, utxoAt(p, 1, 0).OutPoint,
	}, alloc.Inputs)
	require.Len(t, alloc.Proofs, 1)
	require.EqualValues(t, 60, alloc.AssetAmount)
	require.Equal(t, map[asset.ID]uint64{x: 20}, alloc.Change)
	require.Equal(t, btcutil.Amount(2000), alloc.AnchorValue)
}

// TestSelectCommitmentsDeterministic checks that the selection doesn't
// depend on the order the wallet lists its outputs in.
func TestSelectCommitmentsDeterministic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := proof.NewMemArchiver()

	x := asset.RandID(t)
	var utxos []Utxo
	for i := 0; i < 5; i++ {
		p := holdingProof(
			t, store, asset.NewEntry(x, 10, asset.SpendSeal(0)),
		)
		utxos = append(utxos, utxoAt(p, 0, 1000))
	}
	utxos = append(utxos, Utxo{OutPoint: test.RandOp(t), Amount: 1000})

	expected, err := SelectCommitments(ctx, store, x, 25, utxos)
	require.NoError(t, err)
	require.Len(t, expected.Inputs, 3)

	for i := 0; i < 10; i++ {
		shuffled := append([]Utxo(nil), utxos...)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		alloc, err := SelectCommitments(ctx, store, x, 25, shuffled)
		require.NoError(t, err)
		require.Equal(t, expected.Inputs, alloc.Inputs)
		require.Equal(t, expected.Change, alloc.Change)
	}
}

func TestSelectCommitmentsErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := proof.NewMemArchiver()

	x := asset.RandID(t)
	p := holdingProof(
		t, store,
		asset.NewEntry(x, 40, asset.SpendSeal(0)),
		asset.NewEntry(x, 40, asset.SpendSeal(1)),
	)
	utxos := []Utxo{
		utxoAt(p, 0, 1000), utxoAt(p, 1, 1000),
		{OutPoint: test.RandOp(t), Amount: 50000},
	}

	t.Run("zero amount", func(t *testing.T) {
		_, err := SelectCommitments(ctx, store, x, 0, utxos)
		require.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("insufficient", func(t *testing.T) {
		_, err := SelectCommitments(ctx, store, x, 81, utxos)
		require.ErrorIs(t, err, ErrInsufficientFunds)

		var fundsErr *InsufficientFundsError
		require.True(t, errors.As(err, &fundsErr))
		require.EqualValues(t, 81, fundsErr.Requested)
		require.EqualValues(t, 80, fundsErr.Available)
	})

	t.Run("unknown asset", func(t *testing.T) {
		_, err := SelectCommitments(
			ctx, store, asset.RandID(t), 1, utxos,
		)
		require.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("ambiguous", func(t *testing.T) {
		rival := &proof.Proof{
			Inputs:     []wire.OutPoint{test.RandOp(t)},
			Outputs:    []asset.Entry{asset.NewEntry(x, 5, asset.SpendSeal(0))},
			AnchorTxid: p.AnchorTxid,
		}
		ambiguousStore := proof.NewMemArchiver()
		require.NoError(t, ambiguousStore.SaveProof(ctx, p))
		require.NoError(t, ambiguousStore.SaveProof(ctx, rival))

		_, err := SelectCommitments(ctx, ambiguousStore, x, 10, utxos)
		require.ErrorIs(t, err, ErrAmbiguousProof)
	})
}

// TestSelectCommitmentsReanchoredCopies checks that copies of one proof
// anchored in different transactions are each kept for the input they
// justify.
func TestSelectCommitmentsReanchoredCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := proof.NewMemArchiver()

	x := asset.RandID(t)
	p := holdingProof(t, store, asset.NewEntry(x, 50, asset.SpendSeal(0)))

	copied := *p
	copied.AnchorTxid = test.RandHash()
	require.NoError(t, store.SaveProof(ctx, &copied))
	require.Equal(t, p.Digest(), copied.Digest())

	utxos := []Utxo{utxoAt(p, 0, 1000), utxoAt(&copied, 0, 1000)}
	alloc, err := SelectCommitments(ctx, store, x, 100, utxos)
	require.NoError(t, err)
	require.Len(t, alloc.Inputs, 2)
	require.Len(t, alloc.Proofs, 2)
	require.NotEqual(
		t, alloc.Proofs[0].Identity(), alloc.Proofs[1].Identity(),
	)

	// Every input stays justified by one of the kept proofs.
	_, err = SpendProofs(alloc, TransferSpecs(
		alloc, test.RandAddress(t, testParams), 1000, nil, 0,
	))
	require.NoError(t, err)
}

// TestSelectCommitmentsOverflow checks that amounts adding up past the
// largest uint64 are rejected.
func TestSelectCommitmentsOverflow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := proof.NewMemArchiver()

	x, y := asset.RandID(t), asset.RandID(t)
	var utxos []Utxo
	for i := 0; i < 2; i++ {
		p := holdingProof(
			t, store,
			asset.NewEntry(x, 1, asset.SpendSeal(0)),
			asset.NewEntry(y, math.MaxUint64, asset.SpendSeal(0)),
		)
		utxos = append(utxos, utxoAt(p, 0, 1000))
	}

	// The change of the other asset overflows.
	_, err := SelectCommitments(ctx, store, x, 2, utxos)
	require.ErrorIs(t, err, asset.ErrMalformedEntry)

	// Large amounts that fit are fine.
	alloc, err := SelectCommitments(ctx, store, y, 1, utxos[:1])
	require.NoError(t, err)
	require.Equal(t, map[asset.ID]uint64{
		x: 1, y: math.MaxUint64 - 1,
	}, alloc.Change)

	// Selected and change units of the same asset overflow.
	doubled := holdingProof(
		t, store,
		asset.NewEntry(y, math.MaxUint64, asset.SpendSeal(0)),
		asset.NewEntry(y, 1, asset.SpendSeal(0)),
	)
	_, err = SelectCommitments(
		ctx, store, y, math.MaxUint64,
		[]Utxo{utxoAt(doubled, 0, 1000)},
	)
	require.ErrorIs(t, err, asset.ErrMalformedEntry)

	alloc = &Allocation{
		AssetID:     y,
		AssetAmount: 1,
		Change:      map[asset.ID]uint64{y: math.MaxUint64},
	}
	_, err = alloc.Totals()
	require.ErrorIs(t, err, asset.ErrMalformedEntry)
}

func TestSelectFunding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := proof.NewMemArchiver()

	x := asset.RandID(t)
	p := holdingProof(
		t, store,
		asset.NewEntry(x, 40, asset.SpendSeal(0)),
		asset.NewEntry(x, 40, asset.SpendSeal(1)),
	)
	plain := Utxo{OutPoint: test.RandOp(t), Amount: 3000}
	utxos := []Utxo{utxoAt(p, 0, 1000), utxoAt(p, 1, 1000), plain}

	alloc, err := SelectCommitments(ctx, store, x, 10, utxos)
	require.NoError(t, err)

	// The allocation covers the target on its own.
	require.NoError(t, SelectFunding(ctx, store, alloc, utxos, 1000))
	require.Empty(t, alloc.Funding)

	// Outputs carrying assets are never used as funding.
	require.NoError(t, SelectFunding(ctx, store, alloc, utxos, 4000))
	require.Equal(t, []Utxo{plain}, alloc.Funding)
	require.Equal(t, btcutil.Amount(4000), alloc.TotalValue())

	err = SelectFunding(ctx, store, alloc, utxos, 4001)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}
