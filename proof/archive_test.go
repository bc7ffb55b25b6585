package proof

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/internal/test"
	"github.com/stretchr/testify/require"
)

func newArchivers(t *testing.T) map[string]Archiver {
	fileArchiver, err := NewFileArchiver(t.TempDir())
	require.NoError(t, err)

	return map[string]Archiver{
		"file":   fileArchiver,
		"memory": NewMemArchiver(),
	}
}

// TestArchiverRoundTrip tests that a saved proof can be found under every
// outpoint it assigns to, and nowhere else.
func TestArchiverRoundTrip(t *testing.T) {
	t.Parallel()

	for name, archiver := range newArchivers(t) {
		archiver := archiver
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Issue 1000 units bound to U0:0.
			genesis := RandGenesisProof(t, 1000)
			require.NoError(t, archiver.SaveProof(ctx, genesis))

			u0 := wire.OutPoint{Hash: genesis.AnchorTxid}
			proofs, err := archiver.FetchProofs(ctx, u0)
			require.NoError(t, err)
			require.Len(t, proofs, 1)
			require.Equal(t, genesis, proofs[0])
			require.Equal(t, []asset.Entry{
				asset.NewEntry(
					genesis.Contract.AssetID(), 1000,
					asset.SpendSeal(0),
				),
			}, proofs[0].Outputs)

			// Other outputs of the same tx have no history.
			proofs, err = archiver.FetchProofs(
				ctx, wire.OutPoint{Hash: u0.Hash, Index: 1},
			)
			require.NoError(t, err)
			require.Empty(t, proofs)

			// Saving again doesn't duplicate.
			require.NoError(t, archiver.SaveProof(ctx, genesis))
			proofs, err = archiver.FetchProofs(ctx, u0)
			require.NoError(t, err)
			require.Len(t, proofs, 1)

			// A transfer anchored elsewhere is indexed under both
			// of its outputs.
			id := genesis.Contract.AssetID()
			transfer := &Proof{
				Inputs: []wire.OutPoint{u0},
				Outputs: []asset.Entry{
					asset.NewEntry(id, 400, asset.SpendSeal(0)),
					asset.NewEntry(id, 500, asset.SpendSeal(1)),
					asset.NewEntry(id, 100, asset.BurnSeal()),
				},
				AnchorTxid: test.RandHash(),
			}
			require.NoError(t, archiver.SaveProof(ctx, transfer))
			for i := uint32(0); i < 2; i++ {
				proofs, err := archiver.FetchProofs(
					ctx, wire.OutPoint{
						Hash:  transfer.AnchorTxid,
						Index: i,
					},
				)
				require.NoError(t, err)
				require.Equal(t, []*Proof{transfer}, proofs)
			}
		})
	}
}

func TestArchiverRejectsUnstorable(t *testing.T) {
	t.Parallel()

	for name, archiver := range newArchivers(t) {
		archiver := archiver
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			unanchored := RandGenesisProof(t, 1)
			unanchored.AnchorTxid = chainhash.Hash{}
			err := archiver.SaveProof(ctx, unanchored)
			require.ErrorIs(t, err, ErrUnanchored)

			malformed := RandGenesisProof(t, 1)
			malformed.Outputs[0].Seal = asset.Seal{}
			err = archiver.SaveProof(ctx, malformed)
			require.ErrorIs(t, err, asset.ErrMalformedEntry)
		})
	}
}

func TestFileArchiverLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archiver, err := NewFileArchiver(dir)
	require.NoError(t, err)

	ctx := context.Background()
	genesis := RandGenesisProof(t, 50)
	genesis.Outputs = append(genesis.Outputs, asset.NewEntry(
		genesis.Contract.AssetID(), 50, asset.BurnSeal(),
	))
	require.NoError(t, archiver.SaveProof(ctx, genesis))

	name := genesis.Digest().String() + ProofFileSuffix
	spendPath := filepath.Join(
		dir, ProofDirName, genesis.AnchorTxid.String()+":0", name,
	)
	burnPath := filepath.Join(
		dir, ProofDirName, genesis.AnchorTxid.String()+":BURN", name,
	)
	require.FileExists(t, spendPath)
	require.FileExists(t, burnPath)

	burns, err := archiver.FetchBurns(ctx, genesis.AnchorTxid)
	require.NoError(t, err)
	require.Equal(t, []*Proof{genesis}, burns)

	// Leftover temp files from an interrupted write are ignored.
	tmp := filepath.Join(filepath.Dir(spendPath), ".tmp-123")
	require.NoError(t, os.WriteFile(tmp, []byte{1, 2}, 0600))
	proofs, err := archiver.FetchProofs(
		ctx, wire.OutPoint{Hash: genesis.AnchorTxid},
	)
	require.NoError(t, err)
	require.Len(t, proofs, 1)
}

type staticFetcher map[wire.OutPoint][]*Proof

func (s staticFetcher) FetchProofs(_ context.Context,
	op wire.OutPoint) ([]*Proof, error) {

	return s[op], nil
}

func TestMultiArchiver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	local := NewMemArchiver()
	localProof := RandGenesisProof(t, 5)
	require.NoError(t, local.SaveProof(ctx, localProof))

	remoteProof := RandGenesisProof(t, 6)
	remoteOp := wire.OutPoint{Hash: remoteProof.AnchorTxid}
	remote := staticFetcher{remoteOp: {remoteProof}}

	multi := NewMultiArchiver(local, remote)

	proofs, err := multi.FetchProofs(
		ctx, wire.OutPoint{Hash: localProof.AnchorTxid},
	)
	require.NoError(t, err)
	require.Equal(t, []*Proof{localProof}, proofs)

	proofs, err = multi.FetchProofs(ctx, remoteOp)
	require.NoError(t, err)
	require.Equal(t, []*Proof{remoteProof}, proofs)

	// Remote proofs aren't persisted by a fetch.
	proofs, err = local.FetchProofs(ctx, remoteOp)
	require.NoError(t, err)
	require.Empty(t, proofs)
}
