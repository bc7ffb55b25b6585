package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/kaleido"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/commitment"
	"github.com/lightninglabs/kaleido/freighter"
	"github.com/lightninglabs/kaleido/internal/test"
	"github.com/lightninglabs/kaleido/proof"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

const testRelay = "relay.test:3000"

// testRelayCourier is a relay backed by a MemArchiver.
type testRelayCourier struct {
	*proof.MemArchiver
}

func (r *testRelayCourier) PublishProof(ctx context.Context,
	p *proof.Proof) error {

	return r.SaveProof(ctx, p)
}

// cliHarness runs commands against a server backed by mocks. Every
// published transaction is confirmed when a command finishes.
type cliHarness struct {
	t      *testing.T
	wallet *freighter.MockWalletAnchor
	chain  *proof.MockChainLookup
	server *kaleido.Server
	out    bytes.Buffer
	app    *cli.App
}

func newCLIHarness(t *testing.T) *cliHarness {
	h := &cliHarness{
		t: t,
		wallet: freighter.NewMockWalletAnchor(
			&chaincfg.RegressionNetParams, 1,
		),
		chain: proof.NewMockChainLookup(),
	}
	h.wallet.AddUtxo(test.RandOp(t), 10000)
	h.wallet.AddUtxo(test.RandOp(t), 10000)

	h.server = kaleido.NewServer(&kaleido.Config{
		Network:     asset.NetworkRegtest,
		ChainParams: &chaincfg.RegressionNetParams,
		Wallet:      h.wallet,
		Chain:       h.chain,
		Store:       proof.NewMemArchiver(),
		Committer:   commitment.NewOpReturnCommitter(),
		RelayServer: testRelay,
		Courier: &testRelayCourier{
			MemArchiver: proof.NewMemArchiver(),
		},
	})

	connect := func(*cli.Context) (*session, error) {
		return &session{
			ctx:    context.Background(),
			server: h.server,
			close: func() error {
				for _, tx := range h.wallet.Published() {
					h.chain.AddTx(tx)
				}
				return nil
			},
		}, nil
	}
	h.app = newApp(connect, &h.out)

	return h
}

// run executes the command line and returns what it printed.
func (h *cliHarness) run(args ...string) (string, error) {
	h.out.Reset()
	err := h.app.Run(append([]string{"kaleido"}, args...))

	return h.out.String(), err
}

func (h *cliHarness) runJSON(v interface{}, args ...string) {
	h.t.Helper()

	out, err := h.run(args...)
	require.NoError(h.t, err)
	require.NoError(h.t, json.Unmarshal([]byte(out), v))
}

func TestIssueSendBurn(t *testing.T) {
	h := newCLIHarness(t)

	var issued parcelResult
	h.runJSON(&issued, "issueasset", "--title=gold", "--supply=1000")
	require.Equal(t, "gold", issued.Title)
	require.EqualValues(t, 1000, issued.Supply)
	require.True(t, issued.Published)

	var utxos []utxoResult
	h.runJSON(&utxos, "listunspent", "--json")

	var held uint64
	for _, utxo := range utxos {
		require.Empty(t, utxo.Error)
		for _, a := range utxo.Assets {
			require.Equal(t, issued.AssetID, a.AssetID)
			require.Equal(t, "gold", a.Title)
			held += a.Amount
		}
	}
	require.EqualValues(t, 1000, held)

	table, err := h.run("listunspent")
	require.NoError(t, err)
	require.Contains(t, table, "ASSET ID")
	require.Contains(t, table, issued.AssetID)

	addr, err := h.run("getnewaddress")
	require.NoError(t, err)
	addr = strings.TrimSpace(addr)
	require.True(t, strings.HasSuffix(addr, "@"+testRelay))

	var sent parcelResult
	h.runJSON(&sent, "sendtoaddress", addr, issued.AssetID, "300")
	require.Equal(t, addr, sent.Recipient)
	require.EqualValues(t, 300, sent.Amount)

	// Funds the burn's fee independently of the asset outputs.
	h.wallet.AddUtxo(test.RandOp(t), 10000)

	var burned parcelResult
	h.runJSON(&burned, "burn", issued.AssetID, "100")
	require.EqualValues(t, 100, burned.Amount)
	require.EqualValues(t, 100, burned.Burned)

	// We sent to ourselves, so only the burned units are gone.
	h.runJSON(&utxos, "listunspent", "--json")
	held = 0
	for _, utxo := range utxos {
		for _, a := range utxo.Assets {
			held += a.Amount
		}
	}
	require.EqualValues(t, 900, held)

	var summary syncResult
	h.runJSON(&summary, "sync")
	require.Zero(t, summary.Rejected)
}

func TestCommandArgErrors(t *testing.T) {
	h := newCLIHarness(t)
	id := asset.ID(test.RandHash()).String()

	testCases := []struct {
		name string
		args []string
	}{{
		name: "issue without supply",
		args: []string{"issueasset", "--title=gold"},
	}, {
		name: "issue with bad outpoint",
		args: []string{
			"issueasset", "--title=gold", "--supply=1",
			"--issuance_utxo=nope",
		},
	}, {
		name: "send missing amount",
		args: []string{"sendtoaddress", "addr@relay", id},
	}, {
		name: "send bad asset id",
		args: []string{"sendtoaddress", "addr@relay", "xyz", "1"},
	}, {
		name: "burn negative amount",
		args: []string{"burn", id, "-1"},
	}, {
		name: "burn unknown asset",
		args: []string{"burn", id, "1"},
	}}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			_, err := h.run(testCase.args...)
			require.Error(t, err)
		})
	}
}

// writeProofFile encodes the proof into a file and returns its path.
func writeProofFile(t *testing.T, p *proof.Proof) string {
	t.Helper()

	b, err := p.Bytes()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "genesis"+proof.ProofFileSuffix)
	require.NoError(t, os.WriteFile(path, b, 0600))

	return path
}

func TestDeserialize(t *testing.T) {
	h := newCLIHarness(t)

	genesis := proof.RandGenesisProof(t, 500)
	contract := genesis.Contract

	var result proofResult
	h.runJSON(&result, "deserialize", writeProofFile(t, genesis))

	require.Equal(t, genesis.Digest().String(), result.Digest)
	require.Equal(t, genesis.AnchorTxid.String(), result.AnchorTxid)
	require.Equal(t, []string{
		contract.IssuanceUtxo.String(),
		contract.InitialOwnerUtxo.String(),
	}, result.Inputs)
	require.Equal(t, []entryResult{{
		AssetID: contract.AssetID().String(),
		Amount:  500,
		Seal:    "spend(0)",
	}}, result.Outputs)

	require.NotNil(t, result.Contract)
	require.Equal(t, contract.AssetID().String(), result.Contract.AssetID)
	require.Equal(t, contract.Title, result.Contract.Title)
	require.EqualValues(t, 500, result.Contract.Supply)
	require.Equal(t, contract.Network.String(), result.Contract.Network)

	malformed := proof.RandGenesisProof(t, 500)
	malformed.Outputs[0].Amount = 0

	garbage := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte{0xff, 0x01}, 0600))

	testCases := []struct {
		name string
		args []string
	}{{
		name: "no path",
		args: []string{"deserialize"},
	}, {
		name: "missing file",
		args: []string{
			"deserialize", filepath.Join(t.TempDir(), "nope"),
		},
	}, {
		name: "garbage",
		args: []string{"deserialize", garbage},
	}, {
		name: "malformed entry",
		args: []string{"deserialize", writeProofFile(t, malformed)},
	}}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			out, err := h.run(testCase.args...)
			require.Error(t, err)
			require.NotContains(t, out, "digest")
		})
	}
}

func TestParseOutPoint(t *testing.T) {
	hash := test.RandHash()

	op, err := parseOutPoint(fmt.Sprintf("%v:7", hash))
	require.NoError(t, err)
	require.Equal(t, hash, op.Hash)
	require.EqualValues(t, 7, op.Index)

	for _, s := range []string{
		"", hash.String(), "abc:1", fmt.Sprintf("%v:x", hash),
		fmt.Sprintf("%v:4294967296", hash), fmt.Sprintf("%v:1:2", hash),
	} {
		_, err := parseOutPoint(s)
		require.Error(t, err, s)
	}
}

func TestConfigArgs(t *testing.T) {
	var args []string
	connect := func(ctx *cli.Context) (*session, error) {
		args = configArgs(ctx)
		return nil, fmt.Errorf("not connected")
	}

	app := newApp(connect, &bytes.Buffer{})
	err := app.Run([]string{
		"kaleido", "--network=regtest", "--bifrost=relay:1", "sync",
	})
	require.Error(t, err)
	require.Equal(
		t, []string{"--network=regtest", "--bifrost=relay:1"}, args,
	)
}

func TestAcquireLock(t *testing.T) {
	old := lockTimeout
	lockTimeout = 50 * time.Millisecond
	t.Cleanup(func() {
		lockTimeout = old
	})

	path := filepath.Join(t.TempDir(), "kaleido.lock")

	unlock, err := acquireLock(path)
	require.NoError(t, err)

	_, err = acquireLock(path)
	require.ErrorContains(t, err, "another kaleido command")

	require.NoError(t, unlock())

	unlock, err = acquireLock(path)
	require.NoError(t, err)
	require.NoError(t, unlock())
}
