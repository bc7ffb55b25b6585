package proof

import (
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/internal/test"
)

// MockChainLookup is an in-memory ChainLookup.
type MockChainLookup struct {
	mu  sync.Mutex
	txs map[chainhash.Hash]*wire.MsgTx
}

// NewMockChainLookup creates an empty mock chain.
func NewMockChainLookup() *MockChainLookup {
	return &MockChainLookup{
		txs: make(map[chainhash.Hash]*wire.MsgTx),
	}
}

// AddTx makes the transaction known to the mock chain.
func (m *MockChainLookup) AddTx(tx *wire.MsgTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txs[tx.TxHash()] = tx
}

// FetchTransaction returns a known transaction or ErrTxNotFound.
func (m *MockChainLookup) FetchTransaction(_ context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txid]
	if !ok {
		return nil, ErrTxNotFound
	}
	return tx, nil
}

var _ ChainLookup = (*MockChainLookup)(nil)

// RandGenesisProof creates a genesis proof for a random contract with the
// given supply, anchored in a random txid.
func RandGenesisProof(t testing.TB, supply uint64) *Proof {
	t.Helper()

	contract := asset.RandContract(t, supply)

	return &Proof{
		Inputs: []wire.OutPoint{
			contract.IssuanceUtxo, contract.InitialOwnerUtxo,
		},
		Outputs: []asset.Entry{
			asset.NewEntry(
				contract.AssetID(), supply, asset.SpendSeal(0),
			),
		},
		Contract:   contract,
		AnchorTxid: test.RandHash(),
	}
}
