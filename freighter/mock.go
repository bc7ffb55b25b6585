package freighter

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// MockWalletAnchor is an in-memory wallet. It tracks the outputs paying to
// the addresses it handed out and updates them as transactions are
// published.
type MockWalletAnchor struct {
	// ListErr, SignErr and PublishErr make the matching call fail.
	ListErr    error
	SignErr    error
	PublishErr error

	// PublishSignal receives every published transaction if set.
	PublishSignal chan *wire.MsgTx

	params *chaincfg.Params
	seed   byte

	mu        sync.Mutex
	utxos     map[wire.OutPoint]Utxo
	scripts   map[string]struct{}
	nextIndex uint32
	published []*wire.MsgTx
}

// NewMockWalletAnchor creates an empty mock wallet. Wallets created with
// different seeds hand out different addresses.
func NewMockWalletAnchor(params *chaincfg.Params, seed byte) *MockWalletAnchor {
	return &MockWalletAnchor{
		params:  params,
		seed:    seed,
		utxos:   make(map[wire.OutPoint]Utxo),
		scripts: make(map[string]struct{}),
	}
}

// AddUtxo credits the wallet with an output.
func (m *MockWalletAnchor) AddUtxo(op wire.OutPoint, amt btcutil.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.utxos[op] = Utxo{OutPoint: op, Amount: amt}
}

// Published returns all transactions published through the wallet.
func (m *MockWalletAnchor) Published() []*wire.MsgTx {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*wire.MsgTx(nil), m.published...)
}

// ListUnspent returns the wallet's outputs, sorted.
func (m *MockWalletAnchor) ListUnspent(ctx context.Context) ([]Utxo, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	utxos := make([]Utxo, 0, len(m.utxos))
	for _, utxo := range m.utxos {
		utxos = append(utxos, utxo)
	}

	return SortUtxos(utxos), nil
}

// NewAddress derives the next p2wkh address of the wallet.
func (m *MockWalletAnchor) NewAddress(ctx context.Context) (btcutil.Address,
	error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var keySeed [5]byte
	keySeed[0] = m.seed
	binary.BigEndian.PutUint32(keySeed[1:], m.nextIndex)
	m.nextIndex++

	keyBytes := sha256.Sum256(keySeed[:])
	_, pubKey := btcec.PrivKeyFromBytes(keyBytes[:])

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), m.params,
	)
	if err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	m.scripts[string(pkScript)] = struct{}{}

	return addr, nil
}

// SignPsbt "signs" every input with a dummy witness. All inputs must belong
// to the wallet.
func (m *MockWalletAnchor) SignPsbt(ctx context.Context,
	packet *psbt.Packet) (*wire.MsgTx, error) {

	if m.SignErr != nil {
		return nil, m.SignErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := packet.UnsignedTx.Copy()
	for _, txIn := range tx.TxIn {
		if _, ok := m.utxos[txIn.PreviousOutPoint]; !ok {
			return nil, fmt.Errorf("input %v not owned by wallet",
				txIn.PreviousOutPoint)
		}
		txIn.Witness = wire.TxWitness{{0x01}, {0x02}}
	}

	return tx, nil
}

// PublishTransaction spends the transaction's inputs and credits the outputs
// paying to the wallet.
func (m *MockWalletAnchor) PublishTransaction(ctx context.Context,
	tx *wire.MsgTx) error {

	if m.PublishErr != nil {
		return m.PublishErr
	}

	m.Receive(tx)

	m.mu.Lock()
	m.published = append(m.published, tx)
	m.mu.Unlock()

	if m.PublishSignal != nil {
		select {
		case m.PublishSignal <- tx:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Receive applies a transaction seen on chain to the wallet.
func (m *MockWalletAnchor) Receive(tx *wire.MsgTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, txIn := range tx.TxIn {
		delete(m.utxos, txIn.PreviousOutPoint)
	}

	txid := tx.TxHash()
	for i, txOut := range tx.TxOut {
		if _, ok := m.scripts[string(txOut.PkScript)]; !ok {
			continue
		}
		op := wire.OutPoint{Hash: txid, Index: uint32(i)}
		m.utxos[op] = Utxo{
			OutPoint: op,
			Amount:   btcutil.Amount(txOut.Value),
		}
	}
}

// A compile-time interface to ensure MockWalletAnchor meets the WalletAnchor
// interface.
var _ WalletAnchor = (*MockWalletAnchor)(nil)
