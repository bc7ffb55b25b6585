package freighter

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/proof"
	"golang.org/x/exp/maps"
)

const (
	// txVersion is the version of every transaction we build.
	txVersion = 2
)

var (
	// ErrInvalidOutput is returned for an output spec that can't be turned
	// into a transaction output.
	ErrInvalidOutput = errors.New("invalid output spec")
)

// Destination is where an output spec sends its assets: either a bitcoin
// address or the burn sink.
type Destination struct {
	addr btcutil.Address
	burn bool
}

// ToAddress returns a destination paying to addr.
func ToAddress(addr btcutil.Address) Destination {
	return Destination{addr: addr}
}

// Burn returns the burn destination.
func Burn() Destination {
	return Destination{burn: true}
}

// Address returns the address of the destination. The second return value
// is false for the burn destination.
func (d Destination) Address() (btcutil.Address, bool) {
	return d.addr, d.addr != nil && !d.burn
}

// IsBurn returns true for the burn destination.
func (d Destination) IsBurn() bool {
	return d.burn
}

// String returns the destination as shown to users.
func (d Destination) String() string {
	switch {
	case d.burn:
		return "burn"
	case d.addr != nil:
		return d.addr.String()
	default:
		return "none"
	}
}

// OutputSpec describes one intended output of a transfer.
type OutputSpec struct {
	// Dest is where the output goes.
	Dest Destination

	// Value is the on-chain value of the output. Must be zero for burns.
	Value btcutil.Amount

	// Assets are the asset amounts assigned to the output.
	Assets map[asset.ID]uint64
}

// Transfer is an unsigned transaction together with the proof that will be
// anchored in it.
type Transfer struct {
	// Tx is the unsigned transaction.
	Tx *wire.MsgTx

	// Proof is the new proof. Its anchor txid is set once the
	// transaction is signed.
	Proof *proof.Proof
}

// sortedIDs returns the keys of the map in ascending byte order.
func sortedIDs[V any](m map[asset.ID]V) []asset.ID {
	ids := maps.Keys(m)
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

// BuildIssuance creates the issuance transaction of a contract. It spends
// both contract utxos and pays value to owner in output 0, which receives
// the whole supply.
func BuildIssuance(contract *asset.Contract, owner btcutil.Address,
	value btcutil.Amount) (*Transfer, error) {

	if err := contract.Validate(); err != nil {
		return nil, err
	}
	if value <= 0 {
		return nil, fmt.Errorf("%w: issuance output value %v",
			ErrInvalidOutput, value)
	}

	pkScript, err := txscript.PayToAddrScript(owner)
	if err != nil {
		return nil, fmt.Errorf("unable to create owner script: %w", err)
	}

	tx := wire.NewMsgTx(txVersion)
	tx.AddTxIn(wire.NewTxIn(&contract.IssuanceUtxo, nil, nil))
	tx.AddTxIn(wire.NewTxIn(&contract.InitialOwnerUtxo, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(value), pkScript))

	genesis := &proof.Proof{
		Inputs: []wire.OutPoint{
			contract.IssuanceUtxo, contract.InitialOwnerUtxo,
		},
		Outputs: []asset.Entry{
			asset.NewEntry(
				contract.AssetID(), contract.TotalSupply,
				asset.SpendSeal(0),
			),
		},
		Contract: contract,
	}

	return &Transfer{
		Tx:    tx,
		Proof: genesis,
	}, nil
}

// SpendProofs builds the transaction spending the allocation and the proof
// assigning its assets to specs. Address specs become transaction outputs in
// order, burn specs don't take an output index. Every allocated asset unit
// must be routed to exactly one spec.
func SpendProofs(alloc *Allocation, specs []OutputSpec) (*Transfer, error) {
	// Every input must be justified by one of the chosen proofs.
	for _, in := range alloc.Inputs {
		justified := false
		for _, p := range alloc.Proofs {
			if len(p.EntriesFor(in)) > 0 {
				justified = true
				break
			}
		}
		if !justified {
			return nil, fmt.Errorf("%w: %v", ErrNoProofForOutpoint,
				in)
		}
	}

	tx := wire.NewMsgTx(txVersion)
	for i := range alloc.Inputs {
		tx.AddTxIn(wire.NewTxIn(&alloc.Inputs[i], nil, nil))
	}
	for i := range alloc.Funding {
		tx.AddTxIn(wire.NewTxIn(&alloc.Funding[i].OutPoint, nil, nil))
	}

	var (
		entries []asset.Entry
		routed  = make(map[asset.ID]uint64)
		outIdx  uint32
	)
	for i, spec := range specs {
		var seal asset.Seal
		addr, isAddr := spec.Dest.Address()
		switch {
		case spec.Dest.IsBurn():
			if spec.Value != 0 {
				return nil, fmt.Errorf("%w: burn spec %d carries "+
					"%v", ErrInvalidOutput, i, spec.Value)
			}
			if len(spec.Assets) == 0 {
				return nil, fmt.Errorf("%w: burn spec %d has no "+
					"assets", asset.ErrMalformedEntry, i)
			}
			seal = asset.BurnSeal()

		case isAddr:
			if spec.Value <= 0 {
				return nil, fmt.Errorf("%w: spec %d to %v has "+
					"value %v", ErrInvalidOutput, i, addr,
					spec.Value)
			}
			pkScript, err := txscript.PayToAddrScript(addr)
			if err != nil {
				return nil, fmt.Errorf("unable to create script "+
					"for %v: %w", addr, err)
			}
			tx.AddTxOut(wire.NewTxOut(int64(spec.Value), pkScript))

			seal = asset.SpendSeal(outIdx)
			outIdx++

		default:
			return nil, fmt.Errorf("%w: spec %d has no destination",
				ErrInvalidOutput, i)
		}

		for _, id := range sortedIDs(spec.Assets) {
			amt := spec.Assets[id]
			if amt == 0 {
				continue
			}
			total, err := asset.AddAmount(id, routed[id], amt)
			if err != nil {
				return nil, err
			}
			routed[id] = total
			entries = append(entries, asset.NewEntry(id, amt, seal))
		}
	}

	// Value must neither be dropped nor created.
	allocated, err := alloc.Totals()
	if err != nil {
		return nil, err
	}
	ids := sortedIDs(allocated)
	for id := range routed {
		if _, ok := allocated[id]; !ok {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if allocated[id] != routed[id] {
			return nil, fmt.Errorf("%w: asset %v allocated %d, "+
				"routed %d", asset.ErrMalformedEntry, id,
				allocated[id], routed[id])
		}
	}

	inputs := make([]wire.OutPoint, len(alloc.Inputs))
	copy(inputs, alloc.Inputs)

	return &Transfer{
		Tx: tx,
		Proof: &proof.Proof{
			Inputs:  inputs,
			Outputs: entries,
		},
	}, nil
}

// copyAssets returns a copy of the asset map.
func copyAssets(m map[asset.ID]uint64) map[asset.ID]uint64 {
	c := make(map[asset.ID]uint64, len(m))
	maps.Copy(c, m)
	return c
}

// TransferSpecs returns the specs sending the allocated amount to recipient
// and everything else to change. The change output is omitted if there's
// nothing to return, or if change is nil.
func TransferSpecs(alloc *Allocation, recipient btcutil.Address,
	recipientValue btcutil.Amount, change btcutil.Address,
	changeValue btcutil.Amount) []OutputSpec {

	specs := []OutputSpec{{
		Dest:  ToAddress(recipient),
		Value: recipientValue,
		Assets: map[asset.ID]uint64{
			alloc.AssetID: alloc.AssetAmount,
		},
	}}

	if change == nil || (len(alloc.Change) == 0 && changeValue <= 0) {
		return specs
	}

	return append(specs, OutputSpec{
		Dest:   ToAddress(change),
		Value:  changeValue,
		Assets: copyAssets(alloc.Change),
	})
}

// BurnSpecs returns the specs destroying the allocated amount, with
// everything else going to change.
func BurnSpecs(alloc *Allocation, change btcutil.Address,
	changeValue btcutil.Amount) []OutputSpec {

	return []OutputSpec{{
		Dest: Burn(),
		Assets: map[asset.ID]uint64{
			alloc.AssetID: alloc.AssetAmount,
		},
	}, {
		Dest:   ToAddress(change),
		Value:  changeValue,
		Assets: copyAssets(alloc.Change),
	}}
}
