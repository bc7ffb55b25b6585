package freighter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/proof"
)

var (
	// ErrInsufficientFunds is returned when the wallet doesn't hold
	// enough of an asset, or enough bitcoin to anchor a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoProofForOutpoint is returned when an input that is supposed
	// to carry assets has no history.
	ErrNoProofForOutpoint = errors.New("no proof for outpoint")

	// ErrAmbiguousProof is returned when more than one proof claims an
	// outpoint.
	ErrAmbiguousProof = errors.New("multiple proofs claim outpoint")

	// ErrInvalidAmount is returned when a zero amount is requested.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// InsufficientFundsError is returned when the wallet holds less of an asset
// than requested.
type InsufficientFundsError struct {
	// AssetID is the requested asset.
	AssetID asset.ID

	// Requested is the requested amount.
	Requested uint64

	// Available is the amount held by the wallet.
	Available uint64
}

// Error returns the error message.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%v: asset %v, requested %d, available %d",
		ErrInsufficientFunds, e.AssetID, e.Requested, e.Available)
}

// Is makes errors.Is match ErrInsufficientFunds.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Allocation is the result of selecting asset carrying outputs for a
// transfer.
type Allocation struct {
	// AssetID is the asset being transferred.
	AssetID asset.ID

	// Inputs are the chosen outpoints, in selection order.
	Inputs []wire.OutPoint

	// Proofs are the distinct proofs backing the inputs.
	Proofs []*proof.Proof

	// AnchorValue is the on-chain value of the inputs.
	AnchorValue btcutil.Amount

	// AssetAmount is the amount of the asset taken from the inputs. It
	// always equals the requested amount.
	AssetAmount uint64

	// Change is what's left of every asset on the inputs once
	// AssetAmount has been taken.
	Change map[asset.ID]uint64

	// Funding are outputs without asset history spent alongside the
	// inputs to pay for the transaction. They aren't part of the proof.
	Funding []Utxo
}

// Totals returns the full amount of every asset carried by the inputs.
func (a *Allocation) Totals() (map[asset.ID]uint64, error) {
	totals := make(map[asset.ID]uint64, len(a.Change)+1)
	for id, amt := range a.Change {
		totals[id] = amt
	}
	if a.AssetAmount > 0 {
		total, err := asset.AddAmount(
			a.AssetID, totals[a.AssetID], a.AssetAmount,
		)
		if err != nil {
			return nil, err
		}
		totals[a.AssetID] = total
	}
	return totals, nil
}

// TotalValue returns the on-chain value of inputs and funding.
func (a *Allocation) TotalValue() btcutil.Amount {
	total := a.AnchorValue
	for _, utxo := range a.Funding {
		total += utxo.Amount
	}
	return total
}

// SortUtxos returns a copy of the utxos ordered by txid bytes, then index.
func SortUtxos(utxos []Utxo) []Utxo {
	sorted := make([]Utxo, len(utxos))
	copy(sorted, utxos)

	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].OutPoint, sorted[j].OutPoint
		if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
			return c < 0
		}
		return a.Index < b.Index
	})

	return sorted
}

// claimingProof returns the single proof with entries bound to op, or nil.
func claimingProof(ctx context.Context, store proof.Fetcher,
	op wire.OutPoint) (*proof.Proof, []asset.Entry, error) {

	candidates, err := store.FetchProofs(ctx, op)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to fetch proofs for %v: %w",
			op, err)
	}

	var (
		claim   *proof.Proof
		entries []asset.Entry
		claims  = make(map[proof.Identity]struct{})
	)
	for _, p := range candidates {
		e := p.EntriesFor(op)
		if len(e) == 0 {
			continue
		}
		claims[p.Identity()] = struct{}{}
		claim, entries = p, e
	}

	if len(claims) > 1 {
		return nil, nil, fmt.Errorf("%w: %d proofs for %v",
			ErrAmbiguousProof, len(claims), op)
	}

	return claim, entries, nil
}

// SelectCommitments greedily picks asset carrying utxos until amt of the
// asset is covered. Utxos are visited in SortUtxos order. Every visited utxo
// with history is consumed, and whatever isn't needed of its assets ends up
// as change. Utxos without history are skipped.
func SelectCommitments(ctx context.Context, store proof.Fetcher,
	id asset.ID, amt uint64, utxos []Utxo) (*Allocation, error) {

	if amt == 0 {
		return nil, ErrInvalidAmount
	}

	alloc := &Allocation{
		AssetID: id,
		Change:  make(map[asset.ID]uint64),
	}
	seenProofs := make(map[proof.Identity]struct{})

	for _, utxo := range SortUtxos(utxos) {
		claim, entries, err := claimingProof(ctx, store, utxo.OutPoint)
		if err != nil {
			return nil, err
		}
		if claim == nil {
			continue
		}

		for _, entry := range entries {
			if entry.AssetID != id {
				change, err := asset.AddAmount(
					entry.AssetID, alloc.Change[entry.AssetID],
					entry.Amount,
				)
				if err != nil {
					return nil, err
				}
				alloc.Change[entry.AssetID] = change
				continue
			}

			// Selected and change units of the asset together
			// must stay representable.
			_, err := asset.AddAmount(
				id, alloc.AssetAmount+alloc.Change[id],
				entry.Amount,
			)
			if err != nil {
				return nil, err
			}

			take := amt - alloc.AssetAmount
			if entry.Amount < take {
				take = entry.Amount
			}
			alloc.AssetAmount += take

			if excess := entry.Amount - take; excess > 0 {
				alloc.Change[id] += excess
			}
		}

		alloc.AnchorValue += utxo.Amount
		alloc.Inputs = append(alloc.Inputs, utxo.OutPoint)

		// Copies of one proof anchored in different transactions
		// justify different inputs, so all of them are kept.
		claimID := claim.Identity()
		if _, ok := seenProofs[claimID]; !ok {
			seenProofs[claimID] = struct{}{}
			alloc.Proofs = append(alloc.Proofs, claim)
		}

		if alloc.AssetAmount == amt {
			log.Debugf("Selected %d inputs for %d of asset %v, "+
				"change=%v", len(alloc.Inputs), amt, id,
				alloc.Change)

			return alloc, nil
		}
	}

	return nil, &InsufficientFundsError{
		AssetID:   id,
		Requested: amt,
		Available: alloc.AssetAmount,
	}
}

// SelectFunding adds utxos without asset history to the allocation until
// its total value covers target.
func SelectFunding(ctx context.Context, store proof.Fetcher, alloc *Allocation,
	utxos []Utxo, target btcutil.Amount) error {

	used := make(map[wire.OutPoint]struct{}, len(alloc.Inputs))
	for _, op := range alloc.Inputs {
		used[op] = struct{}{}
	}
	for _, utxo := range alloc.Funding {
		used[utxo.OutPoint] = struct{}{}
	}

	for _, utxo := range SortUtxos(utxos) {
		if alloc.TotalValue() >= target {
			return nil
		}
		if _, ok := used[utxo.OutPoint]; ok {
			continue
		}

		claim, _, err := claimingProof(ctx, store, utxo.OutPoint)
		if err != nil {
			return err
		}
		if claim != nil {
			continue
		}

		alloc.Funding = append(alloc.Funding, utxo)
		used[utxo.OutPoint] = struct{}{}
	}

	if alloc.TotalValue() < target {
		return fmt.Errorf("%w: need %v on chain, have %v",
			ErrInsufficientFunds, target, alloc.TotalValue())
	}

	return nil
}
