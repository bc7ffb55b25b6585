package proof

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/commitment"
	"go.uber.org/multierr"
	"golang.org/x/exp/maps"
)

var (
	// ErrConservationViolation is returned when the amounts flowing into
	// a proof don't match the amounts flowing out of it.
	ErrConservationViolation = errors.New("conservation violation")

	// ErrMissingAncestor is returned when an input of a proof has no
	// history, so the chain can't be traced back to a contract.
	ErrMissingAncestor = errors.New("missing ancestor")

	// ErrAmbiguousAncestor is returned when more than one proof claims
	// an input.
	ErrAmbiguousAncestor = errors.New("ambiguous ancestor")

	// ErrCycleDetected is returned when a proof is its own ancestor.
	ErrCycleDetected = errors.New("cycle detected in proof graph")

	// ErrInvalidGenesis is returned when a genesis proof doesn't match its
	// contract.
	ErrInvalidGenesis = errors.New("invalid genesis proof")

	// ErrAnchorMismatch is returned when the anchor transaction doesn't
	// back the proof.
	ErrAnchorMismatch = errors.New("anchor transaction mismatch")

	// ErrTxNotFound is returned by a ChainLookup when a transaction isn't
	// known to the chain backend.
	ErrTxNotFound = errors.New("transaction not found")
)

// ChainLookup fetches transactions from the chain.
type ChainLookup interface {
	// FetchTransaction returns the transaction with the given txid, or
	// ErrTxNotFound.
	FetchTransaction(ctx context.Context,
		txid chainhash.Hash) (*wire.MsgTx, error)
}

// State is the outcome of a verification run.
type State uint8

const (
	// StatePending means the run hasn't finished.
	StatePending State = iota

	// StateVerified means every check passed.
	StateVerified

	// StateFailed means at least one check failed.
	StateFailed

	// StatePartiallyResolved means no check failed but some anchor
	// transactions couldn't be found on chain yet.
	StatePartiallyResolved
)

// String returns a human readable name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	case StatePartiallyResolved:
		return "partially_resolved"
	default:
		return fmt.Sprintf("<unknown state %d>", uint8(s))
	}
}

// Report collects every finding of a verification run.
type Report struct {
	// State is the final state of the run.
	State State

	// Failures holds every failed check.
	Failures []error

	// Unresolved are the anchor txids that aren't on chain yet.
	Unresolved []chainhash.Hash

	// Warnings are findings that don't fail verification.
	Warnings []string

	// Ancestors is the number of distinct ancestor proofs visited.
	Ancestors int

	// Ancestry holds the visited ancestor proofs, parents before their
	// children.
	Ancestry []*Proof
}

// Err returns all failures combined, or nil.
func (r *Report) Err() error {
	return multierr.Combine(r.Failures...)
}

// Accepted returns true if the proof may be stored. Unresolved anchors are
// tolerated so transfers can be checked before they're broadcast.
func (r *Report) Accepted() bool {
	return r.State == StateVerified || r.State == StatePartiallyResolved
}

// VerifierConfig holds the collaborators of a Verifier.
type VerifierConfig struct {
	// Source is used to look up ancestors.
	Source Fetcher

	// Chain is used to check anchoring. Anchors aren't checked if nil.
	Chain ChainLookup

	// Committer is used to find the proof digest in the anchor
	// transaction. Only used if Chain is set.
	Committer commitment.Committer
}

// Verifier walks a proof back to its contracts.
type Verifier struct {
	cfg VerifierConfig
}

// NewVerifier creates a new Verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	return &Verifier{
		cfg: cfg,
	}
}

// verifyRun holds the traversal state of a single Verify call.
type verifyRun struct {
	ctx context.Context
	cfg *VerifierConfig

	report *Report

	visiting   map[Identity]struct{}
	done       map[Identity]struct{}
	unresolved map[chainhash.Hash]struct{}

	// visited lists every finished proof in post-order.
	visited []*Proof
}

// Verify checks the proof and every ancestor. Findings are collected in the
// report. An error is only returned if a collaborator failed, in which case
// the report is incomplete.
func (v *Verifier) Verify(ctx context.Context, p *Proof) (*Report, error) {
	run := &verifyRun{
		ctx:        ctx,
		cfg:        &v.cfg,
		report:     &Report{State: StatePending},
		visiting:   make(map[Identity]struct{}),
		done:       make(map[Identity]struct{}),
		unresolved: make(map[chainhash.Hash]struct{}),
	}

	if err := run.visit(p); err != nil {
		return nil, err
	}

	report := run.report
	report.Ancestors = len(run.done) - 1
	report.Ancestry = run.visited[:len(run.visited)-1]
	switch {
	case len(report.Failures) > 0:
		report.State = StateFailed
	case len(report.Unresolved) > 0:
		report.State = StatePartiallyResolved
	default:
		report.State = StateVerified
	}

	log.Debugf("Verified proof %v: state=%v, failures=%d, unresolved=%d, "+
		"ancestors=%d", p.Digest(), report.State, len(report.Failures),
		len(report.Unresolved), report.Ancestors)

	return report, nil
}

func (r *verifyRun) fail(err error) {
	r.report.Failures = append(r.report.Failures, err)
}

func (r *verifyRun) warn(format string, args ...any) {
	r.report.Warnings = append(r.report.Warnings, fmt.Sprintf(format, args...))
}

// addAmount adds to a running total and records an overflow as a violation.
func (r *verifyRun) addAmount(totals map[asset.ID]uint64, id asset.ID,
	amt uint64, d Digest) {

	if totals[id] > math.MaxUint64-amt {
		r.fail(fmt.Errorf("%w: proof %v overflows amount of asset %v",
			ErrConservationViolation, d, id))
		return
	}
	totals[id] += amt
}

func (r *verifyRun) visit(p *Proof) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}

	// A copy of the same content anchored elsewhere is a separate node
	// and has its own anchor checked.
	id := p.Identity()
	d := id.Digest
	if _, ok := r.done[id]; ok {
		return nil
	}
	if _, ok := r.visiting[id]; ok {
		r.fail(fmt.Errorf("%w: proof %v", ErrCycleDetected, id))
		return nil
	}

	r.visiting[id] = struct{}{}
	defer func() {
		delete(r.visiting, id)
		r.done[id] = struct{}{}
		r.visited = append(r.visited, p)
	}()

	if err := p.Validate(); err != nil {
		r.fail(fmt.Errorf("proof %v: %w", d, err))
	}

	inbound := make(map[asset.ID]uint64)
	complete := true
	if p.IsGenesis() {
		r.checkGenesis(p, d)
		r.addAmount(
			inbound, p.Contract.AssetID(), p.Contract.TotalSupply, d,
		)
	} else {
		var err error
		complete, err = r.collectInbound(p, d, inbound)
		if err != nil {
			return err
		}
	}

	// Without every ancestor the inbound totals are meaningless, the
	// missing ancestors are already reported.
	if complete {
		r.checkConservation(p, d, inbound)
	}

	if r.cfg.Chain != nil {
		return r.checkAnchor(p, d)
	}

	return nil
}

// checkConservation compares the inbound totals against the outputs.
func (r *verifyRun) checkConservation(p *Proof, d Digest,
	inbound map[asset.ID]uint64) {

	outbound := make(map[asset.ID]uint64)
	for _, entry := range p.Outputs {
		r.addAmount(outbound, entry.AssetID, entry.Amount, d)
	}

	ids := maps.Keys(inbound)
	for id := range outbound {
		if _, ok := inbound[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return string(ids[i][:]) < string(ids[j][:])
	})
	for _, id := range ids {
		if inbound[id] != outbound[id] {
			r.fail(fmt.Errorf("%w: proof %v, asset %v: in=%d, "+
				"out=%d", ErrConservationViolation, d, id,
				inbound[id], outbound[id]))
		}
	}
}

func (r *verifyRun) checkGenesis(p *Proof, d Digest) {
	c := p.Contract
	if err := c.Validate(); err != nil {
		r.fail(fmt.Errorf("%w: proof %v: %v", ErrInvalidGenesis, d, err))
	}

	want := map[wire.OutPoint]struct{}{
		c.IssuanceUtxo:     {},
		c.InitialOwnerUtxo: {},
	}
	got := make(map[wire.OutPoint]struct{}, len(p.Inputs))
	for _, in := range p.Inputs {
		got[in] = struct{}{}
	}
	if len(p.Inputs) != len(want) || !maps.Equal(want, got) {
		r.fail(fmt.Errorf("%w: proof %v spends %v, contract names %v "+
			"and %v", ErrInvalidGenesis, d, p.Inputs, c.IssuanceUtxo,
			c.InitialOwnerUtxo))
	}
}

// collectInbound sums the ancestor entries bound to each input and visits
// the ancestors. It returns false if an input couldn't be attributed.
func (r *verifyRun) collectInbound(p *Proof, d Digest,
	inbound map[asset.ID]uint64) (bool, error) {

	if len(p.Inputs) == 0 {
		r.fail(fmt.Errorf("%w: proof %v has neither inputs nor a "+
			"contract", ErrMissingAncestor, d))
		return false, nil
	}

	complete := true
	seen := make(map[wire.OutPoint]struct{}, len(p.Inputs))
	for _, in := range p.Inputs {
		if _, ok := seen[in]; ok {
			r.fail(fmt.Errorf("%w: proof %v spends %v twice",
				ErrConservationViolation, d, in))
			continue
		}
		seen[in] = struct{}{}

		candidates, err := r.cfg.Source.FetchProofs(r.ctx, in)
		if err != nil {
			return false, fmt.Errorf("unable to fetch ancestors of "+
				"%v: %w", in, err)
		}

		var (
			parent  *Proof
			entries []asset.Entry
		)
		parents := make(map[Identity]struct{})
		for _, c := range candidates {
			e := c.EntriesFor(in)
			if len(e) == 0 {
				continue
			}
			parents[c.Identity()] = struct{}{}
			parent, entries = c, e
		}

		switch len(parents) {
		case 0:
			r.fail(fmt.Errorf("%w: no proof for input %v of proof "+
				"%v", ErrMissingAncestor, in, d))
			complete = false
			continue

		case 1:

		default:
			r.fail(fmt.Errorf("%w: %d proofs claim input %v of "+
				"proof %v", ErrAmbiguousAncestor, len(parents),
				in, d))
			complete = false
			continue
		}

		for _, entry := range entries {
			r.addAmount(inbound, entry.AssetID, entry.Amount, d)
		}

		if err := r.visit(parent); err != nil {
			return false, err
		}
	}

	return complete, nil
}

// checkAnchor makes sure the anchor transaction spends the proof's inputs,
// has the outputs its entries are bound to, and commits to the proof.
func (r *verifyRun) checkAnchor(p *Proof, d Digest) error {
	if p.AnchorTxid == (chainhash.Hash{}) {
		r.warn("proof %v has no anchor transaction yet", d)
		return nil
	}

	tx, err := r.cfg.Chain.FetchTransaction(r.ctx, p.AnchorTxid)
	switch {
	case errors.Is(err, ErrTxNotFound):
		if _, ok := r.unresolved[p.AnchorTxid]; !ok {
			r.unresolved[p.AnchorTxid] = struct{}{}
			r.report.Unresolved = append(
				r.report.Unresolved, p.AnchorTxid,
			)
		}
		r.warn("anchor transaction %v of proof %v not found",
			p.AnchorTxid, d)
		return nil

	case err != nil:
		return fmt.Errorf("unable to fetch anchor tx %v: %w",
			p.AnchorTxid, err)
	}

	if tx.TxHash() != p.AnchorTxid {
		r.fail(fmt.Errorf("%w: chain returned %v for %v",
			ErrAnchorMismatch, tx.TxHash(), p.AnchorTxid))
		return nil
	}

	spent := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	for _, txIn := range tx.TxIn {
		spent[txIn.PreviousOutPoint] = struct{}{}
	}
	for _, in := range p.Inputs {
		if _, ok := spent[in]; !ok {
			r.fail(fmt.Errorf("%w: tx %v doesn't spend input %v of "+
				"proof %v", ErrAnchorMismatch, p.AnchorTxid, in,
				d))
		}
	}

	for _, entry := range p.Outputs {
		idx, ok := entry.Seal.OutputIndex()
		if ok && int(idx) >= len(tx.TxOut) {
			r.fail(fmt.Errorf("%w: proof %v binds asset %v to "+
				"output %d, tx %v has %d outputs",
				ErrAnchorMismatch, d, entry.AssetID, idx,
				p.AnchorTxid, len(tx.TxOut)))
		}
	}

	if r.cfg.Committer != nil {
		if err := r.cfg.Committer.Verify(tx, d); err != nil {
			r.fail(fmt.Errorf("%w: %v", ErrAnchorMismatch, err))
		}
	}

	return nil
}
