package freighter

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/commitment"
	"github.com/lightninglabs/kaleido/proof"
)

const (
	// DefaultTransferFee is the fee paid by transfers and burns.
	DefaultTransferFee btcutil.Amount = 2000

	// DefaultIssuanceFee is the fee paid by issuances.
	DefaultIssuanceFee btcutil.Amount = 3000

	// DefaultAnchorValue is the value of the outputs that carry assets to
	// a recipient or back to us.
	DefaultAnchorValue btcutil.Amount = 1000
)

var (
	// ErrUnknownUtxo is returned when a utxo named by the caller isn't
	// controlled by the wallet.
	ErrUnknownUtxo = errors.New("utxo not found in wallet")

	// ErrUtxoHasAssets is returned when an issuance is asked to spend a
	// utxo that carries assets.
	ErrUtxoHasAssets = errors.New("utxo carries assets")

	// ErrTxAltered is returned when the wallet changes the outputs of a
	// transaction it was asked to sign.
	ErrTxAltered = errors.New("wallet altered transaction outputs")
)

// ChainPorterConfig holds the collaborators of the ChainPorter.
type ChainPorterConfig struct {
	// Wallet lists, signs and broadcasts.
	Wallet WalletAnchor

	// Store holds our proofs.
	Store proof.Archiver

	// Committer anchors proofs in transactions.
	Committer commitment.Committer

	// Courier publishes proofs. Publishing is skipped if nil.
	Courier proof.Courier

	// TransferFee is the fee of sends and burns.
	TransferFee btcutil.Amount

	// IssuanceFee is the fee of issuances.
	IssuanceFee btcutil.Amount

	// AnchorValue is the value of every asset carrying output.
	AnchorValue btcutil.Amount
}

// ChainPorter executes issuances, sends and burns. Each shipment runs to
// completion before RequestShipment returns.
type ChainPorter struct {
	cfg *ChainPorterConfig
}

// NewChainPorter creates a new ChainPorter, filling in default fees.
func NewChainPorter(cfg *ChainPorterConfig) *ChainPorter {
	if cfg.TransferFee == 0 {
		cfg.TransferFee = DefaultTransferFee
	}
	if cfg.IssuanceFee == 0 {
		cfg.IssuanceFee = DefaultIssuanceFee
	}
	if cfg.AnchorValue == 0 {
		cfg.AnchorValue = DefaultAnchorValue
	}

	return &ChainPorter{
		cfg: cfg,
	}
}

// RequestShipment executes the parcel. If the transaction was broadcast but
// the proof couldn't be published, the outbound parcel is returned together
// with the error.
func (p *ChainPorter) RequestShipment(ctx context.Context,
	parcel Parcel) (*OutboundParcel, error) {

	log.Infof("Received %v parcel", parcel.kind())

	pkg := &sendPackage{
		SendState: SendStateSelect,
		Parcel:    parcel,
	}
	pkg, err := p.advanceState(ctx, pkg)
	if pkg == nil || pkg.SignedTx == nil ||
		pkg.SendState < SendStatePublishProof {

		return nil, err
	}

	out := &OutboundParcel{
		Txid:      pkg.SignedTx.TxHash(),
		Tx:        pkg.SignedTx,
		Proof:     pkg.Transfer.Proof,
		Contract:  pkg.Contract,
		Fee:       pkg.Fee,
		Published: pkg.Published,
	}
	switch {
	case pkg.Contract != nil:
		out.AssetID = pkg.Contract.AssetID()
	case pkg.Allocation != nil:
		out.AssetID = pkg.Allocation.AssetID
	}

	return out, err
}

// advanceState steps through the states until the shipment is complete or a
// step fails. The last package reached is always returned.
func (p *ChainPorter) advanceState(ctx context.Context,
	pkg *sendPackage) (*sendPackage, error) {

	// Continue state transitions whilst state complete has not yet
	// been reached.
	for pkg.SendState < SendStateComplete {
		log.Infof("ChainPorter executing state: %v", pkg.SendState)

		// Before we attempt a state transition, make sure that we
		// aren't trying to shut down.
		if err := ctx.Err(); err != nil {
			return pkg, err
		}

		updatedPkg, err := p.stateStep(ctx, *pkg)
		if err != nil {
			log.Errorf("Error evaluating state (%v): %v",
				pkg.SendState, err)
			return pkg, err
		}

		pkg = updatedPkg
	}

	return pkg, nil
}

// courier returns the courier the parcel's proof goes to.
func (p *ChainPorter) courier(parcel Parcel) proof.Courier {
	if send, ok := parcel.(*SendParcel); ok && send.Courier != nil {
		return send.Courier
	}
	return p.cfg.Courier
}

// stateStep executes the current state of the package.
func (p *ChainPorter) stateStep(ctx context.Context,
	currentPkg sendPackage) (*sendPackage, error) {

	switch currentPkg.SendState {
	// We start by looking at the wallet's utxos and deciding which ones
	// to spend.
	case SendStateSelect:
		utxos, err := p.cfg.Wallet.ListUnspent(ctx)
		if err != nil {
			return nil, collaboratorErr("list unspent", err)
		}
		currentPkg.Utxos = utxos

		switch parcel := currentPkg.Parcel.(type) {
		case *IssueParcel:
			err = p.selectIssuance(ctx, &currentPkg, parcel)

		// A send pays the recipient output and maybe a change output,
		// a burn always pays its change output.
		case *SendParcel:
			err = p.selectTransfer(
				ctx, &currentPkg, parcel.AssetID, parcel.Amount,
				p.cfg.TransferFee+p.cfg.AnchorValue, false,
			)

		case *BurnParcel:
			err = p.selectTransfer(
				ctx, &currentPkg, parcel.AssetID, parcel.Amount,
				p.cfg.TransferFee+p.cfg.AnchorValue, true,
			)

		default:
			err = fmt.Errorf("unknown parcel %T", parcel)
		}
		if err != nil {
			return nil, err
		}

		currentPkg.SendState = SendStateBuild
		return &currentPkg, nil

	// With the inputs known, we build the transaction and the proof that
	// goes with it.
	case SendStateBuild:
		var (
			transfer *Transfer
			err      error
		)
		switch parcel := currentPkg.Parcel.(type) {
		case *IssueParcel:
			transfer, err = p.buildIssuance(ctx, &currentPkg)

		case *SendParcel:
			transfer, err = p.buildSend(ctx, &currentPkg, parcel)

		case *BurnParcel:
			transfer, err = p.buildBurn(ctx, &currentPkg)
		}
		if err != nil {
			return nil, err
		}

		currentPkg.Transfer = transfer
		currentPkg.SendState = SendStateCommit
		return &currentPkg, nil

	// The proof digest is committed to in an output appended after all
	// others, so the spend indexes of the proof stay valid.
	case SendStateCommit:
		transfer := currentPkg.Transfer
		err := p.cfg.Committer.Commit(transfer.Tx, transfer.Proof.Digest())
		if err != nil {
			return nil, fmt.Errorf("unable to commit to proof: %w",
				err)
		}

		currentPkg.SendState = SendStateSign
		return &currentPkg, nil

	case SendStateSign:
		transfer := currentPkg.Transfer
		packet, err := psbt.NewFromUnsignedTx(transfer.Tx)
		if err != nil {
			return nil, fmt.Errorf("unable to create psbt: %w", err)
		}

		signedTx, err := p.cfg.Wallet.SignPsbt(ctx, packet)
		if err != nil {
			return nil, collaboratorErr("sign psbt", err)
		}

		if err := checkSigned(transfer.Tx, signedTx); err != nil {
			return nil, err
		}
		digest := transfer.Proof.Digest()
		if err := p.cfg.Committer.Verify(signedTx, digest); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTxAltered, err)
		}

		transfer.Proof.AnchorTxid = signedTx.TxHash()
		currentPkg.SignedTx = signedTx

		log.Infof("Signed anchor transaction %v for proof %v",
			signedTx.TxHash(), digest)

		currentPkg.SendState = SendStateBroadcast
		return &currentPkg, nil

	case SendStateBroadcast:
		err := p.cfg.Wallet.PublishTransaction(ctx, currentPkg.SignedTx)
		if err != nil {
			return nil, collaboratorErr("publish transaction", err)
		}

		log.Infof("Broadcast anchor transaction %v",
			currentPkg.SignedTx.TxHash())

		currentPkg.SendState = SendStateStoreProof
		return &currentPkg, nil

	case SendStateStoreProof:
		err := p.cfg.Store.SaveProof(ctx, currentPkg.Transfer.Proof)
		if err != nil {
			return nil, fmt.Errorf("unable to store proof: %w", err)
		}

		currentPkg.SendState = SendStatePublishProof
		return &currentPkg, nil

	// The proof is stored already, a failure here leaves it for the next
	// sync to upload.
	case SendStatePublishProof:
		courier := p.courier(currentPkg.Parcel)
		if courier != nil {
			err := courier.PublishProof(ctx, currentPkg.Transfer.Proof)
			if err != nil {
				return nil, collaboratorErr("publish proof", err)
			}
			currentPkg.Published = true
		}

		currentPkg.SendState = SendStateComplete
		return &currentPkg, nil

	default:
		return nil, fmt.Errorf("unknown state: %v",
			currentPkg.SendState)
	}
}

// checkSigned makes sure the wallet didn't touch the outputs or the inputs
// of the transaction.
func checkSigned(unsigned, signed *wire.MsgTx) error {
	if len(unsigned.TxOut) != len(signed.TxOut) ||
		len(unsigned.TxIn) != len(signed.TxIn) {

		return ErrTxAltered
	}
	for i, txOut := range unsigned.TxOut {
		if txOut.Value != signed.TxOut[i].Value ||
			string(txOut.PkScript) != string(signed.TxOut[i].PkScript) {

			return fmt.Errorf("%w: output %d", ErrTxAltered, i)
		}
	}
	for i, txIn := range unsigned.TxIn {
		if txIn.PreviousOutPoint != signed.TxIn[i].PreviousOutPoint {
			return fmt.Errorf("%w: input %d", ErrTxAltered, i)
		}
	}
	return nil
}

// pickIssuanceUtxo resolves an optional caller supplied issuance utxo, or
// picks the first free one.
func (p *ChainPorter) pickIssuanceUtxo(ctx context.Context, want *wire.OutPoint,
	utxos []Utxo, taken map[wire.OutPoint]struct{}) (*Utxo, error) {

	for _, utxo := range SortUtxos(utxos) {
		utxo := utxo
		if _, ok := taken[utxo.OutPoint]; ok {
			continue
		}
		if want != nil && utxo.OutPoint != *want {
			continue
		}

		claim, _, err := claimingProof(ctx, p.cfg.Store, utxo.OutPoint)
		if err != nil {
			return nil, err
		}
		switch {
		case claim != nil && want != nil:
			return nil, fmt.Errorf("%w: %v", ErrUtxoHasAssets, *want)
		case claim != nil:
			continue
		}

		taken[utxo.OutPoint] = struct{}{}
		return &utxo, nil
	}

	if want != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownUtxo, *want)
	}
	return nil, fmt.Errorf("%w: issuance needs two utxos without assets",
		ErrInsufficientFunds)
}

func (p *ChainPorter) selectIssuance(ctx context.Context, pkg *sendPackage,
	parcel *IssueParcel) error {

	// Utxos named by the caller are resolved first, so an automatic pick
	// can't take them.
	taken := make(map[wire.OutPoint]struct{})
	picks := make([]*Utxo, 2)
	wants := []*wire.OutPoint{parcel.IssuanceUtxo, parcel.InitialOwnerUtxo}
	for _, pass := range []bool{true, false} {
		for i, want := range wants {
			if (want != nil) != pass {
				continue
			}
			utxo, err := p.pickIssuanceUtxo(
				ctx, want, pkg.Utxos, taken,
			)
			if err != nil {
				return err
			}
			picks[i] = utxo
		}
	}

	pkg.IssuanceValue = picks[0].Amount + picks[1].Amount
	pkg.Fee = p.cfg.IssuanceFee
	if pkg.IssuanceValue <= pkg.Fee {
		return fmt.Errorf("%w: issuance utxos hold %v, fee is %v",
			ErrInsufficientFunds, pkg.IssuanceValue, pkg.Fee)
	}

	contract := &asset.Contract{
		Title:            parcel.Title,
		TotalSupply:      parcel.TotalSupply,
		Network:          parcel.Network,
		IssuanceUtxo:     picks[0].OutPoint,
		InitialOwnerUtxo: picks[1].OutPoint,
	}
	if err := contract.Validate(); err != nil {
		return err
	}
	pkg.Contract = contract

	log.Infof("Issuing %d units of %q as asset %v", contract.TotalSupply,
		contract.Title, contract.AssetID())

	return nil
}

func (p *ChainPorter) selectTransfer(ctx context.Context, pkg *sendPackage,
	id asset.ID, amt uint64, minValue btcutil.Amount,
	changeFunded bool) error {

	alloc, err := SelectCommitments(ctx, p.cfg.Store, id, amt, pkg.Utxos)
	if err != nil {
		return err
	}

	// Asset change needs an output with a value of its own.
	needed := minValue
	if len(alloc.Change) > 0 && !changeFunded {
		needed += p.cfg.AnchorValue
	}

	err = SelectFunding(ctx, p.cfg.Store, alloc, pkg.Utxos, needed)
	if err != nil {
		return err
	}

	pkg.Allocation = alloc
	pkg.Fee = p.cfg.TransferFee

	return nil
}

func (p *ChainPorter) buildIssuance(ctx context.Context,
	pkg *sendPackage) (*Transfer, error) {

	owner, err := p.cfg.Wallet.NewAddress(ctx)
	if err != nil {
		return nil, collaboratorErr("new address", err)
	}

	return BuildIssuance(pkg.Contract, owner, pkg.IssuanceValue-pkg.Fee)
}

func (p *ChainPorter) buildSend(ctx context.Context, pkg *sendPackage,
	parcel *SendParcel) (*Transfer, error) {

	alloc := pkg.Allocation
	changeValue := alloc.TotalValue() - pkg.Fee - p.cfg.AnchorValue

	var (
		change btcutil.Address
		err    error
	)
	if len(alloc.Change) > 0 || changeValue > 0 {
		change, err = p.cfg.Wallet.NewAddress(ctx)
		if err != nil {
			return nil, collaboratorErr("new address", err)
		}
	}

	// Change without assets that would be dust goes to the fee.
	if change != nil && len(alloc.Change) == 0 {
		dust, err := isDust(change, changeValue)
		if err != nil {
			return nil, err
		}
		if dust {
			log.Debugf("Adding dust change of %v to the fee",
				changeValue)

			pkg.Fee += changeValue
			change, changeValue = nil, 0
		}
	}

	specs := TransferSpecs(
		alloc, parcel.Recipient, p.cfg.AnchorValue, change, changeValue,
	)

	return SpendProofs(alloc, specs)
}

// isDust returns true if an output of value paying to addr would be dust at
// the default relay fee.
func isDust(addr btcutil.Address, value btcutil.Amount) (bool, error) {
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return false, fmt.Errorf("unable to create script for %v: %w",
			addr, err)
	}

	txOut := wire.NewTxOut(int64(value), pkScript)
	return mempool.IsDust(txOut, mempool.DefaultMinRelayTxFee), nil
}

func (p *ChainPorter) buildBurn(ctx context.Context,
	pkg *sendPackage) (*Transfer, error) {

	change, err := p.cfg.Wallet.NewAddress(ctx)
	if err != nil {
		return nil, collaboratorErr("new address", err)
	}

	alloc := pkg.Allocation
	specs := BurnSpecs(alloc, change, alloc.TotalValue()-pkg.Fee)

	return SpendProofs(alloc, specs)
}
