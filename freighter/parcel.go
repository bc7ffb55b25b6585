package freighter

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/proof"
)

// SendState is a stage of an outbound parcel.
type SendState uint8

const (
	// SendStateSelect picks the inputs of the transaction.
	SendStateSelect SendState = iota

	// SendStateBuild builds the unsigned transaction and the new proof.
	SendStateBuild

	// SendStateCommit commits to the proof in the transaction.
	SendStateCommit

	// SendStateSign has the wallet sign the transaction.
	SendStateSign

	// SendStateBroadcast publishes the transaction.
	SendStateBroadcast

	// SendStateStoreProof writes the anchored proof to the local store.
	SendStateStoreProof

	// SendStatePublishProof uploads the proof to the relay.
	SendStatePublishProof

	// SendStateComplete is the terminal state.
	SendStateComplete
)

// String returns a human readable version of the state.
func (s SendState) String() string {
	switch s {
	case SendStateSelect:
		return "SendStateSelect"
	case SendStateBuild:
		return "SendStateBuild"
	case SendStateCommit:
		return "SendStateCommit"
	case SendStateSign:
		return "SendStateSign"
	case SendStateBroadcast:
		return "SendStateBroadcast"
	case SendStateStoreProof:
		return "SendStateStoreProof"
	case SendStatePublishProof:
		return "SendStatePublishProof"
	case SendStateComplete:
		return "SendStateComplete"
	default:
		return fmt.Sprintf("<unknown_state(%d)>", uint8(s))
	}
}

// Parcel is a request to the ChainPorter. It is one of IssueParcel,
// SendParcel or BurnParcel.
type Parcel interface {
	// kind names the parcel in logs.
	kind() string
}

// IssueParcel requests the issuance of a new asset.
type IssueParcel struct {
	// Title is the name of the asset.
	Title string

	// TotalSupply is the number of units to issue.
	TotalSupply uint64

	// Network is the chain the asset is issued on.
	Network asset.Network

	// IssuanceUtxo optionally fixes the first issuance utxo.
	IssuanceUtxo *wire.OutPoint

	// InitialOwnerUtxo optionally fixes the second issuance utxo.
	InitialOwnerUtxo *wire.OutPoint
}

func (*IssueParcel) kind() string { return "issue" }

// SendParcel requests a transfer to a recipient.
type SendParcel struct {
	// AssetID is the asset to send.
	AssetID asset.ID

	// Amount is the number of units to send.
	Amount uint64

	// Recipient is the address the recipient output pays to.
	Recipient btcutil.Address

	// Courier overrides the porter's courier for this parcel, used when
	// the recipient names a relay of their own.
	Courier proof.Courier
}

func (*SendParcel) kind() string { return "send" }

// BurnParcel requests the destruction of an amount of an asset.
type BurnParcel struct {
	// AssetID is the asset to burn.
	AssetID asset.ID

	// Amount is the number of units to burn.
	Amount uint64
}

func (*BurnParcel) kind() string { return "burn" }

// OutboundParcel is the result of a completed shipment.
type OutboundParcel struct {
	// AssetID is the asset that was issued, sent or burned.
	AssetID asset.ID

	// Txid is the id of the anchor transaction.
	Txid chainhash.Hash

	// Tx is the broadcast transaction.
	Tx *wire.MsgTx

	// Proof is the anchored proof.
	Proof *proof.Proof

	// Contract is set for issuances.
	Contract *asset.Contract

	// Fee is the on-chain fee paid.
	Fee btcutil.Amount

	// Published is true if the proof was uploaded to a relay.
	Published bool
}

// sendPackage carries the state of a shipment between state steps.
type sendPackage struct {
	// SendState is the next state to execute.
	SendState SendState

	// Parcel is the request.
	Parcel Parcel

	// Utxos is the wallet's utxo set at selection time.
	Utxos []Utxo

	// Allocation is the selection of a send or burn.
	Allocation *Allocation

	// Contract is the contract of an issuance.
	Contract *asset.Contract

	// IssuanceValue is the value of the issuance inputs.
	IssuanceValue btcutil.Amount

	// Transfer is the built transaction and proof.
	Transfer *Transfer

	// SignedTx is the final transaction.
	SignedTx *wire.MsgTx

	// Fee is the on-chain fee.
	Fee btcutil.Amount

	// Published is set once the proof reached the relay.
	Published bool
}
