package asset

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrMalformedEntry is returned when an output entry is internally
	// inconsistent, for example a seal that is neither a spend nor a burn.
	ErrMalformedEntry = errors.New("malformed output entry")

	// ErrInvalidContract is returned when a contract fails its sanity
	// checks.
	ErrInvalidContract = errors.New("invalid contract")

	// ErrUnknownNetwork is returned when a network name can't be parsed.
	ErrUnknownNetwork = errors.New("unknown network")

	// contractIDTag is prepended to the serialized contract before
	// hashing, so asset IDs can't collide with other sha256d digests.
	contractIDTag = []byte("kaleido")
)

// ID serves as a unique identifier of an asset. It is derived from the
// contract that issued it.
type ID [sha256.Size]byte

// String returns the hex-encoded string representation of the ID.
func (i ID) String() string {
	return hex.EncodeToString(i[:])
}

// NewIDFromString parses a hex-encoded asset ID.
func NewIDFromString(s string) (ID, error) {
	var id ID

	idBytes, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("unable to decode asset id: %w", err)
	}
	if len(idBytes) != sha256.Size {
		return id, fmt.Errorf("asset id must be %d bytes, got %d",
			sha256.Size, len(idBytes))
	}

	copy(id[:], idBytes)
	return id, nil
}

// Network is the bitcoin network a contract was issued on.
type Network uint8

const (
	// NetworkMain is bitcoin mainnet.
	NetworkMain Network = 0

	// NetworkTest is testnet3.
	NetworkTest Network = 1

	// NetworkRegtest is the local regression test network.
	NetworkRegtest Network = 2

	// NetworkSignet is the default signet.
	NetworkSignet Network = 3
)

// String returns a human readable name of the network.
func (n Network) String() string {
	switch n {
	case NetworkMain:
		return "main"
	case NetworkTest:
		return "test"
	case NetworkRegtest:
		return "regtest"
	case NetworkSignet:
		return "signet"
	default:
		return fmt.Sprintf("<unknown network %d>", uint8(n))
	}
}

// Params returns the chain parameters of the network.
func (n Network) Params() (*chaincfg.Params, error) {
	switch n {
	case NetworkMain:
		return &chaincfg.MainNetParams, nil
	case NetworkTest:
		return &chaincfg.TestNet3Params, nil
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams, nil
	case NetworkSignet:
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownNetwork, uint8(n))
	}
}

// ParseNetwork maps a network name to a Network. Both the short names and the
// names bitcoind reports are accepted.
func ParseNetwork(name string) (Network, error) {
	switch strings.ToLower(name) {
	case "main", "mainnet", "bitcoin":
		return NetworkMain, nil
	case "test", "testnet", "testnet3":
		return NetworkTest, nil
	case "regtest", "simnet":
		return NetworkRegtest, nil
	case "signet":
		return NetworkSignet, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownNetwork, name)
	}
}

// Contract is the immutable description of an issued asset. It is embedded in
// the genesis proof of the asset.
type Contract struct {
	// Title is the human readable name of the asset.
	Title string

	// TotalSupply is the number of units created at issuance.
	TotalSupply uint64

	// Network is the chain the asset lives on.
	Network Network

	// IssuanceUtxo is the first output consumed by the issuance
	// transaction.
	IssuanceUtxo wire.OutPoint

	// InitialOwnerUtxo is the second output consumed by the issuance
	// transaction.
	InitialOwnerUtxo wire.OutPoint
}

// AssetID computes the deterministic identifier of the asset issued by this
// contract.
func (c *Contract) AssetID() ID {
	var buf bytes.Buffer
	buf.Write(contractIDTag)

	// Encoding into a bytes.Buffer can't fail for a well formed contract.
	_ = c.Encode(&buf)

	return ID(chainhash.DoubleHashH(buf.Bytes()))
}

// Validate checks that the contract describes a usable issuance.
func (c *Contract) Validate() error {
	switch {
	case c.TotalSupply == 0:
		return fmt.Errorf("%w: total supply must be positive",
			ErrInvalidContract)

	case c.IssuanceUtxo == c.InitialOwnerUtxo:
		return fmt.Errorf("%w: issuance and initial owner utxo "+
			"must differ", ErrInvalidContract)
	}

	if _, err := c.Network.Params(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContract, err)
	}

	return nil
}

// EncodeRecords determines the non-nil records to include when encoding a
// contract at runtime.
func (c *Contract) EncodeRecords() []tlv.Record {
	return []tlv.Record{
		NewContractTitleRecord(&c.Title),
		NewContractSupplyRecord(&c.TotalSupply),
		NewContractNetworkRecord(&c.Network),
		NewContractIssuanceUtxoRecord(&c.IssuanceUtxo),
		NewContractInitialOwnerRecord(&c.InitialOwnerUtxo),
	}
}

// DecodeRecords provides all records known for a contract for proper
// decoding.
func (c *Contract) DecodeRecords() []tlv.Record {
	return c.EncodeRecords()
}

// Encode encodes the contract into a TLV stream.
func (c *Contract) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(c.EncodeRecords()...)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode decodes a contract from a TLV stream.
func (c *Contract) Decode(r io.Reader) error {
	stream, err := tlv.NewStream(c.DecodeRecords()...)
	if err != nil {
		return err
	}
	return stream.Decode(r)
}

// SealType distinguishes the two ways an entry can be sealed.
type SealType uint8

const (
	// SealUnknown is the zero value and never valid on the wire.
	SealUnknown SealType = 0

	// SealSpend binds the amount to an output of the anchor transaction.
	SealSpend SealType = 1

	// SealBurn destroys the amount.
	SealBurn SealType = 2
)

// Seal is the single-use seal an entry is assigned to: either an output index
// of the anchor transaction or the burn sink.
type Seal struct {
	kind  SealType
	index uint32
}

// SpendSeal returns a seal binding to output index i.
func SpendSeal(i uint32) Seal {
	return Seal{kind: SealSpend, index: i}
}

// BurnSeal returns the burn seal.
func BurnSeal() Seal {
	return Seal{kind: SealBurn}
}

// Type returns the kind of the seal.
func (s Seal) Type() SealType {
	return s.kind
}

// IsBurn returns true if the seal destroys the amount.
func (s Seal) IsBurn() bool {
	return s.kind == SealBurn
}

// OutputIndex returns the output index of a spend seal. The second return
// value is false for any other seal.
func (s Seal) OutputIndex() (uint32, bool) {
	if s.kind != SealSpend {
		return 0, false
	}
	return s.index, true
}

// String returns the seal as it is shown to users.
func (s Seal) String() string {
	switch s.kind {
	case SealSpend:
		return fmt.Sprintf("spend(%d)", s.index)
	case SealBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// Entry assigns an amount of an asset to a seal.
type Entry struct {
	// AssetID is the asset the amount is denominated in.
	AssetID ID

	// Amount is the number of units assigned.
	Amount uint64

	// Seal is where the amount goes.
	Seal Seal
}

// NewEntry creates a new entry.
func NewEntry(id ID, amount uint64, seal Seal) Entry {
	return Entry{
		AssetID: id,
		Amount:  amount,
		Seal:    seal,
	}
}

// AddAmount adds amt to total. Sums that don't fit a uint64 are rejected
// with ErrMalformedEntry.
func AddAmount(id ID, total, amt uint64) (uint64, error) {
	if total > math.MaxUint64-amt {
		return 0, fmt.Errorf("%w: amount of asset %v overflows",
			ErrMalformedEntry, id)
	}
	return total + amt, nil
}

// Validate makes sure the entry is well formed.
func (e *Entry) Validate() error {
	switch e.Seal.kind {
	case SealSpend:
	case SealBurn:
		if e.Seal.index != 0 {
			return fmt.Errorf("%w: burn entry for asset %v carries "+
				"output index %d", ErrMalformedEntry, e.AssetID,
				e.Seal.index)
		}
	default:
		return fmt.Errorf("%w: unknown seal type %d for asset %v",
			ErrMalformedEntry, e.Seal.kind, e.AssetID)
	}

	if e.Amount == 0 {
		return fmt.Errorf("%w: zero amount for asset %v",
			ErrMalformedEntry, e.AssetID)
	}

	return nil
}

// EncodeRecords determines the records to include when encoding an entry.
func (e *Entry) EncodeRecords() []tlv.Record {
	return []tlv.Record{
		NewEntryAssetIDRecord(&e.AssetID),
		NewEntryAmountRecord(&e.Amount),
		NewEntrySealRecord(&e.Seal),
	}
}

// DecodeRecords provides all records known for an entry.
func (e *Entry) DecodeRecords() []tlv.Record {
	return e.EncodeRecords()
}

// Encode encodes the entry into a TLV stream.
func (e *Entry) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(e.EncodeRecords()...)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode decodes an entry from a TLV stream.
func (e *Entry) Decode(r io.Reader) error {
	stream, err := tlv.NewStream(e.DecodeRecords()...)
	if err != nil {
		return err
	}
	return stream.Decode(r)
}
