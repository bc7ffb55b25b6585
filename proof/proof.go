package proof

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightningnetwork/lnd/tlv"
)

// Digest uniquely identifies the content of a proof.
type Digest [sha256.Size]byte

// String returns the hex encoded digest.
func (d Digest) String() string {
	return chainhash.Hash(d).String()
}

// Proof is one node in the ownership history of an asset. It records the
// outputs consumed by the anchor transaction and the assignments it creates.
// Only the genesis proof carries a contract.
type Proof struct {
	// Inputs are the seals closed by the anchor transaction.
	Inputs []wire.OutPoint

	// Outputs are the new assignments.
	Outputs []asset.Entry

	// Contract is set on the genesis proof only.
	Contract *asset.Contract

	// AnchorTxid is the txid of the transaction the proof is attached to.
	// It isn't covered by the digest, so the digest can be committed to
	// within that same transaction.
	AnchorTxid chainhash.Hash
}

// IsGenesis returns true if the proof issues an asset.
func (p *Proof) IsGenesis() bool {
	return p.Contract != nil
}

// contentRecords returns the records covered by the digest.
func (p *Proof) contentRecords() []tlv.Record {
	records := []tlv.Record{
		InputsRecord(&p.Inputs),
		OutputsRecord(&p.Outputs),
	}
	if p.Contract != nil {
		records = append(records, ContractRecord(&p.Contract))
	}
	return records
}

// EncodeRecords determines the non-nil records to include when encoding a
// proof at runtime.
func (p *Proof) EncodeRecords() []tlv.Record {
	return append(p.contentRecords(), AnchorTxidRecord(&p.AnchorTxid))
}

// DecodeRecords provides all records known for a proof for proper decoding.
func (p *Proof) DecodeRecords() []tlv.Record {
	return []tlv.Record{
		InputsRecord(&p.Inputs),
		OutputsRecord(&p.Outputs),
		ContractRecord(&p.Contract),
		AnchorTxidRecord(&p.AnchorTxid),
	}
}

// Encode encodes the proof into a TLV stream.
func (p *Proof) Encode(w io.Writer) error {
	stream, err := tlv.NewStream(p.EncodeRecords()...)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode decodes a proof from a TLV stream.
func (p *Proof) Decode(r io.Reader) error {
	stream, err := tlv.NewStream(p.DecodeRecords()...)
	if err != nil {
		return err
	}
	return stream.Decode(r)
}

// Bytes returns the encoded proof.
func (p *Proof) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a proof from its encoding.
func Decode(b []byte) (*Proof, error) {
	var p Proof
	if err := p.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &p, nil
}

// Digest returns the sha256 digest of the proof's inputs, outputs and
// contract.
func (p *Proof) Digest() Digest {
	h := sha256.New()

	stream, err := tlv.NewStream(p.contentRecords()...)
	if err != nil {
		panic(err)
	}
	if err := stream.Encode(h); err != nil {
		panic(err)
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Identity tells apart copies of the same proof content anchored in
// different transactions.
type Identity struct {
	Digest     Digest
	AnchorTxid chainhash.Hash
}

// String returns the identity as <digest>@<anchor txid>.
func (i Identity) String() string {
	return fmt.Sprintf("%v@%v", i.Digest, i.AnchorTxid)
}

// Identity returns the digest of the proof paired with its anchor txid.
func (p *Proof) Identity() Identity {
	return Identity{
		Digest:     p.Digest(),
		AnchorTxid: p.AnchorTxid,
	}
}

// Validate checks every entry for internal consistency.
func (p *Proof) Validate() error {
	for i := range p.Outputs {
		if err := p.Outputs[i].Validate(); err != nil {
			return fmt.Errorf("output entry %d: %w", i, err)
		}
	}
	return nil
}

// OutPoints returns the distinct outpoints claimed by the proof's spend
// entries, in order of first appearance.
func (p *Proof) OutPoints() []wire.OutPoint {
	seen := make(map[uint32]struct{})

	var ops []wire.OutPoint
	for _, entry := range p.Outputs {
		idx, ok := entry.Seal.OutputIndex()
		if !ok {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}

		ops = append(ops, wire.OutPoint{
			Hash:  p.AnchorTxid,
			Index: idx,
		})
	}

	return ops
}

// HasBurns returns true if any entry of the proof is a burn.
func (p *Proof) HasBurns() bool {
	for _, entry := range p.Outputs {
		if entry.Seal.IsBurn() {
			return true
		}
	}
	return false
}

// EntriesFor returns the entries bound to the given outpoint. The outpoint
// must belong to the proof's anchor transaction, otherwise nothing matches.
func (p *Proof) EntriesFor(op wire.OutPoint) []asset.Entry {
	if op.Hash != p.AnchorTxid {
		return nil
	}

	var entries []asset.Entry
	for _, entry := range p.Outputs {
		idx, ok := entry.Seal.OutputIndex()
		if ok && idx == op.Index {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Totals sums the outputs per asset, burns included.
func (p *Proof) Totals() map[asset.ID]uint64 {
	totals := make(map[asset.ID]uint64)
	for _, entry := range p.Outputs {
		totals[entry.AssetID] += entry.Amount
	}
	return totals
}
