package proof

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrTooManyItems is returned when a list in a proof claims more
	// elements than we're willing to decode.
	ErrTooManyItems = errors.New("proof: too many items")
)

func OutPointsEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]wire.OutPoint); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		for _, op := range *t {
			op := op
			if err := asset.OutPointEncoder(w, &op, buf); err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, "[]wire.OutPoint")
}

func OutPointsDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*[]wire.OutPoint); ok {
		numItems, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if numItems > math.MaxUint16 {
			return fmt.Errorf("%w: %d inputs", ErrTooManyItems,
				numItems)
		}

		ops := make([]wire.OutPoint, 0, numItems)
		for i := uint64(0); i < numItems; i++ {
			var op wire.OutPoint
			err := asset.OutPointDecoder(r, &op, buf, 36)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		*typ = ops
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]wire.OutPoint", l, l)
}

func EntriesEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]asset.Entry); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		for _, entry := range *t {
			var streamBuf bytes.Buffer
			if err := entry.Encode(&streamBuf); err != nil {
				return err
			}
			streamBytes := streamBuf.Bytes()
			err := asset.VarBytesEncoder(w, &streamBytes, buf)
			if err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, "[]asset.Entry")
}

func EntriesDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*[]asset.Entry); ok {
		numItems, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}
		if numItems > math.MaxUint16 {
			return fmt.Errorf("%w: %d entries", ErrTooManyItems,
				numItems)
		}

		entries := make([]asset.Entry, 0, numItems)
		for i := uint64(0); i < numItems; i++ {
			var streamBytes []byte
			err := asset.VarBytesDecoder(r, &streamBytes, buf, 0)
			if err != nil {
				return err
			}
			var entry asset.Entry
			err = entry.Decode(bytes.NewReader(streamBytes))
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		*typ = entries
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]asset.Entry", l, l)
}

func ContractEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(**asset.Contract); ok {
		var streamBuf bytes.Buffer
		if err := (*t).Encode(&streamBuf); err != nil {
			return err
		}
		streamBytes := streamBuf.Bytes()
		return asset.VarBytesEncoder(w, &streamBytes, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "*asset.Contract")
}

func ContractDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(**asset.Contract); ok {
		var streamBytes []byte
		if err := asset.VarBytesDecoder(r, &streamBytes, buf, l); err != nil {
			return err
		}
		var contract asset.Contract
		err := contract.Decode(bytes.NewReader(streamBytes))
		if err != nil {
			return err
		}
		*typ = &contract
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "*asset.Contract", l, l)
}

func TxidEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*chainhash.Hash); ok {
		hash := [32]byte(*t)
		return tlv.EBytes32(w, &hash, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "chainhash.Hash")
}

func TxidDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*chainhash.Hash); ok {
		var hash [32]byte
		if err := tlv.DBytes32(r, &hash, buf, 32); err != nil {
			return err
		}
		*typ = chainhash.Hash(hash)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "chainhash.Hash", l, 32)
}

// EncodeProofs writes a count prefixed list of length prefixed proofs. This
// is the body format the relay uses when returning all proofs for an
// outpoint.
func EncodeProofs(w io.Writer, proofs []*Proof) error {
	var buf [8]byte
	if err := tlv.WriteVarInt(w, uint64(len(proofs)), &buf); err != nil {
		return err
	}
	for _, p := range proofs {
		var proofBuf bytes.Buffer
		if err := p.Encode(&proofBuf); err != nil {
			return err
		}
		proofBytes := proofBuf.Bytes()
		err := asset.VarBytesEncoder(w, &proofBytes, &buf)
		if err != nil {
			return err
		}
	}
	return nil
}

// DecodeProofs reads a list written by EncodeProofs.
func DecodeProofs(r io.Reader) ([]*Proof, error) {
	var buf [8]byte
	numProofs, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return nil, err
	}
	if numProofs > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d proofs", ErrTooManyItems,
			numProofs)
	}

	proofs := make([]*Proof, 0, numProofs)
	for i := uint64(0); i < numProofs; i++ {
		var proofBytes []byte
		err := asset.VarBytesDecoder(r, &proofBytes, &buf, 0)
		if err != nil {
			return nil, err
		}

		var p Proof
		if err := p.Decode(bytes.NewReader(proofBytes)); err != nil {
			return nil, err
		}
		proofs = append(proofs, &p)
	}

	return proofs, nil
}
