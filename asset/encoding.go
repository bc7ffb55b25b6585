package asset

import (
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrByteSliceTooLarge is returned when an encoded byte slice is too
	// large.
	ErrByteSliceTooLarge = errors.New("bytes: too large")
)

func VarBytesEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]byte); ok {
		if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
			return err
		}
		return tlv.EVarBytes(w, t, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "[]byte")
}

func VarBytesDecoder(r io.Reader, val any, buf *[8]byte, _ uint64) error {
	if typ, ok := val.(*[]byte); ok {
		bytesLen, err := tlv.ReadVarInt(r, buf)
		if err != nil {
			return err
		}

		// We'll limit all decoded byte slices to prevent memory blow
		// ups or panics.
		if bytesLen > (2<<24)-1 {
			return fmt.Errorf("%w: %v", ErrByteSliceTooLarge,
				bytesLen)
		}

		var bytes []byte
		if err := tlv.DVarBytes(r, &bytes, buf, bytesLen); err != nil {
			return err
		}
		*typ = bytes
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]byte", 0, 0)
}

func StringEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*string); ok {
		strBytes := []byte(*t)
		return VarBytesEncoder(w, &strBytes, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "string")
}

func StringDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*string); ok {
		var strBytes []byte
		if err := VarBytesDecoder(r, &strBytes, buf, l); err != nil {
			return err
		}
		*typ = string(strBytes)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "string", l, l)
}

func OutPointEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*wire.OutPoint); ok {
		hash := [32]byte(t.Hash)
		if err := tlv.EBytes32(w, &hash, buf); err != nil {
			return err
		}
		return tlv.EUint32T(w, t.Index, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "wire.OutPoint")
}

func OutPointDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*wire.OutPoint); ok {
		var hash [32]byte
		if err := tlv.DBytes32(r, &hash, buf, 32); err != nil {
			return err
		}
		var index uint32
		if err := tlv.DUint32(r, &index, buf, 4); err != nil {
			return err
		}
		*typ = wire.OutPoint{Hash: chainhash.Hash(hash), Index: index}
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "wire.OutPoint", l, 36)
}

func IDEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*ID); ok {
		id := [32]byte(*t)
		return tlv.EBytes32(w, &id, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "ID")
}

func IDDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*ID); ok {
		var idBytes [32]byte
		if err := tlv.DBytes32(r, &idBytes, buf, 32); err != nil {
			return err
		}
		*typ = ID(idBytes)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "ID", l, 32)
}

func NetworkEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*Network); ok {
		return tlv.EUint8T(w, uint8(*t), buf)
	}
	return tlv.NewTypeForEncodingErr(val, "Network")
}

func NetworkDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*Network); ok {
		var n uint8
		if err := tlv.DUint8(r, &n, buf, 1); err != nil {
			return err
		}
		*typ = Network(n)
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "Network", l, 1)
}

// SealEncoder writes the seal type followed by the output index. Burn seals
// always carry a zero index.
func SealEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*Seal); ok {
		if err := tlv.EUint8T(w, uint8(t.kind), buf); err != nil {
			return err
		}
		return tlv.EUint32T(w, t.index, buf)
	}
	return tlv.NewTypeForEncodingErr(val, "Seal")
}

func SealDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*Seal); ok {
		var kind uint8
		if err := tlv.DUint8(r, &kind, buf, 1); err != nil {
			return err
		}
		var index uint32
		if err := tlv.DUint32(r, &index, buf, 4); err != nil {
			return err
		}

		switch SealType(kind) {
		case SealSpend:
		case SealBurn:
			if index != 0 {
				return fmt.Errorf("%w: burn seal with index %d",
					ErrMalformedEntry, index)
			}
		default:
			return fmt.Errorf("%w: unknown seal type %d",
				ErrMalformedEntry, kind)
		}

		*typ = Seal{kind: SealType(kind), index: index}
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "Seal", l, 5)
}
