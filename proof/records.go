package proof

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightningnetwork/lnd/tlv"
)

// TlvType represents the different TLV types for proof records.
type TlvType = tlv.Type

const (
	InputsType     TlvType = 0
	OutputsType    TlvType = 2
	ContractType   TlvType = 4
	AnchorTxidType TlvType = 6
)

// dynamicSize returns a size func that encodes val with enc to measure it.
func dynamicSize(val any, enc tlv.Encoder) tlv.SizeFunc {
	return func() uint64 {
		var buf bytes.Buffer
		if err := enc(&buf, val, &[8]byte{}); err != nil {
			panic(err)
		}
		return uint64(buf.Len())
	}
}

func InputsRecord(inputs *[]wire.OutPoint) tlv.Record {
	return tlv.MakeDynamicRecord(
		InputsType, inputs, dynamicSize(inputs, OutPointsEncoder),
		OutPointsEncoder, OutPointsDecoder,
	)
}

func OutputsRecord(outputs *[]asset.Entry) tlv.Record {
	return tlv.MakeDynamicRecord(
		OutputsType, outputs, dynamicSize(outputs, EntriesEncoder),
		EntriesEncoder, EntriesDecoder,
	)
}

func ContractRecord(contract **asset.Contract) tlv.Record {
	return tlv.MakeDynamicRecord(
		ContractType, contract, dynamicSize(contract, ContractEncoder),
		ContractEncoder, ContractDecoder,
	)
}

func AnchorTxidRecord(txid *chainhash.Hash) tlv.Record {
	return tlv.MakeStaticRecord(
		AnchorTxidType, txid, chainhash.HashSize, TxidEncoder,
		TxidDecoder,
	)
}
