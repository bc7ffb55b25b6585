package asset

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

// ContractTlvType represents the different TLV types for contract records.
type ContractTlvType = tlv.Type

const (
	ContractTitle            ContractTlvType = 0
	ContractTotalSupply      ContractTlvType = 2
	ContractNetwork          ContractTlvType = 4
	ContractIssuanceUtxo     ContractTlvType = 6
	ContractInitialOwnerUtxo ContractTlvType = 8
)

// EntryTlvType represents the different TLV types for output entry records.
type EntryTlvType = tlv.Type

const (
	EntryAssetID EntryTlvType = 0
	EntryAmount  EntryTlvType = 2
	EntrySeal    EntryTlvType = 4
)

func NewContractTitleRecord(title *string) tlv.Record {
	sizeFunc := func() uint64 {
		var buf bytes.Buffer
		if err := StringEncoder(&buf, title, &[8]byte{}); err != nil {
			panic(err)
		}
		return uint64(buf.Len())
	}
	return tlv.MakeDynamicRecord(
		ContractTitle, title, sizeFunc, StringEncoder, StringDecoder,
	)
}

func NewContractSupplyRecord(supply *uint64) tlv.Record {
	return tlv.MakePrimitiveRecord(ContractTotalSupply, supply)
}

func NewContractNetworkRecord(network *Network) tlv.Record {
	return tlv.MakeStaticRecord(
		ContractNetwork, network, 1, NetworkEncoder, NetworkDecoder,
	)
}

func NewContractIssuanceUtxoRecord(op *wire.OutPoint) tlv.Record {
	return tlv.MakeStaticRecord(
		ContractIssuanceUtxo, op, 32+4, OutPointEncoder,
		OutPointDecoder,
	)
}

func NewContractInitialOwnerRecord(op *wire.OutPoint) tlv.Record {
	return tlv.MakeStaticRecord(
		ContractInitialOwnerUtxo, op, 32+4, OutPointEncoder,
		OutPointDecoder,
	)
}

func NewEntryAssetIDRecord(id *ID) tlv.Record {
	return tlv.MakeStaticRecord(EntryAssetID, id, 32, IDEncoder, IDDecoder)
}

func NewEntryAmountRecord(amount *uint64) tlv.Record {
	return tlv.MakePrimitiveRecord(EntryAmount, amount)
}

func NewEntrySealRecord(seal *Seal) tlv.Record {
	return tlv.MakeStaticRecord(EntrySeal, seal, 1+4, SealEncoder, SealDecoder)
}
