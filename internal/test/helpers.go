package test

import (
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// RandBool rolls a random boolean.
func RandBool() bool {
	return rand.Int()%2 == 0
}

func RandPrivKey(t testing.TB) *btcec.PrivateKey {
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return privKey
}

func RandBytes(num int) []byte {
	randBytes := make([]byte, num)
	_, _ = rand.Read(randBytes)
	return randBytes
}

// RandHash returns a random 32-byte hash.
func RandHash() chainhash.Hash {
	var h chainhash.Hash
	copy(h[:], RandBytes(chainhash.HashSize))
	return h
}

// RandOp returns a random outpoint.
func RandOp(t testing.TB) wire.OutPoint {
	t.Helper()

	return wire.OutPoint{
		Hash:  RandHash(),
		Index: uint32(rand.Int31n(16)),
	}
}

// RandAddress returns a fresh p2wkh address for the given network.
func RandAddress(t testing.TB, params *chaincfg.Params) btcutil.Address {
	t.Helper()

	pubKey := RandPrivKey(t).PubKey()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), params,
	)
	require.NoError(t, err)

	return addr
}
