package asset

import (
	"testing"

	"github.com/lightninglabs/kaleido/internal/test"
)

// RandID creates a random asset ID.
func RandID(t testing.TB) ID {
	var a ID
	copy(a[:], test.RandBytes(len(a)))

	return a
}

// RandContract creates a random regtest contract with the given supply.
func RandContract(t testing.TB, supply uint64) *Contract {
	t.Helper()

	return &Contract{
		Title:            "asset-" + RandID(t).String()[:8],
		TotalSupply:      supply,
		Network:          NetworkRegtest,
		IssuanceUtxo:     test.RandOp(t),
		InitialOwnerUtxo: test.RandOp(t),
	}
}
