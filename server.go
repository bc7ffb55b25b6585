package kaleido

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/commitment"
	"github.com/lightninglabs/kaleido/freighter"
	"github.com/lightninglabs/kaleido/proof"
	"github.com/lightningnetwork/lnd/build"
)

// ContractSource lists the contracts of the assets we know about.
type ContractSource interface {
	// FetchContracts returns the contracts keyed by asset ID.
	FetchContracts(ctx context.Context) (map[asset.ID]*asset.Contract,
		error)
}

// Config holds everything the server needs to execute commands.
type Config struct {
	// Network is the chain we operate on.
	Network asset.Network

	// ChainParams are the parameters of Network.
	ChainParams *chaincfg.Params

	// Wallet lists, signs and broadcasts.
	Wallet freighter.WalletAnchor

	// Chain is used to check that proofs are anchored.
	Chain proof.ChainLookup

	// Store holds our proofs.
	Store proof.Archiver

	// Contracts optionally provides asset titles without verifying
	// ancestry.
	Contracts ContractSource

	// Committer anchors proofs in transactions.
	Committer commitment.Committer

	// RelayServer is the host:port of our Bifrost relay.
	RelayServer string

	// Courier talks to RelayServer.
	Courier proof.Courier

	// NewCourier creates a courier for a relay named by a recipient.
	NewCourier func(server string) proof.Courier

	// TransferFee, IssuanceFee and AnchorValue configure the porter. Zero
	// values select the defaults.
	TransferFee btcutil.Amount
	IssuanceFee btcutil.Amount
	AnchorValue btcutil.Amount

	// DatabaseCloser is closed when the server stops.
	DatabaseCloser io.Closer

	// DebugLevel is the log level string, only logged.
	DebugLevel string
}

// Server executes the wallet commands against its collaborators.
type Server struct {
	cfg *Config

	porter   *freighter.ChainPorter
	verifier *proof.Verifier

	stopOnce sync.Once
}

// NewServer creates a new server given the passed config.
func NewServer(cfg *Config) *Server {
	srvrLog.Infof("Version: %s, build=%s, logging=%s, debuglevel=%s",
		Version(), build.Deployment, build.LoggingType, cfg.DebugLevel)
	srvrLog.Infof("Active network: %v, relay: %v", cfg.Network,
		cfg.RelayServer)

	return &Server{
		cfg: cfg,
		porter: freighter.NewChainPorter(&freighter.ChainPorterConfig{
			Wallet:      cfg.Wallet,
			Store:       cfg.Store,
			Committer:   cfg.Committer,
			Courier:     cfg.Courier,
			TransferFee: cfg.TransferFee,
			IssuanceFee: cfg.IssuanceFee,
			AnchorValue: cfg.AnchorValue,
		}),
		verifier: newVerifier(cfg, cfg.Store),
	}
}

// newVerifier creates a verifier that looks up ancestors in source.
func newVerifier(cfg *Config, source proof.Fetcher) *proof.Verifier {
	return proof.NewVerifier(proof.VerifierConfig{
		Source:    source,
		Chain:     cfg.Chain,
		Committer: cfg.Committer,
	})
}

// Stop releases the database.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		srvrLog.Debugf("Stopping server")

		if s.cfg.DatabaseCloser != nil {
			err = s.cfg.DatabaseCloser.Close()
		}
	})

	return err
}

// IssueAsset creates a new asset. The issuance utxos are picked from the
// wallet unless given.
func (s *Server) IssueAsset(ctx context.Context, title string, supply uint64,
	issuanceUtxo, initialOwnerUtxo *wire.OutPoint) (
	*freighter.OutboundParcel, error) {

	return s.porter.RequestShipment(ctx, &freighter.IssueParcel{
		Title:            title,
		TotalSupply:      supply,
		Network:          s.cfg.Network,
		IssuanceUtxo:     issuanceUtxo,
		InitialOwnerUtxo: initialOwnerUtxo,
	})
}

// Recipient is a parsed address@server string.
type Recipient struct {
	// Address is the bitcoin address the assets are sent to.
	Address btcutil.Address

	// Server is the relay the recipient fetches proofs from. Empty if the
	// recipient didn't name one.
	Server string
}

// String returns the address@server form.
func (r *Recipient) String() string {
	if r.Server == "" {
		return r.Address.String()
	}
	return r.Address.String() + "@" + r.Server
}

// ParseRecipient parses an address with an optional @server suffix.
func ParseRecipient(s string, params *chaincfg.Params) (*Recipient, error) {
	addrStr, server := s, ""
	if idx := strings.LastIndex(s, "@"); idx >= 0 {
		addrStr, server = s[:idx], s[idx+1:]
		if server == "" {
			return nil, fmt.Errorf("empty relay server in %q", s)
		}
	}

	addr, err := btcutil.DecodeAddress(addrStr, params)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addrStr, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("address %v is not for network %v",
			addrStr, params.Name)
	}

	return &Recipient{
		Address: addr,
		Server:  server,
	}, nil
}

// SendToAddress sends amount units of the asset to the recipient, given as
// address[@server]. The proof is published to the recipient's relay if one
// is named.
func (s *Server) SendToAddress(ctx context.Context, recipient string,
	id asset.ID, amount uint64) (*freighter.OutboundParcel, error) {

	r, err := ParseRecipient(recipient, s.cfg.ChainParams)
	if err != nil {
		return nil, err
	}

	parcel := &freighter.SendParcel{
		AssetID:   id,
		Amount:    amount,
		Recipient: r.Address,
	}
	if r.Server != "" && r.Server != s.cfg.RelayServer &&
		s.cfg.NewCourier != nil {

		srvrLog.Infof("Publishing proof to recipient relay %v",
			r.Server)
		parcel.Courier = s.cfg.NewCourier(r.Server)
	}

	return s.porter.RequestShipment(ctx, parcel)
}

// Burn destroys amount units of the asset.
func (s *Server) Burn(ctx context.Context, id asset.ID,
	amount uint64) (*freighter.OutboundParcel, error) {

	return s.porter.RequestShipment(ctx, &freighter.BurnParcel{
		AssetID: id,
		Amount:  amount,
	})
}

// Burned sums the burn entries of the stored proofs anchored in txid.
func (s *Server) Burned(ctx context.Context,
	txid chainhash.Hash) (map[asset.ID]uint64, error) {

	burns, err := s.cfg.Store.FetchBurns(ctx, txid)
	if err != nil {
		return nil, err
	}

	burned := make(map[asset.ID]uint64)
	for _, p := range burns {
		for _, entry := range p.Outputs {
			if !entry.Seal.IsBurn() {
				continue
			}

			total, err := asset.AddAmount(
				entry.AssetID, burned[entry.AssetID],
				entry.Amount,
			)
			if err != nil {
				return nil, err
			}
			burned[entry.AssetID] = total
		}
	}

	return burned, nil
}

// GetNewAddress returns a fresh wallet address with our relay appended.
func (s *Server) GetNewAddress(ctx context.Context) (*Recipient, error) {
	addr, err := s.cfg.Wallet.NewAddress(ctx)
	if err != nil {
		return nil, &proof.CollaboratorError{
			Op:  "new address",
			Err: err,
		}
	}

	return &Recipient{
		Address: addr,
		Server:  s.cfg.RelayServer,
	}, nil
}

// AssetHolding is an amount of an asset bound to an output.
type AssetHolding struct {
	// AssetID identifies the asset.
	AssetID asset.ID

	// Title is the asset's title, if known.
	Title string

	// Amount is the number of units held.
	Amount uint64
}

// UnspentOutput is a wallet output together with the assets it carries.
type UnspentOutput struct {
	freighter.Utxo

	// Assets are the verified holdings of the output.
	Assets []AssetHolding

	// State is the verification state of the output's proof. Outputs
	// without proof are StatePending.
	State proof.State

	// Err is set if the output's proof didn't verify.
	Err error
}

// ListUnspent returns every wallet output with its verified assets.
func (s *Server) ListUnspent(ctx context.Context) ([]UnspentOutput, error) {
	utxos, err := s.cfg.Wallet.ListUnspent(ctx)
	if err != nil {
		return nil, &proof.CollaboratorError{
			Op:  "list unspent",
			Err: err,
		}
	}

	titles := make(map[asset.ID]string)
	if s.cfg.Contracts != nil {
		contracts, err := s.cfg.Contracts.FetchContracts(ctx)
		if err != nil {
			return nil, err
		}
		for id, contract := range contracts {
			titles[id] = contract.Title
		}
	}

	outputs := make([]UnspentOutput, 0, len(utxos))
	for _, utxo := range utxos {
		output, err := s.inspectUtxo(ctx, utxo, titles)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, *output)
	}

	return outputs, nil
}

// inspectUtxo verifies the proof bound to the utxo and collects its entries.
func (s *Server) inspectUtxo(ctx context.Context, utxo freighter.Utxo,
	titles map[asset.ID]string) (*UnspentOutput, error) {

	output := &UnspentOutput{
		Utxo:  utxo,
		State: proof.StatePending,
	}

	proofs, err := s.cfg.Store.FetchProofs(ctx, utxo.OutPoint)
	switch {
	case err != nil:
		return nil, err

	case len(proofs) == 0:
		return output, nil

	case len(proofs) > 1:
		output.State = proof.StateFailed
		output.Err = fmt.Errorf("%w: %d proofs for %v",
			freighter.ErrAmbiguousProof, len(proofs), utxo.OutPoint)
		return output, nil
	}

	p := proofs[0]
	report, err := s.verifier.Verify(ctx, p)
	if err != nil {
		return nil, err
	}

	output.State = report.State
	if !report.Accepted() {
		output.Err = report.Err()
		return output, nil
	}

	for _, ancestor := range append(report.Ancestry, p) {
		if ancestor.Contract == nil {
			continue
		}
		titles[ancestor.Contract.AssetID()] = ancestor.Contract.Title
	}

	for _, entry := range p.EntriesFor(utxo.OutPoint) {
		output.Assets = append(output.Assets, AssetHolding{
			AssetID: entry.AssetID,
			Title:   titles[entry.AssetID],
			Amount:  entry.Amount,
		})
	}

	return output, nil
}

// SyncSummary counts what a sync did.
type SyncSummary struct {
	// Uploaded is the number of local proofs published.
	Uploaded int

	// Downloaded is the number of remote proofs verified and stored.
	Downloaded int

	// Known is the number of remote proofs we already held.
	Known int

	// Rejected is the number of remote proofs that failed verification.
	Rejected int
}

// Sync exchanges proofs with our relay for every wallet output. Local proofs
// are uploaded, remote ones we don't hold are verified and stored together
// with their ancestry.
func (s *Server) Sync(ctx context.Context) (*SyncSummary, error) {
	if s.cfg.Courier == nil {
		return nil, fmt.Errorf("no relay configured")
	}

	utxos, err := s.cfg.Wallet.ListUnspent(ctx)
	if err != nil {
		return nil, &proof.CollaboratorError{
			Op:  "list unspent",
			Err: err,
		}
	}

	summary := &SyncSummary{}
	remoteVerifier := newVerifier(
		s.cfg, proof.NewMultiArchiver(s.cfg.Store, s.cfg.Courier),
	)
	for _, utxo := range utxos {
		err := s.syncUtxo(ctx, utxo.OutPoint, remoteVerifier, summary)
		if err != nil {
			return summary, fmt.Errorf("unable to sync %v: %w",
				utxo.OutPoint, err)
		}
	}

	srvrLog.Infof("Sync complete: uploaded=%d, downloaded=%d, known=%d, "+
		"rejected=%d", summary.Uploaded, summary.Downloaded,
		summary.Known, summary.Rejected)

	return summary, nil
}

// syncUtxo exchanges the proofs of a single outpoint.
func (s *Server) syncUtxo(ctx context.Context, op wire.OutPoint,
	verifier *proof.Verifier, summary *SyncSummary) error {

	local, err := s.cfg.Store.FetchProofs(ctx, op)
	if err != nil {
		return err
	}

	held := make(map[proof.Identity]struct{}, len(local))
	for _, p := range local {
		held[p.Identity()] = struct{}{}

		if err := s.cfg.Courier.PublishProof(ctx, p); err != nil {
			return err
		}
		summary.Uploaded++
	}

	remote, err := s.cfg.Courier.FetchProofs(ctx, op)
	if err != nil {
		return err
	}

	for _, p := range remote {
		if _, ok := held[p.Identity()]; ok {
			summary.Known++
			continue
		}

		report, err := verifier.Verify(ctx, p)
		if err != nil {
			return err
		}
		if !report.Accepted() {
			srvrLog.Warnf("Rejecting proof %v for %v: %v",
				p.Identity(), op, report.Err())
			summary.Rejected++
			continue
		}

		// Parents are stored before their children.
		for _, ancestor := range append(report.Ancestry, p) {
			if err := s.cfg.Store.SaveProof(ctx, ancestor); err != nil {
				return err
			}
		}

		held[p.Identity()] = struct{}{}
		summary.Downloaded++
	}

	return nil
}
