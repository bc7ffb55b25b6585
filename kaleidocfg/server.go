package kaleidocfg

import (
	"fmt"
	"io"

	"github.com/btcsuite/btclog"
	"github.com/lightninglabs/kaleido"
	"github.com/lightninglabs/kaleido/commitment"
	"github.com/lightninglabs/kaleido/kaleidodb"
	"github.com/lightninglabs/kaleido/proof"
	"go.uber.org/multierr"
)

// closerFunc turns a function into an io.Closer.
type closerFunc func() error

func (c closerFunc) Close() error {
	return c()
}

// proofStore bundles the opened proof store with its extras.
type proofStore struct {
	archiver  proof.Archiver
	contracts kaleido.ContractSource
	closer    io.Closer
}

// openProofStore opens the configured proof store backend.
func openProofStore(cfg *Config, cfgLogger btclog.Logger) (*proofStore,
	error) {

	switch cfg.ProofStore {
	case ProofStoreFile:
		cfgLogger.Infof("Opening file proof store at: %v",
			cfg.networkDir)

		archiver, err := proof.NewFileArchiver(cfg.networkDir)
		if err != nil {
			return nil, err
		}
		return &proofStore{archiver: archiver}, nil

	case ProofStoreSqlite:
		cfgLogger.Infof("Opening sqlite3 database at: %v",
			cfg.Sqlite.DatabaseFileName)

		db, err := kaleidodb.NewSqliteStore(cfg.Sqlite)
		if err != nil {
			return nil, err
		}
		return newSQLProofStore(db.BaseDB), nil

	case ProofStorePostgres:
		cfgLogger.Infof("Opening postgres database at: %v",
			cfg.Postgres.DSN(true))

		db, err := kaleidodb.NewPostgresStore(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return newSQLProofStore(db.BaseDB), nil

	case ProofStoreBolt:
		cfgLogger.Infof("Opening bolt database at: %v",
			cfg.Bolt.DatabaseFileName)

		archiver, err := kaleidodb.NewBoltArchiver(cfg.Bolt)
		if err != nil {
			return nil, err
		}
		return &proofStore{archiver: archiver, closer: archiver}, nil

	default:
		return nil, fmt.Errorf("unknown proof store: %v", cfg.ProofStore)
	}
}

func newSQLProofStore(db *kaleidodb.BaseDB) *proofStore {
	store := kaleidodb.NewProofStore(kaleidodb.NewBatchedProofStore(db))

	return &proofStore{
		archiver:  store,
		contracts: store,
		closer:    db.DB,
	}
}

// CreateServerFromConfig creates a new kaleido server from the given config.
func CreateServerFromConfig(cfg *Config,
	cfgLogger btclog.Logger) (*kaleido.Server, error) {

	store, err := openProofStore(cfg, cfgLogger)
	if err != nil {
		return nil, fmt.Errorf("unable to open proof store: %w", err)
	}

	cfgLogger.Infof("Connecting to bitcoind at %v", cfg.Bitcoind.Host)
	client, err := kaleido.NewBitcoindClient(
		cfg.Bitcoind, cfg.ActiveNetParams,
	)
	if err != nil {
		if store.closer != nil {
			err = multierr.Append(err, store.closer.Close())
		}
		return nil, fmt.Errorf("unable to connect to bitcoind: %w", err)
	}

	shutdown := closerFunc(func() error {
		client.Shutdown()
		if store.closer == nil {
			return nil
		}
		return store.closer.Close()
	})

	newCourier := func(server string) proof.Courier {
		return proof.NewBifrostCourier(server, cfg.BifrostTimeout)
	}

	return kaleido.NewServer(&kaleido.Config{
		Network:        cfg.ActiveNetwork,
		ChainParams:    cfg.ActiveNetParams,
		Wallet:         kaleido.NewBitcoindWallet(client, cfg.ActiveNetParams),
		Chain:          kaleido.NewBitcoindChainBridge(client),
		Store:          store.archiver,
		Contracts:      store.contracts,
		Committer:      commitment.NewOpReturnCommitter(),
		RelayServer:    cfg.Bifrost,
		Courier:        newCourier(cfg.Bifrost),
		NewCourier:     newCourier,
		TransferFee:    cfg.TransferFee,
		IssuanceFee:    cfg.IssuanceFee,
		AnchorValue:    cfg.AnchorValue,
		DatabaseCloser: shutdown,
		DebugLevel:     cfg.DebugLevel,
	}), nil
}
