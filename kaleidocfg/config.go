package kaleidocfg

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"
	"github.com/lightninglabs/kaleido"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/freighter"
	"github.com/lightninglabs/kaleido/kaleidodb"
	"github.com/lightninglabs/kaleido/proof"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
)

const (
	defaultDataDirname    = "data"
	defaultLogLevel       = "warn"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "kaleido.log"
	defaultConfigFileName = "kaleido.conf"
	defaultLockFileName   = "kaleido.lock"

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultNetwork       = "test"
	defaultBitcoindHost  = "127.0.0.1"
	defaultBitcoindPort  = "18332"
	defaultBifrostServer = "localhost:3000"

	defaultSqliteDatabaseFileName = "kaleido.db"
	defaultBoltDatabaseFileName   = "proofs.db"

	// ProofStoreFile keeps every proof in its own file.
	ProofStoreFile = "file"

	// ProofStoreSqlite is the name of the SQLite proof store.
	ProofStoreSqlite = "sqlite"

	// ProofStorePostgres is the name of the Postgres proof store.
	ProofStorePostgres = "postgres"

	// ProofStoreBolt is the name of the bbolt proof store.
	ProofStoreBolt = "bolt"
)

var (
	// DefaultKaleidoDir is the default directory where kaleido tries to
	// find its configuration file and store its data:
	//   ~/.kaleido on Linux
	//   ~/Library/Application Support/Kaleido on MacOS
	DefaultKaleidoDir = btcutil.AppDataDir("kaleido", false)

	// DefaultConfigFile is the default full path of kaleido's
	// configuration file.
	DefaultConfigFile = filepath.Join(
		DefaultKaleidoDir, defaultConfigFileName,
	)

	defaultDataDir = filepath.Join(DefaultKaleidoDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultKaleidoDir, defaultLogDirname)

	// bitcoindPorts are the default RPC ports of bitcoind per network.
	bitcoindPorts = map[asset.Network]string{
		asset.NetworkMain:    "8332",
		asset.NetworkTest:    defaultBitcoindPort,
		asset.NetworkRegtest: "18443",
		asset.NetworkSignet:  "38332",
	}
)

// Config is the main config of the kaleido command line tool.
type Config struct {
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,..."`

	KaleidoDir string `long:"kaleidodir" description:"The base directory that contains kaleido's data, logs, configuration file, etc."`
	ConfigFile string `long:"configfile" description:"Path to configuration file"`

	DataDir        string `long:"datadir" description:"The directory to store kaleido's data within"`
	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	Network string `long:"network" description:"The bitcoin network to operate on" choice:"main" choice:"test" choice:"regtest" choice:"signet"`

	Bifrost        string        `long:"bifrost" description:"The host:port of the Bifrost proof relay"`
	BifrostTimeout time.Duration `long:"bifrosttimeout" description:"Timeout of a single request to the proof relay"`

	TransferFee btcutil.Amount `long:"transferfee" description:"The fee in satoshis paid by sends and burns"`
	IssuanceFee btcutil.Amount `long:"issuancefee" description:"The fee in satoshis paid by issuances"`
	AnchorValue btcutil.Amount `long:"anchorvalue" description:"The value in satoshis of every output that carries assets"`

	Bitcoind *kaleido.BitcoindConfig `group:"bitcoind" namespace:"bitcoind"`

	ProofStore string                    `long:"proofstore" description:"The backend to store proofs in." choice:"file" choice:"sqlite" choice:"postgres" choice:"bolt"`
	Sqlite     *kaleidodb.SqliteConfig   `group:"sqlite" namespace:"sqlite"`
	Postgres   *kaleidodb.PostgresConfig `group:"postgres" namespace:"postgres"`
	Bolt       *kaleidodb.BoltConfig     `group:"bolt" namespace:"bolt"`

	// LogWriter is the root logger that all of the subloggers are hooked
	// up to.
	LogWriter *build.RotatingLogWriter

	// networkDir is the path to the directory of the currently active
	// network.
	networkDir string

	// ActiveNetwork is the parsed Network.
	ActiveNetwork asset.Network

	// ActiveNetParams contains parameters of the target chain.
	ActiveNetParams *chaincfg.Params
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		KaleidoDir:     DefaultKaleidoDir,
		ConfigFile:     DefaultConfigFile,
		DataDir:        defaultDataDir,
		DebugLevel:     defaultLogLevel,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		Network:        defaultNetwork,
		Bifrost:        defaultBifrostServer,
		BifrostTimeout: proof.DefaultCourierTimeout,
		TransferFee:    freighter.DefaultTransferFee,
		IssuanceFee:    freighter.DefaultIssuanceFee,
		AnchorValue:    freighter.DefaultAnchorValue,
		Bitcoind: &kaleido.BitcoindConfig{
			Host: net.JoinHostPort(
				defaultBitcoindHost, defaultBitcoindPort,
			),
		},
		ProofStore: ProofStoreSqlite,
		Sqlite:     &kaleidodb.SqliteConfig{},
		Postgres: &kaleidodb.PostgresConfig{
			Host:               "localhost",
			Port:               5432,
			MaxOpenConnections: 10,
		},
		Bolt: &kaleidodb.BoltConfig{
			Timeout: kaleidodb.DefaultStoreTimeout,
		},
		LogWriter: build.NewRotatingLogWriter(),
	}
}

// LockFile returns the path of the file that serializes commands.
func (c *Config) LockFile() string {
	return filepath.Join(c.DataDir, defaultLockFileName)
}

// LoadConfig initializes and parses the config using a config file and the
// given command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string,
	interceptor signal.Interceptor) (*Config, btclog.Logger, error) {

	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.NewParser(&preCfg, flags.None).ParseArgs(
		args,
	); err != nil {
		return nil, nil, &usageError{err}
	}

	// If the user only changed the kaleido dir, the config file is
	// expected within it. An explicit config file must exist.
	configFileDir := CleanAndExpandPath(preCfg.KaleidoDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	switch {
	case configFileDir != DefaultKaleidoDir &&
		configFilePath == DefaultConfigFile:

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFileName,
		)

	case configFilePath != DefaultConfigFile:
		if !fileExists(configFilePath) {
			return nil, nil, fmt.Errorf("specified config file does "+
				"not exist in %s", configFilePath)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	fileParser := flags.NewParser(&cfg, flags.None)
	err := flags.NewIniParser(fileParser).ParseFile(configFilePath)
	if err != nil {
		// A missing file is fine, a broken one isn't.
		if _, ok := err.(*flags.IniError); ok {
			return nil, nil, err
		}

		configFileError = err
	}

	// Finally, parse the command line options again to ensure they take
	// precedence.
	flagParser := flags.NewParser(&cfg, flags.None)
	if _, err := flagParser.ParseArgs(args); err != nil {
		return nil, nil, &usageError{err}
	}

	cleanCfg, cfgLogger, err := ValidateConfig(cfg, interceptor)
	if err != nil {
		if cfgLogger != nil {
			cfgLogger.Warnf("Error validating config: %v", err)
		}
		return nil, nil, err
	}

	if configFileError != nil {
		cfgLogger.Debugf("Not using config file: %v", configFileError)
	}

	return cleanCfg, cfgLogger, nil
}

// usageError is an error type that signals a problem with the supplied flags.
type usageError struct {
	err error
}

// Error returns the error string.
//
// NOTE: This is part of the error interface.
func (u *usageError) Error() string {
	return u.err.Error()
}

// Unwrap returns the underlying error.
func (u *usageError) Unwrap() error {
	return u.err
}

// ValidateConfig check the given configuration to be sane. All file system
// paths are normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, interceptor signal.Interceptor) (*Config,
	btclog.Logger, error) {

	// If the kaleido directory is not the default, everything lives
	// within it.
	kaleidoDir := CleanAndExpandPath(cfg.KaleidoDir)
	if kaleidoDir != DefaultKaleidoDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(kaleidoDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(kaleidoDir, defaultLogDirname)
		}
	}

	funcName := "ValidateConfig"
	mkErr := func(format string, args ...interface{}) error {
		return fmt.Errorf(funcName+": "+format, args...)
	}
	makeDirectory := func(dir string) error {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			// Show a nicer error message if it's because a symlink
			// is linked to a directory that does not exist
			// (probably because it's not mounted).
			if e, ok := err.(*os.PathError); ok && os.IsExist(err) {
				link, lerr := os.Readlink(e.Path)
				if lerr == nil {
					str := "is symlink %s -> %s mounted?"
					err = fmt.Errorf(str, e.Path, link)
				}
			}

			str := "failed to create directory '%s': %v"
			return mkErr(str, dir, err)
		}

		return nil
	}

	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	network, err := asset.ParseNetwork(cfg.Network)
	if err != nil {
		return nil, nil, &usageError{mkErr("%v", err)}
	}
	cfg.ActiveNetwork = network
	cfg.ActiveNetParams, err = network.Params()
	if err != nil {
		return nil, nil, mkErr("%v", err)
	}

	// The default bitcoind port only fits testnet.
	defaultHost := net.JoinHostPort(defaultBitcoindHost, defaultBitcoindPort)
	if cfg.Bitcoind.Host == defaultHost {
		cfg.Bitcoind.Host = net.JoinHostPort(
			defaultBitcoindHost, bitcoindPorts[network],
		)
	}

	if cfg.Bifrost == "" {
		return nil, nil, &usageError{mkErr("a bifrost relay is " +
			"required")}
	}
	if strings.Contains(cfg.Bifrost, "@") {
		return nil, nil, &usageError{mkErr("invalid bifrost relay %q",
			cfg.Bifrost)}
	}

	switch {
	case cfg.TransferFee < 0, cfg.IssuanceFee < 0:
		return nil, nil, &usageError{mkErr("fees must not be negative")}

	case cfg.AnchorValue <= 0:
		return nil, nil, &usageError{mkErr("anchor value must be " +
			"positive")}
	}

	// Data of different networks is kept apart.
	cfg.networkDir = filepath.Join(cfg.DataDir, network.String())

	if cfg.Sqlite.DatabaseFileName == "" {
		cfg.Sqlite.DatabaseFileName = filepath.Join(
			cfg.networkDir, defaultSqliteDatabaseFileName,
		)
	}
	cfg.Sqlite.DatabaseFileName = CleanAndExpandPath(
		cfg.Sqlite.DatabaseFileName,
	)
	if cfg.Bolt.DatabaseFileName == "" {
		cfg.Bolt.DatabaseFileName = filepath.Join(
			cfg.networkDir, defaultBoltDatabaseFileName,
		)
	}
	cfg.Bolt.DatabaseFileName = CleanAndExpandPath(
		cfg.Bolt.DatabaseFileName,
	)

	// Create the kaleido directory and all other sub-directories if they
	// don't already exist.
	dirs := []string{
		kaleidoDir, cfg.DataDir, cfg.networkDir,
		filepath.Dir(cfg.Sqlite.DatabaseFileName),
		filepath.Dir(cfg.Bolt.DatabaseFileName),
	}
	for _, dir := range dirs {
		if err := makeDirectory(dir); err != nil {
			return nil, nil, err
		}
	}

	// Logs are namespaced per network like the data.
	cfg.LogDir = filepath.Join(cfg.LogDir, network.String())

	// A log writer must be passed in, otherwise we can't function and would
	// run into a panic later on.
	if cfg.LogWriter == nil {
		return nil, nil, mkErr("log writer missing in config")
	}

	// Initialize logging at the default logging level.
	kaleido.SetupLoggers(cfg.LogWriter, interceptor)
	err = cfg.LogWriter.InitLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	if err != nil {
		str := "log rotation setup failed: %v"
		return nil, nil, mkErr(str, err)
	}

	cfgLogger := cfg.LogWriter.GenSubLogger("CONF", nil)

	// Parse, validate, and set debug log level(s).
	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.LogWriter)
	if err != nil {
		str := "error parsing debug level: %v"
		return nil, cfgLogger, &usageError{mkErr(str, err)}
	}

	return &cfg, cfgLogger, nil
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}
