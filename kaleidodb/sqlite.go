package kaleidodb

import (
	"database/sql"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lightninglabs/kaleido/kaleidodb/sqlc"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // Register relevant drivers.
)

const (
	// sqliteBusyTimeout is how long a connection waits for a lock held by
	// another connection, in milliseconds.
	sqliteBusyTimeout = 5000
)

// SqliteConfig holds all the config arguments needed to interact with our
// sqlite DB.
type SqliteConfig struct {
	// SkipMigrations if true, then the schemas won't be created on start
	// up.
	SkipMigrations bool `long:"skipmigrations" description:"Skip applying migrations on startup."`

	// DatabaseFileName is the full file path where the database file can
	// be found.
	DatabaseFileName string `long:"dbfile" description:"The full path to the database."`
}

// SqliteStore is a sqlite3 based database for the kaleido wallet.
type SqliteStore struct {
	cfg *SqliteConfig

	*BaseDB
}

// sqliteDSN returns the data source name of the database file with the
// pragmas every connection needs.
func sqliteDSN(fileName string) string {
	pragmas := url.Values{}
	pragmas.Add("_pragma", "foreign_keys(1)")
	pragmas.Add("_pragma", fmt.Sprintf("busy_timeout(%d)",
		sqliteBusyTimeout))
	pragmas.Add("_pragma", "journal_mode(WAL)")

	return fmt.Sprintf("file:%s?%s", fileName, pragmas.Encode())
}

// NewSqliteStore attempts to open a new sqlite database based on the passed
// config.
func NewSqliteStore(cfg *SqliteConfig) (*SqliteStore, error) {
	log.Infof("Using SQL database '%s'", cfg.DatabaseFileName)

	db, err := sql.Open("sqlite", sqliteDSN(cfg.DatabaseFileName))
	if err != nil {
		return nil, err
	}

	if !cfg.SkipMigrations {
		if err := createSqliteTables(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SqliteStore{
		cfg: cfg,
		BaseDB: &BaseDB{
			DB:      db,
			Queries: sqlc.NewSqlite(db),
		},
	}, nil
}

// createSqliteTables populates the database with our set of schemas based on
// our embedded in-memory file system. Every schema is idempotent.
func createSqliteTables(db *sql.DB) error {
	return fs.WalkDir(sqlSchemas, migrationsDir, func(path string,
		d fs.DirEntry, err error) error {

		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return nil
		}

		schema, err := sqlSchemas.ReadFile(path)
		if err != nil {
			return err
		}

		if _, err := db.Exec(string(schema)); err != nil {
			return fmt.Errorf("unable to create schema %v: %w",
				filepath.Base(path), err)
		}

		return nil
	})
}

// NewTestSqliteDB is a helper function that creates a SQLite database for
// testing.
func NewTestSqliteDB(t testing.TB) *SqliteStore {
	t.Helper()

	dbFileName := filepath.Join(t.TempDir(), "tmp.db")
	sqlDB, err := NewSqliteStore(&SqliteConfig{
		DatabaseFileName: dbFileName,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, sqlDB.DB.Close())
	})

	return sqlDB
}
