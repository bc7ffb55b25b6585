//go:build !test_db_postgres

package kaleidodb

import (
	"testing"
)

// activeTestDB names the backend the SQL tests run against.
const activeTestDB = "sqlite3"

// newTestDB creates a fresh database of the active test backend.
func newTestDB(t *testing.T) *BaseDB {
	return NewTestSqliteDB(t).BaseDB
}
