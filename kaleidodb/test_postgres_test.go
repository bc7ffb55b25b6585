//go:build test_db_postgres

package kaleidodb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// activeTestDB names the backend the SQL tests run against.
const activeTestDB = "postgres"

// newTestDB creates a fresh database of the active test backend.
func newTestDB(t *testing.T) *BaseDB {
	t.Helper()

	fixture := newTestPgFixture(t, defaultPostgresFixtureLifetime)
	t.Cleanup(func() {
		fixture.TearDown(t)
	})

	store, err := NewPostgresStore(fixture.GetConfig())
	require.NoError(t, err)

	return store.BaseDB
}
