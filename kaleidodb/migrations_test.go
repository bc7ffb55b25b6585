package kaleidodb

import (
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestReplacerFS checks that the postgres flavored schemas have every
// sqlite specific type replaced.
func TestReplacerFS(t *testing.T) {
	t.Parallel()

	postgresFS := newReplacerFS(sqlSchemas, postgresReplacements)

	entries, err := fs.ReadDir(postgresFS, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, entry := range entries {
		f, err := postgresFS.Open(migrationsDir + "/" + entry.Name())
		require.NoError(t, err)

		content, err := io.ReadAll(f)
		require.NoError(t, err)

		info, err := f.Stat()
		require.NoError(t, err)
		require.EqualValues(t, len(content), info.Size())
		require.NoError(t, f.Close())

		schema := string(content)
		require.NotContains(t, schema, "BLOB")
		require.NotContains(t, schema, "INTEGER PRIMARY KEY")

		if strings.Contains(schema, "proof_id INTEGER") {
			t.Fatalf("primary key not replaced in %v", entry.Name())
		}
	}

	f, err := postgresFS.Open(migrationsDir + "/000001_proofs.up.sql")
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Contains(t, string(content), "proof_id BIGSERIAL PRIMARY KEY")
	require.Contains(t, string(content),
		"created_at TIMESTAMP WITHOUT TIME ZONE NOT NULL")
}
