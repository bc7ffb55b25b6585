package kaleidodb

import (
	"embed"
)

// migrationsDir is the directory of the embedded migrations.
const migrationsDir = "sqlc/migrations"

//go:embed sqlc/migrations/*.sql
var sqlSchemas embed.FS
