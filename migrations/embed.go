// Package migrations holds the FPF Core schema as embedded SQL files.
// Importing it for side effects hands the files to the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/fpf-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
