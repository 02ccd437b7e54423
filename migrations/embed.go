// Package migrations embeds SQL migration files into the binary.
//
// The schema ships inside the executable so the device does not depend
// on SQL files being present on the filesystem.
package migrations

import (
	"embed"

	"github.com/photarc/lumacore/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
