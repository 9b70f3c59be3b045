package migrate

import (
	"embed"
	"io/fs"
)

// DefaultDir is where new migrations are written, relative to the repo root.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

var files = mustSub(embedded, "migrations")

// Files returns the postgres migrations compiled into the binary.
func Files() fs.FS {
	return files
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
