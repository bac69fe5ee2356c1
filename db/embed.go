// Package db embeds the SQL migrations and the default seed fixtures.
package db

import (
	"embed"
	"io/fs"
	"slices"

	"github.com/go-faster/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Fixtures holds the default channels, catalog and promotions loaded by
// seed-db when no fixtures file is given.
//
//go:embed seed/fixtures.yaml
var Fixtures []byte

// Migration is a single embedded DDL file.
type Migration struct {
	Name string
	SQL  string
}

// Migrations returns the embedded migrations ordered by file name.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, errors.Wrap(err, "list migrations")
	}
	slices.Sort(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := migrations.ReadFile(name)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		out = append(out, Migration{Name: name, SQL: string(data)})
	}
	return out, nil
}
