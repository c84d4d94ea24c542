package migrations

import (
	"fmt"
	"io/fs"
	"strings"

	billingsync "github.com/goliatone/go-billing-sync"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const rootPath = "data/sql/migrations"

// Names lists the billing schema migrations in apply order. Every dialect
// ships an up and a down file for each of them.
var Names = []string{
	"00001_billing_kv_entries",
	"00002_billing_dead_letters",
}

// Set is the migration tree of one dialect. Postgres files live at the root
// of the tree and the sqlite variants under sqlite/.
type Set struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// Load resolves the set for dialect from the embedded tree, or from source
// when one is given, and checks that no billing migration is missing a
// direction.
func Load(dialect string, source ...fs.FS) (Set, error) {
	root := billingsync.GetMigrationsFS()
	if len(source) > 0 && source[0] != nil {
		root = source[0]
	}

	dialect = strings.ToLower(strings.TrimSpace(dialect))
	path := rootPath
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		path = rootPath + "/sqlite"
	default:
		return Set{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	sub, err := fs.Sub(root, path)
	if err != nil {
		return Set{}, fmt.Errorf("migrations: resolve %s tree: %w", dialect, err)
	}
	var missing []string
	for _, name := range Names {
		for _, suffix := range []string{".up.sql", ".down.sql"} {
			if _, statErr := fs.Stat(sub, name+suffix); statErr != nil {
				missing = append(missing, name+suffix)
			}
		}
	}
	if len(missing) > 0 {
		return Set{}, fmt.Errorf("migrations: %s set at %s is missing %s", dialect, path, strings.Join(missing, ", "))
	}
	return Set{Dialect: dialect, Path: path, FS: sub}, nil
}

// Register loads the embedded set for dialect and hands its tree to
// register, typically a persistence client's SQL migration registry.
func Register(dialect string, register func(fs.FS)) (Set, error) {
	if register == nil {
		return Set{}, fmt.Errorf("migrations: register function is required")
	}
	set, err := Load(dialect)
	if err != nil {
		return Set{}, err
	}
	register(set.FS)
	return set, nil
}
