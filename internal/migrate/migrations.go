package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// step is one schema revision: NNNN_name.sql, applied in version order.
type step struct {
	version int
	name    string
	ddl     string
}

// Migrate brings the database up to the newest embedded schema revision.
// The current revision is tracked in PRAGMA user_version. Each step commits
// in its own transaction: a failing step leaves the database at the last
// completed revision instead of rolling the whole chain back, which matters
// once incidents are live and later revisions only add to the schema.
func Migrate(db *sql.DB) error {
	steps, err := loadSteps()
	if err != nil {
		return err
	}
	current, err := userVersion(db)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if err := applyStep(db, s); err != nil {
			return fmt.Errorf("schema revision %s: %w", s.name, err)
		}
		current = s.version
	}
	return nil
}

func loadSteps() ([]step, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, err
	}
	seen := make(map[int]string)
	var steps []step
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		sep := strings.IndexByte(name, '_')
		if sep <= 0 {
			return nil, fmt.Errorf("schema file %s: want NNNN_name.sql", name)
		}
		v, err := strconv.Atoi(name[:sep])
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("schema file %s: bad revision number", name)
		}
		if prev, ok := seen[v]; ok {
			return nil, fmt.Errorf("schema revision %d defined twice (%s, %s)", v, prev, name)
		}
		seen[v] = name
		ddl, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step{version: v, name: name, ddl: string(ddl)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func userVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

func applyStep(db *sql.DB, s step) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(s.ddl); err != nil {
		return err
	}
	// PRAGMA takes no bind parameters; version comes from the filename.
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, s.version)); err != nil {
		return err
	}
	return tx.Commit()
}
