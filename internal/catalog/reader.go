package catalog

import (
	"database/sql"
	"fmt"
	"os"
)

// Catalog is a read-only handle on a built catalog.
type Catalog struct {
	db *sql.DB
}

// Open opens an existing catalog database.
func Open(dbPath string) (*Catalog, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open catalog %s: %w", dbPath, err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// Objects lists the objects of a kind, ordered by id.
func (c *Catalog) Objects(kind string) ([]Object, error) {
	rows, err := c.db.Query(`
		SELECT id, COALESCE(parent_id, ''), kind, name, COALESCE(table_name, ''), COALESCE(expression, '')
		FROM objects WHERE kind = ? ORDER BY id`, kind)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Object
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.ID, &o.ParentID, &o.Kind, &o.Name, &o.Table, &o.Expression); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Referencing returns the ids of the objects whose expressions mention
// token, ordered by id.
func (c *Catalog) Referencing(token string) ([]string, error) {
	rows, err := c.db.Query(`SELECT object_id FROM refs WHERE token = ? ORDER BY object_id`, token)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Counts returns the number of objects per kind.
func (c *Catalog) Counts() (map[string]int, error) {
	rows, err := c.db.Query(`SELECT kind, COUNT(*) FROM objects GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}
