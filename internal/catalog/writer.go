// Package catalog indexes the objects of a model and report into a SQLite
// database, so a project can be searched without walking its folders.
package catalog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/pbixproj/internal/tree"
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	id TEXT PRIMARY KEY,
	parent_id TEXT,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	table_name TEXT,
	expression TEXT,
	record JSON
);

CREATE TABLE IF NOT EXISTS refs (
	token TEXT,
	object_id TEXT,
	PRIMARY KEY (token, object_id)
) WITHOUT ROWID;
`

// Object is one catalog row. ID is the object's path in the project, such
// as "tables/Sales/measures/Total".
type Object struct {
	ID         string
	ParentID   string
	Kind       string
	Name       string
	Table      string
	Expression string
	Record     tree.Value
}

// Writer bulk-loads objects inside batched transactions.
type Writer struct {
	db        *sql.DB
	tx        *sql.Tx
	stmtObj   *sql.Stmt
	stmtRef   *sql.Stmt
	batchSize int
	count     int
	mu        sync.Mutex
	log       *slog.Logger
}

// Create opens (or creates) the database at dbPath and its schema.
func Create(dbPath string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	for _, pragma := range []string{"PRAGMA synchronous = OFF", "PRAGMA journal_mode = MEMORY"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	w := &Writer{db: db, batchSize: 5000, log: logger}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) beginTx() error {
	var err error
	if w.tx, err = w.db.Begin(); err != nil {
		return err
	}
	w.stmtObj, err = w.tx.Prepare(`
		INSERT OR REPLACE INTO objects (id, parent_id, kind, name, table_name, expression, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	w.stmtRef, err = w.tx.Prepare(`INSERT OR IGNORE INTO refs (token, object_id) VALUES (?, ?)`)
	return err
}

func (w *Writer) commitTx() error {
	if w.stmtObj != nil {
		_ = w.stmtObj.Close()
	}
	if w.stmtRef != nil {
		_ = w.stmtRef.Close()
	}
	return w.tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Add writes one object.
func (w *Writer) Add(o Object) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var record any
	if o.Record != nil {
		record = string(tree.Marshal(o.Record))
	}
	if _, err := w.stmtObj.Exec(o.ID, nullable(o.ParentID), o.Kind, o.Name,
		nullable(o.Table), nullable(o.Expression), record); err != nil {
		return fmt.Errorf("insert %s: %w", o.ID, err)
	}
	w.count++
	if w.count >= w.batchSize {
		if err := w.commitTx(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		if err := w.beginTx(); err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		w.count = 0
	}
	return nil
}

// AddRef records that objectID's expression mentions token.
func (w *Writer) AddRef(token, objectID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.stmtRef.Exec(token, objectID)
	return err
}

// Close commits the pending batch, builds the lookup indices and closes the
// database.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}
	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_objects_parent ON objects(parent_id, name)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_kind ON objects(kind, name)`,
	} {
		if _, err := w.db.Exec(idx); err != nil {
			w.log.Warn("catalog index creation failed", "error", err)
		}
	}
	return w.db.Close()
}
