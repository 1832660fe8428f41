package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/agentic-research/pbixproj/internal/tree"
)

// ScriptQuery asks the engine for the full definition of database.
func ScriptQuery(database string) string {
	return `{"script":{"database":` + strconv.Quote(database) + `}}`
}

// Loader turns binary model images into model documents, using a fresh
// engine instance per image.
type Loader struct {
	Options   Options
	NewClient func() Client
}

// LoadModel starts an engine, restores image into it and returns the
// scripted database document. The engine is always stopped before
// returning.
func (l *Loader) LoadModel(ctx context.Context, image []byte) (tree.Value, error) {
	if l.NewClient == nil {
		return nil, fmt.Errorf("query engine: no client configured")
	}
	p, err := Start(ctx, l.Options)
	if err != nil {
		return nil, err
	}
	defer p.Stop()

	c := l.NewClient()
	defer func() { _ = c.Close() }()
	if err := c.Connect(ctx, p.ConnectionString()); err != nil {
		return nil, fmt.Errorf("connect to engine: %w", err)
	}
	db, err := c.Load(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("load model image: %w", err)
	}
	doc, err := c.Evaluate(ctx, ScriptQuery(db))
	if err != nil {
		return nil, fmt.Errorf("script database %s: %w", db, err)
	}
	return doc, nil
}
