package catalog

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/agentic-research/pbixproj/internal/query"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// daxRef matches 'Table'[Column], Table[Column] and [Measure] references.
var daxRef = regexp.MustCompile(`'((?:[^']|'')+)'\[([^\]]+)\]|([A-Za-z_][A-Za-z0-9_]*)\[([^\]]+)\]|\[([^\]]+)\]`)

// References extracts the column and measure references of a DAX
// expression as "Table[Column]" or "[Measure]" tokens, deduplicated in
// order of appearance.
func References(expr string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range daxRef.FindAllStringSubmatch(expr, -1) {
		var token string
		switch {
		case m[1] != "":
			token = strings.ReplaceAll(m[1], "''", "'") + "[" + m[2] + "]"
		case m[3] != "":
			token = m[3] + "[" + m[4] + "]"
		default:
			token = "[" + m[5] + "]"
		}
		if !seen[token] {
			seen[token] = true
			out = append(out, token)
		}
	}
	return out
}

// expressionOf returns a string or joined line-array expression.
func expressionOf(obj *tree.Object, field string) string {
	v, ok := tree.Lookup(obj, field)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case tree.String:
		return string(x)
	case tree.Array:
		lines := make([]string, 0, len(x))
		for _, l := range x {
			if s, ok := l.(tree.String); ok {
				lines = append(lines, string(s))
			}
		}
		return strings.Join(lines, "\n")
	}
	return ""
}

func nameOf(obj *tree.Object) string {
	s, _ := obj.GetString("name")
	return s
}

// summary drops the bulky children of obj so the record column stays small.
func summary(obj *tree.Object, drop ...string) *tree.Object {
	out := tree.Clone(obj).(*tree.Object)
	for _, d := range drop {
		tree.Remove(out, d)
	}
	return out
}

type indexer struct {
	w     *Writer
	count int
}

func (ix *indexer) add(o Object, daxField bool) error {
	if err := ix.w.Add(o); err != nil {
		return err
	}
	ix.count++
	if daxField && o.Expression != "" {
		for _, token := range References(o.Expression) {
			if err := ix.w.AddRef(token, o.ID); err != nil {
				return fmt.Errorf("ref %s: %w", o.ID, err)
			}
		}
	}
	return nil
}

func objectsAt(root tree.Value, selector string) ([]*tree.Object, error) {
	matches, err := query.Select(root, selector)
	if err != nil {
		return nil, err
	}
	out := make([]*tree.Object, 0, len(matches))
	for _, m := range matches {
		if obj, ok := m.Tree().(*tree.Object); ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

func childObjects(obj *tree.Object, field string) []*tree.Object {
	v, ok := tree.Lookup(obj, field)
	if !ok {
		return nil
	}
	arr, ok := v.(tree.Array)
	if !ok {
		return nil
	}
	out := make([]*tree.Object, 0, len(arr))
	for _, item := range arr {
		if o, ok := item.(*tree.Object); ok {
			out = append(out, o)
		}
	}
	return out
}

// IndexModel writes the tables, columns, measures, partitions, expressions,
// roles and relationships of a model document and returns the number of
// objects written.
func IndexModel(w *Writer, model tree.Value) (int, error) {
	ix := &indexer{w: w}

	tables, err := objectsAt(model, "$.model.tables[*]")
	if err != nil {
		return 0, err
	}
	for _, t := range tables {
		tname := nameOf(t)
		tid := path.Join("tables", tname)
		rec := summary(t, "columns", "measures", "partitions", "hierarchies", "calculationGroup")
		if err := ix.add(Object{ID: tid, Kind: "table", Name: tname, Table: tname, Record: rec}, false); err != nil {
			return ix.count, err
		}
		children := []struct {
			field, kind, expr string
			dax               bool
		}{
			{"columns", "column", "expression", true},
			{"measures", "measure", "expression", true},
			{"hierarchies", "hierarchy", "", false},
			{"partitions", "partition", "source.expression", false},
			{"calculationGroup.calculationItems", "calculationItem", "expression", true},
		}
		for _, c := range children {
			for _, item := range childObjects(t, c.field) {
				name := nameOf(item)
				o := Object{
					ID:       path.Join(tid, c.kind+"s", name),
					ParentID: tid,
					Kind:     c.kind,
					Name:     name,
					Table:    tname,
					Record:   item,
				}
				if c.expr != "" {
					o.Expression = expressionOf(item, c.expr)
				}
				dax := c.dax
				if c.kind == "partition" {
					if st, ok := tree.Lookup(item, "source.type"); ok && st == tree.String("calculated") {
						dax = true
					}
				}
				if err := ix.add(o, dax); err != nil {
					return ix.count, err
				}
			}
		}
	}

	expressions, err := objectsAt(model, "$.model.expressions[*]")
	if err != nil {
		return ix.count, err
	}
	for _, e := range expressions {
		name := nameOf(e)
		o := Object{ID: path.Join("expressions", name), Kind: "expression", Name: name,
			Expression: expressionOf(e, "expression"), Record: e}
		if err := ix.add(o, false); err != nil {
			return ix.count, err
		}
	}

	roles, err := objectsAt(model, "$.model.roles[*]")
	if err != nil {
		return ix.count, err
	}
	for _, r := range roles {
		name := nameOf(r)
		rid := path.Join("roles", name)
		if err := ix.add(Object{ID: rid, Kind: "role", Name: name, Record: summary(r, "tablePermissions")}, false); err != nil {
			return ix.count, err
		}
		for _, tp := range childObjects(r, "tablePermissions") {
			tname := nameOf(tp)
			o := Object{ID: path.Join(rid, "tablePermissions", tname), ParentID: rid, Kind: "tablePermission",
				Name: tname, Table: tname, Expression: expressionOf(tp, "filterExpression"), Record: tp}
			if err := ix.add(o, true); err != nil {
				return ix.count, err
			}
		}
	}

	relationships, err := objectsAt(model, "$.model.relationships[*]")
	if err != nil {
		return ix.count, err
	}
	for _, rel := range relationships {
		name := nameOf(rel)
		from, _ := rel.GetString("fromTable")
		o := Object{ID: path.Join("relationships", name), Kind: "relationship", Name: name, Table: from, Record: rel}
		if err := ix.add(o, false); err != nil {
			return ix.count, err
		}
	}
	return ix.count, nil
}

// IndexReport writes the pages and visuals of a report layout document.
func IndexReport(w *Writer, report tree.Value) (int, error) {
	ix := &indexer{w: w}
	sections, err := objectsAt(report, "$.sections[*]")
	if err != nil {
		return 0, err
	}
	for i, s := range sections {
		name, _ := s.GetString("name")
		display, _ := s.GetString("displayName")
		if display == "" {
			display = name
		}
		pid := path.Join("pages", fmt.Sprintf("%03d", i))
		if err := ix.add(Object{ID: pid, Kind: "page", Name: display, Record: summary(s, "visualContainers", "config")}, false); err != nil {
			return ix.count, err
		}
		for j, vc := range childObjects(s, "visualContainers") {
			vname := visualName(vc)
			o := Object{ID: path.Join(pid, "visuals", fmt.Sprintf("%05d", j)), ParentID: pid, Kind: "visual",
				Name: vname, Record: summary(vc, "config", "query", "dataTransforms", "filters")}
			if err := ix.add(o, false); err != nil {
				return ix.count, err
			}
		}
	}
	return ix.count, nil
}

// visualName reads the name from the visual's embedded config document.
func visualName(vc *tree.Object) string {
	if s, ok := vc.GetString("config"); ok {
		if cfg, err := tree.ParseJSON([]byte(s)); err == nil {
			if obj, ok := cfg.(*tree.Object); ok {
				if name, ok := obj.GetString("name"); ok {
					return name
				}
			}
		}
	}
	if v, ok := vc.Get("id"); ok {
		if n, ok := v.(tree.Number); ok {
			return string(n)
		}
	}
	return ""
}
