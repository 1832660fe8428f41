// Package idcache keeps generated identifiers stable across extractions.
//
// Power BI regenerates some identifiers (the GUID names of legacy data
// sources) on every save. The cache maps each entity's logical key, the
// Location embedded in its connection string, to the identifier recorded the
// first time that entity was extracted, so unchanged entities produce no diff.
package idcache

import (
	"errors"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/query"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// FileName is the cache file, stored in the Model folder.
const FileName = ".idcache.json"

// Cache is the merged view of the current extraction pass and the previous
// session's mapping.
type Cache struct {
	entries  map[string]string // logical key -> stable id
	toStable map[string]string // current volatile id -> stable id
}

// New merges the identifiers of the current pass with the previous mapping.
// Keys missing from current are dropped, new keys keep their current id and
// known keys keep their previous id.
func New(current, previous map[string]string) *Cache {
	c := &Cache{
		entries:  make(map[string]string, len(current)),
		toStable: make(map[string]string, len(current)),
	}
	for key, volatile := range current {
		stable := volatile
		if prev, ok := previous[key]; ok && prev != "" {
			stable = prev
		}
		c.entries[key] = stable
		c.toStable[volatile] = stable
	}
	return c
}

// LookupOriginalID returns the stable identifier for a volatile one seen in
// the current pass, or id unchanged when nothing is known about it.
func (c *Cache) LookupOriginalID(id string) string {
	if c == nil {
		return id
	}
	if stable, ok := c.toStable[id]; ok {
		return stable
	}
	return id
}

// Entries returns a copy of the logical key -> stable id mapping.
func (c *Cache) Entries() map[string]string {
	out := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of logical keys.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Rewrite returns a copy of a model document with volatile data source names,
// and the partition references to them, replaced by their stable identifiers.
func (c *Cache) Rewrite(model tree.Value) tree.Value {
	out := tree.Clone(model)
	if c == nil || len(c.toStable) == 0 {
		return out
	}
	swap := func(obj tree.Value, path string) {
		if v, ok := tree.Lookup(obj, path); ok {
			if s, ok := v.(tree.String); ok {
				tree.Put(obj, path, tree.String(c.LookupOriginalID(string(s))))
			}
		}
	}
	if sources, ok := tree.Lookup(out, "model.dataSources"); ok {
		if arr, ok := sources.(tree.Array); ok {
			for _, ds := range arr {
				swap(ds, "name")
			}
		}
	}
	tables, _ := tree.Lookup(out, "model.tables")
	arr, _ := tables.(tree.Array)
	for _, table := range arr {
		partitions, _ := tree.Lookup(table, "partitions")
		parts, _ := partitions.(tree.Array)
		for _, p := range parts {
			swap(p, "source.dataSource")
		}
	}
	return out
}

// FromModel collects logical key -> data source name from a tabular model
// document. Only data sources whose name is a GUID are volatile; named data
// sources are stable already and are skipped.
func FromModel(model tree.Value) map[string]string {
	out := map[string]string{}
	matches, err := query.Select(model, "$.model.dataSources[*]")
	if err != nil {
		return out
	}
	for _, m := range matches {
		values := m.Values()
		name, _ := values["name"].(string)
		conn, _ := values["connectionString"].(string)
		if name == "" || conn == "" {
			continue
		}
		if _, err := uuid.Parse(name); err != nil {
			continue
		}
		location := ConnectionProperty(conn, "Location")
		if location == "" {
			continue
		}
		out[location] = name
	}
	return out
}

// ConnectionProperty extracts a property from an OLE DB style connection
// string (key=value pairs separated by ';', values optionally quoted).
// Keys match case-insensitively.
func ConnectionProperty(conn, key string) string {
	for _, part := range splitConnection(conn) {
		k, v, ok := strings.Cut(part, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), key) {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
			q := string(v[0])
			v = strings.ReplaceAll(v[1:len(v)-1], q+q, q)
		}
		return v
	}
	return ""
}

func splitConnection(conn string) []string {
	var parts []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(conn); i++ {
		c := conn[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				if i+1 < len(conn) && conn[i+1] == quote {
					cur.WriteByte(c)
					i++
					continue
				}
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			cur.WriteByte(c)
		case c == ';':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// Load reads the previous mapping from folder. A missing file is an empty
// cache; an unreadable one is logged and treated as empty.
func Load(folder *project.Folder, logger *slog.Logger) map[string]string {
	if logger == nil {
		logger = slog.Default()
	}
	v, err := folder.ReadJSON(FileName)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}
	}
	if err != nil {
		logger.Warn("identifier cache unreadable, rebuilding from current pass", "error", err)
		return map[string]string{}
	}
	obj, ok := v.(*tree.Object)
	if !ok {
		logger.Warn("identifier cache malformed, rebuilding from current pass", "kind", v.Kind().String())
		return map[string]string{}
	}
	out := make(map[string]string, obj.Len())
	for _, m := range obj.Members() {
		if s, ok := m.Value.(tree.String); ok {
			out[m.Key] = string(s)
		}
	}
	return out
}

// Save writes the mapping to folder, keys sorted.
func (c *Cache) Save(folder *project.Folder) error {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	obj := &tree.Object{}
	for _, k := range keys {
		obj.Set(k, tree.String(c.entries[k]))
	}
	return folder.WriteJSON(FileName, obj)
}
