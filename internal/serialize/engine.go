package serialize

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/transform"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// walker applies a shape in both directions. canon normalizes every JSON
// document before it is written; finish runs over a recomposed tree.
type walker struct {
	canon  transform.Func
	finish transform.Func
	log    *slog.Logger
}

func (w *walker) writeFolder(f *project.Folder, shape *Shape, obj *tree.Object) error {
	rest, _, err := w.extract(f, "", shape, obj)
	if err != nil {
		return err
	}
	return f.WriteJSON(shape.Descriptor, w.canon(rest))
}

// writeFileItem writes an item as <entry>.json plus text files. The JSON
// file is skipped when a text file was written and nameOnly says the
// remaining object is just a name recoverable from the entry.
func (w *walker) writeFileItem(f *project.Folder, entry string, shape *Shape, obj *tree.Object, nameOnly func(*tree.Object) bool) error {
	rest, written, err := w.extract(f, entry, shape, obj)
	if err != nil {
		return err
	}
	if written > 0 && nameOnly != nil && nameOnly(rest) {
		return nil
	}
	return f.WriteJSON(entry+".json", w.canon(rest))
}

// extract applies shape's rules to a copy of obj, writing extracted parts
// into f, and returns what is left with the number of parts written. entry
// is empty for folder shapes.
func (w *walker) extract(f *project.Folder, entry string, shape *Shape, obj *tree.Object) (*tree.Object, int, error) {
	rest := tree.Clone(obj).(*tree.Object)
	written := 0
	for _, r := range shape.Rules {
		v, ok := tree.Lookup(rest, r.Field)
		if !ok {
			continue
		}
		switch r.Kind {
		case KindEmbedded:
			parsed, ok := parseEmbedded(v)
			if !ok {
				continue
			}
			if err := f.WriteJSON(leaf(r.Field)+".json", w.canon(parsed)); err != nil {
				return nil, 0, err
			}
			tree.Remove(rest, r.Field)
			written++

		case KindText:
			text, ok := textOf(v)
			if !ok {
				continue
			}
			name := entry
			if name == "" {
				name = leaf(r.Field)
			}
			if err := f.WriteText(name+r.ext(rest), text); err != nil {
				return nil, 0, err
			}
			tree.Remove(rest, r.Field)
			written++

		case KindItems:
			arr, ok := itemsOf(rest, r.Field)
			if !ok {
				continue
			}
			if err := w.writeItems(f.Sub(r.dir()), r, arr); err != nil {
				return nil, 0, fmt.Errorf("%s: %w", r.Field, err)
			}
			tree.Remove(rest, r.Field)
			written++

		case KindJSON:
			if err := f.WriteJSON(leaf(r.Field)+".json", w.canon(v)); err != nil {
				return nil, 0, err
			}
			tree.Remove(rest, r.Field)
			written++
		}
	}
	return rest, written, nil
}

func (w *walker) writeItems(f *project.Folder, r Rule, arr tree.Array) error {
	used := make(map[string]bool, len(arr))
	entries := make([]string, 0, len(arr))
	for i, v := range arr {
		item := v.(*tree.Object)
		raw, primary := itemName(item, r.Item, r.Names)
		if raw == Placeholder {
			w.log.Debug("item has no identifying field, using placeholder", "field", r.Field, "index", i)
		}
		escaped := project.Escape(raw)
		entry := uniqueName(used, escaped)
		if r.Ordinal > 0 {
			entry = fmt.Sprintf("%0*d_%s", r.Ordinal, i, entry)
		}
		entries = append(entries, entry)

		if r.Item.Descriptor != "" {
			if err := w.writeFolder(f.Sub(entry), r.Item, item); err != nil {
				return fmt.Errorf("%s: %w", entry, err)
			}
			continue
		}
		var nameOnly func(*tree.Object) bool
		if r.Ordinal == 0 && primary && entry == escaped && !strings.Contains(r.Names[0], ".") {
			key := r.Names[0]
			nameOnly = func(rest *tree.Object) bool {
				if rest.Len() != 1 {
					return false
				}
				s, ok := rest.GetString(key)
				return ok && s == raw
			}
		}
		if err := w.writeFileItem(f, entry, r.Item, item, nameOnly); err != nil {
			return fmt.Errorf("%s: %w", entry, err)
		}
	}

	if r.Ordinal == 0 && !sort.StringsAreSorted(entries) {
		return f.WriteText(OrderFile, strings.Join(entries, "\n")+"\n")
	}
	return nil
}

// readFolder recomposes a folder shape. ok is false when the descriptor is
// missing.
func (w *walker) readFolder(f *project.Folder, shape *Shape) (*tree.Object, bool, error) {
	v, err := f.ReadJSON(shape.Descriptor)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	obj, ok := v.(*tree.Object)
	if !ok {
		return nil, false, fmt.Errorf("%s: expected object, got %s", f.Sub(shape.Descriptor).Path(), v.Kind())
	}
	if err := w.attach(f, "", shape, obj); err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// attach re-applies the inverse of shape's rules to obj, last rule first.
func (w *walker) attach(f *project.Folder, entry string, shape *Shape, obj *tree.Object) error {
	for i := len(shape.Rules) - 1; i >= 0; i-- {
		r := shape.Rules[i]
		if _, inline := tree.Lookup(obj, r.Field); inline {
			continue
		}
		switch r.Kind {
		case KindEmbedded:
			v, err := f.ReadJSON(leaf(r.Field) + ".json")
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return err
			}
			tree.Put(obj, r.Field, tree.String(tree.Marshal(v)))

		case KindText:
			name := entry
			if name == "" {
				name = leaf(r.Field)
			}
			data, err := f.ReadFile(name + r.ext(obj))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return err
			}
			tree.Put(obj, r.Field, textValue(string(data), r.Form))

		case KindItems:
			sub := f.Sub(r.dir())
			if !sub.Exists() {
				continue
			}
			arr, err := w.readItems(sub, r)
			if err != nil {
				return fmt.Errorf("%s: %w", r.Field, err)
			}
			if len(arr) > 0 {
				tree.Put(obj, r.Field, arr)
			}

		case KindJSON:
			v, err := f.ReadJSON(leaf(r.Field) + ".json")
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return err
			}
			tree.Put(obj, r.Field, v)
		}
	}
	return nil
}

func (w *walker) readItems(f *project.Folder, r Rule) (tree.Array, error) {
	ordinal := r.Ordinal > 0
	var arr tree.Array

	if r.Item.Descriptor != "" {
		dirs, err := f.Dirs()
		if err != nil {
			return nil, err
		}
		for _, entry := range sortEntries(dirs, ordinal, readOrder(f)) {
			item, ok, err := w.readFolder(f.Sub(entry), r.Item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", entry, err)
			}
			if !ok {
				w.log.Debug("skipping folder without descriptor", "path", f.Sub(entry).Path())
				continue
			}
			arr = append(arr, item)
		}
		return arr, nil
	}

	files, err := f.Files()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var stems []string
	for _, name := range files {
		if name == OrderFile {
			continue
		}
		stem, ok := fileItemStem(name, r.Item)
		if !ok {
			w.log.Debug("skipping unrecognized file", "path", f.Sub(name).Path())
			continue
		}
		if !seen[stem] {
			seen[stem] = true
			stems = append(stems, stem)
		}
	}
	for _, stem := range sortEntries(stems, ordinal, readOrder(f)) {
		item, err := w.readFileItem(f, stem, r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", stem, err)
		}
		arr = append(arr, item)
	}
	return arr, nil
}

func (w *walker) readFileItem(f *project.Folder, stem string, r Rule) (*tree.Object, error) {
	var item *tree.Object
	v, err := f.ReadJSON(stem + ".json")
	switch {
	case errors.Is(err, os.ErrNotExist):
		item = tree.NewObject(tree.Member{Key: r.Names[0], Value: tree.String(project.Unescape(stem))})
	case err != nil:
		return nil, err
	default:
		obj, ok := v.(*tree.Object)
		if !ok {
			return nil, fmt.Errorf("expected object, got %s", v.Kind())
		}
		item = obj
	}
	if err := w.attach(f, stem, r.Item, item); err != nil {
		return nil, err
	}
	return item, nil
}

// normalize applies the shape's text and embedded conventions to a copy of
// obj without touching the file system, so a tree can be compared with its
// recomposed form.
func (w *walker) normalize(shape *Shape, obj *tree.Object) *tree.Object {
	out := tree.Clone(obj).(*tree.Object)
	for _, r := range shape.Rules {
		v, ok := tree.Lookup(out, r.Field)
		if !ok {
			continue
		}
		switch r.Kind {
		case KindEmbedded:
			if parsed, ok := parseEmbedded(v); ok {
				tree.Put(out, r.Field, tree.String(tree.Marshal(w.canon(parsed))))
			}
		case KindText:
			if text, ok := textOf(v); ok {
				tree.Put(out, r.Field, textValue(text, r.Form))
			}
		case KindItems:
			arr, ok := itemsOf(out, r.Field)
			if !ok {
				continue
			}
			items := make(tree.Array, len(arr))
			for i, item := range arr {
				items[i] = w.normalize(r.Item, item.(*tree.Object))
			}
			tree.Put(out, r.Field, items)
		}
	}
	return out
}
