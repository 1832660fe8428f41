// Package serialize maps artifact trees onto a project folder and back.
//
// Each artifact has a Serializer. Most are driven by a declarative Shape:
// named arrays become one file or folder per item, formulas become .dax and
// .m files, and JSON documents embedded in string fields get their own
// files. Deserialize is the strict inverse, so for every serializer
//
//	Deserialize(Serialize(v)) == Canonicalize(v)
package serialize

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/transform"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// ErrUnsupported is returned when an artifact found on disk cannot be read
// back into a package.
var ErrUnsupported = errors.New("deserialization not supported")

// Serializer writes one artifact into a project folder and reads it back.
// Serialize and Deserialize take the project root folder; each serializer
// owns its location below it. Deserialize returns convert.Absent when the
// artifact is not on disk.
type Serializer interface {
	Name() string
	Serialize(folder *project.Folder, v tree.Value) error
	Deserialize(folder *project.Folder) (tree.Value, error)
	Canonicalize(v tree.Value) tree.Value
}

func loggerOr(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// ShapeSerializer decomposes an artifact into Dir following Shape.
type ShapeSerializer struct {
	name  string
	dir   string
	shape Shape
	w     *walker
}

// NewShape returns a serializer for a shape-driven artifact. strip names
// volatile properties removed during canonicalization.
func NewShape(name, dir string, shape Shape, strip []string, logger *slog.Logger) *ShapeSerializer {
	canon := func(v tree.Value) tree.Value { return transform.Canonicalize(v, strip...) }
	return &ShapeSerializer{
		name:  name,
		dir:   dir,
		shape: shape,
		w:     &walker{canon: canon, finish: transform.SortKeys, log: loggerOr(logger)},
	}
}

func (s *ShapeSerializer) Name() string { return s.name }

// Dir returns the artifact folder relative to the project root.
func (s *ShapeSerializer) Dir() string { return s.dir }

func (s *ShapeSerializer) Serialize(folder *project.Folder, v tree.Value) error {
	if convert.IsAbsent(v) {
		return nil
	}
	obj, ok := v.(*tree.Object)
	if !ok {
		return fmt.Errorf("%s: expected object, got %s", s.name, v.Kind())
	}
	if err := s.w.writeFolder(folder.Sub(s.dir), &s.shape, obj); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}

func (s *ShapeSerializer) Deserialize(folder *project.Folder) (tree.Value, error) {
	obj, ok, err := s.w.readFolder(folder.Sub(s.dir), &s.shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	if !ok {
		return convert.Absent, nil
	}
	return s.w.finish(obj), nil
}

func (s *ShapeSerializer) Canonicalize(v tree.Value) tree.Value {
	obj, ok := v.(*tree.Object)
	if !ok {
		return s.w.canon(v)
	}
	return s.w.finish(s.w.canon(s.w.normalize(&s.shape, obj)))
}

// Document writes an artifact as one canonical JSON file.
type Document struct {
	name   string
	file   string
	legacy string
	strip  []string
}

// NewDocument returns a single-file serializer writing file.
func NewDocument(name, file string, strip ...string) *Document {
	return &Document{name: name, file: file, strip: strip}
}

// WithLegacy names a file written by older layouts that cannot be compiled;
// finding it instead of the JSON file fails with ErrUnsupported.
func (d *Document) WithLegacy(file string) *Document {
	d.legacy = file
	return d
}

func (d *Document) Name() string { return d.name }

func (d *Document) Serialize(folder *project.Folder, v tree.Value) error {
	if convert.IsAbsent(v) {
		return nil
	}
	return folder.WriteJSON(d.file, d.Canonicalize(v))
}

func (d *Document) Deserialize(folder *project.Folder) (tree.Value, error) {
	v, err := folder.ReadJSON(d.file)
	if errors.Is(err, os.ErrNotExist) {
		if d.legacy != "" && folder.FileExists(d.legacy) {
			return nil, fmt.Errorf("%s: %s: %w", d.name, d.legacy, ErrUnsupported)
		}
		return convert.Absent, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	return v, nil
}

func (d *Document) Canonicalize(v tree.Value) tree.Value {
	return transform.Canonicalize(v, d.strip...)
}

// Legacy writes an artifact verbatim in a format that current packages no
// longer accept. It can be extracted for inspection but never compiled.
type Legacy struct {
	name string
	file string
}

// NewLegacy returns an extract-only serializer writing text to file.
func NewLegacy(name, file string) *Legacy {
	return &Legacy{name: name, file: file}
}

func (l *Legacy) Name() string { return l.name }

func (l *Legacy) Serialize(folder *project.Folder, v tree.Value) error {
	if convert.IsAbsent(v) {
		return nil
	}
	s, ok := v.(tree.String)
	if !ok {
		return fmt.Errorf("%s: expected text, got %s", l.name, v.Kind())
	}
	return folder.WriteText(l.file, string(s))
}

func (l *Legacy) Deserialize(folder *project.Folder) (tree.Value, error) {
	if !folder.FileExists(l.file) {
		return convert.Absent, nil
	}
	return nil, fmt.Errorf("%s: %w", l.name, ErrUnsupported)
}

func (l *Legacy) Canonicalize(v tree.Value) tree.Value { return v }

// Files writes {path: base64} trees as opaque files below dir.
type Files struct {
	name string
	dir  string
}

// NewFiles returns a serializer for resource parts.
func NewFiles(name, dir string) *Files {
	return &Files{name: name, dir: dir}
}

func (r *Files) Name() string { return r.name }

func (r *Files) Serialize(folder *project.Folder, v tree.Value) error {
	if convert.IsAbsent(v) {
		return nil
	}
	obj, ok := v.(*tree.Object)
	if !ok {
		return fmt.Errorf("%s: expected object, got %s", r.name, v.Kind())
	}
	return writeBlobs(folder.Sub(r.dir), obj)
}

func (r *Files) Deserialize(folder *project.Folder) (tree.Value, error) {
	sub := folder.Sub(r.dir)
	if !sub.Exists() {
		return convert.Absent, nil
	}
	obj, err := readBlobs(sub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	if obj.Len() == 0 {
		return convert.Absent, nil
	}
	return obj, nil
}

func (r *Files) Canonicalize(v tree.Value) tree.Value {
	return transform.SortKeys(v)
}

// escapePath escapes each segment of a slash path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = project.Escape(s)
	}
	return path.Join(segs...)
}

func unescapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = project.Unescape(s)
	}
	return strings.Join(segs, "/")
}

func writeBlobs(f *project.Folder, blobs *tree.Object) error {
	for _, m := range blobs.Members() {
		s, ok := m.Value.(tree.String)
		if !ok {
			return fmt.Errorf("%s: expected base64 string", m.Key)
		}
		data, err := base64.StdEncoding.DecodeString(string(s))
		if err != nil {
			return fmt.Errorf("%s: %w", m.Key, err)
		}
		if err := f.WriteFile(escapePath(m.Key), data); err != nil {
			return err
		}
	}
	return nil
}

// readBlobs reads every file below f into a sorted {path: base64} object.
func readBlobs(f *project.Folder) (*tree.Object, error) {
	files, err := f.Walk()
	if err != nil {
		return nil, err
	}
	out := &tree.Object{}
	for _, p := range files {
		data, err := f.ReadFile(p)
		if err != nil {
			return nil, err
		}
		out.Set(unescapePath(p), tree.String(base64.StdEncoding.EncodeToString(data)))
	}
	return transform.SortKeys(out).(*tree.Object), nil
}

// Version writes the package version string to a text file.
type Version struct {
	file string
}

// NewVersion returns the serializer for the Version part.
func NewVersion(file string) *Version {
	return &Version{file: file}
}

func (v *Version) Name() string { return "Version" }

func (v *Version) Serialize(folder *project.Folder, val tree.Value) error {
	if convert.IsAbsent(val) {
		return nil
	}
	s, ok := val.(tree.String)
	if !ok {
		return fmt.Errorf("version: expected string, got %s", val.Kind())
	}
	return folder.WriteText(v.file, string(s))
}

func (v *Version) Deserialize(folder *project.Folder) (tree.Value, error) {
	data, err := folder.ReadFile(v.file)
	if errors.Is(err, os.ErrNotExist) {
		return convert.Absent, nil
	}
	if err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	return tree.String(data), nil
}

func (v *Version) Canonicalize(val tree.Value) tree.Value { return val }

// Raw writes an artifact as a single <name>.json file, verbatim.
type Raw struct {
	name string
}

// NewRaw returns the raw-mode serializer for an artifact.
func NewRaw(name string) *Raw {
	return &Raw{name: name}
}

func (r *Raw) Name() string { return r.name }

// File returns the file name the artifact is written to.
func (r *Raw) File() string { return r.name + ".json" }

func (r *Raw) Serialize(folder *project.Folder, v tree.Value) error {
	if convert.IsAbsent(v) {
		return nil
	}
	return folder.WriteJSON(r.File(), v)
}

func (r *Raw) Deserialize(folder *project.Folder) (tree.Value, error) {
	v, err := folder.ReadJSON(r.File())
	if errors.Is(err, os.ErrNotExist) {
		return convert.Absent, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	return v, nil
}

func (r *Raw) Canonicalize(v tree.Value) tree.Value { return v }
