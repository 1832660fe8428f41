package pbix

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/tree"
)

const contentTypesNS = "http://schemas.openxmlformats.org/package/2006/content-types"

// Zip reads parts from a zip container.
type Zip struct {
	closer io.Closer
	files  map[string]*zip.File
	names  []string
}

// OpenZip opens the package at path.
func OpenZip(path string) (*Zip, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open package %s: %w", path, err)
	}
	z := newZip(&rc.Reader)
	z.closer = rc
	return z, nil
}

// ReadZip reads a package held in memory.
func ReadZip(data []byte) (*Zip, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	return newZip(r), nil
}

func newZip(r *zip.Reader) *Zip {
	z := &Zip{files: make(map[string]*zip.File, len(r.File))}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.TrimPrefix(f.Name, "/")
		z.files[name] = f
		z.names = append(z.names, name)
	}
	sort.Strings(z.names)
	return z
}

func (z *Zip) Part(name string) ([]byte, bool, error) {
	f, ok := z.files[name]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, true, fmt.Errorf("open part %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, true, fmt.Errorf("read part %s: %w", name, err)
	}
	return data, true, nil
}

func (z *Zip) List(prefix string) ([]string, error) {
	var out []string
	for _, name := range z.names {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (z *Zip) Close() error {
	if z.closer == nil {
		return nil
	}
	return z.closer.Close()
}

// WritePackage writes parts as a zip container: entries sorted by name,
// fixed timestamps, and a generated [Content_Types].xml first.
func WritePackage(w io.Writer, parts map[string][]byte) error {
	names := make([]string, 0, len(parts))
	for name := range parts {
		if name == PartContentTypes {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	types, err := contentTypes(names)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)
	if err := writeEntry(zw, PartContentTypes, types); err != nil {
		return err
	}
	for _, name := range names {
		if err := writeEntry(zw, name, parts[name]); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close package: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	h := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: convert.ZipEpoch}
	h.SetMode(0o644)
	fw, err := zw.CreateHeader(h)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// contentTypes lists every part as an override with an empty content type,
// plus defaults for the resource extensions present.
func contentTypes(names []string) ([]byte, error) {
	exts := map[string]bool{}
	overrides := make(tree.Array, 0, len(names))
	for _, name := range names {
		if ext := strings.TrimPrefix(path.Ext(name), "."); ext != "" && strings.Contains(name, "/") {
			exts[ext] = true
			continue
		}
		overrides = append(overrides, tree.NewObject(
			tree.Member{Key: "@PartName", Value: tree.String("/" + name)},
			tree.Member{Key: "@ContentType", Value: tree.String("")},
		))
	}
	defaults := make(tree.Array, 0, len(exts))
	keys := make([]string, 0, len(exts))
	for ext := range exts {
		keys = append(keys, ext)
	}
	sort.Strings(keys)
	for _, ext := range keys {
		defaults = append(defaults, tree.NewObject(
			tree.Member{Key: "@Extension", Value: tree.String(ext)},
			tree.Member{Key: "@ContentType", Value: tree.String("")},
		))
	}
	types := tree.NewObject(tree.Member{Key: "@xmlns", Value: tree.String(contentTypesNS)})
	if len(defaults) > 0 {
		types.Set("Default", defaults)
	}
	if len(overrides) > 0 {
		types.Set("Override", overrides)
	}
	return convert.XML{}.Encode(tree.NewObject(tree.Member{Key: "Types", Value: types}))
}
