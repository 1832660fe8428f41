package serialize

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/transform"
	"github.com/agentic-research/pbixproj/internal/tree"
)

const (
	mashupDescriptor = "mashup.json"
	mashupPackageDir = "Package"
	mashupContentDir = "Contents"
	mashupMetadata   = "Metadata"
	permissionsFile  = "permissions.json"
	bindingsFile     = "permissionBindings.bin"
)

// Metadata XML is order sensitive, so it is written as decoded: no key
// sorting, no number rewriting.
var metadataShape = Shape{
	Descriptor: "metadata.json",
	Rules: []Rule{
		Items("xml.LocalPackageMetadataFile.Items.Item", Shape{}, "ItemLocation.ItemPath", "ItemLocation.ItemType").In("Items"),
	},
}

// Mashup lays out the decoded DataMashup record:
//
//	Mashup/mashup.json             record version
//	Mashup/Package/...             package parts (Formulas/Section1.m, ...)
//	Mashup/permissions.json
//	Mashup/Metadata/metadata.json  metadata document without its items
//	Mashup/Metadata/Items/*.json   one file per query item
//	Mashup/Metadata/Contents/...   metadata content parts
//	Mashup/permissionBindings.bin
type Mashup struct {
	dir string
	w   *walker
}

// NewMashup returns the serializer for the Mashup artifact.
func NewMashup(dir string, logger *slog.Logger) *Mashup {
	identity := func(v tree.Value) tree.Value { return v }
	return &Mashup{dir: dir, w: &walker{canon: identity, finish: identity, log: loggerOr(logger)}}
}

func (m *Mashup) Name() string { return "Mashup" }

func (m *Mashup) Serialize(folder *project.Folder, v tree.Value) error {
	if convert.IsAbsent(v) {
		return nil
	}
	obj, ok := v.(*tree.Object)
	if !ok {
		return fmt.Errorf("mashup: expected object, got %s", v.Kind())
	}
	f := folder.Sub(m.dir)

	version, _ := obj.Get("version")
	if err := f.WriteJSON(mashupDescriptor, tree.NewObject(tree.Member{Key: "version", Value: orZero(version)})); err != nil {
		return err
	}
	if parts, ok := obj.GetObject("packageParts"); ok {
		if err := writeBlobs(f.Sub(mashupPackageDir), parts); err != nil {
			return fmt.Errorf("mashup package: %w", err)
		}
	}
	if perms, ok := obj.Get("permissions"); ok && perms.Kind() != tree.KindNull {
		if err := f.WriteJSON(permissionsFile, perms); err != nil {
			return err
		}
	}
	if meta, ok := obj.GetObject("metadata"); ok {
		if err := m.writeMetadata(f.Sub(mashupMetadata), meta); err != nil {
			return fmt.Errorf("mashup metadata: %w", err)
		}
	}
	if s, ok := obj.GetString("permissionBindings"); ok {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("mashup permission bindings: %w", err)
		}
		if err := f.WriteFile(bindingsFile, data); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mashup) writeMetadata(f *project.Folder, meta *tree.Object) error {
	descriptor := &tree.Object{}
	for _, key := range []string{"version", "xml"} {
		if v, ok := meta.Get(key); ok {
			descriptor.Set(key, v)
		}
	}
	if err := m.w.writeFolder(f, &metadataShape, descriptor); err != nil {
		return err
	}
	if content, ok := meta.GetObject("content"); ok {
		return writeBlobs(f.Sub(mashupContentDir), content)
	}
	return nil
}

func (m *Mashup) Deserialize(folder *project.Folder) (tree.Value, error) {
	f := folder.Sub(m.dir)
	head, err := f.ReadJSON(mashupDescriptor)
	if errors.Is(err, os.ErrNotExist) {
		return convert.Absent, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mashup: %w", err)
	}
	version, _ := tree.Lookup(head, "version")

	parts := &tree.Object{}
	if pkg := f.Sub(mashupPackageDir); pkg.Exists() {
		if parts, err = readBlobs(pkg); err != nil {
			return nil, fmt.Errorf("mashup package: %w", err)
		}
	}

	var perms tree.Value = tree.Null{}
	if f.FileExists(permissionsFile) {
		if perms, err = f.ReadJSON(permissionsFile); err != nil {
			return nil, fmt.Errorf("mashup: %w", err)
		}
	}

	meta, err := m.readMetadata(f.Sub(mashupMetadata))
	if err != nil {
		return nil, fmt.Errorf("mashup metadata: %w", err)
	}

	bindings, err := f.ReadFile(bindingsFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("mashup: %w", err)
	}

	return tree.NewObject(
		tree.Member{Key: "version", Value: orZero(version)},
		tree.Member{Key: "packageParts", Value: parts},
		tree.Member{Key: "permissions", Value: perms},
		tree.Member{Key: "metadata", Value: meta},
		tree.Member{Key: "permissionBindings", Value: tree.String(base64.StdEncoding.EncodeToString(bindings))},
	), nil
}

func (m *Mashup) readMetadata(f *project.Folder) (*tree.Object, error) {
	descriptor, ok, err := m.w.readFolder(f, &metadataShape)
	if err != nil {
		return nil, err
	}
	if !ok {
		descriptor = &tree.Object{}
	}
	version, _ := descriptor.Get("version")
	xmlDoc, ok := descriptor.Get("xml")
	if !ok {
		xmlDoc = tree.Null{}
	}
	content := &tree.Object{}
	if c := f.Sub(mashupContentDir); c.Exists() {
		if content, err = readBlobs(c); err != nil {
			return nil, err
		}
	}
	return tree.NewObject(
		tree.Member{Key: "version", Value: orZero(version)},
		tree.Member{Key: "xml", Value: xmlDoc},
		tree.Member{Key: "content", Value: content},
	), nil
}

// Canonicalize rebuilds the record in its fixed member order with zip
// entries sorted by path.
func (m *Mashup) Canonicalize(v tree.Value) tree.Value {
	obj, ok := v.(*tree.Object)
	if !ok {
		return v
	}
	get := func(o *tree.Object, key string) tree.Value {
		if x, ok := o.Get(key); ok {
			return tree.Clone(x)
		}
		return nil
	}
	sortedBlobs := func(x tree.Value) tree.Value {
		if o, ok := x.(*tree.Object); ok {
			return transform.SortKeys(o)
		}
		return &tree.Object{}
	}
	meta, _ := obj.GetObject("metadata")
	if meta == nil {
		meta = &tree.Object{}
	}
	var xmlDoc tree.Value = tree.Null{}
	if x, ok := meta.Get("xml"); ok {
		if o, ok := x.(*tree.Object); ok {
			xmlDoc = m.w.normalize(&metadataShape, tree.NewObject(tree.Member{Key: "xml", Value: o}))
			xmlDoc, _ = tree.Lookup(xmlDoc, "xml")
		} else {
			xmlDoc = x
		}
	}
	perms := get(obj, "permissions")
	if perms == nil {
		perms = tree.Null{}
	}
	bindings := get(obj, "permissionBindings")
	if bindings == nil {
		bindings = tree.String("")
	}
	return tree.NewObject(
		tree.Member{Key: "version", Value: orZero(get(obj, "version"))},
		tree.Member{Key: "packageParts", Value: sortedBlobs(get(obj, "packageParts"))},
		tree.Member{Key: "permissions", Value: perms},
		tree.Member{Key: "metadata", Value: tree.NewObject(
			tree.Member{Key: "version", Value: orZero(get(meta, "version"))},
			tree.Member{Key: "xml", Value: xmlDoc},
			tree.Member{Key: "content", Value: sortedBlobs(get(meta, "content"))},
		)},
		tree.Member{Key: "permissionBindings", Value: bindings},
	)
}

func orZero(v tree.Value) tree.Value {
	if n, ok := v.(tree.Number); ok {
		return n
	}
	return tree.Int(0)
}
