package ingest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentic-research/pbixproj/api"
	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/pbix"
	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/serialize"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// OutputFormat selects what Compile produces.
type OutputFormat string

const (
	// FormatPBIT is a template package with the model as a schema part.
	FormatPBIT OutputFormat = "pbit"
	// FormatJSON is a single document holding every artifact.
	FormatJSON OutputFormat = "json"
)

// ParseOutputFormat accepts the names of the output formats, case-insensitively.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatPBIT, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want pbit or json)", s)
}

// ReadProject deserializes every artifact of the project in folder. Any
// artifact that cannot be read back fails the whole call.
func (e *Engine) ReadProject(folder *project.Folder) (*Package, error) {
	manifest, err := project.LoadManifest(folder, e.log)
	if err != nil {
		return nil, err
	}
	settings := e.settings(manifest)
	pkg := newPackage(pbix.FormatV3)
	for _, s := range e.serializers(settings, nil) {
		v, err := s.Deserialize(folder)
		if err != nil {
			return nil, fmt.Errorf("deserialize %s: %w", s.Name(), err)
		}
		if !convert.IsAbsent(v) {
			pkg.Artifacts[s.Name()] = v
		}
	}
	return pkg, nil
}

// LoadArtifact deserializes a single artifact.
func (e *Engine) LoadArtifact(folder *project.Folder, name string) (tree.Value, error) {
	manifest, err := project.LoadManifest(folder, e.log)
	if err != nil {
		return nil, err
	}
	s, ok := serialize.Lookup(e.serializers(e.settings(manifest), nil), name)
	if !ok {
		return nil, fmt.Errorf("unknown artifact %q", name)
	}
	return s.Deserialize(folder)
}

// Parts encodes pkg into package parts. The model is written as a schema
// part, so the result is a template.
func (e *Engine) Parts(pkg *Package) (map[string][]byte, error) {
	for _, required := range []string{serialize.ArtifactVersion, serialize.ArtifactReport} {
		if convert.IsAbsent(pkg.Get(required)) {
			return nil, fmt.Errorf("project has no %s artifact: %w", required, api.ErrUnsupportedFormat)
		}
	}
	if len(pkg.Legacy) > 0 {
		return nil, fmt.Errorf("package holds legacy artifacts: %w", serialize.ErrUnsupported)
	}
	parts := map[string][]byte{}
	for _, b := range bindings {
		if err := encodeBinding(b, pkg.Get(b.artifact), parts); err != nil {
			return nil, fmt.Errorf("encode %s: %w", b.artifact, err)
		}
	}
	if model := pkg.Get(serialize.ArtifactModel); !convert.IsAbsent(model) {
		data, err := utf16JSON.Encode(model)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", serialize.ArtifactModel, err)
		}
		parts[pbix.PartDataModelSchema] = data
	}
	return parts, nil
}

// Document consolidates pkg into one JSON object keyed by artifact name.
func (e *Engine) Document(pkg *Package) tree.Value {
	doc := &tree.Object{}
	for _, s := range serialize.Registry(api.Settings{}, e.log) {
		if v := pkg.Get(s.Name()); !convert.IsAbsent(v) {
			doc.Set(s.Name(), v)
		}
	}
	return doc
}

// Compile writes the project in folder to w.
func (e *Engine) Compile(folder *project.Folder, format OutputFormat, w io.Writer) error {
	pkg, err := e.ReadProject(folder)
	if err != nil {
		return err
	}
	if format == FormatJSON {
		_, err := w.Write(tree.MarshalIndent(e.Document(pkg)))
		return err
	}
	parts, err := e.Parts(pkg)
	if err != nil {
		return err
	}
	return pbix.WritePackage(w, parts)
}

// CompileFile compiles the project in dir into the file out. An existing
// out is refused unless overwrite is set. The file is written to a
// temporary name first and renamed on success.
func (e *Engine) CompileFile(dir, out string, format OutputFormat, overwrite bool) error {
	if _, err := os.Stat(out); err == nil && !overwrite {
		return fmt.Errorf("%s: %w", out, project.ErrDestinationExists)
	}
	if info, err := os.Stat(dir); err != nil {
		return fmt.Errorf("open project: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("open project: %s is not a directory", dir)
	}
	root, err := project.OpenDir(dir, e.log)
	if err != nil {
		return err
	}
	defer func() { _ = root.Close() }()

	var buf bytes.Buffer
	if err := e.Compile(root.Folder(), format, &buf); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(out), ".pbixproj-out-*")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write output: %w", err)
	}
	e.log.Info("compiled project", "format", format, "out", out, "bytes", buf.Len())
	return nil
}
