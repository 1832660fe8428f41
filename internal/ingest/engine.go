// Package ingest composes converters, serializers, the identifier cache and
// the project manifest into the extract and compile workflows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentic-research/pbixproj/api"
	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/engine"
	"github.com/agentic-research/pbixproj/internal/idcache"
	"github.com/agentic-research/pbixproj/internal/pbix"
	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/serialize"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// ErrNoModelLoader is returned for packages that only carry a binary model
// image when no query engine is configured.
var ErrNoModelLoader = errors.New("binary model image needs a query engine")

// ModelLoader materializes a binary model image into a model document.
type ModelLoader interface {
	LoadModel(ctx context.Context, image []byte) (tree.Value, error)
}

var _ ModelLoader = (*engine.Loader)(nil)

// Options configures an Engine.
type Options struct {
	// Settings replaces the manifest's settings when set.
	Settings *api.Settings
	// AllowLegacy accepts packages without a version part.
	AllowLegacy bool
	// Loader is used when the package has no model schema part.
	Loader ModelLoader
	Logger *slog.Logger
	// Now stamps the manifest. Defaults to time.Now.
	Now func() time.Time
}

// Engine drives extract and compile sessions.
type Engine struct {
	opts Options
	log  *slog.Logger
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{opts: opts, log: opts.Logger}
}

// Package is a decoded package: one tree value per artifact, Absent for
// missing ones.
type Package struct {
	Format    pbix.Format
	Artifacts map[string]tree.Value
	// Legacy names artifacts held in a format that cannot be compiled.
	Legacy map[string]bool
}

func newPackage(format pbix.Format) *Package {
	return &Package{Format: format, Artifacts: map[string]tree.Value{}, Legacy: map[string]bool{}}
}

// Get returns the artifact value or Absent.
func (p *Package) Get(name string) tree.Value {
	if v, ok := p.Artifacts[name]; ok && v != nil {
		return v
	}
	return convert.Absent
}

// ReadPackage decodes every artifact of p. Artifact failures are collected:
// the returned package holds everything that could be decoded, and the
// error joins the rest.
func (e *Engine) ReadPackage(ctx context.Context, p pbix.PartProvider) (*Package, error) {
	format, err := pbix.Check(p, e.opts.AllowLegacy)
	if err != nil {
		return nil, err
	}
	pkg := newPackage(format)
	var errs []error

	for _, b := range bindings {
		v, err := decodeBinding(p, b)
		if err != nil && b.artifact == serialize.ArtifactLinguisticSchema {
			if text, ok := e.legacyLinguistic(p); ok {
				e.log.Warn("linguistic schema is in legacy XML form, it will be extracted but cannot be compiled")
				pkg.Artifacts[b.artifact] = tree.String(text)
				pkg.Legacy[b.artifact] = true
				continue
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.artifact, err))
			continue
		}
		if convert.IsAbsent(v) {
			e.log.Debug("artifact absent", "artifact", b.artifact)
		}
		pkg.Artifacts[b.artifact] = v
	}

	model, err := e.readModel(ctx, p)
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", serialize.ArtifactModel, err))
	} else {
		pkg.Artifacts[serialize.ArtifactModel] = model
	}
	return pkg, errors.Join(errs...)
}

func (e *Engine) legacyLinguistic(p pbix.PartProvider) (string, bool) {
	data, ok, err := p.Part(pbix.PartLinguisticSchema)
	if err != nil || !ok {
		return "", false
	}
	return legacyText(data)
}

// readModel prefers the schema part (templates) and falls back to loading
// the binary image through the query engine.
func (e *Engine) readModel(ctx context.Context, p pbix.PartProvider) (tree.Value, error) {
	data, ok, err := p.Part(pbix.PartDataModelSchema)
	if err != nil {
		return nil, err
	}
	if ok {
		return utf16JSON.Decode(data)
	}
	image, ok, err := p.Part(pbix.PartDataModel)
	if err != nil {
		return nil, err
	}
	if !ok || len(image) == 0 {
		return convert.Absent, nil
	}
	if e.opts.Loader == nil {
		return nil, ErrNoModelLoader
	}
	e.log.Info("loading binary model through the query engine", "bytes", len(image))
	return e.opts.Loader.LoadModel(ctx, image)
}

func (e *Engine) settings(m *api.Manifest) api.Settings {
	if e.opts.Settings != nil {
		m.Settings = *e.opts.Settings
	}
	return m.Settings
}

// serializers returns the registry for a session, swapping in extract-only
// serializers for legacy artifacts.
func (e *Engine) serializers(settings api.Settings, legacy map[string]bool) []serialize.Serializer {
	all := serialize.Registry(settings, e.log)
	for i, s := range all {
		if legacy[s.Name()] && s.Name() == serialize.ArtifactLinguisticSchema {
			all[i] = serialize.NewLegacy(s.Name(), legacyLinguisticFile)
		}
	}
	return all
}

// Extract decodes p and writes it into root. root is committed only when
// every artifact was written; the caller closes it.
func (e *Engine) Extract(ctx context.Context, p pbix.PartProvider, root *project.Root) error {
	folder := root.Folder()
	manifest, err := project.LoadManifest(folder, e.log)
	if err != nil {
		return err
	}
	settings := e.settings(manifest)

	pkg, readErr := e.ReadPackage(ctx, p)
	if pkg == nil {
		return readErr
	}
	errs := []error{readErr}

	var cache *idcache.Cache
	modelDir := folder.Sub("Model")
	if model := pkg.Get(serialize.ArtifactModel); !convert.IsAbsent(model) && settings.Model.EffectiveMode() == api.ModeDefault {
		cache = idcache.New(idcache.FromModel(model), idcache.Load(modelDir, e.log))
		pkg.Artifacts[serialize.ArtifactModel] = cache.Rewrite(model)
	}

	for _, s := range e.serializers(settings, pkg.Legacy) {
		v := pkg.Get(s.Name())
		if convert.IsAbsent(v) {
			continue
		}
		e.log.Debug("serializing artifact", "artifact", s.Name())
		if err := s.Serialize(folder, v); err != nil {
			errs = append(errs, fmt.Errorf("serialize %s: %w", s.Name(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if cache != nil && cache.Len() > 0 {
		if err := cache.Save(modelDir); err != nil {
			return fmt.Errorf("save id cache: %w", err)
		}
	}
	if err := project.SaveManifest(folder, manifest, e.opts.Now()); err != nil {
		return err
	}
	root.Commit()
	e.log.Info("extracted package", "format", pkg.Format, "files", len(root.Written()))
	return nil
}

// ExtractFile extracts the package at src into dir. An occupied dir is
// refused unless overwrite is set; the check happens before anything is
// written.
func (e *Engine) ExtractFile(ctx context.Context, src, dir string, overwrite bool) error {
	if err := project.CheckDestination(dir, overwrite); err != nil {
		return err
	}
	p, err := pbix.OpenZip(src)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	root, err := project.OpenDir(dir, e.log)
	if err != nil {
		return err
	}
	extractErr := e.Extract(ctx, p, root)
	if err := root.Close(); err != nil && extractErr == nil {
		return fmt.Errorf("clean up project: %w", err)
	}
	return extractErr
}
