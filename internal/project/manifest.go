package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/pbixproj/api"
	"github.com/agentic-research/pbixproj/internal/transform"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// Migration upgrades a manifest document written by an older format version.
type Migration struct {
	// Version is the format version the migration upgrades to.
	Version     string
	Description string
	Apply       func(doc *tree.Object)
}

// Migrations is the compatibility log, oldest first.
var Migrations = []Migration{
	{
		Version:     "0.11",
		Description: "custom data bag renamed from customData to custom",
		Apply: func(doc *tree.Object) {
			if v, ok := doc.Delete("customData"); ok && !doc.Has("custom") {
				doc.Set("custom", v)
			}
		},
	},
	{
		Version:     "0.12",
		Description: "flat settings.<artifact>SerializationMode moved to settings.<artifact>.serializationMode",
		Apply: func(doc *tree.Object) {
			settings, ok := doc.GetObject("settings")
			if !ok {
				return
			}
			for _, artifact := range []string{"model", "report", "mashup"} {
				v, ok := settings.Delete(artifact + "SerializationMode")
				if !ok {
					continue
				}
				tree.Put(settings, artifact+".serializationMode", v)
			}
		},
	},
	{
		Version:     "0.13",
		Description: "identifier cache stored in Model/.idcache.json; manifest unchanged",
		Apply:       func(*tree.Object) {},
	},
}

func semverOf(v string) string {
	return "v" + strings.TrimPrefix(v, "v")
}

// LoadManifest reads the manifest at the project root. A missing manifest
// yields a fresh one; an unreadable or unparseable one is logged and also
// replaced by a fresh one. A manifest from a newer format version fails with
// api.ErrUnsupportedFormat.
func LoadManifest(f *Folder, logger *slog.Logger) (*api.Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := f.ReadFile(api.ManifestFile)
	if errors.Is(err, os.ErrNotExist) {
		return api.NewManifest(), nil
	}
	if err != nil {
		logger.Warn("cannot read project manifest, using defaults", "error", err)
		return api.NewManifest(), nil
	}
	m, err := ParseManifest(data)
	if errors.Is(err, api.ErrUnsupportedFormat) {
		return nil, err
	}
	if err != nil {
		logger.Warn("corrupt project manifest, using defaults", "error", err)
		return api.NewManifest(), nil
	}
	return m, nil
}

// ParseManifest decodes a manifest (JSON with comments tolerated) and runs
// the migrations needed to bring it to api.FormatVersion.
func ParseManifest(data []byte) (*api.Manifest, error) {
	v, err := tree.ParseJSON(jsonc.ToJSON(data))
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	doc, ok := v.(*tree.Object)
	if !ok {
		return nil, fmt.Errorf("parse manifest: expected object, got %s", v.Kind())
	}
	version, _ := doc.GetString("version")
	if !semver.IsValid(semverOf(version)) {
		return nil, fmt.Errorf("parse manifest: invalid version %q", version)
	}
	if semver.Compare(semverOf(version), semverOf(api.FormatVersion)) > 0 {
		return nil, fmt.Errorf("project format %s is newer than supported %s: %w",
			version, api.FormatVersion, api.ErrUnsupportedFormat)
	}
	for _, m := range Migrations {
		if semver.Compare(semverOf(version), semverOf(m.Version)) < 0 {
			m.Apply(doc)
		}
	}
	doc.Set("version", tree.String(api.FormatVersion))

	var m api.Manifest
	if err := json.Unmarshal(tree.Marshal(doc), &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// SaveManifest stamps the timestamps and writes the manifest.
func SaveManifest(f *Folder, m *api.Manifest, now time.Time) error {
	now = now.UTC().Truncate(time.Second)
	if m.Created.IsZero() {
		m.Created = now
	}
	m.LastModified = now
	m.Version = api.FormatVersion

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	v, err := tree.ParseJSON(data)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	// Only the known part is sorted; custom keeps the user's member order.
	obj := v.(*tree.Object)
	custom, hasCustom := obj.Delete("custom")
	out := transform.SortKeys(obj).(*tree.Object)
	if hasCustom {
		out.Set("custom", custom)
	}
	return f.WriteJSON(api.ManifestFile, out)
}

// LoadSettingsFile reads a settings override file. YAML is chosen by
// extension; everything else is parsed as JSON with comments.
func LoadSettingsFile(path string) (api.Settings, error) {
	var s api.Settings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parse settings %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &s); err != nil {
			return s, fmt.Errorf("parse settings %s: %w", path, err)
		}
	}
	return s, nil
}
