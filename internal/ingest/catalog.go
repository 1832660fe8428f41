package ingest

import (
	"fmt"
	"os"

	"github.com/agentic-research/pbixproj/api"
	"github.com/agentic-research/pbixproj/internal/catalog"
	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/serialize"
)

// BuildCatalog indexes the model and report of the project in folder into
// a new SQLite database at dbPath and returns the number of objects.
func (e *Engine) BuildCatalog(folder *project.Folder, dbPath string, overwrite bool) (int, error) {
	if _, err := os.Stat(dbPath); err == nil {
		if !overwrite {
			return 0, fmt.Errorf("%s: %w", dbPath, project.ErrDestinationExists)
		}
		if err := os.Remove(dbPath); err != nil {
			return 0, err
		}
	}
	model, err := e.LoadArtifact(folder, serialize.ArtifactModel)
	if err != nil {
		return 0, err
	}
	report, err := e.LoadArtifact(folder, serialize.ArtifactReport)
	if err != nil {
		return 0, err
	}

	w, err := catalog.Create(dbPath, e.log)
	if err != nil {
		return 0, err
	}
	total := 0
	if !convert.IsAbsent(model) {
		n, err := catalog.IndexModel(w, model)
		total += n
		if err != nil {
			_ = w.Close()
			return total, fmt.Errorf("index model: %w", err)
		}
	}
	if !convert.IsAbsent(report) {
		n, err := catalog.IndexReport(w, report)
		total += n
		if err != nil {
			_ = w.Close()
			return total, fmt.Errorf("index report: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return total, fmt.Errorf("close catalog: %w", err)
	}
	e.log.Info("catalog built", "objects", total, "db", dbPath)
	return total, nil
}

// Info summarizes a project folder.
type Info struct {
	Manifest  *api.Manifest
	Artifacts []string
}

// Describe reads the manifest and lists the artifacts present on disk.
func (e *Engine) Describe(folder *project.Folder) (*Info, error) {
	manifest, err := project.LoadManifest(folder, e.log)
	if err != nil {
		return nil, err
	}
	info := &Info{Manifest: manifest}
	for _, s := range e.serializers(e.settings(manifest), nil) {
		v, err := s.Deserialize(folder)
		if err != nil {
			e.log.Warn("artifact cannot be read", "artifact", s.Name(), "error", err)
			info.Artifacts = append(info.Artifacts, s.Name()+" (unreadable)")
			continue
		}
		if !convert.IsAbsent(v) {
			info.Artifacts = append(info.Artifacts, s.Name())
		}
	}
	return info, nil
}
