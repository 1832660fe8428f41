package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/pbixproj/api"
	"github.com/agentic-research/pbixproj/internal/tree"
)

func TestEscape(t *testing.T) {
	got := Escape(`Special/Chars\"<>|:*?`)
	assert.Equal(t, "Special%2FChars%5C%22%3C%3E%7C%3A%2A%3F", got)
	assert.Equal(t, `Special/Chars\"<>|:*?`, Unescape(got))

	assert.Equal(t, "Sales Amount", Escape("Sales Amount"))
	assert.Equal(t, "100%25", Escape("100%"))
	assert.Equal(t, "%2E%2E", Escape(".."))
	assert.Equal(t, "%00", Escape(""))
	assert.Equal(t, "a%0Ab", Escape("a\nb"))
}

func TestEscape_Injective(t *testing.T) {
	inputs := []string{
		"a/b", "a\\b", "a%2Fb", "a:b", "a?b", "a*b", `a"b`, "a<b", "a>b", "a|b",
		"a%b", "a%25b", "ab", ".", "..", "", "%2E",
	}
	seen := map[string]string{}
	for _, in := range inputs {
		out := Escape(in)
		if prev, dup := seen[out]; dup {
			t.Fatalf("Escape(%q) and Escape(%q) collide on %q", prev, in, out)
		}
		seen[out] = in
		assert.Equal(t, in, Unescape(out), "Unescape(Escape(%q))", in)
	}
}

func writeAll(t *testing.T, f *Folder, files ...string) {
	t.Helper()
	for _, name := range files {
		require.NoError(t, f.WriteText(name, "content of "+name))
	}
}

func TestRoot_PrunesStaleFilesOnCommit(t *testing.T) {
	fs := memfs.New()

	first := New(fs, nil)
	writeAll(t, first.Folder().Sub("Model", "tables"), "A/table.json", "B/table.json", "C/table.json")
	first.Commit()
	require.NoError(t, first.Close())

	second := New(fs, nil)
	writeAll(t, second.Folder().Sub("Model", "tables"), "A/table.json")
	second.Commit()
	require.NoError(t, second.Close())

	tables := New(fs, nil).Folder().Sub("Model", "tables")
	dirs, err := tables.Dirs()
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, dirs)
}

func TestRoot_UncommittedSessionKeepsEverything(t *testing.T) {
	fs := memfs.New()

	first := New(fs, nil)
	writeAll(t, first.Folder().Sub("Model", "tables"), "A/table.json", "B/table.json", "C/table.json")
	first.Commit()
	require.NoError(t, first.Close())

	aborted := New(fs, nil)
	writeAll(t, aborted.Folder().Sub("Model", "tables"), "A/table.json")
	require.NoError(t, aborted.Close())

	dirs, err := New(fs, nil).Folder().Sub("Model", "tables").Dirs()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, dirs)
}

func TestRoot_KeepsTopLevelDotEntries(t *testing.T) {
	fs := memfs.New()
	seed := New(fs, nil)
	writeAll(t, seed.Folder(), ".git/HEAD", ".gitignore", "stale.txt")
	seed.Commit()
	require.NoError(t, seed.Close())

	session := New(fs, nil)
	writeAll(t, session.Folder(), "Version.txt")
	session.Commit()
	require.NoError(t, session.Close())

	root := New(fs, nil).Folder()
	assert.True(t, root.FileExists(".gitignore"))
	assert.True(t, root.Sub(".git").FileExists("HEAD"))
	assert.True(t, root.FileExists("Version.txt"))
	assert.False(t, root.FileExists("stale.txt"))
}

func TestFolder_WriteAfterCloseFails(t *testing.T) {
	r := New(memfs.New(), nil)
	require.NoError(t, r.Close())
	assert.Error(t, r.Folder().WriteText("x.txt", "x"))
}

func TestFolder_ReadWriteList(t *testing.T) {
	r := New(memfs.New(), nil)
	f := r.Folder().Sub("Report")

	require.NoError(t, f.WriteJSON("report.json", tree.NewObject(tree.Member{Key: "id", Value: tree.Int(1)})))
	require.NoError(t, f.WriteText("sections/000_Page/section.json", "{}"))

	v, err := f.ReadJSON("report.json")
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(tree.Marshal(v)))

	_, err = f.ReadFile("missing.json")
	assert.ErrorIs(t, err, os.ErrNotExist)

	files, err := f.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"report.json"}, files)

	all, err := f.Walk()
	require.NoError(t, err)
	assert.Equal(t, []string{"report.json", "sections/000_Page/section.json"}, all)

	assert.Equal(t, []string{"Report/report.json", "Report/sections/000_Page/section.json"}, r.Written())
	assert.False(t, r.Folder().Sub("Nope").Exists())
}

func TestCheckDestination(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckDestination(filepath.Join(dir, "new"), false))
	assert.NoError(t, CheckDestination(dir, false), "empty dir is free")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), []byte("x"), 0o644))
	assert.ErrorIs(t, CheckDestination(dir, false), ErrDestinationExists)
	assert.NoError(t, CheckDestination(dir, true))
	assert.ErrorIs(t, CheckDestination(filepath.Join(dir, "x"), false), ErrDestinationExists)
}

func TestOpenDir_WritesToDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj")
	r, err := OpenDir(dir, nil)
	require.NoError(t, err)
	require.NoError(t, r.Folder().Sub("Model").WriteText("database.json", "{}\n"))
	r.Commit()
	require.NoError(t, r.Close())

	got, err := os.ReadFile(filepath.Join(dir, "Model", "database.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(got))
}

func TestManifest_MissingIsFresh(t *testing.T) {
	m, err := LoadManifest(New(memfs.New(), nil).Folder(), nil)
	require.NoError(t, err)
	assert.Equal(t, api.FormatVersion, m.Version)
	assert.True(t, m.Created.IsZero())
}

func TestManifest_CorruptIsFresh(t *testing.T) {
	r := New(memfs.New(), nil)
	require.NoError(t, r.Folder().WriteText(api.ManifestFile, "{not json"))

	m, err := LoadManifest(r.Folder(), nil)
	require.NoError(t, err)
	assert.Equal(t, api.FormatVersion, m.Version)
}

func TestManifest_NewerVersionRejected(t *testing.T) {
	r := New(memfs.New(), nil)
	require.NoError(t, r.Folder().WriteText(api.ManifestFile, `{"version": "9.0"}`))

	_, err := LoadManifest(r.Folder(), nil)
	assert.ErrorIs(t, err, api.ErrUnsupportedFormat)
}

func TestManifest_MigratesAndPreservesCustom(t *testing.T) {
	legacy := `{
  // written by an old build
  "version": "0.10",
  "created": "2023-01-02T03:04:05Z",
  "settings": {"modelSerializationMode": "Raw"},
  "customData": {"zeta": 1, "alpha": {"nested": [true]}},
}`
	m, err := ParseManifest([]byte(legacy))
	require.NoError(t, err)
	assert.Equal(t, api.FormatVersion, m.Version)
	assert.Equal(t, api.ModeRaw, m.Settings.Model.SerializationMode)
	assert.Equal(t, api.ModeDefault, m.Settings.Report.EffectiveMode())
	assert.JSONEq(t, `{"zeta": 1, "alpha": {"nested": [true]}}`, string(m.Custom))

	r := New(memfs.New(), nil)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	require.NoError(t, SaveManifest(r.Folder(), m, now))

	reloaded, err := LoadManifest(r.Folder(), nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC), reloaded.Created.UTC())
	assert.Equal(t, now, reloaded.LastModified.UTC())
	assert.Equal(t, `{"zeta":1,"alpha":{"nested":[true]}}`, string(reloaded.Custom))
}

func TestLoadSettingsFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("model:\n  serializationMode: Raw\n  ignoreProperties: [modifiedTime]\n"), 0o644))
	s, err := LoadSettingsFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, api.ModeRaw, s.Model.SerializationMode)
	assert.Equal(t, []string{"modifiedTime"}, s.Model.IgnoreProperties)

	jsonPath := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"report": {"serializationMode": "Raw"}, /* trailing */ }`), 0o644))
	s, err = LoadSettingsFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, api.ModeRaw, s.Report.SerializationMode)

	_, err = LoadSettingsFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
