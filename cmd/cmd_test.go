package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/pbixproj/api"
	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/pbix"
	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/serialize"
	"github.com/agentic-research/pbixproj/internal/tree"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), exitError},
		{fmt.Errorf("open: %w", api.ErrUnsupportedFormat), exitUnsupported},
		{fmt.Errorf("compile: %w", serialize.ErrUnsupported), exitUnsupported},
		{fmt.Errorf("out: %w", project.ErrDestinationExists), exitDestination},
		{errors.Join(errors.New("a"), project.ErrDestinationExists), exitDestination},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), tt.err.Error())
	}
}

func TestLoadSettings(t *testing.T) {
	s, err := loadSettings("", "")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = loadSettings("", "Raw")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, api.ModeRaw, s.Model.SerializationMode)
	assert.Equal(t, api.ModeRaw, s.Report.SerializationMode)
	assert.Equal(t, api.ModeRaw, s.Mashup.SerializationMode)

	_, err = loadSettings("", "raw")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  serializationMode: Raw\n"), 0o644))
	s, err = loadSettings(path, "")
	require.NoError(t, err)
	assert.Equal(t, api.ModeRaw, s.Model.SerializationMode)
	assert.Equal(t, api.ModeDefault, s.Report.EffectiveMode())
}

// runCLI executes the root command with fresh flag state and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	extractOpts.out, extractOpts.overwrite, extractOpts.settings, extractOpts.mode, extractOpts.legacy = "", false, "", "", false
	compileOpts.out, compileOpts.format, compileOpts.overwrite, compileOpts.settings = "", "pbit", false, ""
	catalogOverwrite = false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeSample(t *testing.T, dir string) string {
	t.Helper()
	version, err := convert.Text{Encoding: convert.UTF16LE}.Encode(tree.String("1.28"))
	require.NoError(t, err)
	layout, err := tree.ParseJSON([]byte(`{"sections":[{"name":"ReportSection","displayName":"Overview","visualContainers":[]}]}`))
	require.NoError(t, err)
	layoutData, err := convert.JSON{Encoding: convert.UTF16LE}.Encode(layout)
	require.NoError(t, err)

	path := filepath.Join(dir, "Sales.pbit")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, pbix.WritePackage(f, map[string][]byte{
		pbix.PartVersion:      version,
		pbix.PartReportLayout: layoutData,
		pbix.PartConnections:  []byte(`{"Version":1,"Connections":[]}`),
	}))
	require.NoError(t, f.Close())
	return path
}

func TestCLI_ExtractQueryCompile(t *testing.T) {
	dir := t.TempDir()
	src := writeSample(t, dir)
	projDir := filepath.Join(dir, "Sales")

	out, err := runCLI(t, "extract", src)
	require.NoError(t, err)
	assert.Contains(t, out, "Extracted")
	assert.FileExists(t, filepath.Join(projDir, api.ManifestFile))

	_, err = runCLI(t, "extract", src)
	require.Error(t, err)
	assert.Equal(t, exitDestination, exitCode(err))

	_, err = runCLI(t, "extract", src, "--overwrite")
	require.NoError(t, err)

	out, err = runCLI(t, "query", projDir, "Connections", "$.Version")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = runCLI(t, "info", projDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Format:    "+api.FormatVersion)
	assert.Contains(t, out, "Version")
	assert.Contains(t, out, "Report")

	dst := filepath.Join(dir, "out.pbit")
	_, err = runCLI(t, "compile", projDir, "--out", dst)
	require.NoError(t, err)
	p, err := pbix.OpenZip(dst)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	format, err := pbix.Detect(p)
	require.NoError(t, err)
	assert.Equal(t, pbix.FormatV3, format)

	jsonOut := filepath.Join(dir, "out.json")
	_, err = runCLI(t, "compile", projDir, "--out", jsonOut, "--format", "JSON")
	require.NoError(t, err)
	data, err := os.ReadFile(jsonOut)
	require.NoError(t, err)
	doc, err := tree.ParseJSON(data)
	require.NoError(t, err)
	assert.True(t, doc.(*tree.Object).Has("Report"))

	db := filepath.Join(dir, "Sales.db")
	out, err = runCLI(t, "catalog", projDir, db)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed")
	assert.FileExists(t, db)
}

func TestCLI_UnsupportedPackage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.pbix")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, pbix.WritePackage(f, map[string][]byte{"Other": []byte("x")}))
	require.NoError(t, f.Close())

	_, err = runCLI(t, "extract", path, "--out", filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Equal(t, exitUnsupported, exitCode(err))
}

func TestCLI_QueryMissingProject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := runCLI(t, "query", dir, "Report", "$")
	require.Error(t, err)
	assert.NoDirExists(t, dir)
}
