package pbix

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/pbixproj/api"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		parts  Memory
		format Format
		legacy bool
		err    bool
	}{
		{"v3", Memory{PartVersion: {}, PartReportLayout: {}}, FormatV3, false, false},
		{"legacy refused", Memory{PartReportLayout: {}}, FormatLegacy, false, true},
		{"legacy allowed", Memory{PartReportLayout: {}}, FormatLegacy, true, false},
		{"no layout", Memory{PartVersion: {}}, FormatUnknown, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Check(tt.parts, tt.legacy)
			assert.Equal(t, tt.format, f)
			if tt.err {
				assert.ErrorIs(t, err, api.ErrUnsupportedFormat)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemory_List(t *testing.T) {
	m := Memory{
		PrefixStaticResources + "b.png": nil,
		PrefixStaticResources + "a.png": nil,
		PartReportLayout:                nil,
	}
	names, err := m.List(PrefixStaticResources)
	require.NoError(t, err)
	assert.Equal(t, []string{PrefixStaticResources + "a.png", PrefixStaticResources + "b.png"}, names)

	_, ok, err := m.Part(PartDiagramLayout)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWritePackage_RoundTrip(t *testing.T) {
	parts := map[string][]byte{
		PartVersion:                        []byte("1.28"),
		PartReportLayout:                   []byte(`{"sections":[]}`),
		PrefixStaticResources + "logo.png": {0x89, 'P', 'N', 'G'},
	}
	var buf bytes.Buffer
	require.NoError(t, WritePackage(&buf, parts))

	z, err := ReadZip(buf.Bytes())
	require.NoError(t, err)
	defer func() { _ = z.Close() }()

	all, err := z.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{
		PartReportLayout,
		PrefixStaticResources + "logo.png",
		PartVersion,
		PartContentTypes,
	}, all)

	for name, want := range parts {
		got, ok, err := z.Part(name)
		require.NoError(t, err)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	types, ok, err := z.Part(PartContentTypes)
	require.NoError(t, err)
	require.True(t, ok)
	s := string(types)
	assert.True(t, strings.HasPrefix(s, `<?xml version="1.0" encoding="utf-8"?><Types xmlns="`+contentTypesNS+`">`))
	assert.Contains(t, s, `<Default Extension="png" ContentType=""/>`)
	assert.Contains(t, s, `<Override PartName="/Report/Layout" ContentType=""/>`)
	assert.Contains(t, s, `<Override PartName="/Version" ContentType=""/>`)

	format, err := Detect(z)
	require.NoError(t, err)
	assert.Equal(t, FormatV3, format)
}

func TestWritePackage_Deterministic(t *testing.T) {
	parts := map[string][]byte{PartVersion: []byte("1.28"), PartReportLayout: []byte("{}")}
	var a, b bytes.Buffer
	require.NoError(t, WritePackage(&a, parts))
	require.NoError(t, WritePackage(&b, parts))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestOpenZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.pbit")
	var buf bytes.Buffer
	require.NoError(t, WritePackage(&buf, map[string][]byte{PartVersion: []byte("1.28")}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	z, err := OpenZip(path)
	require.NoError(t, err)
	data, ok, err := z.Part(PartVersion)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1.28", string(data))
	require.NoError(t, z.Close())

	_, err = OpenZip(filepath.Join(t.TempDir(), "missing.pbix"))
	assert.Error(t, err)
}
