package convert

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/pbixproj/internal/tree"
)

func utf16(s string, bom bool) []byte {
	var out []byte
	if bom {
		out = append(out, 0xFF, 0xFE)
	}
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func TestAbsent(t *testing.T) {
	converters := map[string]Converter{
		"json":   JSON{},
		"text":   Text{},
		"bytes":  Bytes{},
		"xml":    XML{},
		"mashup": Mashup{},
	}
	for name, c := range converters {
		t.Run(name, func(t *testing.T) {
			v, err := c.Decode(nil)
			require.NoError(t, err)
			assert.True(t, IsAbsent(v))

			out, err := c.Encode(Absent)
			require.NoError(t, err)
			assert.Empty(t, out)
		})
	}
	assert.False(t, IsAbsent(tree.Null{}), "a real null is not absent")
}

func TestJSON_Encodings(t *testing.T) {
	const doc = `{"b":1,"a":[true,null]}`

	t.Run("utf-8 with bom", func(t *testing.T) {
		v, err := JSON{}.Decode(append([]byte{0xEF, 0xBB, 0xBF}, doc...))
		require.NoError(t, err)
		assert.Equal(t, doc, string(tree.Marshal(v)))
	})

	t.Run("utf-16le with bom", func(t *testing.T) {
		v, err := JSON{}.Decode(utf16(doc, true))
		require.NoError(t, err)
		assert.Equal(t, doc, string(tree.Marshal(v)))
	})

	t.Run("utf-16le without bom", func(t *testing.T) {
		v, err := JSON{Encoding: UTF16LE}.Decode(utf16(doc, false))
		require.NoError(t, err)
		assert.Equal(t, doc, string(tree.Marshal(v)))

		out, err := JSON{Encoding: UTF16LE}.Encode(v)
		require.NoError(t, err)
		assert.Equal(t, utf16(doc, false), out)
	})

	t.Run("whitespace only is absent", func(t *testing.T) {
		v, err := JSON{}.Decode([]byte("  \n"))
		require.NoError(t, err)
		assert.True(t, IsAbsent(v))
	})

	t.Run("invalid json fails", func(t *testing.T) {
		_, err := JSON{}.Decode([]byte("{"))
		assert.Error(t, err)
	})
}

func TestText(t *testing.T) {
	v, err := Text{Encoding: UTF16LE}.Decode(utf16("1.28 (23.05)", false))
	require.NoError(t, err)
	assert.Equal(t, tree.String("1.28 (23.05)"), v)

	out, err := Text{Encoding: UTF16LE}.Encode(v)
	require.NoError(t, err)
	assert.Equal(t, utf16("1.28 (23.05)", false), out)

	_, err = Text{}.Encode(tree.Int(1))
	assert.Error(t, err)
}

func TestBytes(t *testing.T) {
	raw := []byte{0, 1, 2, 0xFF}
	v, err := Bytes{}.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, tree.String(base64.StdEncoding.EncodeToString(raw)), v)

	out, err := Bytes{}.Encode(v)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestXML_Convention(t *testing.T) {
	input := `<?xml version="1.0" encoding="utf-8"?>
<PermissionList xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <CanEvaluateFuturePackages>false</CanEvaluateFuturePackages>
  <FirewallEnabled>true</FirewallEnabled>
  <WorkbookGroupType xsi:nil="true" />
  <Tag>a</Tag>
  <Tag>b &amp; c</Tag>
  <Empty></Empty>
</PermissionList>`
	v, err := XML{}.Decode([]byte(input))
	require.NoError(t, err)

	want := `{"PermissionList":{"@xmlns:xsi":"http://www.w3.org/2001/XMLSchema-instance",` +
		`"CanEvaluateFuturePackages":"false","FirewallEnabled":"true",` +
		`"WorkbookGroupType":{"@xsi:nil":"true"},"Tag":["a","b & c"],"Empty":null}}`
	assert.Equal(t, want, string(tree.Marshal(v)))

	out, err := XML{}.Encode(v)
	require.NoError(t, err)
	again, err := XML{}.Decode(out)
	require.NoError(t, err)
	assert.True(t, tree.Equal(v, again), "re-decoded: %s", tree.Marshal(again))
	assert.Contains(t, string(out), `<WorkbookGroupType xsi:nil="true"/>`)
	assert.Contains(t, string(out), `<Tag>b &amp; c</Tag>`)
}

func TestXML_ForceArrayAndText(t *testing.T) {
	v, err := XML{ForceArray: []string{"Item"}}.Decode([]byte(`<Items><Item kind="x">body</Item></Items>`))
	require.NoError(t, err)
	assert.Equal(t, `{"Items":{"Item":[{"@kind":"x","#text":"body"}]}}`, string(tree.Marshal(v)))

	_, err = XML{}.Decode([]byte(`<a><b></a>`))
	assert.Error(t, err)

	_, err = XML{}.Encode(tree.String("x"))
	assert.Error(t, err)
}

func sampleMashup(t *testing.T) tree.Value {
	t.Helper()
	b64 := func(s string) tree.Value { return tree.String(base64.StdEncoding.EncodeToString([]byte(s))) }
	metaXML, err := mashupXML.Decode([]byte(`<LocalPackageMetadataFile><Items>` +
		`<Item><ItemLocation><ItemType>AllFormulas</ItemType><ItemPath /></ItemLocation><StableEntries /></Item>` +
		`<Item><ItemLocation><ItemType>Formula</ItemType><ItemPath>Section1/Sales</ItemPath></ItemLocation>` +
		`<StableEntries><Entry Type="IsPrivate" Value="l0" /></StableEntries></Item>` +
		`</Items></LocalPackageMetadataFile>`))
	require.NoError(t, err)
	perms, err := mashupXML.Decode([]byte(`<PermissionList><FirewallEnabled>true</FirewallEnabled></PermissionList>`))
	require.NoError(t, err)

	return tree.NewObject(
		tree.Member{Key: "version", Value: tree.Int(0)},
		tree.Member{Key: "packageParts", Value: tree.NewObject(
			tree.Member{Key: "Config/Package.xml", Value: b64("<Package/>")},
			tree.Member{Key: "Formulas/Section1.m", Value: b64("section Section1;\r\nshared Sales = 1;")},
			tree.Member{Key: "[Content_Types].xml", Value: b64("<Types/>")},
		)},
		tree.Member{Key: "permissions", Value: perms},
		tree.Member{Key: "metadata", Value: tree.NewObject(
			tree.Member{Key: "version", Value: tree.Int(0)},
			tree.Member{Key: "xml", Value: metaXML},
			tree.Member{Key: "content", Value: &tree.Object{}},
		)},
		tree.Member{Key: "permissionBindings", Value: b64("\x01\x02")},
	)
}

func TestMashup_RoundTrip(t *testing.T) {
	v := sampleMashup(t)

	data, err := Mashup{}.Encode(v)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(data[:4]))

	decoded, err := Mashup{}.Decode(data)
	require.NoError(t, err)
	assert.True(t, tree.Equal(v, decoded), "decoded: %s", tree.Marshal(decoded))

	again, err := Mashup{}.Encode(decoded)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, again), "encoding is deterministic")
}

func TestMashup_Truncated(t *testing.T) {
	data, err := Mashup{}.Encode(sampleMashup(t))
	require.NoError(t, err)

	_, err = Mashup{}.Decode(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Mashup{}.Decode([]byte{0, 0})
	assert.ErrorIs(t, err, ErrTruncated)

	corrupt := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(corrupt[4:8], 0x7FFFFFFF)
	_, err = Mashup{}.Decode(corrupt)
	assert.ErrorIs(t, err, ErrTruncated)
}
