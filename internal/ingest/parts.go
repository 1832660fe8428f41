package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/pbix"
	"github.com/agentic-research/pbixproj/internal/serialize"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// partBinding ties an artifact to its package part (or part prefix for
// resource folders) and the converter for that part.
type partBinding struct {
	artifact string
	part     string
	prefix   string
	conv     convert.Converter
}

var (
	utf16JSON = convert.JSON{Encoding: convert.UTF16LE}
	utf8JSON  = convert.JSON{Encoding: convert.UTF8}
)

// bindings lists every artifact except Model, which needs either the schema
// part or the query engine.
var bindings = []partBinding{
	{artifact: serialize.ArtifactVersion, part: pbix.PartVersion, conv: convert.Text{Encoding: convert.UTF16LE}},
	{artifact: serialize.ArtifactConnections, part: pbix.PartConnections, conv: utf8JSON},
	{artifact: serialize.ArtifactReport, part: pbix.PartReportLayout, conv: utf16JSON},
	{artifact: serialize.ArtifactMashup, part: pbix.PartDataMashup, conv: convert.Mashup{}},
	{artifact: serialize.ArtifactDiagramLayout, part: pbix.PartDiagramLayout, conv: utf16JSON},
	{artifact: serialize.ArtifactDiagramViewState, part: pbix.PartDiagramState, conv: utf16JSON},
	{artifact: serialize.ArtifactLinguisticSchema, part: pbix.PartLinguisticSchema, conv: utf16JSON},
	{artifact: serialize.ArtifactReportMetadata, part: pbix.PartMetadata, conv: utf16JSON},
	{artifact: serialize.ArtifactReportSettings, part: pbix.PartSettings, conv: utf16JSON},
	{artifact: serialize.ArtifactCustomVisuals, prefix: pbix.PrefixCustomVisuals, conv: convert.Bytes{}},
	{artifact: serialize.ArtifactStaticResources, prefix: pbix.PrefixStaticResources, conv: convert.Bytes{}},
}

// legacyLinguisticFile receives linguistic schemas still in their XML form.
const legacyLinguisticFile = "LinguisticSchema.xml"

func decodeBinding(p pbix.PartProvider, b partBinding) (tree.Value, error) {
	if b.prefix != "" {
		return decodeFolder(p, b)
	}
	data, ok, err := p.Part(b.part)
	if err != nil {
		return nil, err
	}
	if !ok {
		return convert.Absent, nil
	}
	return b.conv.Decode(data)
}

// decodeFolder collects the parts below a prefix into {relative path: value}.
func decodeFolder(p pbix.PartProvider, b partBinding) (tree.Value, error) {
	names, err := p.List(b.prefix)
	if err != nil {
		return nil, err
	}
	out := &tree.Object{}
	for _, name := range names {
		data, _, err := p.Part(name)
		if err != nil {
			return nil, err
		}
		v, err := b.conv.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if convert.IsAbsent(v) {
			v = tree.String("")
		}
		out.Set(strings.TrimPrefix(name, b.prefix), v)
	}
	if out.Len() == 0 {
		return convert.Absent, nil
	}
	return out, nil
}

// legacyText returns the part as text when it holds an XML document.
func legacyText(data []byte) (string, bool) {
	v, err := convert.Text{Encoding: convert.UTF16LE}.Decode(data)
	if err != nil {
		return "", false
	}
	s, ok := v.(tree.String)
	if !ok {
		return "", false
	}
	if !bytes.HasPrefix(bytes.TrimSpace([]byte(s)), []byte("<")) {
		return "", false
	}
	return string(s), true
}

func encodeBinding(b partBinding, v tree.Value, parts map[string][]byte) error {
	if convert.IsAbsent(v) {
		return nil
	}
	if b.prefix == "" {
		data, err := b.conv.Encode(v)
		if err != nil {
			return err
		}
		parts[b.part] = data
		return nil
	}
	obj, ok := v.(*tree.Object)
	if !ok {
		return fmt.Errorf("expected object, got %s", v.Kind())
	}
	for _, m := range obj.Members() {
		data, err := b.conv.Encode(m.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", m.Key, err)
		}
		parts[b.prefix+m.Key] = data
	}
	return nil
}
