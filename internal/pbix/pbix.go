// Package pbix reads and writes the package container: a zip archive of
// named parts.
package pbix

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentic-research/pbixproj/api"
)

// Part names inside the package.
const (
	PartVersion          = "Version"
	PartConnections      = "Connections"
	PartDataModelSchema  = "DataModelSchema"
	PartDataModel        = "DataModel"
	PartDataMashup       = "DataMashup"
	PartReportLayout     = "Report/Layout"
	PartLinguisticSchema = "Report/LinguisticSchema"
	PartDiagramLayout    = "DiagramLayout"
	PartDiagramState     = "DiagramState"
	PartMetadata         = "Metadata"
	PartSettings         = "Settings"
	PartContentTypes     = "[Content_Types].xml"

	PrefixCustomVisuals   = "Report/CustomVisuals/"
	PrefixStaticResources = "Report/StaticResources/"
)

// PartProvider exposes the named byte streams of an opened package. A
// missing part is reported with ok == false, not an error.
type PartProvider interface {
	Part(name string) (data []byte, ok bool, err error)
	List(prefix string) ([]string, error)
	Close() error
}

// Format is the internal layout generation of a package.
type Format int

const (
	FormatUnknown Format = iota
	// FormatLegacy packages carry a report layout but no version part.
	FormatLegacy
	// FormatV3 packages carry both the version and the report layout.
	FormatV3
)

func (f Format) String() string {
	switch f {
	case FormatV3:
		return "V3"
	case FormatLegacy:
		return "Legacy"
	default:
		return "Unknown"
	}
}

func hasPart(p PartProvider, name string) (bool, error) {
	_, ok, err := p.Part(name)
	return ok, err
}

// Detect inspects the required parts of p.
func Detect(p PartProvider) (Format, error) {
	layout, err := hasPart(p, PartReportLayout)
	if err != nil {
		return FormatUnknown, err
	}
	if !layout {
		return FormatUnknown, nil
	}
	version, err := hasPart(p, PartVersion)
	if err != nil {
		return FormatUnknown, err
	}
	if !version {
		return FormatLegacy, nil
	}
	return FormatV3, nil
}

// Check fails with api.ErrUnsupportedFormat unless p is a V3 package, or a
// legacy one and allowLegacy is set.
func Check(p PartProvider, allowLegacy bool) (Format, error) {
	f, err := Detect(p)
	if err != nil {
		return f, err
	}
	switch {
	case f == FormatV3:
		return f, nil
	case f == FormatLegacy && allowLegacy:
		return f, nil
	case f == FormatLegacy:
		return f, fmt.Errorf("package has no %s part (retry with legacy mode): %w", PartVersion, api.ErrUnsupportedFormat)
	default:
		return f, fmt.Errorf("package has no %s part: %w", PartReportLayout, api.ErrUnsupportedFormat)
	}
}

// Memory is an in-memory package, used when compiling and in tests.
type Memory map[string][]byte

func (m Memory) Part(name string) ([]byte, bool, error) {
	data, ok := m[name]
	return data, ok, nil
}

func (m Memory) List(prefix string) ([]string, error) {
	var out []string
	for name := range m {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m Memory) Close() error { return nil }
