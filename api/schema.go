package api

import (
	"encoding/json"
	"errors"
	"time"
)

// FormatVersion is the on-disk project format written by this build.
// Older projects are migrated on load; newer ones are rejected.
const FormatVersion = "0.13"

// ManifestFile is the name of the project manifest at the project root.
const ManifestFile = ".pbixproj.json"

// ErrUnsupportedFormat marks packages or projects whose internal format this
// build cannot read.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Manifest is the versioned metadata record of an extracted project.
type Manifest struct {
	// Version of the on-disk format (see FormatVersion).
	Version string `json:"version"`
	// Created is set on first extraction and never changed afterwards.
	Created time.Time `json:"created"`
	// LastModified is stamped on every successful session.
	LastModified time.Time `json:"lastModified"`
	// Settings controls how each artifact is serialized.
	Settings Settings `json:"settings"`
	// Custom is user data carried verbatim; never interpreted.
	Custom json.RawMessage `json:"custom,omitempty"`
}

// Settings holds the per-artifact serialization settings.
type Settings struct {
	Model  ArtifactSettings `json:"model" yaml:"model"`
	Report ArtifactSettings `json:"report" yaml:"report"`
	Mashup ArtifactSettings `json:"mashup" yaml:"mashup"`
}

// Mode selects how an artifact is laid out on disk.
type Mode string

const (
	// ModeDefault decomposes the artifact and applies the canonical transforms.
	ModeDefault Mode = "Default"
	// ModeRaw writes the artifact as one untouched document.
	ModeRaw Mode = "Raw"
)

// ArtifactSettings configures one artifact serializer.
type ArtifactSettings struct {
	// SerializationMode defaults to ModeDefault when empty.
	SerializationMode Mode `json:"serializationMode,omitempty" yaml:"serializationMode,omitempty"`
	// IgnoreProperties are stripped anywhere in the artifact before writing.
	// nil means the serializer's built-in list.
	IgnoreProperties []string `json:"ignoreProperties,omitempty" yaml:"ignoreProperties,omitempty"`
}

// EffectiveMode resolves the empty mode to ModeDefault.
func (s ArtifactSettings) EffectiveMode() Mode {
	if s.SerializationMode == "" {
		return ModeDefault
	}
	return s.SerializationMode
}

// NewManifest returns the manifest of a fresh project.
func NewManifest() *Manifest {
	return &Manifest{Version: FormatVersion}
}
