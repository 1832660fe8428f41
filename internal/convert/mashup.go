package convert

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/agentic-research/pbixproj/internal/tree"
)

// ErrTruncated is returned when a length-prefixed record runs past the end
// of its buffer.
var ErrTruncated = errors.New("truncated mashup record")

// ZipEpoch is the modification time stamped on every zip entry written, so
// identical content always produces identical bytes.
var ZipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Metadata items and stable entries repeat, so they always decode as arrays.
var mashupXML = XML{ForceArray: []string{"Item", "Entry"}}

// Mashup converts the DataMashup binary record:
//
//	uint32 version
//	int32 len, packageParts (zip)
//	int32 len, permissions (xml)
//	int32 len, metadata: uint32 version, int32 len + xml, int32 len + content (zip)
//	int32 len, permissionBindings
//
// into {version, packageParts, permissions, metadata{version, xml, content},
// permissionBindings}. Zip entries map path to base64 content.
type Mashup struct{}

func (Mashup) Decode(data []byte) (tree.Value, error) {
	if len(data) == 0 {
		return Absent, nil
	}
	r := bytes.NewReader(data)
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("mashup version: %w", ErrTruncated)
	}
	packageParts, err := readBlock(r)
	if err != nil {
		return nil, fmt.Errorf("mashup package parts: %w", err)
	}
	permissions, err := readBlock(r)
	if err != nil {
		return nil, fmt.Errorf("mashup permissions: %w", err)
	}
	metadata, err := readBlock(r)
	if err != nil {
		return nil, fmt.Errorf("mashup metadata: %w", err)
	}
	bindings, err := readBlock(r)
	if err != nil {
		return nil, fmt.Errorf("mashup permission bindings: %w", err)
	}

	parts, err := unzipParts(packageParts)
	if err != nil {
		return nil, fmt.Errorf("mashup package parts: %w", err)
	}
	perms, err := decodeOptionalXML(permissions)
	if err != nil {
		return nil, fmt.Errorf("mashup permissions: %w", err)
	}
	meta, err := decodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("mashup metadata: %w", err)
	}

	return tree.NewObject(
		tree.Member{Key: "version", Value: tree.Int(int64(version))},
		tree.Member{Key: "packageParts", Value: parts},
		tree.Member{Key: "permissions", Value: perms},
		tree.Member{Key: "metadata", Value: meta},
		tree.Member{Key: "permissionBindings", Value: tree.String(base64.StdEncoding.EncodeToString(bindings))},
	), nil
}

func decodeMetadata(data []byte) (tree.Value, error) {
	r := bytes.NewReader(data)
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, ErrTruncated
	}
	xmlData, err := readBlock(r)
	if err != nil {
		return nil, err
	}
	content, err := readBlock(r)
	if err != nil {
		return nil, err
	}
	doc, err := decodeOptionalXML(xmlData)
	if err != nil {
		return nil, err
	}
	parts, err := unzipParts(content)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	return tree.NewObject(
		tree.Member{Key: "version", Value: tree.Int(int64(version))},
		tree.Member{Key: "xml", Value: doc},
		tree.Member{Key: "content", Value: parts},
	), nil
}

func decodeOptionalXML(data []byte) (tree.Value, error) {
	v, err := mashupXML.Decode(data)
	if err != nil {
		return nil, err
	}
	if IsAbsent(v) {
		return tree.Null{}, nil
	}
	return v, nil
}

func readBlock(r *bytes.Reader) ([]byte, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, ErrTruncated
	}
	if n < 0 || int(n) > r.Len() {
		return nil, fmt.Errorf("block of %d bytes with %d remaining: %w", n, r.Len(), ErrTruncated)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrTruncated
	}
	return buf, nil
}

func writeBlock(w *bytes.Buffer, data []byte) {
	_ = binary.Write(w, binary.LittleEndian, int32(len(data)))
	w.Write(data)
}

func unzipParts(data []byte) (*tree.Object, error) {
	out := &tree.Object{}
	if len(data) == 0 {
		return out, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		out.Set(f.Name, tree.String(base64.StdEncoding.EncodeToString(content)))
	}
	return out, nil
}

// ZipParts writes {path: base64} as a deterministic zip archive.
func ZipParts(parts *tree.Object) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	keys := parts.Keys()
	sort.Strings(keys)
	for _, name := range keys {
		v, _ := parts.Get(name)
		s, ok := v.(tree.String)
		if !ok {
			return nil, fmt.Errorf("zip entry %s: expected base64 string", name)
		}
		content, err := base64.StdEncoding.DecodeString(string(s))
		if err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", name, err)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: ZipEpoch})
		if err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", name, err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

func (Mashup) Encode(v tree.Value) ([]byte, error) {
	if IsAbsent(v) {
		return nil, nil
	}
	obj, ok := v.(*tree.Object)
	if !ok {
		return nil, fmt.Errorf("mashup: expected object, got %s", v.Kind())
	}

	parts, _ := obj.GetObject("packageParts")
	if parts == nil {
		parts = &tree.Object{}
	}
	packageParts, err := ZipParts(parts)
	if err != nil {
		return nil, fmt.Errorf("mashup package parts: %w", err)
	}
	permissions, err := encodeOptionalXML(obj, "permissions")
	if err != nil {
		return nil, fmt.Errorf("mashup permissions: %w", err)
	}
	metadata, err := encodeMetadata(obj)
	if err != nil {
		return nil, fmt.Errorf("mashup metadata: %w", err)
	}
	var bindings []byte
	if s, ok := obj.GetString("permissionBindings"); ok {
		if bindings, err = base64.StdEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("mashup permission bindings: %w", err)
		}
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, versionOf(obj))
	writeBlock(&out, packageParts)
	writeBlock(&out, permissions)
	writeBlock(&out, metadata)
	writeBlock(&out, bindings)
	return out.Bytes(), nil
}

func encodeMetadata(obj *tree.Object) ([]byte, error) {
	meta, ok := obj.GetObject("metadata")
	if !ok {
		meta = &tree.Object{}
	}
	doc, err := encodeOptionalXML(meta, "xml")
	if err != nil {
		return nil, err
	}
	var content []byte
	if parts, ok := meta.GetObject("content"); ok && parts.Len() > 0 {
		if content, err = ZipParts(parts); err != nil {
			return nil, fmt.Errorf("content: %w", err)
		}
	}
	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, versionOf(meta))
	writeBlock(&out, doc)
	writeBlock(&out, content)
	return out.Bytes(), nil
}

func encodeOptionalXML(obj *tree.Object, key string) ([]byte, error) {
	v, ok := obj.Get(key)
	if !ok || v.Kind() == tree.KindNull {
		return nil, nil
	}
	return mashupXML.Encode(v)
}

func versionOf(obj *tree.Object) uint32 {
	v, ok := obj.Get("version")
	if !ok {
		return 0
	}
	n, ok := v.(tree.Number)
	if !ok {
		return 0
	}
	f, err := n.Float64()
	if err != nil || f < 0 {
		return 0
	}
	return uint32(f)
}
