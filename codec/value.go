package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the variant of an encoded value.
type Kind int

const (
	// KindPrimitive is a plain JSON scalar, array or object.
	KindPrimitive Kind = iota
	// KindObject is a value reconstructible by a registered codec from a
	// tag and its canonical encoding.
	KindObject
	// KindFile is a pointer to externally stored bytes.
	KindFile
	// KindOpaque is an inert gob blob for values no codec covers.
	KindOpaque
)

// tagKey marks wrapper objects in the wire format. Plain JSON objects that
// happen to carry this key cannot be cached faithfully; codecs own it.
const tagKey = "$codec"

// Reserved tags for the non-object variants.
const (
	fileTag   = "file"
	opaqueTag = "opaque"
)

// FileRef points at externally stored bytes. It carries enough metadata to
// detect external mutation without re-reading the full resource.
type FileRef struct {
	// URL locates the stored bytes (file:// path or remote store URL).
	URL string `json:"href"`

	// Checksum is the hex SHA-256 of the content.
	Checksum string `json:"checksum"`

	// Size is the content size in bytes.
	Size int64 `json:"size"`

	// ModTime is the last-modified timestamp observed at encode time.
	ModTime time.Time `json:"mtime"`

	// LocalPath is a hint to a local copy, if one exists.
	LocalPath string `json:"local_path,omitempty"`
}

// Value is one encoded node in a value tree.
//
// Exactly one of the variant fields is meaningful, selected by Kind:
// Raw for primitives, Tag+Data for object references, File for file
// references, TypeName+Blob for opaque blobs.
type Value struct {
	Kind Kind

	// Raw is canonical JSON for KindPrimitive. Nested registered values
	// appear inside it as tagged wrapper objects.
	Raw json.RawMessage

	// Tag and Data describe a KindObject node.
	Tag  string
	Data json.RawMessage

	// File describes a KindFile node.
	File *FileRef

	// TypeName and Blob describe a KindOpaque node.
	TypeName string
	Blob     []byte
}

// Wire shapes of the tagged (non-primitive) nodes. Field order is fixed so
// the output is canonical.
type wireTagged struct {
	Tag  string          `json:"$codec"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wireFile struct {
	Tag string `json:"$codec"`
	FileRef
}

type wireOpaque struct {
	Tag      string `json:"$codec"`
	TypeName string `json:"type"`
	Blob     string `json:"blob"`
}

// MarshalJSON renders the value in the tagged wire format.
func (v *Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindPrimitive:
		if len(v.Raw) == 0 {
			return []byte("null"), nil
		}
		return v.Raw, nil

	case KindObject:
		return json.Marshal(wireTagged{Tag: v.Tag, Data: v.Data})

	case KindFile:
		if v.File == nil {
			return nil, fmt.Errorf("%w: file value without reference", ErrEncode)
		}
		return json.Marshal(wireFile{Tag: fileTag, FileRef: *v.File})

	case KindOpaque:
		return json.Marshal(wireOpaque{
			Tag:      opaqueTag,
			TypeName: v.TypeName,
			Blob:     base64.StdEncoding.EncodeToString(v.Blob),
		})

	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrEncode, v.Kind)
	}
}

// UnmarshalJSON parses a single wire-format node. Data that is not a
// tagged wrapper object becomes a KindPrimitive value.
func (v *Value) UnmarshalJSON(data []byte) error {
	tag, ok, err := peekTag(data)
	if err != nil {
		return err
	}
	if !ok {
		v.Kind = KindPrimitive
		v.Raw = append(json.RawMessage(nil), data...)
		return nil
	}

	switch tag {
	case fileTag:
		var ref FileRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return fmt.Errorf("%w: malformed file reference: %v", ErrDecode, err)
		}
		v.Kind = KindFile
		v.File = &ref

	case opaqueTag:
		var w wireOpaque
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("%w: malformed opaque blob: %v", ErrDecode, err)
		}
		blob, err := base64.StdEncoding.DecodeString(w.Blob)
		if err != nil {
			return fmt.Errorf("%w: corrupt opaque blob: %v", ErrDecode, err)
		}
		v.Kind = KindOpaque
		v.TypeName = w.TypeName
		v.Blob = blob

	default:
		var w wireTagged
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("%w: malformed tagged value: %v", ErrDecode, err)
		}
		v.Kind = KindObject
		v.Tag = w.Tag
		v.Data = w.Data
	}
	return nil
}

// peekTag reports whether data is a JSON object carrying the codec tag,
// and returns the tag if so.
func peekTag(data []byte) (string, bool, error) {
	trimmed := firstByte(data)
	if trimmed != '{' {
		return "", false, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	raw, ok := probe[tagKey]
	if !ok {
		return "", false, nil
	}
	var tag string
	if err := json.Unmarshal(raw, &tag); err != nil {
		return "", false, fmt.Errorf("%w: non-string tag", ErrDecode)
	}
	return tag, true, nil
}

func firstByte(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
