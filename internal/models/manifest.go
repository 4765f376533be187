// file: internal/models/manifest.go
// version: 1.0.0
// guid: 9d2c4e6f-1a3b-4c5d-8e7f-a0b1c2d3e4f5

package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// FlexID is an identifier bound that may be encoded as a JSON number or
// a numeric string. Valid is false when the value was absent or null.
type FlexID struct {
	Value int64
	Valid bool
}

// ID returns a valid FlexID holding v.
func ID(v int64) FlexID { return FlexID{Value: v, Valid: true} }

// UnmarshalJSON accepts numbers, numeric strings and null.
func (f *FlexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*f = FlexID{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*f = FlexID{}
			return nil
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid identifier %q", s)
		}
		v = int64(fl)
	}
	*f = FlexID{Value: v, Valid: true}
	return nil
}

// MarshalJSON writes the bound as a number, or null when unset.
func (f FlexID) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(f.Value, 10)), nil
}

// IDRange is an inclusive identifier range.
type IDRange struct {
	Min FlexID `json:"min"`
	Max FlexID `json:"max"`
}

// Valid reports whether both bounds are set and Min <= Max.
func (r IDRange) Valid() bool {
	return r.Min.Valid && r.Max.Valid && r.Min.Value <= r.Max.Value
}

// Contains reports whether id lies in [Min, Max].
func (r IDRange) Contains(id int64) bool {
	return r.Valid() && id >= r.Min.Value && id <= r.Max.Value
}

// ManifestMetadata describes how a session's dataset was partitioned.
type ManifestMetadata struct {
	TotalRecords int    `json:"totalRecords"`
	TotalChunks  int    `json:"totalChunks"`
	ChunkSize    int    `json:"chunkSize"`
	CreatedAt    string `json:"createdAt"`
	Version      string `json:"version"`
	Session      string `json:"session,omitempty"`
	Year         int    `json:"year,omitempty"`
}

// ChunkDescriptor locates one chunk resource and the ids it holds.
type ChunkDescriptor struct {
	Index       int     `json:"index"`
	File        string  `json:"file"`
	RecordCount int     `json:"recordCount"`
	NodeRange   IDRange `json:"nodeRange"`
}

// Manifest is the per-session chunk index. Chunks are ordered by
// ascending NodeRange.Min once validated.
type Manifest struct {
	Metadata ManifestMetadata  `json:"metadata"`
	Chunks   []ChunkDescriptor `json:"chunks"`
}

// ParseManifest decodes a manifest payload without validating it.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ChunkMetadata mirrors the chunk's manifest descriptor.
type ChunkMetadata struct {
	ChunkIndex  int     `json:"chunkIndex"`
	TotalChunks int     `json:"totalChunks"`
	StartIndex  int     `json:"startIndex"`
	EndIndex    int     `json:"endIndex"`
	RecordCount int     `json:"recordCount"`
	NodeRange   IDRange `json:"nodeRange"`
}

// Chunk is a loaded chunk resource.
type Chunk struct {
	File     string
	Metadata ChunkMetadata
	Records  []Record

	// FirstHasID reports whether the first record carried an identifier.
	FirstHasID bool
}

// ParseChunk decodes a chunk payload. It fails with ErrNoRecords when the
// "students" list is missing; an empty list is returned as-is.
func ParseChunk(file string, data []byte) (*Chunk, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("chunk %s: invalid JSON", file)
	}
	root := gjson.ParseBytes(data)
	list := root.Get("students")
	if !list.IsArray() {
		return nil, ErrNoRecords
	}

	chunk := &Chunk{File: file}
	if meta := root.Get("metadata"); meta.IsObject() {
		if err := json.Unmarshal([]byte(meta.Raw), &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("chunk %s metadata: %w", file, err)
		}
	}

	items := list.Array()
	chunk.Records = make([]Record, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			continue
		}
		rec, hasID := DecodeRecord(item)
		if i == 0 {
			chunk.FirstHasID = hasID
		}
		chunk.Records = append(chunk.Records, rec)
	}
	return chunk, nil
}
