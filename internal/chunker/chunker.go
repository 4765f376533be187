// file: internal/chunker/chunker.go
// version: 1.1.0
// guid: 2b4d6f8a-0c2e-4b4d-6f8a-0c2e4b6d8f0a

// Package chunker partitions a full session dataset into id-ordered chunk
// files plus the manifest that indexes them.
package chunker

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/jdfalk/exam-results/internal/fileops"
	"github.com/jdfalk/exam-results/internal/models"
	"github.com/oklog/ulid/v2"
)

// DefaultChunkSize is the number of records per chunk.
const DefaultChunkSize = 1000

// ManifestName is the manifest file written next to the chunks.
const ManifestName = "index.json"

// Options controls Split.
type Options struct {
	ChunkSize int
	Session   string
	Year      int
	Now       func() time.Time
}

type rawRecord struct {
	id  int64
	raw json.RawMessage
}

// File is one chunk ready to be written.
type File struct {
	Name     string               `json:"-"`
	Metadata models.ChunkMetadata `json:"metadata"`
	Records  []json.RawMessage    `json:"students"`
}

// Plan is the result of Split.
type Plan struct {
	Manifest models.Manifest
	Files    []File
	IDs      []int64

	// Checksums maps each written file name to its SHA256. Set by WriteDir.
	Checksums map[string]string
}

// BackupDir is the directory below the output dir that keeps replaced
// manifests.
const BackupDir = ".backups"

const maxManifestBackups = 3

// FileName returns the name of chunk i.
func FileName(i int) string { return fmt.Sprintf("chunk-%03d.json", i) }

// Split orders the records of data by identifier and cuts them into chunks
// of opts.ChunkSize. Records keep their original fields. Every record must
// carry an identifier and identifiers must be unique.
func Split(data []byte, opts Options) (*Plan, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	list, err := models.RecordList(data)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	var records []rawRecord
	for i, item := range list.Array() {
		if !item.IsObject() {
			return nil, fmt.Errorf("record %d is not an object", i)
		}
		id, ok := models.ExtractID(item)
		if !ok || id <= 0 {
			return nil, fmt.Errorf("record %d has no valid identifier", i)
		}
		records = append(records, rawRecord{id: id, raw: json.RawMessage(item.Raw)})
	}
	if len(records) == 0 {
		return nil, errors.New("dataset holds no records")
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].id < records[j].id })
	for i := 1; i < len(records); i++ {
		if records[i].id == records[i-1].id {
			return nil, fmt.Errorf("duplicate identifier %d", records[i].id)
		}
	}

	total := (len(records) + opts.ChunkSize - 1) / opts.ChunkSize
	plan := &Plan{
		Manifest: models.Manifest{
			Metadata: models.ManifestMetadata{
				TotalRecords: len(records),
				TotalChunks:  total,
				ChunkSize:    opts.ChunkSize,
				CreatedAt:    opts.Now().UTC().Format(time.RFC3339),
				Version:      ulid.Make().String(),
				Session:      opts.Session,
				Year:         opts.Year,
			},
		},
		IDs: make([]int64, 0, len(records)),
	}

	for i := 0; i < total; i++ {
		start := i * opts.ChunkSize
		end := min(start+opts.ChunkSize, len(records))
		part := records[start:end]

		r := models.IDRange{Min: models.ID(part[0].id), Max: models.ID(part[len(part)-1].id)}
		f := File{
			Name: FileName(i),
			Metadata: models.ChunkMetadata{
				ChunkIndex:  i,
				TotalChunks: total,
				StartIndex:  start,
				EndIndex:    end - 1,
				RecordCount: len(part),
				NodeRange:   r,
			},
			Records: make([]json.RawMessage, len(part)),
		}
		for j, rec := range part {
			f.Records[j] = rec.raw
			plan.IDs = append(plan.IDs, rec.id)
		}
		plan.Files = append(plan.Files, f)
		plan.Manifest.Chunks = append(plan.Manifest.Chunks, models.ChunkDescriptor{
			Index:       i,
			File:        f.Name,
			RecordCount: len(part),
			NodeRange:   r,
		})
	}
	return plan, nil
}

// WriteDir writes every chunk and then the manifest into dir. Each file is
// replaced atomically and a manifest being replaced is backed up first, so
// a reader of dir sees either the old or the new manifest.
func (p *Plan) WriteDir(dir string) error {
	p.Checksums = make(map[string]string, len(p.Files)+1)
	for _, f := range p.Files {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode %s: %w", f.Name, err)
		}
		sum, err := fileops.WriteFile(filepath.Join(dir, f.Name), data, fileops.WriteOptions{})
		if err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
		p.Checksums[f.Name] = sum
	}
	data, err := json.MarshalIndent(p.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	sum, err := fileops.WriteFile(filepath.Join(dir, ManifestName), data, fileops.WriteOptions{
		BackupDir:  filepath.Join(dir, BackupDir),
		MaxBackups: maxManifestBackups,
	})
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	p.Checksums[ManifestName] = sum
	return nil
}

// VerifyCoverage checks that the manifest ranges are valid, ascending and
// disjoint, that every id falls in exactly one of them, and that each
// descriptor's record count matches the ids it covers.
func VerifyCoverage(m *models.Manifest, ids []int64) error {
	if len(m.Chunks) == 0 {
		return errors.New("manifest lists no chunks")
	}
	for i, c := range m.Chunks {
		if !c.NodeRange.Valid() {
			return fmt.Errorf("chunk %s has an invalid range", c.File)
		}
		if i > 0 && c.NodeRange.Min.Value <= m.Chunks[i-1].NodeRange.Max.Value {
			return fmt.Errorf("chunk %s overlaps or precedes %s", c.File, m.Chunks[i-1].File)
		}
	}

	counts := make([]int, len(m.Chunks))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("identifier %d appears more than once", id)
		}
		seen[id] = true
		i := sort.Search(len(m.Chunks), func(i int) bool { return m.Chunks[i].NodeRange.Max.Value >= id })
		if i == len(m.Chunks) || !m.Chunks[i].NodeRange.Contains(id) {
			return fmt.Errorf("identifier %d is not covered by any chunk", id)
		}
		counts[i]++
	}
	for i, c := range m.Chunks {
		if c.RecordCount != counts[i] {
			return fmt.Errorf("chunk %s declares %d records but covers %d", c.File, c.RecordCount, counts[i])
		}
	}
	return nil
}
