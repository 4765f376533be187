// file: internal/search/index.go
// version: 1.0.0
// guid: 1d3f5a7c-9e1b-4d3f-5a7c-9e1b3d5f7a9c

// Package search is the in-memory fuzzy name index built over a full
// session dataset.
package search

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jdfalk/exam-results/internal/models"
	"github.com/jdfalk/exam-results/internal/normalize"
)

// Field names a searchable key.
type Field string

const (
	FieldNameAr    Field = "name_ar"
	FieldNameFr    Field = "name_fr"
	FieldNameArRaw Field = "name_ar_raw"
	FieldNameFrRaw Field = "name_fr_raw"
)

// Key is a searchable field and its weight.
type Key struct {
	Field  Field
	Weight float64
	raw    bool
}

// Keys lists the indexed fields in priority order.
var Keys = []Key{
	{Field: FieldNameAr, Weight: 0.7},
	{Field: FieldNameFr, Weight: 0.6},
	{Field: FieldNameArRaw, Weight: 0.5, raw: true},
	{Field: FieldNameFrRaw, Weight: 0.4, raw: true},
}

// MinQueryLength is the shortest normalized query that is searched.
const MinQueryLength = 2

type entry struct {
	record  *models.Record
	ordinal int
	texts   [4]string
}

// Index is immutable once built.
type Index struct {
	entries []entry
	builtAt time.Time
}

// Result is one ranked hit.
type Result struct {
	Record  *models.Record `json:"record"`
	Score   float64        `json:"score"`
	Matches []Field        `json:"matches"`
	Rank    int            `json:"rank"`
	Ordinal int            `json:"-"`
}

// Build indexes records. Results point into records, so the slice must not
// be modified afterwards.
func Build(records []models.Record) *Index {
	ix := &Index{entries: make([]entry, len(records)), builtAt: time.Now()}
	for i := range records {
		r := &records[i]
		ix.entries[i] = entry{
			record:  r,
			ordinal: i,
			texts: [4]string{
				normalize.Normalize(r.NameAr),
				normalize.Normalize(r.NameFr),
				rawKey(r.NameAr),
				rawKey(r.NameFr),
			},
		}
	}
	return ix
}

// Len returns the number of indexed records.
func (ix *Index) Len() int { return len(ix.entries) }

// BuiltAt returns when the index was built.
func (ix *Index) BuiltAt() time.Time { return ix.builtAt }

// rawKey only lowercases and collapses whitespace.
func rawKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Searchable reports whether query is long enough to be searched.
func Searchable(query string) bool {
	return utf8.RuneCountInString(normalize.Normalize(query)) >= MinQueryLength
}

// Search ranks every record against query. Results scoring above
// threshold are dropped; limit <= 0 returns all of them. Ties keep dataset
// order, so identical calls return identical lists.
func (ix *Index) Search(query string, limit int, threshold float64) []Result {
	norm := normalize.Normalize(query)
	if utf8.RuneCountInString(norm) < MinQueryLength {
		return []Result{}
	}
	raw := rawKey(query)

	results := []Result{}
	var scores [4]float64
	for _, e := range ix.entries {
		best := 1.0
		for k, key := range Keys {
			q := norm
			if key.raw {
				q = raw
			}
			scores[k] = weighted(Distance(q, e.texts[k]), key.Weight)
			if scores[k] < best {
				best = scores[k]
			}
		}
		if best > threshold {
			continue
		}

		var matches []Field
		for k, key := range Keys {
			if scores[k] <= threshold {
				matches = append(matches, key.Field)
			}
		}
		sort.SliceStable(matches, func(i, j int) bool {
			return scores[fieldIndex(matches[i])] < scores[fieldIndex(matches[j])]
		})
		results = append(results, Result{Record: e.record, Score: best, Matches: matches, Ordinal: e.ordinal})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].Ordinal < results[j].Ordinal
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func fieldIndex(f Field) int {
	for i, k := range Keys {
		if k.Field == f {
			return i
		}
	}
	return len(Keys)
}
