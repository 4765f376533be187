// file: internal/models/record.go
// version: 1.0.0
// guid: 5b7e9c13-2d4f-4a8b-8c6e-0f1a2b3c4d5e

package models

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrNoRecords is returned when a payload holds no record list.
var ErrNoRecords = errors.New("payload has no record list")

// SessionTag annotates a record with the session it was found in.
type SessionTag struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Year        int    `json:"year"`
}

// Record is one exam candidate in canonical form. Source files name their
// fields inconsistently; DecodeRecord maps every known alias onto this shape
// once, at ingestion.
type Record struct {
	ID       int64          `json:"id"`
	NameAr   string         `json:"name_ar"`
	NameFr   string         `json:"name_fr"`
	Series   string         `json:"series"`
	Decision string         `json:"decision"`
	Average  float64        `json:"average"`
	Wilaya   string         `json:"wilaya,omitempty"`
	School   string         `json:"school,omitempty"`
	Center   string         `json:"center,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`

	Session *SessionTag `json:"session,omitempty"`
}

// Tagged returns a shallow copy of r annotated with the given session.
func (r Record) Tagged(tag SessionTag) *Record {
	r.Session = &tag
	return &r
}

// FieldAliases lists, per canonical field, the source field names accepted
// at ingestion in priority order.
var FieldAliases = map[string][]string{
	"id":       {"NODOSS", "nodoss", "Num_Dossier", "numero", "id", "student_id"},
	"name_ar":  {"NOM_AR", "nom_ar", "NOMPA", "name_ar", "arabic_name"},
	"name_fr":  {"NOM_FR", "nom_fr", "NOMPL", "name_fr", "name", "french_name"},
	"series":   {"SERIE", "Serie", "serie", "series"},
	"decision": {"Decision", "DECISION", "decision"},
	"average":  {"Moy Bac", "MOYBAC", "moy_bac", "moyenne", "average"},
	"wilaya":   {"Wilaya", "WILAYA", "wilaya"},
	"school":   {"Etablissement", "ETABLISSEMENT", "etablissement", "school"},
	"center":   {"Centre", "CENTRE", "centre", "center"},
}

// lookup returns the first alias present on obj along with its name.
func lookup(obj gjson.Result, field string) (gjson.Result, string) {
	for _, alias := range FieldAliases[field] {
		if v := obj.Get(gjson.Escape(alias)); v.Exists() {
			return v, alias
		}
	}
	return gjson.Result{}, ""
}

// ExtractID reads the identifier of a raw record. It accepts both numeric
// and textual identifiers.
func ExtractID(obj gjson.Result) (int64, bool) {
	v, _ := lookup(obj, "id")
	return parseID(v)
}

func parseID(v gjson.Result) (int64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Int(), true
	case gjson.String:
		id, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	}
	return 0, false
}

func parseAverage(v gjson.Result) float64 {
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		s := strings.ReplaceAll(strings.TrimSpace(v.Str), ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// DecodeRecord maps one raw JSON record onto Record. The boolean reports
// whether an identifier field was present and parseable.
func DecodeRecord(obj gjson.Result) (Record, bool) {
	var rec Record
	consumed := make(map[string]bool, len(FieldAliases))

	idVal, idKey := lookup(obj, "id")
	id, hasID := parseID(idVal)
	rec.ID = id
	consumed[idKey] = true

	text := func(field string) string {
		v, key := lookup(obj, field)
		consumed[key] = true
		return strings.TrimSpace(v.String())
	}
	rec.NameAr = text("name_ar")
	rec.NameFr = text("name_fr")
	rec.Series = text("series")
	rec.Decision = text("decision")
	rec.Wilaya = text("wilaya")
	rec.School = text("school")
	rec.Center = text("center")

	avgVal, avgKey := lookup(obj, "average")
	rec.Average = parseAverage(avgVal)
	consumed[avgKey] = true

	obj.ForEach(func(key, value gjson.Result) bool {
		if consumed[key.String()] {
			return true
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[key.String()] = value.Value()
		return true
	})

	return rec, hasID
}

// RecordList returns the record array of a payload: either a top-level
// array or the "students" member of an object.
func RecordList(data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if root.IsArray() {
		return root, nil
	}
	if list := root.Get("students"); list.IsArray() {
		return list, nil
	}
	return gjson.Result{}, ErrNoRecords
}

// ParseRecords decodes every record of a payload, skipping non-objects.
func ParseRecords(data []byte) ([]Record, error) {
	list, err := RecordList(data)
	if err != nil {
		return nil, err
	}
	items := list.Array()
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		rec, _ := DecodeRecord(item)
		records = append(records, rec)
	}
	return records, nil
}

// Dataset is the full, unchunked record set of one session. Its pointer
// identity marks a dataset version: a reload yields a new *Dataset.
type Dataset struct {
	Session  string
	Records  []Record
	LoadedAt time.Time
}
