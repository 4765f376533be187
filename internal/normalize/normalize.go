// file: internal/normalize/normalize.go
// version: 1.1.0
// guid: 3f0c2a71-8e4b-4d6a-9b15-6c7d2e9a4f10

// Package normalize canonicalizes Arabic and Latin name text so that
// equivalent spellings compare equal. The folding is lossy on purpose and
// must stay limited to the fold sets below to keep search results stable.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Script is the dominant writing system detected in a string.
type Script string

const (
	ScriptArabic  Script = "arabic"
	ScriptLatin   Script = "latin"
	ScriptMixed   Script = "mixed"
	ScriptUnknown Script = "unknown"
)

// Detection is the result of classifying a string by Unicode block.
type Detection struct {
	Script     Script
	Confidence float64 // dominant count / non-space characters
	Arabic     int
	Latin      int
	Other      int
}

// arabicFolds maps letter variants onto a single canonical letter.
var arabicFolds = map[rune]rune{
	'أ': 'ا',
	'إ': 'ا',
	'آ': 'ا',
	'ى': 'ي',
	'ة': 'ه',
	'ط': 'ت',
	'ؤ': 'و',
	'ئ': 'ي',
}

// IsArabic reports whether r falls in one of the Arabic blocks.
func IsArabic(r rune) bool {
	switch {
	case r >= 0x0600 && r <= 0x06FF,
		r >= 0x0750 && r <= 0x077F,
		r >= 0x08A0 && r <= 0x08FF,
		r >= 0xFB50 && r <= 0xFDFF,
		r >= 0xFE70 && r <= 0xFEFF:
		return true
	}
	return false
}

// IsLatin reports whether r is a Latin letter (basic, supplement, extended).
func IsLatin(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r == 0x00D7 || r == 0x00F7:
		return false
	case r >= 0x00C0 && r <= 0x024F,
		r >= 0x1E00 && r <= 0x1EFF:
		return true
	}
	return false
}

func isTashkeel(r rune) bool {
	return (r >= 0x064B && r <= 0x065F) || r == 0x0670 || (r >= 0x06D6 && r <= 0x06ED)
}

func isCombiningMark(r rune) bool {
	return r >= 0x0300 && r <= 0x036F
}

// isDecomposedMark covers the marks NFD splits off Latin and Arabic letters
// alike, e.g. U+0654 from ۀ.
func isDecomposedMark(r rune) bool {
	return isCombiningMark(r) || isTashkeel(r)
}

// Detect classifies text by counting Arabic, Latin and other code points.
// Whitespace is ignored. A string holding both Arabic and Latin letters is
// reported as mixed.
func Detect(text string) Detection {
	var d Detection
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		switch {
		case IsArabic(r):
			d.Arabic++
		case IsLatin(r):
			d.Latin++
		default:
			d.Other++
		}
	}

	total := d.Arabic + d.Latin + d.Other
	if total == 0 {
		d.Script = ScriptUnknown
		return d
	}

	switch {
	case d.Arabic > 0 && d.Latin > 0:
		d.Script = ScriptMixed
		d.Confidence = float64(max(d.Arabic, d.Latin)) / float64(total)
	case d.Arabic > 0:
		d.Script = ScriptArabic
		d.Confidence = float64(d.Arabic) / float64(total)
	case d.Latin > 0:
		d.Script = ScriptLatin
		d.Confidence = float64(d.Latin) / float64(total)
	default:
		d.Script = ScriptUnknown
	}
	return d
}

// Normalize returns the canonical search form of text. It never fails; an
// empty input yields an empty string.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	switch Detect(text).Script {
	case ScriptArabic:
		return foldArabic(text)
	case ScriptLatin:
		return foldLatin(text)
	case ScriptMixed:
		return foldLatin(foldArabic(text))
	default:
		return strings.ToLower(strings.TrimSpace(text))
	}
}

func foldArabic(text string) string {
	t := transform.Chain(
		runes.Remove(runes.Predicate(isTashkeel)),
		runes.Map(func(r rune) rune {
			if folded, ok := arabicFolds[r]; ok {
				return folded
			}
			return r
		}),
	)
	out, _, err := transform.String(t, text)
	if err != nil {
		out = text
	}
	return strings.ToLower(collapseSpaces(out))
}

func foldLatin(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(isDecomposedMark)))
	out, _, err := transform.String(t, strings.ToLower(text))
	if err != nil {
		out = strings.ToLower(text)
	}
	return collapseSpaces(out)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
