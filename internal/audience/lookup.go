package audience

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/weblate/distributor/internal/domain"
)

// Field selects which audience attribute a query matches against.
type Field uint8

const (
	FieldName Field = 1 << iota
	FieldID
)

// Query describes a player search.
type Query struct {
	Input string
	// Fields defaults to FieldName|FieldID.
	Fields Field
	// Prefix enables matching name prefixes when no exact match exists.
	Prefix bool
}

// colorTag matches markup like [red], [#ff0000] and the [] reset tag.
var colorTag = regexp.MustCompile(`\[(#[0-9a-fA-F]{3,8}|[a-zA-Z_]*)\]`)

// Normalize strips color tags and diacritics and lower-cases s.
func Normalize(s string) string {
	s = colorTag.ReplaceAllString(s, "")
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Source lists candidate audiences.
type Source interface {
	Online() []domain.Audience
}

// PlayerLookup finds online players by name or id.
type PlayerLookup struct {
	source    Source
	normalize func(string) string
}

// NewPlayerLookup creates a lookup over source using Normalize.
func NewPlayerLookup(source Source) *PlayerLookup {
	return &PlayerLookup{source: source, normalize: Normalize}
}

// Find returns the players matching q. An id match or an exact name match
// wins over prefix matches; the result is empty when nothing matches.
func (l *PlayerLookup) Find(q Query) []domain.Audience {
	fields := q.Fields
	if fields == 0 {
		fields = FieldName | FieldID
	}
	input := strings.TrimSpace(q.Input)
	if input == "" {
		return nil
	}
	online := l.source.Online()

	if fields&FieldID != 0 {
		id := strings.TrimPrefix(input, "#")
		for _, a := range online {
			if a.ID == id {
				return []domain.Audience{a}
			}
		}
	}
	if fields&FieldName == 0 {
		return nil
	}

	want := l.normalize(input)
	var exact, prefix []domain.Audience
	for _, a := range online {
		name := l.normalize(a.Name)
		switch {
		case name == want:
			exact = append(exact, a)
		case q.Prefix && strings.HasPrefix(name, want):
			prefix = append(prefix, a)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return prefix
}
