// Package filter describes record filters as typed predicates.
//
// Every filterable field belongs to exactly one Kind. The same Params value is
// encoded into the backend's query string and evaluated in memory by the
// local query engine, so both paths share one definition of "matches".
package filter

import (
	"sort"

	"github.com/celerix-dev/celerix-records/pkg/schema"
)

// Kind selects the matching rule for a field.
type Kind int

const (
	// Substring matches case-insensitive containment.
	Substring Kind = iota + 1
	// Exact matches strict equality, tolerant of numeric vs string form.
	Exact
	// ForeignKey matches a related entity's id.
	ForeignKey
	// Enum matches one value of a closed set.
	Enum
)

func (k Kind) String() string {
	switch k {
	case Substring:
		return "substring"
	case Exact:
		return "exact"
	case ForeignKey:
		return "foreign_key"
	case Enum:
		return "enum"
	default:
		return "unknown"
	}
}

// Field is a filterable record attribute.
type Field struct {
	Name   string
	Kind   Kind
	Values []string // allowed values, Enum only

	get func(r *schema.Record) []string
}

// Allows reports whether v is one of an Enum field's values.
func (f Field) Allows(v string) bool {
	for _, allowed := range f.Values {
		if allowed == v {
			return true
		}
	}
	return false
}

func one(s string) []string { return []string{s} }

func ids(in []schema.ID) []string {
	out := make([]string, len(in))
	for i, id := range in {
		out[i] = string(id)
	}
	return out
}

var catalog = map[string]Field{
	"naam":               {Name: "naam", Kind: Substring, get: func(r *schema.Record) []string { return one(r.Naam) }},
	"thikana":            {Name: "thikana", Kind: Substring, get: func(r *schema.Record) []string { return one(r.Thikana) }},
	"pitar_naam":         {Name: "pitar_naam", Kind: Substring, get: func(r *schema.Record) []string { return one(r.PitarNaam) }},
	"matar_naam":         {Name: "matar_naam", Kind: Substring, get: func(r *schema.Record) []string { return one(r.MatarNaam) }},
	"pesha":              {Name: "pesha", Kind: Substring, get: func(r *schema.Record) []string { return one(r.Pesha) }},
	"occupation_details": {Name: "occupation_details", Kind: Substring, get: func(r *schema.Record) []string { return one(r.OccupationDetails) }},
	"description":        {Name: "description", Kind: Substring, get: func(r *schema.Record) []string { return one(r.Description) }},

	"voter_no":     {Name: "voter_no", Kind: Exact, get: func(r *schema.Record) []string { return one(r.VoterNo) }},
	"kromik_no":    {Name: "kromik_no", Kind: Exact, get: func(r *schema.Record) []string { return one(r.KromikNo) }},
	"file_name":    {Name: "file_name", Kind: Exact, get: func(r *schema.Record) []string { return one(r.FileName) }},
	"phone_number": {Name: "phone_number", Kind: Exact, get: func(r *schema.Record) []string { return one(r.PhoneNumber) }},

	"batch":  {Name: "batch", Kind: ForeignKey, get: func(r *schema.Record) []string { return one(string(r.Batch)) }},
	"events": {Name: "events", Kind: ForeignKey, get: func(r *schema.Record) []string { return ids(r.Events) }},

	"relationship_status": {
		Name:   "relationship_status",
		Kind:   Enum,
		Values: []string{schema.StatusRegular, schema.StatusFriend, schema.StatusEnemy, schema.StatusConnected},
		get:    func(r *schema.Record) []string { return one(r.RelationshipStatus) },
	},
	"gender": {
		Name:   "gender",
		Kind:   Enum,
		Values: []string{"Male", "Female", "Other"},
		get:    func(r *schema.Record) []string { return one(r.Gender) },
	},
}

// Lookup returns the catalog entry for a field name.
func Lookup(name string) (Field, bool) {
	f, ok := catalog[name]
	return f, ok
}

// Fields lists every filterable field, ordered by name.
func Fields() []Field {
	out := make([]Field, 0, len(catalog))
	for _, f := range catalog {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
