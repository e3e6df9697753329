package filter

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrUnknownField is returned for a field that is not in the catalog.
	ErrUnknownField = errors.New("unknown filter field")
	// ErrKindMismatch is returned when a predicate's kind disagrees with its field.
	ErrKindMismatch = errors.New("filter kind does not match field")
	// ErrInvalidValue is returned for an enum value outside the allowed set.
	ErrInvalidValue = errors.New("invalid filter value")
)

// SubstringSuffix is the lookup suffix the backend uses for containment.
const SubstringSuffix = "__icontains"

// Reserved query-string keys that are never filters.
var reserved = map[string]bool{"page": true, "page_size": true, "format": true}

// Predicate is one typed condition on a field. An empty Value is vacuously true.
type Predicate struct {
	Field string
	Kind  Kind
	Value string
}

// Contains builds a case-insensitive containment predicate.
func Contains(field, value string) Predicate {
	return Predicate{Field: field, Kind: Substring, Value: value}
}

// Equals builds an exact-match predicate.
func Equals(field, value string) Predicate {
	return Predicate{Field: field, Kind: Exact, Value: value}
}

// Ref builds a foreign-key predicate. id may be any integer or string form.
func Ref(field string, id any) Predicate {
	return Predicate{Field: field, Kind: ForeignKey, Value: fmt.Sprint(id)}
}

// Is builds an enum predicate.
func Is(field, value string) Predicate {
	return Predicate{Field: field, Kind: Enum, Value: value}
}

// Parse builds a predicate whose kind is taken from the catalog.
func Parse(field, value string) (Predicate, error) {
	f, ok := Lookup(field)
	if !ok {
		return Predicate{}, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return Predicate{Field: f.Name, Kind: f.Kind, Value: value}, nil
}

// Params is an ordered set of predicates, at most one per field.
// The zero value matches everything.
type Params struct {
	preds []Predicate
}

// New builds Params from predicates; later predicates on a field win.
func New(preds ...Predicate) Params {
	var p Params
	for _, pr := range preds {
		p = p.With(pr)
	}
	return p
}

// With returns a copy of p with pr added, replacing any predicate on the same field.
func (p Params) With(pr Predicate) Params {
	out := make([]Predicate, 0, len(p.preds)+1)
	for _, existing := range p.preds {
		if existing.Field != pr.Field {
			out = append(out, existing)
		}
	}
	return Params{preds: append(out, pr)}
}

// Predicates returns the non-empty predicates in insertion order.
func (p Params) Predicates() []Predicate {
	out := make([]Predicate, 0, len(p.preds))
	for _, pr := range p.preds {
		if strings.TrimSpace(pr.Value) != "" {
			out = append(out, pr)
		}
	}
	return out
}

// IsEmpty reports whether no predicate constrains the result.
func (p Params) IsEmpty() bool { return len(p.Predicates()) == 0 }

// Validate checks every non-empty predicate against the catalog.
func (p Params) Validate() error {
	for _, pr := range p.Predicates() {
		f, ok := Lookup(pr.Field)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, pr.Field)
		}
		if f.Kind != pr.Kind && !(pr.Kind == Exact && f.Kind == Substring) {
			return fmt.Errorf("%w: %s is %s, got %s", ErrKindMismatch, f.Name, f.Kind, pr.Kind)
		}
		if f.Kind == Enum && !f.Allows(pr.Value) {
			return fmt.Errorf("%w: %s=%q (allowed: %s)", ErrInvalidValue, f.Name, pr.Value, strings.Join(f.Values, ", "))
		}
	}
	return nil
}

// Values encodes p as backend query-string parameters.
func (p Params) Values() url.Values {
	v := url.Values{}
	for _, pr := range p.Predicates() {
		if pr.Kind == Substring {
			v.Set(pr.Field+SubstringSuffix, pr.Value)
			continue
		}
		v.Set(pr.Field, pr.Value)
	}
	return v
}

// FromValues decodes backend query-string parameters. Reserved keys such as
// page are skipped.
func FromValues(v url.Values) (Params, error) {
	var p Params
	for key, vals := range v {
		if reserved[key] || len(vals) == 0 {
			continue
		}
		name, substring := strings.CutSuffix(key, SubstringSuffix)
		f, ok := Lookup(name)
		if !ok {
			return Params{}, fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
		kind := f.Kind
		if substring {
			if f.Kind != Substring {
				return Params{}, fmt.Errorf("%w: %s does not support %s", ErrKindMismatch, name, SubstringSuffix)
			}
		} else if f.Kind == Substring {
			// A bare substring field is an exact lookup on the backend.
			kind = Exact
		}
		p = p.With(Predicate{Field: name, Kind: kind, Value: vals[0]})
	}
	// Map iteration order is random; keep decoding deterministic.
	sort.Slice(p.preds, func(i, j int) bool { return p.preds[i].Field < p.preds[j].Field })
	return p, p.Validate()
}
