package filter

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/celerix-dev/celerix-records/pkg/schema"
)

type compiled struct {
	field  Field
	kind   Kind
	needle string
}

// Matcher evaluates Params against records. It is not safe for concurrent
// use; compile one per goroutine.
type Matcher struct {
	preds []compiled
	fold  cases.Caser
}

// Compile validates p and prepares it for evaluation.
func (p Params) Compile() (*Matcher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m := &Matcher{fold: cases.Fold()}
	for _, pr := range p.Predicates() {
		f, _ := Lookup(pr.Field)
		c := compiled{field: f, kind: pr.Kind, needle: strings.TrimSpace(pr.Value)}
		if c.kind == Substring {
			c.needle = m.fold.String(c.needle)
		}
		m.preds = append(m.preds, c)
	}
	return m, nil
}

// Match reports whether r satisfies every predicate.
func (m *Matcher) Match(r *schema.Record) bool {
	for _, c := range m.preds {
		if !m.matchOne(c, c.field.get(r)) {
			return false
		}
	}
	return true
}

func (m *Matcher) matchOne(c compiled, values []string) bool {
	for _, v := range values {
		switch c.kind {
		case Substring:
			if strings.Contains(m.fold.String(v), c.needle) {
				return true
			}
		case Exact, ForeignKey:
			if SameIdentity(v, c.needle) {
				return true
			}
		case Enum:
			if v == c.needle {
				return true
			}
		}
	}
	return false
}

// SameIdentity compares two scalar values, treating integer forms as equal
// regardless of representation: 42 == "42", " 42" == "42", "+42" == "42".
// Leading zeros stay significant, so "042" != "42".
func SameIdentity(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return true
	}
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr != nil || berr != nil || an != bn {
		return false
	}
	return !leadingZero(a) && !leadingZero(b)
}

func leadingZero(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) > 1 && s[0] == '0'
}
