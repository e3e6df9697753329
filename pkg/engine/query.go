package engine

import (
	"fmt"
	"strconv"

	"github.com/celerix-dev/celerix-records/pkg/filter"
	"github.com/celerix-dev/celerix-records/pkg/schema"
)

// Query filters snap with params and returns the requested page.
// It never modifies snap; items are copies.
func Query(snap *Snapshot, params filter.Params, page int) (schema.Page, error) {
	if snap == nil {
		return schema.Page{}, ErrNilSnapshot
	}
	matches, err := Filter(snap.records, params)
	if err != nil {
		return schema.Page{}, err
	}
	w, err := Paginate(len(matches), page, PageSize)
	if err != nil {
		return schema.Page{}, err
	}

	out := schema.Page{
		Items: make([]schema.Record, 0, w.High-w.Low),
		Count: len(matches),
	}
	for _, r := range matches[w.Low:w.High] {
		out.Items = append(out.Items, Clone(r))
	}
	if w.Previous > 0 {
		out.Previous = PageToken(w.Previous)
	}
	if w.Next > 0 {
		out.Next = PageToken(w.Next)
	}
	return out, nil
}

// Filter returns the records matching every predicate, in their original order.
// The returned slice shares record values with records.
func Filter(records []schema.Record, params filter.Params) ([]schema.Record, error) {
	m, err := params.Compile()
	if err != nil {
		return nil, err
	}
	if params.IsEmpty() {
		return records, nil
	}
	var out []schema.Record
	for i := range records {
		if m.Match(&records[i]) {
			out = append(out, records[i])
		}
	}
	return out, nil
}

// Window describes one page over a result set of known size.
// Previous and Next are 0 when absent.
type Window struct {
	Page     int
	Low      int
	High     int
	Previous int
	Next     int
	Last     int
}

// Paginate computes the slice bounds of page over total items.
// An empty result still has one (empty) page.
func Paginate(total, page, size int) (Window, error) {
	if size <= 0 {
		size = PageSize
	}
	last := (total + size - 1) / size
	if last == 0 {
		last = 1
	}
	if page < 1 || page > last {
		return Window{}, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, last)
	}
	w := Window{
		Page: page,
		Low:  (page - 1) * size,
		High: min(page*size, total),
		Last: last,
	}
	if page > 1 {
		w.Previous = page - 1
	}
	if page < last {
		w.Next = page + 1
	}
	return w, nil
}

// PageToken encodes a page number as a local pagination token.
func PageToken(page int) schema.Token {
	return schema.Token(strconv.Itoa(page))
}

// ParsePageToken decodes a local pagination token; the empty token is page 1.
func ParsePageToken(t schema.Token) (int, error) {
	if t == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(string(t))
	if err != nil {
		return 0, fmt.Errorf("not a page number: %q", string(t))
	}
	return n, nil
}

// Clone copies a record, including its slice and pointer fields.
func Clone(r schema.Record) schema.Record {
	if r.Events != nil {
		r.Events = append([]schema.ID(nil), r.Events...)
	}
	if r.Age != nil {
		age := *r.Age
		r.Age = &age
	}
	return r
}
