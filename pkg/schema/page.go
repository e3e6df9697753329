package schema

// Token is an opaque pagination cursor. The empty token means "absent".
// Remote pages carry server URLs; local pages carry page numbers.
type Token string

// Page is the uniform paginated result returned by either query engine.
type Page struct {
	Items    []Record `json:"items"`
	Count    int      `json:"count"`
	Previous Token    `json:"previous,omitempty"`
	Next     Token    `json:"next,omitempty"`
}

// HasNext reports whether a following page exists.
func (p Page) HasNext() bool { return p.Next != "" }

// HasPrevious reports whether a preceding page exists.
func (p Page) HasPrevious() bool { return p.Previous != "" }

// ListResponse is the wire shape of the backend's paginated list endpoint.
type ListResponse struct {
	Count    int      `json:"count"`
	Next     *string  `json:"next"`
	Previous *string  `json:"previous"`
	Results  []Record `json:"results"`
}
