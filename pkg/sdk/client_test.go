package sdk

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/celerix-dev/celerix-records/pkg/filter"
	"github.com/celerix-dev/celerix-records/pkg/schema"
)

func newTestClient(t *testing.T, h http.HandlerFunc, token string) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := NewClient(Config{BaseURL: ts.URL, Token: token})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c, ts
}

func TestClient_QueryEncodesParams(t *testing.T) {
	var gotQuery, gotAuth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{"count": 1, "next": "http://x/api/records/?page=2", "previous": null, "results": [{"id": 7, "naam": "Karim"}]}`)
	}, "abc")

	params := filter.New(filter.Contains("naam", "karim"), filter.Equals("voter_no", "123"))
	page, err := c.Query(context.Background(), params, "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if !strings.Contains(gotQuery, "naam__icontains=karim") || !strings.Contains(gotQuery, "voter_no=123") {
		t.Errorf("Unexpected query string: %s", gotQuery)
	}
	if gotAuth != "Token abc" {
		t.Errorf("Expected Token auth header, got %q", gotAuth)
	}
	if page.Count != 1 || page.Items[0].ID != "7" || page.Next != "http://x/api/records/?page=2" || page.HasPrevious() {
		t.Errorf("Unexpected page: %+v", page)
	}
}

func TestClient_TokenUsedVerbatim(t *testing.T) {
	var gotURI string
	c, ts := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		io.WriteString(w, `{"count": 0, "next": null, "previous": null, "results": []}`)
	}, "abc")

	cursor := schema.Token(ts.URL + "/api/records/?page=3&naam__icontains=x")
	// Local params must be ignored when following a cursor.
	_, err := c.Query(context.Background(), filter.New(filter.Equals("voter_no", "1")), cursor)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if gotURI != "/api/records/?page=3&naam__icontains=x" {
		t.Errorf("Expected cursor to be followed verbatim, got %s", gotURI)
	}

	// Relative cursors resolve against the base URL.
	if _, err := c.Query(context.Background(), filter.Params{}, "/api/records/?page=2"); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if gotURI != "/api/records/?page=2" {
		t.Errorf("Expected relative cursor to resolve, got %s", gotURI)
	}
}

func TestClient_MissingCredentialSendsNothing(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}, "")

	_, err := c.Query(context.Background(), filter.Params{}, "")
	ae, ok := AsAuthError(err)
	if !ok || ae.Status != 0 {
		t.Fatalf("Expected a local AuthError, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("No request may be sent without a credential")
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", 401, `{"detail": "Invalid token."}`, func(t *testing.T, err error) {
			ae, ok := AsAuthError(err)
			if !ok || ae.Status != 401 || ae.Message != "Invalid token." {
				t.Errorf("Expected AuthError 401, got %v", err)
			}
		}},
		{"forbidden", 403, `{"detail": "nope"}`, func(t *testing.T, err error) {
			if _, ok := AsAuthError(err); !ok {
				t.Errorf("Expected AuthError, got %v", err)
			}
		}},
		{"invalid page", 404, `{"detail": "Invalid page."}`, func(t *testing.T, err error) {
			se, ok := AsServerError(err)
			if !ok || se.Status != 404 || se.Message != "Invalid page." {
				t.Errorf("Expected ServerError 404, got %v", err)
			}
		}},
		{"field errors", 400, `{"voter_no": ["This field may not be blank."], "non_field_errors": ["bad"]}`, func(t *testing.T, err error) {
			se, ok := AsServerError(err)
			if !ok || se.Message != "bad" || se.Fields["voter_no"][0] != "This field may not be blank." {
				t.Errorf("Expected field errors, got %v", err)
			}
		}},
		{"plain text", 502, `Bad Gateway`, func(t *testing.T, err error) {
			se, ok := AsServerError(err)
			if !ok || se.Message != "Bad Gateway" {
				t.Errorf("Expected plain-text message, got %v", err)
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}, "abc")
			_, err := c.Query(context.Background(), filter.Params{}, "")
			tc.check(t, err)
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	c, _ := NewClient(Config{BaseURL: base, Token: "abc"})
	_, err := c.Query(context.Background(), filter.Params{}, "")
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("Expected *NetworkError, got %v", err)
	}
}

func TestClient_InvalidParamsNotSent(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }, "abc")

	_, err := c.Query(context.Background(), filter.New(filter.Is("gender", "Robot")), "")
	if !errors.Is(err, filter.ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("Invalid params must be rejected locally")
	}
}

func TestClient_BearerScheme(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{"total_records": 3}`)
	}))
	defer ts.Close()

	c, _ := NewClient(Config{BaseURL: ts.URL, Token: "jwt", AuthScheme: "Bearer"})
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if gotAuth != "Bearer jwt" || stats.TotalRecords != 3 {
		t.Errorf("Unexpected result: auth=%q stats=%+v", gotAuth, stats)
	}
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "not a url"}); err == nil {
		t.Error("Expected a base URL without scheme to be rejected")
	}
}
