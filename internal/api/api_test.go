package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-records/internal/engine"
	"github.com/celerix-dev/celerix-records/pkg/schema"
)

func setupTestRouter() (*gin.Engine, *engine.MemStore) {
	gin.SetMode(gin.TestMode)
	store := engine.NewMemStore(nil, nil)
	h := &Handler{Store: store}
	r := gin.New()

	r.GET("/api/records/", h.ListRecords)
	r.POST("/api/records/", h.CreateRecord)
	r.GET("/api/records/export/", h.ExportRecords)
	r.GET("/api/records/:id/", h.GetRecord)
	r.PUT("/api/records/:id/", h.UpdateRecord)
	r.GET("/api/batches/", h.ListBatches)
	r.POST("/api/batches/", h.CreateBatch)
	r.POST("/api/relationships/", h.AddRelationship)
	r.DELETE("/api/relationships/:id/", h.RemoveRelationship)
	r.GET("/api/dashboard-stats/", h.DashboardStats)

	return r, store
}

// seed adds n records; every third one is named "Karim <i>" and every
// record's voter number is its index.
func seed(t *testing.T, store *engine.MemStore, n int) schema.Batch {
	t.Helper()
	b, err := store.CreateBatch("Ward 7")
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	for i := 0; i < n; i++ {
		naam := fmt.Sprintf("Person %d", i)
		if i%3 == 0 {
			naam = fmt.Sprintf("Karim %d", i)
		}
		_, err := store.CreateRecord(schema.Record{
			Batch:    b.ID,
			Naam:     naam,
			VoterNo:  strconv.Itoa(i),
			KromikNo: strconv.Itoa(i + 1),
			FileName: "roll.pdf",
		})
		if err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}
	return b
}

func get(r *gin.Engine, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func send(r *gin.Engine, method, target string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListRecords_Pagination(t *testing.T) {
	r, store := setupTestRouter()
	seed(t, store, 120)

	w := get(r, "/api/records/")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp schema.ListResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Count != 120 || len(resp.Results) != 50 {
		t.Errorf("Expected 50 of 120, got %d of %d", len(resp.Results), resp.Count)
	}
	if resp.Previous != nil || resp.Next == nil {
		t.Fatalf("Unexpected links: prev=%v next=%v", resp.Previous, resp.Next)
	}
	next, _ := url.Parse(*resp.Next)
	if next.Query().Get("page") != "2" || next.Host == "" {
		t.Errorf("Expected absolute link to page 2, got %s", *resp.Next)
	}

	w = get(r, "/api/records/?page=3")
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 20 || resp.Next != nil || resp.Previous == nil {
		t.Errorf("Unexpected last page: %d items, next=%v", len(resp.Results), resp.Next)
	}
}

func TestListRecords_RelativeLinksWithoutHost(t *testing.T) {
	r, store := setupTestRouter()
	seed(t, store, 60)

	req, _ := http.NewRequest("GET", "/api/records/?page=2", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp schema.ListResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Previous == nil || *resp.Previous != "/api/records/" {
		t.Errorf("Expected a relative link to page 1, got %v", resp.Previous)
	}
}

func TestListRecords_InvalidPage(t *testing.T) {
	r, store := setupTestRouter()
	seed(t, store, 10)

	for _, target := range []string{"/api/records/?page=0", "/api/records/?page=2", "/api/records/?page=abc"} {
		if w := get(r, target); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, w.Code)
		}
	}

	// An empty result still has page 1.
	if w := get(r, "/api/records/?naam__icontains=nobody"); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for empty result, got %d", w.Code)
	}
}

func TestListRecords_Filters(t *testing.T) {
	r, store := setupTestRouter()
	seed(t, store, 120)

	w := get(r, "/api/records/?naam__icontains=KARIM")
	var resp schema.ListResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 40 || len(resp.Results) != 40 {
		t.Errorf("Expected 40 Karims on one page, got %d of %d", len(resp.Results), resp.Count)
	}
	if resp.Next != nil || resp.Previous != nil {
		t.Errorf("Expected no links for a single page, got next=%v prev=%v", resp.Next, resp.Previous)
	}

	// 80 records match "person", so the result spans two pages.
	resp = schema.ListResponse{}
	w = get(r, "/api/records/?naam__icontains=PERSON")
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 80 || resp.Next == nil {
		t.Fatalf("Expected 80 matches with a next link, got %d (next=%v)", resp.Count, resp.Next)
	}
	next, _ := url.Parse(*resp.Next)
	if next.Query().Get("naam__icontains") != "PERSON" || next.Query().Get("page") != "2" {
		t.Errorf("Expected next link to keep the filter, got %s", *resp.Next)
	}

	resp = schema.ListResponse{}

	w = get(r, "/api/records/?voter_no=42")
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 || resp.Results[0].VoterNo != "42" {
		t.Errorf("Expected exactly voter 42, got %+v", resp.Results)
	}

	if w := get(r, "/api/records/?shoe_size=9"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown filter, got %d", w.Code)
	}
	if w := get(r, "/api/records/?gender=Robot"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid enum, got %d", w.Code)
	}
}

func TestExportRecords(t *testing.T) {
	r, store := setupTestRouter()
	seed(t, store, 7)

	w := get(r, "/api/records/export/")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Length"); got != strconv.Itoa(w.Body.Len()) {
		t.Errorf("Expected Content-Length %d, got %s", w.Body.Len(), got)
	}
	var records []schema.Record
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil || len(records) != 7 {
		t.Errorf("Expected 7 records, got %d (%v)", len(records), err)
	}
}

func TestCreateGetUpdateRecord(t *testing.T) {
	r, store := setupTestRouter()
	b := seed(t, store, 0)

	w := send(r, "POST", "/api/records/", schema.Record{
		Batch: b.ID, Naam: "Karim", VoterNo: "1", KromikNo: "1", FileName: "a.pdf",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created schema.Record
	json.Unmarshal(w.Body.Bytes(), &created)

	w = get(r, "/api/records/"+created.ID.String()+"/")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	created.Naam = "Karim Uddin"
	w = send(r, "PUT", "/api/records/"+created.ID.String()+"/", created)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var updated schema.Record
	json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.Naam != "Karim Uddin" {
		t.Errorf("Expected updated name, got %s", updated.Naam)
	}

	if w := get(r, "/api/records/999/"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestCreateRecord_ValidationErrors(t *testing.T) {
	r, store := setupTestRouter()
	b := seed(t, store, 0)

	w := send(r, "POST", "/api/records/", schema.Record{Batch: b.ID, Naam: "Karim"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	var fields map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &fields); err != nil {
		t.Fatalf("Expected a field map, got %s", w.Body.String())
	}
	if len(fields["voter_no"]) == 0 || len(fields["file_name"]) == 0 {
		t.Errorf("Expected voter_no and file_name errors, got %v", fields)
	}
}

func TestBatchesRelationshipsStats(t *testing.T) {
	r, store := setupTestRouter()
	seed(t, store, 2)

	w := send(r, "POST", "/api/batches/", gin.H{"name": "Ward 9"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	w = send(r, "POST", "/api/batches/", gin.H{"name": "Ward 9"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400 for a duplicate name, got %d", w.Code)
	}
	var fields map[string][]string
	json.Unmarshal(w.Body.Bytes(), &fields)
	if len(fields["name"]) == 0 {
		t.Errorf("Expected a name field error, got %s", w.Body.String())
	}

	var batches []schema.Batch
	json.Unmarshal(get(r, "/api/batches/").Body.Bytes(), &batches)
	if len(batches) != 2 || batches[0].Name != "Ward 9" {
		t.Errorf("Expected newest batch first, got %+v", batches)
	}

	list := store.Records()
	w = send(r, "POST", "/api/relationships/", schema.Relationship{Record: list[0].ID, Related: list[1].ID, Kind: "brother"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var rel schema.Relationship
	json.Unmarshal(w.Body.Bytes(), &rel)

	w = send(r, "DELETE", "/api/relationships/"+rel.ID.String()+"/", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}

	var stats schema.Stats
	json.Unmarshal(get(r, "/api/dashboard-stats/").Body.Bytes(), &stats)
	if stats.TotalRecords != 2 || stats.TotalBatches != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
