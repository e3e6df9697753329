// Package api implements the records backend's HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	istore "github.com/celerix-dev/celerix-records/internal/engine"
	"github.com/celerix-dev/celerix-records/internal/logging"
	"github.com/celerix-dev/celerix-records/pkg/engine"
	"github.com/celerix-dev/celerix-records/pkg/filter"
	"github.com/celerix-dev/celerix-records/pkg/schema"
)

type Handler struct {
	Store istore.RecordStore
}

// respondError maps store errors onto status codes and a JSON body the
// SDK understands.
func respondError(c *gin.Context, err error) {
	var verr *istore.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, verr.Fields)
	case errors.Is(err, istore.ErrRecordNotFound),
		errors.Is(err, istore.ErrBatchNotFound),
		errors.Is(err, istore.ErrRelationshipNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
	case errors.Is(err, engine.ErrPageOutOfRange):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Invalid page."})
	case errors.Is(err, filter.ErrUnknownField),
		errors.Is(err, filter.ErrKindMismatch),
		errors.Is(err, filter.ErrInvalidValue):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	default:
		logging.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
	}
}

// ListRecords serves one page of records matching the query-string filters.
func (h *Handler) ListRecords(c *gin.Context) {
	query := c.Request.URL.Query()

	page := 1
	if raw := query.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Invalid page."})
			return
		}
		page = n
	}

	params, err := filter.FromValues(query)
	if err != nil {
		respondError(c, err)
		return
	}
	matches, err := engine.Filter(h.Store.Records(), params)
	if err != nil {
		respondError(c, err)
		return
	}
	w, err := engine.Paginate(len(matches), page, engine.PageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := schema.ListResponse{
		Count:   len(matches),
		Results: matches[w.Low:w.High],
	}
	if resp.Results == nil {
		resp.Results = []schema.Record{}
	}
	if w.Next > 0 {
		next := pageURL(c, query, w.Next)
		resp.Next = &next
	}
	if w.Previous > 0 {
		prev := pageURL(c, query, w.Previous)
		resp.Previous = &prev
	}
	c.JSON(http.StatusOK, resp)
}

// pageURL builds an absolute link to another page, keeping every filter.
// Page 1 is linked without a page parameter. Without a Host the link is
// relative.
func pageURL(c *gin.Context, query url.Values, page int) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	if page == 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}

	if c.Request.Host == "" {
		u := url.URL{Path: c.Request.URL.Path, RawQuery: q.Encode()}
		return u.String()
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     c.Request.Host,
		Path:     c.Request.URL.Path,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// ExportRecords writes the whole collection as one JSON array with an exact
// Content-Length, so clients can report download progress.
func (h *Handler) ExportRecords(c *gin.Context) {
	data, err := json.Marshal(h.Store.Records())
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, "application/json", data)
}

func (h *Handler) GetRecord(c *gin.Context) {
	r, err := h.Store.Record(schema.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) CreateRecord(c *gin.Context) {
	var r schema.Record
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	created, err := h.Store.CreateRecord(r)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) UpdateRecord(c *gin.Context) {
	var r schema.Record
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	r.ID = schema.ID(c.Param("id"))
	updated, err := h.Store.UpdateRecord(r)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) ListBatches(c *gin.Context) {
	c.JSON(http.StatusOK, h.Store.Batches())
}

func (h *Handler) CreateBatch(c *gin.Context) {
	var input struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	b, err := h.Store.CreateBatch(input.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) AddRelationship(c *gin.Context) {
	var rel schema.Relationship
	if err := c.ShouldBindJSON(&rel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	created, err := h.Store.AddRelationship(rel)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) RemoveRelationship(c *gin.Context) {
	if err := h.Store.RemoveRelationship(schema.ID(c.Param("id"))); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DashboardStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Store.Stats())
}
