package handlers

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/3leaps/lakeview/internal/errors"
	"github.com/3leaps/lakeview/pkg/browse"
	"github.com/3leaps/lakeview/pkg/listcache"
	"github.com/3leaps/lakeview/pkg/listing"
)

// Browser is the directory listing surface the handlers need.
type Browser interface {
	ListDirectory(ctx context.Context, virtualPath string) (*browse.Result, error)
	Refresh(ctx context.Context, virtualPath string) (*browse.Result, error)
	CacheStats() listcache.Stats
}

var _ Browser = (*browse.Service)(nil)

// ListResponse is the JSON body of the listing endpoints.
type ListResponse struct {
	Path        string               `json:"path"`
	Prefix      string               `json:"prefix"`
	Parent      *string              `json:"parent"`
	Breadcrumbs []listing.Breadcrumb `json:"breadcrumbs"`
	Entries     []listing.Entry      `json:"entries"`
	Stats       listing.Stats        `json:"stats"`
	CachedAt    time.Time            `json:"cached_at,omitzero"`
}

// CacheStatsResponse is the JSON body of GET /api/v1/cache.
type CacheStatsResponse struct {
	Hits            uint64 `json:"hits"`
	Misses          uint64 `json:"misses"`
	Computes        uint64 `json:"computes"`
	ComputeFailures uint64 `json:"compute_failures"`
	Evictions       uint64 `json:"evictions"`
	Entries         int    `json:"entries"`
}

// ListingHandler serves directory listings as JSON and HTML.
type ListingHandler struct {
	browser Browser
}

// NewListingHandler creates a handler over b.
func NewListingHandler(b Browser) *ListingHandler {
	return &ListingHandler{browser: b}
}

// List serves GET /api/v1/list?path=<virtual path>.
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	res, err := h.browser.ListDirectory(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(res))
}

// Refresh serves POST /api/v1/refresh?path=<virtual path>.
func (h *ListingHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.browser.Refresh(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(res))
}

// CacheStats serves GET /api/v1/cache.
func (h *ListingHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	s := h.browser.CacheStats()
	writeJSON(w, http.StatusOK, CacheStatsResponse{
		Hits:            s.Hits,
		Misses:          s.Misses,
		Computes:        s.Computes,
		ComputeFailures: s.ComputeFailures,
		Evictions:       s.Evictions,
		Entries:         s.Entries,
	})
}

// Unavailable answers listing routes when no backend is configured.
func Unavailable(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteAppError(w, r, apperrors.NewExternalServiceError("no inventory backend configured"))
}

func newListResponse(res *browse.Result) ListResponse {
	scope := res.Scope
	resp := ListResponse{
		Path:        scope.Path(),
		Prefix:      scope.Prefix,
		Breadcrumbs: scope.Breadcrumbs(),
		Entries:     res.Entries,
		Stats:       res.Stats,
		CachedAt:    res.CachedAt,
	}
	if resp.Breadcrumbs == nil {
		resp.Breadcrumbs = []listing.Breadcrumb{}
	}
	if resp.Entries == nil {
		resp.Entries = []listing.Entry{}
	}
	if !scope.IsRoot() {
		parent := scope.Parent().Path()
		resp.Parent = &parent
	}
	return resp
}
