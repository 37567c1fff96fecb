package handlers

import (
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/lakeview/internal/errors"
	"github.com/3leaps/lakeview/pkg/listing"
)

//go:embed templates/browse.html
var templateFS embed.FS

// BrowsePathPrefix is where the HTML browser is mounted.
const BrowsePathPrefix = "/browse/"

var browseTemplate = template.Must(
	template.New("browse.html").Funcs(template.FuncMap{
		"bytes":     humanBytes,
		"comma":     humanComma,
		"ago":       humanize.Time,
		"browseURL": browseURL,
	}).ParseFS(templateFS, "templates/browse.html"),
)

type pageError struct {
	Code    string
	Message string
}

type pageData struct {
	Title       string
	Breadcrumbs []listing.Breadcrumb
	HasParent   bool
	Parent      string
	Entries     []listing.Entry
	Stats       listing.Stats
	CachedAt    time.Time
	Error       *pageError
	RequestID   string
}

// Browse serves GET /browse/* as an HTML directory page. ?refresh=1 drops
// the cached listing first.
func (h *ListingHandler) Browse(w http.ResponseWriter, r *http.Request) {
	virtualPath, err := wildcardPath(r)
	if err != nil {
		h.renderError(w, r, "/", err)
		return
	}

	list := h.browser.ListDirectory
	if r.URL.Query().Get("refresh") != "" {
		list = h.browser.Refresh
	}

	res, err := list(r.Context(), virtualPath)
	if err != nil {
		h.renderError(w, r, virtualPath, err)
		return
	}

	scope := res.Scope
	render(w, http.StatusOK, pageData{
		Title:       scope.String(),
		Breadcrumbs: scope.Breadcrumbs(),
		HasParent:   !scope.IsRoot(),
		Parent:      scope.Parent().Path(),
		Entries:     res.Entries,
		Stats:       res.Stats,
		CachedAt:    res.CachedAt,
	})
}

func (h *ListingHandler) renderError(w http.ResponseWriter, r *http.Request, virtualPath string, err error) {
	appErr := apperrors.FromError(err)
	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	render(w, appErr.Status, pageData{
		Title:     virtualPath,
		Error:     &pageError{Code: appErr.Code, Message: appErr.Message},
		RequestID: apperrors.RequestIDFromContext(r.Context()),
	})
}

func render(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = browseTemplate.Execute(w, data)
}

// wildcardPath returns the decoded path captured by the /browse/* route.
func wildcardPath(r *http.Request) (string, error) {
	p := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return p, nil
	}
	return url.PathUnescape(p)
}

// browseURL links to the HTML page for a virtual path or prefix.
func browseURL(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return BrowsePathPrefix
	}
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return BrowsePathPrefix + strings.Join(segments, "/") + "/"
}

func humanBytes(n int64) string {
	if n < 0 {
		return ""
	}
	return humanize.IBytes(uint64(n))
}

func humanComma(v any) string {
	switch n := v.(type) {
	case int:
		return humanize.Comma(int64(n))
	case int64:
		return humanize.Comma(n)
	default:
		return ""
	}
}
