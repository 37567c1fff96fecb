// Package versioncheck compares the running version against the latest
// published release.
package versioncheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// ErrUnversioned is returned when the running build has no semantic version
// (for example a dev build), so no comparison is possible.
var ErrUnversioned = errors.New("running build has no release version")

// maxBodyBytes bounds the release document read from the network.
const maxBodyBytes = 1 << 20

// Result is the outcome of a check.
type Result struct {
	Current         string
	Latest          string
	URL             string
	UpdateAvailable bool
}

// Checker queries a GitHub-style "latest release" endpoint.
type Checker struct {
	URL    string
	Client *http.Client
}

// New returns a checker for url with the given request timeout.
func New(url string, timeout time.Duration) *Checker {
	return &Checker{URL: url, Client: &http.Client{Timeout: timeout}}
}

type release struct {
	TagName    string `json:"tag_name"`
	HTMLURL    string `json:"html_url"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// Check fetches the latest release and compares it with current.
func (c *Checker) Check(ctx context.Context, current string) (*Result, error) {
	cur := canonical(current)
	if cur == "" {
		return nil, ErrUnversioned
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("version check: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "lakeview/"+strings.TrimPrefix(cur, "v"))

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("version check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("version check: unexpected status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&rel); err != nil {
		return nil, fmt.Errorf("version check: decode release: %w", err)
	}

	latest := canonical(rel.TagName)
	if latest == "" {
		return nil, fmt.Errorf("version check: release tag %q is not a semantic version", rel.TagName)
	}

	return &Result{
		Current:         cur,
		Latest:          latest,
		URL:             rel.HTMLURL,
		UpdateAvailable: !rel.Draft && !rel.Prerelease && semver.Compare(latest, cur) > 0,
	}, nil
}

// canonical returns v as a canonical semver string with a leading "v", or
// "" when v is not a valid version.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}
