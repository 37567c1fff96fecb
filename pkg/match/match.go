// Package match filters directory entries by name pattern and file metadata.
//
// Patterns are doublestar globs evaluated against entry names, not full keys,
// so "*.log" selects log files in the listed directory only.
package match

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/lakeview/pkg/listing"
)

// Errors returned by New.
var (
	ErrInvalidPattern = errors.New("invalid glob pattern")
	ErrInvalidSize    = errors.New("invalid size value")
	ErrInvalidDate    = errors.New("invalid date value")
	ErrInvalidRegex   = errors.New("invalid regex pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Config holds filter criteria, usually straight from CLI flags. Empty
// fields impose no constraint.
type Config struct {
	// Includes are globs an entry name must match (any). Empty matches all.
	Includes []string

	// Excludes are globs an entry name must not match.
	Excludes []string

	// NameRegex is applied to entry names after glob matching.
	NameRegex string

	// MinSize and MaxSize bound file sizes (inclusive). Human-readable
	// values are accepted: "1KB" is 1000 bytes, "1KiB" is 1024.
	MinSize string
	MaxSize string

	// After and Before bound file modification times: After is inclusive,
	// Before exclusive. Accepts "2024-01-15" or RFC 3339.
	After  string
	Before string

	// HideDotfiles drops entries whose name starts with '.'.
	HideDotfiles bool
}

// Filter is a compiled Config. A Filter is safe for concurrent use.
type Filter struct {
	includes     []string
	excludes     []string
	regex        *regexp.Regexp
	minSize      int64 // -1 means no minimum
	maxSize      int64 // -1 means no maximum
	after        time.Time
	before       time.Time
	hideDotfiles bool
}

// New compiles cfg into a Filter.
func New(cfg Config) (*Filter, error) {
	f := &Filter{minSize: -1, maxSize: -1, hideDotfiles: cfg.HideDotfiles}

	for _, p := range cfg.Includes {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		f.includes = append(f.includes, p)
	}
	for _, p := range cfg.Excludes {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		f.excludes = append(f.excludes, p)
	}

	if cfg.NameRegex != "" {
		re, err := regexp.Compile(cfg.NameRegex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRegex, err)
		}
		f.regex = re
	}

	var err error
	if cfg.MinSize != "" {
		if f.minSize, err = ParseSize(cfg.MinSize); err != nil {
			return nil, fmt.Errorf("min size: %w", err)
		}
	}
	if cfg.MaxSize != "" {
		if f.maxSize, err = ParseSize(cfg.MaxSize); err != nil {
			return nil, fmt.Errorf("max size: %w", err)
		}
	}
	if f.minSize >= 0 && f.maxSize >= 0 && f.minSize > f.maxSize {
		return nil, fmt.Errorf("%w: min (%d) > max (%d)", ErrInvalidSize, f.minSize, f.maxSize)
	}

	if cfg.After != "" {
		if f.after, err = ParseDate(cfg.After); err != nil {
			return nil, fmt.Errorf("after: %w", err)
		}
	}
	if cfg.Before != "" {
		if f.before, err = ParseDate(cfg.Before); err != nil {
			return nil, fmt.Errorf("before: %w", err)
		}
	}
	if !f.after.IsZero() && !f.before.IsZero() && !f.after.Before(f.before) {
		return nil, fmt.Errorf("%w: after (%s) must be before (%s)", ErrInvalidDate,
			f.after.Format(time.RFC3339), f.before.Format(time.RFC3339))
	}

	return f, nil
}

// IsZero reports whether f passes every entry.
func (f *Filter) IsZero() bool {
	return len(f.includes) == 0 && len(f.excludes) == 0 && f.regex == nil &&
		!f.hasFileConstraints() && !f.hideDotfiles
}

func (f *Filter) hasFileConstraints() bool {
	return f.minSize >= 0 || f.maxSize >= 0 || !f.after.IsZero() || !f.before.IsZero()
}

// Match reports whether e passes the filter. Folders carry no size or
// timestamp, so any size or date constraint excludes them.
func (f *Filter) Match(e listing.Entry) bool {
	if f.hideDotfiles && strings.HasPrefix(e.Name, ".") {
		return false
	}

	if len(f.includes) > 0 {
		matched := false
		for _, p := range f.includes {
			if matchPattern(p, e.Name) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, p := range f.excludes {
		if matchPattern(p, e.Name) {
			return false
		}
	}
	if f.regex != nil && !f.regex.MatchString(e.Name) {
		return false
	}

	if !f.hasFileConstraints() {
		return true
	}
	if e.IsFolder() {
		return false
	}
	if f.minSize >= 0 && e.Size < f.minSize {
		return false
	}
	if f.maxSize >= 0 && e.Size > f.maxSize {
		return false
	}
	if !f.after.IsZero() && e.LastModified.Before(f.after) {
		return false
	}
	if !f.before.IsZero() && !e.LastModified.Before(f.before) {
		return false
	}
	return true
}

// Apply returns the entries that pass, preserving order. The result is
// never nil.
func (f *Filter) Apply(entries []listing.Entry) []listing.Entry {
	out := make([]listing.Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// String describes the active constraints.
func (f *Filter) String() string {
	var parts []string
	if len(f.includes) > 0 {
		parts = append(parts, "name: "+strings.Join(f.includes, ","))
	}
	if len(f.excludes) > 0 {
		parts = append(parts, "not: "+strings.Join(f.excludes, ","))
	}
	if f.regex != nil {
		parts = append(parts, "regex: "+f.regex.String())
	}
	switch {
	case f.minSize >= 0 && f.maxSize >= 0:
		parts = append(parts, fmt.Sprintf("size: %s - %s", FormatSize(f.minSize), FormatSize(f.maxSize)))
	case f.minSize >= 0:
		parts = append(parts, "size: >= "+FormatSize(f.minSize))
	case f.maxSize >= 0:
		parts = append(parts, "size: <= "+FormatSize(f.maxSize))
	}
	if !f.after.IsZero() {
		parts = append(parts, "modified >= "+f.after.Format(time.RFC3339))
	}
	if !f.before.IsZero() {
		parts = append(parts, "modified < "+f.before.Format(time.RFC3339))
	}
	if f.hideDotfiles {
		parts = append(parts, "no dotfiles")
	}
	return strings.Join(parts, "; ")
}

func matchPattern(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
