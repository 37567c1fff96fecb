// Package listing reconstructs one level of directory hierarchy from the flat
// key rows of a bucket inventory.
//
// Object stores have no directories. A virtual path is resolved to a key
// prefix (Scope), every inventory row under that prefix is fetched, and Build
// folds the rows into the immediate children of the prefix: a folder for each
// distinct next segment and a file for each key with no further delimiter.
package listing

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Delimiter is the canonical key separator.
const Delimiter = "/"

// ErrInvalidPath indicates a virtual path that cannot be resolved.
var ErrInvalidPath = errors.New("invalid path")

// PathError describes why a virtual path was rejected.
type PathError struct {
	// Path is the input as given by the caller.
	Path string

	// Reason explains the rejection.
	Reason string
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// Unwrap returns ErrInvalidPath for errors.Is support.
func (e *PathError) Unwrap() error {
	return ErrInvalidPath
}

// IsInvalidPath returns true if the error indicates a rejected virtual path.
func IsInvalidPath(err error) bool {
	return errors.Is(err, ErrInvalidPath)
}

// Scope is a resolved query scope.
//
// Prefix is empty for the root and otherwise ends with exactly one
// Delimiter. Two scopes are equal iff they list the same directory.
type Scope struct {
	Prefix    string
	Delimiter string
}

// Root returns the scope of the top-level listing.
func Root() Scope {
	return Scope{Delimiter: Delimiter}
}

// Resolve normalizes a user-supplied virtual path into a Scope.
//
// Backslashes are treated as delimiters, leading/trailing and repeated
// delimiters are dropped, and "." segments are ignored. A ".." segment,
// a control character, or invalid UTF-8 rejects the path.
func Resolve(virtualPath string) (Scope, error) {
	if !utf8.ValidString(virtualPath) {
		return Scope{}, &PathError{Path: virtualPath, Reason: "not valid UTF-8"}
	}
	for _, r := range virtualPath {
		if unicode.IsControl(r) {
			return Scope{}, &PathError{Path: virtualPath, Reason: "contains a control character"}
		}
	}

	normalized := strings.ReplaceAll(virtualPath, `\`, Delimiter)

	segments := make([]string, 0, strings.Count(normalized, Delimiter)+1)
	for _, seg := range strings.Split(normalized, Delimiter) {
		switch seg {
		case "", ".":
			continue
		case "..":
			return Scope{}, &PathError{Path: virtualPath, Reason: "parent directory segments are not allowed"}
		}
		segments = append(segments, seg)
	}

	if len(segments) == 0 {
		return Root(), nil
	}
	return Scope{
		Prefix:    strings.Join(segments, Delimiter) + Delimiter,
		Delimiter: Delimiter,
	}, nil
}

// MustResolve is like Resolve but panics on error. Intended for tests and
// constant paths.
func MustResolve(virtualPath string) Scope {
	s, err := Resolve(virtualPath)
	if err != nil {
		panic(err)
	}
	return s
}

// IsRoot reports whether s is the top-level scope.
func (s Scope) IsRoot() bool {
	return s.Prefix == ""
}

// Key returns the canonical cache key for the scope.
func (s Scope) Key() string {
	return s.Delimiter + "|" + s.Prefix
}

// Path returns the canonical virtual path: the prefix without its trailing
// delimiter. Resolve(s.Path()) == s.
func (s Scope) Path() string {
	return strings.TrimSuffix(s.Prefix, s.delim())
}

// String returns the canonical path, "/" for root.
func (s Scope) String() string {
	if s.IsRoot() {
		return s.delim()
	}
	return s.delim() + s.Path()
}

// Name returns the last path segment, or "" for root.
func (s Scope) Name() string {
	p := s.Path()
	if i := strings.LastIndex(p, s.delim()); i >= 0 {
		return p[i+len(s.delim()):]
	}
	return p
}

// Parent returns the enclosing scope. The parent of root is root.
func (s Scope) Parent() Scope {
	p := s.Path()
	i := strings.LastIndex(p, s.delim())
	if i < 0 {
		return Scope{Delimiter: s.delim()}
	}
	return Scope{Prefix: p[:i+len(s.delim())], Delimiter: s.delim()}
}

// Child returns the scope of the named immediate child folder.
func (s Scope) Child(name string) Scope {
	return Scope{Prefix: s.Prefix + name + s.delim(), Delimiter: s.delim()}
}

// Breadcrumb is one ancestor in a scope's path.
type Breadcrumb struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Breadcrumbs returns the chain from the first segment down to s itself.
// Root has no breadcrumbs.
func (s Scope) Breadcrumbs() []Breadcrumb {
	if s.IsRoot() {
		return nil
	}
	segments := strings.Split(s.Path(), s.delim())
	crumbs := make([]Breadcrumb, 0, len(segments))
	for i, seg := range segments {
		crumbs = append(crumbs, Breadcrumb{
			Name: seg,
			Path: strings.Join(segments[:i+1], s.delim()),
		})
	}
	return crumbs
}

func (s Scope) delim() string {
	if s.Delimiter == "" {
		return Delimiter
	}
	return s.Delimiter
}
