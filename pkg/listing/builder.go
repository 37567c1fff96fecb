package listing

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/3leaps/lakeview/pkg/inventory"
)

// Build folds the rows of a prefix query into the immediate children of
// scope.
//
// Rows that cannot produce a visible entry are counted in Stats and
// skipped: invalid rows, keys outside the prefix, the placeholder object
// equal to the prefix itself, keys whose next segment is empty, and folders
// whose name cannot be navigated to. The only
// error returned is the iterator's own; in that case no listing is produced.
// Build does not close rows.
func Build(scope Scope, rows inventory.RowIterator) (*Listing, error) {
	b := newBuilder(scope)
	for rows.Next() {
		b.add(rows.Row())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b.finish(), nil
}

// BuildSlice is Build over an in-memory row set.
func BuildSlice(scope Scope, rows []inventory.Row) *Listing {
	b := newBuilder(scope)
	for _, r := range rows {
		b.add(r)
	}
	return b.finish()
}

type builder struct {
	scope   Scope
	delim   string
	folders map[string]Entry
	files   map[string]Entry
	stats   Stats
}

func newBuilder(scope Scope) *builder {
	return &builder{
		scope:   scope,
		delim:   scope.delim(),
		folders: make(map[string]Entry),
		files:   make(map[string]Entry),
	}
}

func (b *builder) add(r inventory.Row) {
	b.stats.RowsScanned++

	if !r.Valid() || !strings.HasPrefix(r.Key, b.scope.Prefix) {
		b.stats.RowsDiscarded++
		return
	}

	rel := r.Key[len(b.scope.Prefix):]
	if rel == "" {
		// Zero-byte placeholder marking the folder itself.
		b.stats.RowsDiscarded++
		return
	}

	if i := strings.Index(rel, b.delim); i >= 0 {
		if i == 0 {
			b.stats.RowsDiscarded++
			return
		}
		name := rel[:i]
		if !navigable(name) {
			b.stats.RowsDiscarded++
			return
		}
		if _, ok := b.folders[name]; !ok {
			b.folders[name] = Folder(name, b.scope.Prefix+name+b.delim)
		}
		return
	}

	candidate := File(rel, r.Key, r.Size, r.LastModified, r.StorageClass)
	if existing, ok := b.files[rel]; ok && !newerFile(candidate, existing) {
		return
	}
	b.files[rel] = candidate
}

// navigable reports whether a folder name survives Resolve unchanged. A name
// that Resolve would rewrite or reject would link to a different directory,
// so it is not listed.
func navigable(name string) bool {
	if name == "." || name == ".." || strings.Contains(name, `\`) || !utf8.ValidString(name) {
		return false
	}
	return strings.IndexFunc(name, unicode.IsControl) < 0
}

// newerFile decides between two rows for the same key so the outcome does
// not depend on row order.
func newerFile(a, b Entry) bool {
	if !a.LastModified.Equal(b.LastModified) {
		return a.LastModified.After(b.LastModified)
	}
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	return a.StorageClass > b.StorageClass
}

func (b *builder) finish() *Listing {
	folders := make([]Entry, 0, len(b.folders))
	for _, e := range b.folders {
		folders = append(folders, e)
	}

	files := make([]Entry, 0, len(b.files))
	for name, e := range b.files {
		if _, shadowed := b.folders[name]; shadowed {
			continue
		}
		files = append(files, e)
		b.stats.BytesDirect += e.Size
	}

	sortEntries(folders)
	sortEntries(files)

	b.stats.Folders = len(folders)
	b.stats.Files = len(files)

	return &Listing{
		Scope:   b.scope,
		Entries: append(folders, files...),
		Stats:   b.stats,
	}
}

// sortEntries orders by case-insensitive name, then by bytes.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return lessName(entries[i].Name, entries[j].Name)
	})
}

func lessName(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}
