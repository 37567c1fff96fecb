package listing

import "time"

// Kind distinguishes folder entries from file entries.
type Kind string

const (
	// KindFolder is a child prefix that groups further keys.
	KindFolder Kind = "folder"

	// KindFile is an object directly under the listed prefix.
	KindFile Kind = "file"
)

// Entry is one immediate child of a listed scope.
//
// Folders carry only Name and Prefix; files carry Key and object metadata.
// Name never contains the delimiter.
type Entry struct {
	Kind         Kind      `json:"kind"`
	Name         string    `json:"name"`
	Prefix       string    `json:"prefix,omitempty"`
	Key          string    `json:"key,omitempty"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified,omitzero"`
	StorageClass string    `json:"storage_class,omitempty"`
}

// Folder returns a folder entry.
func Folder(name, prefix string) Entry {
	return Entry{Kind: KindFolder, Name: name, Prefix: prefix}
}

// File returns a file entry.
func File(name, key string, size int64, lastModified time.Time, storageClass string) Entry {
	return Entry{
		Kind:         KindFile,
		Name:         name,
		Key:          key,
		Size:         size,
		LastModified: lastModified,
		StorageClass: storageClass,
	}
}

// IsFolder reports whether e is a folder.
func (e Entry) IsFolder() bool {
	return e.Kind == KindFolder
}

// Stats summarizes how a listing was built.
type Stats struct {
	// RowsScanned is the number of rows read from the query.
	RowsScanned int64 `json:"rows_scanned"`

	// RowsDiscarded counts rows that produced no entry: invalid rows, rows
	// outside the prefix, placeholders, and unnameable keys.
	RowsDiscarded int64 `json:"rows_discarded"`

	Folders int `json:"folders"`
	Files   int `json:"files"`

	// BytesDirect is the total size of the file entries.
	BytesDirect int64 `json:"bytes_direct"`
}

// Listing is the ordered set of immediate children of a scope.
type Listing struct {
	Scope   Scope   `json:"-"`
	Entries []Entry `json:"entries"`
	Stats   Stats   `json:"stats"`
}

// Len returns the number of entries.
func (l *Listing) Len() int {
	return len(l.Entries)
}

// IsEmpty reports whether the listing has no entries. An empty listing may
// be an empty directory or a path with no keys at all.
func (l *Listing) IsEmpty() bool {
	return len(l.Entries) == 0
}
