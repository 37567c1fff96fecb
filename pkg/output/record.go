// Package output provides JSONL output for directory listings.
//
// Output is structured as typed record envelopes containing folders,
// files, errors, and a closing summary. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: lakeview.<type>.v<version>
const (
	// TypeFolder identifies folder entry records.
	TypeFolder = "lakeview.folder.v1"

	// TypeFile identifies file entry records.
	TypeFile = "lakeview.file.v1"

	// TypeError identifies error records.
	TypeError = "lakeview.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "lakeview.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "lakeview.file.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this invocation.
	JobID string `json:"job_id"`

	// Backend identifies the query backend (e.g., "athena", "sqlite").
	Backend string `json:"backend"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// FolderRecord is the data payload for a folder entry.
type FolderRecord struct {
	// Name is the folder name (one path segment).
	Name string `json:"name"`

	// Prefix is the full key prefix the folder stands for.
	Prefix string `json:"prefix"`
}

// FileRecord is the data payload for a file entry.
type FileRecord struct {
	// Name is the file name (last key segment).
	Name string `json:"name"`

	// Key is the full object key.
	Key string `json:"key"`

	// Size is the object size in bytes.
	Size int64 `json:"size"`

	// LastModified is when the object was last modified.
	LastModified time.Time `json:"last_modified,omitzero"`

	// StorageClass is the inventory storage class.
	StorageClass string `json:"storage_class,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Path is the virtual path being listed.
	Path string `json:"path,omitempty"`

	// Retryable reports whether the same request may succeed later.
	Retryable bool `json:"retryable,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeInvalidPath indicates an unresolvable virtual path.
	ErrCodeInvalidPath = "INVALID_PATH"

	// ErrCodeQueryFailed indicates the query engine reported a failure.
	ErrCodeQueryFailed = "QUERY_FAILED"

	// ErrCodeQueryTimeout indicates the query exceeded its deadline.
	ErrCodeQueryTimeout = "QUERY_TIMEOUT"

	// ErrCodeQueryThrottled indicates the query engine rate limited us.
	ErrCodeQueryThrottled = "QUERY_THROTTLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for the final listing summary.
type SummaryRecord struct {
	// Path is the canonical virtual path that was listed.
	Path string `json:"path"`

	// Prefix is the key prefix that was queried.
	Prefix string `json:"prefix"`

	Folders int `json:"folders"`
	Files   int `json:"files"`

	// Matched is the number of entries emitted after name filtering.
	Matched int `json:"matched"`

	// BytesDirect is the total size of files directly under the prefix.
	BytesDirect int64 `json:"bytes_direct"`

	RowsScanned   int64 `json:"rows_scanned"`
	RowsDiscarded int64 `json:"rows_discarded"`

	// Duration is the total listing duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
