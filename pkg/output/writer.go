package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/3leaps/lakeview/pkg/listing"
)

// Writer outputs JSONL records for directory listings.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	// WriteFolder emits a folder record.
	WriteFolder(ctx context.Context, folder *FolderRecord) error

	// WriteFile emits a file record.
	WriteFile(ctx context.Context, file *FileRecord) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// WriteSummary emits a summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w       io.Writer
	jobID   string
	backend string
	mu      sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - jobID: Correlation ID for this invocation
//   - backend: Query backend identifier (e.g., "athena")
func NewJSONLWriter(w io.Writer, jobID, backend string) *JSONLWriter {
	return &JSONLWriter{
		w:       w,
		jobID:   jobID,
		backend: backend,
	}
}

// WriteFolder emits a folder record.
func (jw *JSONLWriter) WriteFolder(ctx context.Context, folder *FolderRecord) error {
	return jw.writeRecord(ctx, TypeFolder, folder)
}

// WriteFile emits a file record.
func (jw *JSONLWriter) WriteFile(ctx context.Context, file *FileRecord) error {
	return jw.writeRecord(ctx, TypeFile, file)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// WriteEntry emits a folder or file record for a listing entry.
func WriteEntry(ctx context.Context, w Writer, e listing.Entry) error {
	if e.IsFolder() {
		return w.WriteFolder(ctx, &FolderRecord{Name: e.Name, Prefix: e.Prefix})
	}
	return w.WriteFile(ctx, &FileRecord{
		Name:         e.Name,
		Key:          e.Key,
		Size:         e.Size,
		LastModified: e.LastModified,
		StorageClass: e.StorageClass,
	})
}

// writeRecord marshals data and writes a complete record line.
//
// This method holds the mutex for the entire operation to ensure
// atomic line writes.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Marshal the payload outside the lock.
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:    recordType,
		TS:      time.Now().UTC(),
		JobID:   jw.jobID,
		Backend: jw.backend,
		Data:    dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the JSONL stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			// No progress made - avoid infinite loop
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
