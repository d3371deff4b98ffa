package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records for rewrite jobs.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	// WriteArticle emits a per-article result record.
	WriteArticle(ctx context.Context, a *ArticleRecord) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// WriteProgress emits a progress record.
	WriteProgress(ctx context.Context, prog *ProgressRecord) error

	// WriteSummary emits a summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// WriteEvent emits a job lifecycle event record.
	WriteEvent(ctx context.Context, ev *EventRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w        io.Writer
	jobID    string
	resource string
	mu       sync.Mutex
	shared   *sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - jobID: Correlation ID for this job
//   - resource: Ghost collection (e.g., "posts")
func NewJSONLWriter(w io.Writer, jobID, resource string) *JSONLWriter {
	return &JSONLWriter{
		w:        w,
		jobID:    jobID,
		resource: resource,
	}
}

// WithJob returns a writer for another job that shares the underlying
// stream and its lock, so records of concurrent jobs never interleave
// within a line.
func (jw *JSONLWriter) WithJob(jobID, resource string) *JSONLWriter {
	return &JSONLWriter{
		w:        jw.w,
		jobID:    jobID,
		resource: resource,
		shared:   jw.lock(),
	}
}

func (jw *JSONLWriter) lock() *sync.Mutex {
	if jw.shared != nil {
		return jw.shared
	}
	return &jw.mu
}

// WriteArticle emits a per-article result record.
func (jw *JSONLWriter) WriteArticle(ctx context.Context, a *ArticleRecord) error {
	return jw.writeRecord(ctx, TypeArticle, a)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// WriteProgress emits a progress record.
func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, prog)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// WriteEvent emits a job lifecycle event record.
func (jw *JSONLWriter) WriteEvent(ctx context.Context, ev *EventRecord) error {
	return jw.writeRecord(ctx, TypeEvent, ev)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	mu := jw.lock()
	mu.Lock()
	defer mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line.
//
// This method holds the mutex for the entire operation to ensure
// atomic line writes. The record is written as a single line of
// JSON followed by a newline character.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	// Check context cancellation before acquiring lock
	if err := ctx.Err(); err != nil {
		return err
	}

	// Marshal the data payload first (outside the lock for better concurrency)
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	mu := jw.lock()
	mu.Lock()
	defer mu.Unlock()

	// Check if writer is closed
	if jw.closed {
		return ErrWriterClosed
	}

	// Check context again after acquiring lock
	if err := ctx.Err(); err != nil {
		return err
	}

	// Create the envelope record
	record := Record{
		Type:     recordType,
		TS:       time.Now().UTC(),
		JobID:    jw.jobID,
		Resource: jw.resource,
		Data:     dataBytes,
	}

	// Marshal the complete record
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// Write the record followed by newline.
	// We must handle short writes: io.Writer is allowed to return n < len(p)
	// with nil error, which would silently truncate JSONL lines and corrupt output.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
//
// io.Writer.Write may return n < len(p) with a nil error (short write).
// This function loops until all bytes are written or an error occurs,
// ensuring complete JSONL lines are emitted.
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

// Discard is a Writer that drops every record.
var Discard Writer = discard{}

type discard struct{}

func (discard) WriteArticle(context.Context, *ArticleRecord) error   { return nil }
func (discard) WriteError(context.Context, *ErrorRecord) error       { return nil }
func (discard) WriteProgress(context.Context, *ProgressRecord) error { return nil }
func (discard) WriteSummary(context.Context, *SummaryRecord) error   { return nil }
func (discard) WriteEvent(context.Context, *EventRecord) error       { return nil }
func (discard) Close() error                                         { return nil }
