package output

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RecordWriter is the interface for writing fetched records
type RecordWriter interface {
	Write(data json.RawMessage) error
	Close() error
}

// JSONLWriter writes JSON objects as newline-delimited JSON (JSONL)
type JSONLWriter struct {
	file       *os.File
	gzipWriter *gzip.Writer  // nil if not compressing
	writer     *bufio.Writer // Buffered writer for better I/O performance
	mu         sync.Mutex

	writtenCount int
	closed       bool
}

// NewJSONLWriter creates a new JSONL writer at the specified path.
// If useGzip is true, the output is compressed with gzip.
func NewJSONLWriter(path string, useGzip bool) (*JSONLWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	var gzipWriter *gzip.Writer
	var baseWriter io.Writer = file

	if useGzip {
		gzipWriter = gzip.NewWriter(file)
		baseWriter = gzipWriter
	}

	return &JSONLWriter{
		file:       file,
		gzipWriter: gzipWriter,
		writer:     bufio.NewWriterSize(baseWriter, 64*1024), // 64KB buffer
	}, nil
}

// Write writes one JSON record as a line. Embedded newlines of pretty
// printed input are compacted away.
func (w *JSONLWriter) Write(data json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	return w.writeData(data)
}

// writeData writes data to the buffer (must be called with lock held)
func (w *JSONLWriter) writeData(data json.RawMessage) error {
	line, err := compactJSON(data)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(line); err != nil {
		return err
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return err
	}
	w.writtenCount++
	return nil
}

// WriteAny writes any value as JSON
func (w *JSONLWriter) WriteAny(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return w.Write(data)
}

// WriteRecords splits an API response body into records and writes each
// one. Returns the number of records written.
func (w *JSONLWriter) WriteRecords(body []byte) (int, error) {
	records, err := SplitRecords(body)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("writer is closed")
	}
	for i, rec := range records {
		if err := w.writeData(rec); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

// Count returns the number of items written
func (w *JSONLWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writtenCount
}

// Close flushes the buffer and closes the writer
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	// Flush buffered data before closing
	if err := w.writer.Flush(); err != nil {
		w.file.Close() // Still try to close file
		return fmt.Errorf("failed to flush buffer: %w", err)
	}

	// Close gzip writer if used (flushes compression buffer)
	if w.gzipWriter != nil {
		if err := w.gzipWriter.Close(); err != nil {
			w.file.Close()
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}

	return w.file.Close()
}

// FileManager manages the output files of one fetch run
type FileManager struct {
	outputDir string
	gzip      bool
	stamp     string
}

// NewFileManager creates a new file manager. Files of the run share a
// timestamp suffix so repeated runs don't overwrite each other.
func NewFileManager(outputDir string, gzip bool, now time.Time) (*FileManager, error) {
	// Ensure output directory exists
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &FileManager{
		outputDir: outputDir,
		gzip:      gzip,
		stamp:     now.UTC().Format("20060102T150405Z"),
	}, nil
}

// Gzip returns whether gzip compression is enabled
func (fm *FileManager) Gzip() bool {
	return fm.gzip
}

// resourceFilename generates the file name for a resource, e.g.
// "ingredients_20240501T100000Z.jsonl.gz"
func resourceFilename(resource, stamp string, useGzip bool) string {
	ext := ".jsonl"
	if useGzip {
		ext = ".jsonl.gz"
	}
	return fmt.Sprintf("%s_%s%s", sanitizeFilename(resource), stamp, ext)
}

// GetWriter returns a new writer for a resource.
// The caller is responsible for closing the writer when done.
func (fm *FileManager) GetWriter(resource string) (*JSONLWriter, string, error) {
	path := filepath.Join(fm.outputDir, resourceFilename(resource, fm.stamp, fm.gzip))

	writer, err := NewJSONLWriter(path, fm.gzip)
	if err != nil {
		return nil, "", err
	}
	return writer, path, nil
}

// OutputDir returns the output directory
func (fm *FileManager) OutputDir() string {
	return fm.outputDir
}

// sanitizeFilename replaces invalid filename characters with underscores
func sanitizeFilename(name string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	result := name
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}
	return strings.Trim(result, "_")
}
