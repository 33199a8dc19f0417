package chunk

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scopusharvest/pkg/logger"
)

// Writer buffers records page by page and writes a gzip JSON-lines file
// every requestsPerChunk pages. Files are never rewritten once renamed
// into place.
type Writer struct {
	dir              string
	requestsPerChunk int
	now              func() time.Time
	logger           logger.Logger

	mu               sync.Mutex
	buffer           []json.RawMessage
	bufferedRequests int
	sequence         int
	chunksWritten    int
	recordsWritten   int64
}

// Option configures a Writer
type Option func(*Writer)

// WithClock replaces time.Now for file naming
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithLogger sets the writer logger
func WithLogger(l logger.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// NewWriter creates the output directory and a writer whose next file is
// numbered after the larger of startSeq and any chunk already in dir.
func NewWriter(dir string, requestsPerChunk, startSeq int, opts ...Option) (*Writer, error) {
	if requestsPerChunk < 1 {
		return nil, fmt.Errorf("requests per chunk must be positive, got %d", requestsPerChunk)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	w := &Writer{
		dir:              dir,
		requestsPerChunk: requestsPerChunk,
		now:              time.Now,
		logger:           logger.NewNopLogger(),
		sequence:         startSeq,
	}
	for _, opt := range opts {
		opt(w)
	}

	existing, err := ListChunks(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing chunks: %w", err)
	}
	for _, c := range existing {
		if c.Sequence > w.sequence {
			w.sequence = c.Sequence
		}
	}
	return w, nil
}

// Append buffers one request's worth of records and flushes when the
// chunk threshold is reached
func (w *Writer) Append(records []json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buffer = append(w.buffer, records...)
	w.bufferedRequests++
	if w.bufferedRequests < w.requestsPerChunk {
		return nil
	}
	return w.flushLocked()
}

// FlushFinal writes whatever is buffered
func (w *Writer) FlushFinal() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if len(w.buffer) == 0 {
		w.bufferedRequests = 0
		return nil
	}

	seq := w.sequence + 1
	path := filepath.Join(w.dir, FileName(seq, w.now()))
	if err := writeFile(path, w.buffer); err != nil {
		// buffer is kept so a later flush can retry
		return fmt.Errorf("failed to write chunk %d: %w", seq, err)
	}

	written := len(w.buffer)
	w.sequence = seq
	w.chunksWritten++
	w.recordsWritten += int64(written)
	w.buffer = nil
	w.bufferedRequests = 0

	logger.LogChunkWritten(w.logger, path, seq, written)
	return nil
}

func writeFile(path string, records []json.RawMessage) (err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		return fmt.Errorf("chunk file %s already exists", path)
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(tempPath)
		}
	}()

	gz := gzip.NewWriter(file)
	buf := bufio.NewWriter(gz)
	var line bytes.Buffer
	for i, rec := range records {
		line.Reset()
		if err := json.Compact(&line, rec); err != nil {
			return fmt.Errorf("record %d is not valid JSON: %w", i, err)
		}
		line.WriteByte('\n')
		if _, err := buf.Write(line.Bytes()); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync chunk file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close chunk file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Sequence returns the number of the last chunk written
func (w *Writer) Sequence() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sequence
}

// ChunksWritten returns the number of files written by this writer
func (w *Writer) ChunksWritten() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunksWritten
}

// RecordsWritten returns the number of records persisted by this writer
func (w *Writer) RecordsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recordsWritten
}

// Buffered returns the records and requests waiting for the next flush
func (w *Writer) Buffered() (records, requests int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer), w.bufferedRequests
}

// Dir returns the output directory
func (w *Writer) Dir() string {
	return w.dir
}
