package chunk

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

const (
	filePrefix = "scopus_raw_"
	fileSuffix = ".jsonl.gz"
	dateLayout = "20060102"
)

var fileNamePattern = regexp.MustCompile(`^scopus_raw_(\d{6,})_(\d{8})\.jsonl\.gz$`)

// FileName returns the chunk file name for a sequence number and flush time
func FileName(seq int, at time.Time) string {
	return fmt.Sprintf("%s%06d_%s%s", filePrefix, seq, at.Format(dateLayout), fileSuffix)
}

// File describes a chunk on disk
type File struct {
	Name     string
	Path     string
	Sequence int
	Date     time.Time
	Size     int64
}

// ListChunks returns the chunk files in dir ordered by sequence. A missing
// directory yields no chunks.
func ListChunks(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := fileNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		seq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		date, _ := time.Parse(dateLayout, m[2])

		f := File{
			Name:     entry.Name(),
			Path:     filepath.Join(dir, entry.Name()),
			Sequence: seq,
			Date:     date,
		}
		if info, err := entry.Info(); err == nil {
			f.Size = info.Size()
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Sequence < files[j].Sequence })
	return files, nil
}

// ReadChunk decodes every record of a chunk file in order
func ReadChunk(path string) ([]json.RawMessage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec := make(json.RawMessage, len(line))
		copy(rec, line)
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", path, err)
	}
	return records, nil
}
