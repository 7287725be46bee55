package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FailureRecorder persists the identifier and message of a failed load.
type FailureRecorder interface {
	RecordFailure(pmid int64, message string) error
}

// FailureLog is an append-only, tab-separated file with one line per failed
// load: ISO-8601 timestamp, pmid, error message.
type FailureLog struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

var _ FailureRecorder = (*FailureLog)(nil)

// NewFailureLog returns a failure log writing to path. The file and its
// directory are created on first write.
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path, now: time.Now}
}

// Path returns the file location.
func (f *FailureLog) Path() string {
	return f.path
}

// RecordFailure appends one line. Tabs and newlines in message are replaced
// with spaces so every failure stays on a single three-field line.
func (f *FailureLog) RecordFailure(pmid int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create failure log directory: %w", err)
		}
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open failure log: %w", err)
	}

	line := fmt.Sprintf("%s\t%d\t%s\n", f.now().UTC().Format(time.RFC3339Nano), pmid, sanitizeMessage(message))
	_, writeErr := file.WriteString(line)
	closeErr := file.Close()
	if writeErr != nil {
		return fmt.Errorf("failed to write failure log: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close failure log: %w", closeErr)
	}
	return nil
}

// FailedPMIDs reads the log and returns its unique identifiers in ascending
// order. A missing file yields no identifiers.
func (f *FailureLog) FailedPMIDs() ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open failure log: %w", err)
	}
	defer file.Close()

	return ParseFailedPMIDs(file)
}

// ParseFailedPMIDs extracts the unique identifiers of a failure log in
// ascending order. Lines without a numeric second field are ignored.
func ParseFailedPMIDs(r io.Reader) ([]int64, error) {
	seen := make(map[int64]struct{})
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), "\t")
		if len(fields) < 2 {
			continue
		}
		pmid, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil || pmid <= 0 {
			continue
		}
		seen[pmid] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read failure log: %w", err)
	}

	pmids := make([]int64, 0, len(seen))
	for pmid := range seen {
		pmids = append(pmids, pmid)
	}
	sort.Slice(pmids, func(i, j int) bool { return pmids[i] < pmids[j] })
	return pmids, nil
}

func sanitizeMessage(message string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return ' '
		}
		return r
	}, message)
}
