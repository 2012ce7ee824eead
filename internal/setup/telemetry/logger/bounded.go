// Package logger provides the line-bounded file sink behind the telemetry
// manager's session logs. Long-running deployments keep only the most
// recent lines of each log file instead of growing it without bound.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// BoundedFile is an io.Writer that appends log lines to a file and trims
// the file back to its most recent limit lines once twice that many have
// been written. Trimming rewrites the file atomically through a temp file
// in the same directory, so a crash mid-trim leaves the old file intact.
type BoundedFile struct {
	mu   sync.Mutex
	out  io.Writer
	path string

	limit   int
	recent  []string // ring of the last limit lines
	next    int      // ring write position
	filled  int      // lines currently held by the ring
	written int      // lines appended since the last trim
}

// NewBoundedFile wraps an open log file. path must name the same file so
// trims can replace it in place.
func NewBoundedFile(out io.Writer, limit int, path string) *BoundedFile {
	return &BoundedFile{
		out:    out,
		path:   path,
		limit:  limit,
		recent: make([]string, limit),
	}
}

// Write appends to the underlying file and records each line in the ring.
// The trim threshold is twice the limit so the file is rewritten at most
// once per limit lines.
func (b *BoundedFile) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, err := b.out.Write(p)
	if err != nil {
		return n, err
	}

	for line := range strings.SplitSeq(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}

		b.remember(line)

		if b.written >= b.limit*2 {
			if err := b.trim(); err != nil {
				return n, fmt.Errorf("failed to trim log file: %w", err)
			}

			b.written = b.filled
		}
	}

	return n, nil
}

func (b *BoundedFile) remember(line string) {
	b.recent[b.next] = line
	b.next = (b.next + 1) % b.limit

	if b.filled < b.limit {
		b.filled++
	}

	b.written++
}

// snapshot returns the retained lines oldest first.
func (b *BoundedFile) snapshot() []string {
	if b.filled == 0 {
		return nil
	}

	lines := make([]string, b.filled)
	oldest := (b.next - b.filled + b.limit) % b.limit

	for i := range b.filled {
		lines[i] = b.recent[(oldest+i)%b.limit]
	}

	return lines
}

// trim rewrites the log file with only the retained lines and reopens it
// for appending.
func (b *BoundedFile) trim() error {
	lines := b.snapshot()
	if len(lines) == 0 {
		return nil
	}

	temp, err := os.CreateTemp(filepath.Dir(b.path), "trim-log-")
	if err != nil {
		return err
	}

	tempPath := temp.Name()

	if _, err := temp.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		temp.Close()
		os.Remove(tempPath)

		return err
	}

	if err := temp.Sync(); err != nil {
		temp.Close()
		os.Remove(tempPath)

		return err
	}

	temp.Close()

	if closer, ok := b.out.(io.Closer); ok {
		closer.Close()
	}

	// Remove-then-rename keeps the replacement working on Windows.
	os.Remove(b.path)

	if err := os.Rename(tempPath, b.path); err != nil {
		return err
	}

	replaced, err := os.OpenFile(b.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	b.out = replaced

	return nil
}
