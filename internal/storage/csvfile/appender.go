// Package csvfile persists classification state and listings as append-only
// CSV files compatible with the spreadsheets downstream tooling reads.
package csvfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// appender owns one append-only CSV file. The header is written when the
// file is empty, and a torn final row left by a crash is truncated before the
// first new row.
type appender struct {
	mu     sync.Mutex
	path   string
	header []string
	fsync  bool
	file   *os.File
	writer *csv.Writer
}

func newAppender(path string, header []string, fsync bool) *appender {
	return &appender{path: path, header: header, fsync: fsync}
}

func (a *appender) open() error {
	if a.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", a.path, err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", a.path, err)
	}
	size := info.Size()
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil && err != io.EOF {
			_ = f.Close()
			return fmt.Errorf("inspect tail of %s: %w", a.path, err)
		}
		if last[0] != '\n' {
			size = lastNewline(f, size)
			if err := f.Truncate(size); err != nil {
				_ = f.Close()
				return fmt.Errorf("truncate torn row in %s: %w", a.path, err)
			}
		}
	}
	w := csv.NewWriter(f)
	if size == 0 && len(a.header) > 0 {
		if err := w.Write(a.header); err != nil {
			_ = f.Close()
			return fmt.Errorf("write header to %s: %w", a.path, err)
		}
	}
	a.file = f
	a.writer = w
	return nil
}

// write appends rows and returns once they are flushed (and synced when
// fsync is on). A failed write rolls the file back to its previous size and
// drops the handle, so the next call reopens a clean file.
func (a *appender) write(rows ...[]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.open(); err != nil {
		return err
	}
	info, err := a.file.Stat()
	if err != nil {
		a.discard(-1)
		return fmt.Errorf("stat %s: %w", a.path, err)
	}
	size := info.Size()
	for _, row := range rows {
		if err := a.writer.Write(row); err != nil {
			a.discard(size)
			return fmt.Errorf("write %s: %w", a.path, err)
		}
	}
	a.writer.Flush()
	if err := a.writer.Error(); err != nil {
		a.discard(size)
		return fmt.Errorf("flush %s: %w", a.path, err)
	}
	if a.fsync {
		if err := a.file.Sync(); err != nil {
			a.discard(size)
			return fmt.Errorf("sync %s: %w", a.path, err)
		}
	}
	return nil
}

// discard closes the current handle after a failed write. A non-negative
// size truncates whatever part of the failed rows reached the file; if that
// fails too, open trims the torn tail on the next call.
func (a *appender) discard(size int64) {
	if size >= 0 {
		_ = os.Truncate(a.path, size)
	}
	_ = a.file.Close()
	a.file = nil
	a.writer = nil
}

func (a *appender) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	a.writer.Flush()
	flushErr := a.writer.Error()
	closeErr := a.file.Close()
	a.file = nil
	a.writer = nil
	if flushErr != nil {
		return fmt.Errorf("flush %s: %w", a.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", a.path, closeErr)
	}
	return nil
}
