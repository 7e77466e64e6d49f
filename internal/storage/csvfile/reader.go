package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

// readRows streams the records of path to fn. A missing file yields no rows.
// A final line without its newline is treated as a torn write and dropped.
// fn receives the zero-based line index of each record.
func readRows(path string, fn func(line int, record []string)) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return 0, fmt.Errorf("inspect tail of %s: %w", path, err)
	}
	torn := last[0] != '\n'
	var src io.Reader = f
	if torn {
		src = io.LimitReader(f, lastNewline(f, size))
	}

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	line := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			skipped++
			line++
			continue
		}
		if err != nil {
			return skipped, fmt.Errorf("read %s: %w", path, err)
		}
		fn(line, record)
		line++
	}
	if torn {
		skipped++
	}
	return skipped, nil
}

// lastNewline returns the length of the prefix of f that ends with the last
// '\n', or 0 when there is none.
func lastNewline(f *os.File, size int64) int64 {
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0
		}
		for i := n - 1; i >= 0; i-- {
			if buf[i] == '\n' {
				return start + int64(i) + 1
			}
		}
		end = start
	}
	return 0
}

func parseID(field string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// ReadIDs loads an ordered identifier list from the first column of a CSV
// file. A non-numeric first row is treated as a header and blank lines are
// ignored; any other bad row is a configuration error.
func ReadIDs(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open ids file: %w", harvest.ErrConfiguration, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	var ids []int64
	for line := 1; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read ids file: %w", harvest.ErrConfiguration, err)
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}
		id, ok := parseID(record[0])
		if !ok {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("%w: ids file line %d: %q is not a positive identifier",
				harvest.ErrConfiguration, line, record[0])
		}
		ids = append(ids, id)
	}
	return ids, nil
}
