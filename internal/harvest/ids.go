package harvest

import "fmt"

// maxRangeSize bounds IDRange so a typo in the config cannot allocate
// gigabytes before the first fetch.
const maxRangeSize = 50_000_000

// IDRange enumerates start..end inclusive.
func IDRange(start, end int64) ([]int64, error) {
	if start < 1 {
		return nil, fmt.Errorf("%w: range start %d must be >= 1", ErrConfiguration, start)
	}
	if end < start {
		return nil, fmt.Errorf("%w: range end %d is before start %d", ErrConfiguration, end, start)
	}
	size := end - start + 1
	if size > maxRangeSize {
		return nil, fmt.Errorf("%w: range of %d identifiers exceeds %d", ErrConfiguration, size, maxRangeSize)
	}
	ids := make([]int64, 0, size)
	for id := start; id <= end; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

// ValidateIDs rejects non-positive identifiers.
func ValidateIDs(ids []int64) error {
	for i, id := range ids {
		if id < 1 {
			return fmt.Errorf("%w: identifier %d at position %d is not positive", ErrConfiguration, id, i)
		}
	}
	return nil
}
