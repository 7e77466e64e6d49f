package credential

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

// Partition splits ids into one contiguous shard per fetcher, in order. The
// first K-1 shards hold floor(L/K) identifiers and the last one takes the
// remainder.
func Partition(ids []int64, fetchers []harvest.Fetcher) ([]harvest.Shard, error) {
	if len(fetchers) == 0 {
		return nil, fmt.Errorf("%w: credential pool is empty", harvest.ErrConfiguration)
	}
	per := len(ids) / len(fetchers)
	shards := make([]harvest.Shard, 0, len(fetchers))
	for i, f := range fetchers {
		start := i * per
		end := start + per
		if i == len(fetchers)-1 {
			end = len(ids)
		}
		shards = append(shards, harvest.Shard{Fetcher: f, IDs: ids[start:end:end]})
	}
	return shards, nil
}

// Pool builds one Limited fetcher per credential sharing a Getter.
func Pool(creds []Credential, getter harvest.Getter, urlTemplate string, logger *zap.Logger) ([]harvest.Fetcher, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: credential pool is empty", harvest.ErrConfiguration)
	}
	seen := make(map[string]struct{}, len(creds))
	fetchers := make([]harvest.Fetcher, 0, len(creds))
	for _, c := range creds {
		if _, dup := seen[c.Owner]; dup {
			return nil, fmt.Errorf("%w: duplicate credential owner %q", harvest.ErrConfiguration, c.Owner)
		}
		seen[c.Owner] = struct{}{}
		l, err := NewLimited(c, getter, urlTemplate, logger)
		if err != nil {
			return nil, err
		}
		fetchers = append(fetchers, l)
	}
	return fetchers, nil
}
