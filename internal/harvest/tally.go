package harvest

import "sync/atomic"

// Tally holds the run-scoped counters. Workers update it concurrently and
// observers read it through Snapshot without taking any store lock.
type Tally struct {
	processed   atomic.Int64
	active      atomic.Int64
	blacklisted atomic.Int64
	inactive    atomic.Int64
	skipped     atomic.Int64
	failed      atomic.Int64
	deferred    atomic.Int64
}

// Classified counts one successfully recorded identifier.
func (t *Tally) Classified(kind ClassKind) {
	t.processed.Add(1)
	switch kind {
	case ClassActive:
		t.active.Add(1)
	case ClassBlacklisted:
		t.blacklisted.Add(1)
	case ClassRecentlyInactive:
		t.inactive.Add(1)
	}
}

// Skipped counts an identifier that was already classified.
func (t *Tally) Skipped() { t.skipped.Add(1) }

// Failed counts an identifier whose classification could not be persisted.
func (t *Tally) Failed() { t.failed.Add(1) }

// Deferred counts a transient failure left unclassified for a later run.
func (t *Tally) Deferred() { t.deferred.Add(1) }

// Snapshot returns the current counters.
func (t *Tally) Snapshot() Counters {
	return Counters{
		Processed:   t.processed.Load(),
		Active:      t.active.Load(),
		Blacklisted: t.blacklisted.Load(),
		Inactive:    t.inactive.Load(),
		Skipped:     t.skipped.Load(),
		Failed:      t.failed.Load(),
		Deferred:    t.deferred.Load(),
	}
}
