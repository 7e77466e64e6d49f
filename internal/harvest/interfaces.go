package harvest

import (
	"context"
	"time"
)

// Fetcher performs one rate-limited call for one identifier using a single
// credential.
type Fetcher interface {
	Fetch(ctx context.Context, id int64) FetchOutcome
	// Owner is the credential label; tokens never leave the fetcher.
	Owner() string
	// Calls is a diagnostic counter of network calls made.
	Calls() int64
}

// Classifier decides the durable state for one fetch outcome.
type Classifier interface {
	Classify(outcome FetchOutcome) Classification
}

// StateStore is the engine's only handle on durable classification state.
type StateStore interface {
	AlreadyClassified(id int64) bool
	Record(ctx context.Context, id int64, c Classification) error
}

// RecordSink persists the listings harvested for one identifier.
type RecordSink interface {
	AppendListings(ctx context.Context, sellerID int64, listings []Listing) error
}

// Getter performs one HTTP GET. Transport failures are returned as errors;
// any HTTP status, including non-2xx, is returned as a Response.
type Getter interface {
	Get(ctx context.Context, url string) (Response, error)
}

// Response is the raw result of a Getter call.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Shard pairs one fetcher with the contiguous identifiers it owns.
type Shard struct {
	Fetcher Fetcher
	IDs     []int64
}
