package harvest

import (
	"fmt"
	"time"
)

// OutcomeKind tags the result of one network call for one identifier.
type OutcomeKind int

// Supported fetch outcomes.
const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeHTTPError
	OutcomeTimeout
	OutcomeUnparseable
)

// String returns the lowercase label used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeUnparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// FetchOutcome is produced by exactly one network call.
type FetchOutcome struct {
	Kind OutcomeKind
	// StatusCode is set for HTTPError and Success outcomes.
	StatusCode int
	// Payload is the decoded 2xx body; only set for Success.
	Payload Document
	// Err carries the transport or decode error for diagnostics.
	Err error
	// Duration is the wall time of the network call, excluding the rate limit wait.
	Duration time.Duration
}

// Success builds a Success outcome.
func Success(doc Document) FetchOutcome {
	return FetchOutcome{Kind: OutcomeSuccess, StatusCode: 200, Payload: doc}
}

// HTTPError builds an outcome for a non-2xx response.
func HTTPError(status int) FetchOutcome {
	return FetchOutcome{Kind: OutcomeHTTPError, StatusCode: status}
}

// Timeout builds an outcome for a transport-level failure.
func Timeout(err error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeTimeout, Err: err}
}

// Unparseable builds an outcome for a 2xx body that could not be decoded.
func Unparseable(err error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeUnparseable, StatusCode: 200, Err: err}
}

// Transient reports whether the outcome may succeed if simply retried later:
// transport failures, throttling and server errors.
func (o FetchOutcome) Transient() bool {
	switch o.Kind {
	case OutcomeTimeout:
		return true
	case OutcomeHTTPError:
		return o.StatusCode == 429 || o.StatusCode >= 500
	default:
		return false
	}
}

// ClassKind is the durable state of an identifier.
type ClassKind int

// Classification kinds. The zero value is Unclassified.
const (
	ClassUnclassified ClassKind = iota
	ClassActive
	ClassBlacklisted
	ClassRecentlyInactive
)

// String returns the label used in logs, events and metrics.
func (k ClassKind) String() string {
	switch k {
	case ClassActive:
		return "active"
	case ClassBlacklisted:
		return "blacklisted"
	case ClassRecentlyInactive:
		return "recently_inactive"
	default:
		return "unclassified"
	}
}

// Blacklist reasons. They are informational only and never persisted.
const (
	ReasonNoTimestamp    = "no_timestamp"
	ReasonRelativeOnly   = "relative_only"
	ReasonNonNumeric     = "non_numeric"
	ReasonAPIError       = "api_error"
	ReasonTimeout        = "timeout"
	ReasonUnparseable    = "unparseable"
	ReasonNoListings     = "no_bazaar"
	ReasonUnexpectedType = "unexpected_type"
	ReasonMalformedItem  = "malformed_item"
)

// Classification is the outcome recorded for one identifier.
type Classification struct {
	Kind ClassKind
	// LastSeen is only meaningful for Active.
	LastSeen time.Time
	// Reason explains a Blacklisted result.
	Reason string
	// Listings are the records harvested alongside the classification.
	Listings []Listing
}

// Active returns an Active classification seen at lastSeen.
func Active(lastSeen time.Time) Classification {
	return Classification{Kind: ClassActive, LastSeen: lastSeen.UTC()}
}

// Blacklisted returns a permanent exclusion with the given reason.
func Blacklisted(reason string) Classification {
	return Classification{Kind: ClassBlacklisted, Reason: reason}
}

// RecentlyInactive returns a stale-but-revisitable classification.
func RecentlyInactive() Classification {
	return Classification{Kind: ClassRecentlyInactive}
}

// String renders the classification for logs.
func (c Classification) String() string {
	switch c.Kind {
	case ClassActive:
		return fmt.Sprintf("active(%d)", c.LastSeen.Unix())
	case ClassBlacklisted:
		if c.Reason != "" {
			return "blacklisted(" + c.Reason + ")"
		}
		return "blacklisted"
	default:
		return c.Kind.String()
	}
}

// Listing is one item a seller offers. The seller identifier is supplied by
// whoever persists the listing.
type Listing struct {
	ItemName  string
	UnitPrice int64
	Quantity  int64
}

// Counters are the run-scoped aggregates an observer may poll.
type Counters struct {
	Processed   int64 `json:"processed"`
	Active      int64 `json:"active"`
	Blacklisted int64 `json:"blacklisted"`
	Inactive    int64 `json:"inactive"`
	Skipped     int64 `json:"skipped"`
	Failed      int64 `json:"failed"`
	Deferred    int64 `json:"deferred"`
}

// SetSizes reports how many identifiers each durable set holds.
type SetSizes struct {
	Active           int `json:"active"`
	Blacklisted      int `json:"blacklisted"`
	RecentlyInactive int `json:"recently_inactive"`
}

// Total returns the number of classified identifiers.
func (s SetSizes) Total() int {
	return s.Active + s.Blacklisted + s.RecentlyInactive
}

// WorkerStatus is a point-in-time view of one credential's worker.
type WorkerStatus struct {
	Owner     string `json:"owner"`
	ShardSize int    `json:"shard_size"`
	Position  int64  `json:"position"`
	Calls     int64  `json:"calls"`
	Done      bool   `json:"done"`
}
