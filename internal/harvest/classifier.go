package harvest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultActivityWindow separates Active from RecentlyInactive.
	DefaultActivityWindow = 40 * 24 * time.Hour
	// DefaultTimestampPath locates the last-activity epoch seconds in a profile.
	DefaultTimestampPath = "last_action.timestamp"
	// DefaultListingsField holds a seller's listings in a bazaar document.
	DefaultListingsField = "bazaar"
)

// ActivityClassifier classifies profiles by the age of their last activity.
type ActivityClassifier struct {
	window time.Duration
	path   string
	clock  Clock
}

// NewActivityClassifier builds a classifier. Zero values fall back to the
// 40-day window and the last_action.timestamp path.
func NewActivityClassifier(window time.Duration, path string, clock Clock) *ActivityClassifier {
	if window <= 0 {
		window = DefaultActivityWindow
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultTimestampPath
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &ActivityClassifier{window: window, path: path, clock: clock}
}

// Window returns the configured activity window.
func (c *ActivityClassifier) Window() time.Duration {
	return c.window
}

// Classify implements Classifier.
func (c *ActivityClassifier) Classify(outcome FetchOutcome) Classification {
	if failed, ok := classifyFailure(outcome); ok {
		return failed
	}
	doc := outcome.Payload
	if _, apiErr := doc["error"]; apiErr {
		return Blacklisted(ReasonAPIError)
	}

	raw, ok := doc.Lookup(c.path)
	if !ok || raw == nil {
		if c.hasRelativeOnly(doc) {
			return Blacklisted(ReasonRelativeOnly)
		}
		return Blacklisted(ReasonNoTimestamp)
	}
	ts, ok := asInt64(raw)
	if !ok {
		return Blacklisted(ReasonNonNumeric)
	}
	if ts <= 0 {
		return Blacklisted(ReasonNoTimestamp)
	}

	lastSeen := time.Unix(ts, 0).UTC()
	if c.clock.Now().Sub(lastSeen) <= c.window {
		return Active(lastSeen)
	}
	return RecentlyInactive()
}

// hasRelativeOnly reports whether the timestamp's parent object carries a
// human "relative" string ("3 days ago") without an absolute timestamp.
func (c *ActivityClassifier) hasRelativeOnly(doc Document) bool {
	idx := strings.LastIndex(c.path, ".")
	if idx < 0 {
		_, ok := doc["relative"]
		return ok
	}
	_, ok := doc.Lookup(c.path[:idx] + ".relative")
	return ok
}

// ListingClassifier classifies sellers by the listings in their bazaar.
type ListingClassifier struct {
	field string
	clock Clock
}

// NewListingClassifier builds a classifier reading listings from field.
func NewListingClassifier(field string, clock Clock) *ListingClassifier {
	if strings.TrimSpace(field) == "" {
		field = DefaultListingsField
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &ListingClassifier{field: field, clock: clock}
}

// Classify implements Classifier. A seller with listings is Active as of now
// and carries them; an empty bazaar is RecentlyInactive.
func (c *ListingClassifier) Classify(outcome FetchOutcome) Classification {
	if failed, ok := classifyFailure(outcome); ok {
		return failed
	}
	doc := outcome.Payload
	if _, apiErr := doc["error"]; apiErr {
		return Blacklisted(ReasonAPIError)
	}
	raw, ok := doc.Lookup(c.field)
	if !ok || raw == nil {
		return Blacklisted(ReasonNoListings)
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			items = append(items, v[k])
		}
	default:
		return Blacklisted(ReasonUnexpectedType)
	}
	if len(items) == 0 {
		return RecentlyInactive()
	}

	listings := make([]Listing, 0, len(items))
	for _, item := range items {
		listing, err := parseListing(item)
		if err != nil {
			return Blacklisted(ReasonMalformedItem)
		}
		listings = append(listings, listing)
	}
	out := Active(c.clock.Now())
	out.Listings = listings
	return out
}

func parseListing(item any) (Listing, error) {
	obj, ok := asObject(item)
	if !ok {
		return Listing{}, fmt.Errorf("listing is %T, not an object", item)
	}
	name, ok := obj["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return Listing{}, fmt.Errorf("listing name missing")
	}
	price, ok := asInt64(obj["price"])
	if !ok {
		return Listing{}, fmt.Errorf("listing %q price not numeric", name)
	}
	qty, ok := asInt64(obj["quantity"])
	if !ok {
		return Listing{}, fmt.Errorf("listing %q quantity not numeric", name)
	}
	return Listing{ItemName: name, UnitPrice: price, Quantity: qty}, nil
}

// classifyFailure folds every non-Success outcome into a permanent exclusion.
func classifyFailure(outcome FetchOutcome) (Classification, bool) {
	switch outcome.Kind {
	case OutcomeSuccess:
		if outcome.Payload == nil {
			return Blacklisted(ReasonUnparseable), true
		}
		return Classification{}, false
	case OutcomeHTTPError:
		return Blacklisted(fmt.Sprintf("http_%d", outcome.StatusCode)), true
	case OutcomeTimeout:
		return Blacklisted(ReasonTimeout), true
	case OutcomeUnparseable:
		return Blacklisted(ReasonUnparseable), true
	default:
		return Blacklisted("unknown_outcome"), true
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
