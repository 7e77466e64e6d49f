package harvest

import "errors"

var (
	// ErrConfiguration marks fatal setup problems such as an empty credential
	// pool or a malformed identifier range. Nothing is fetched when it occurs.
	ErrConfiguration = errors.New("configuration error")
	// ErrPersistence marks a failed durable write. The identifier stays
	// unclassified and is picked up again by the next run.
	ErrPersistence = errors.New("persistence error")
	// ErrAlreadyClassified is returned by a state store when a record would
	// move an identifier out of the set it already belongs to.
	ErrAlreadyClassified = errors.New("identifier already classified")
	// ErrUnclassified is returned when asked to record an Unclassified value.
	ErrUnclassified = errors.New("cannot record an unclassified identifier")
)
