package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageClassified Stage = "CLASSIFIED"
	StageSkipped    Stage = "SKIPPED"
	StageDeferred   Stage = "DEFERRED"
	StageFailed     Stage = "FAILED"
)

// Event captures a single step of harvest progress.
type Event struct {
	// RunID identifies one harvest run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Credential is the owner label of the worker; never the token.
	Credential string
	Identifier int64
	// Classification is the recorded kind (active, blacklisted, recently_inactive).
	Classification string
	// Reason explains blacklisting.
	Reason string
	// LastSeen is set for active classifications.
	LastSeen time.Time
	// Listings counts the records harvested with the identifier.
	Listings int
	// Dur is the fetch latency for per-identifier events and the run wall
	// time for RUN_DONE/RUN_ERROR.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageClassified:
		if e.Classification == "" {
			return errors.New("classified event requires classification")
		}
		fallthrough
	case StageSkipped, StageDeferred, StageFailed:
		if e.Identifier <= 0 {
			return fmt.Errorf("%s event requires identifier", e.Stage)
		}
		if e.Credential == "" {
			return fmt.Errorf("%s event requires credential", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
