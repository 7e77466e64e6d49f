package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/progress"
)

// Publisher sends one JSON payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, payload any, attributes map[string]string) (string, error)
}

// ClassificationMessage is the payload published for each selected
// classification and for run completion.
type ClassificationMessage struct {
	RunID          string `json:"run_id"`
	Stage          string `json:"stage"`
	Identifier     int64  `json:"identifier,omitempty"`
	Credential     string `json:"credential,omitempty"`
	Classification string `json:"classification,omitempty"`
	LastSeen       int64  `json:"last_seen,omitempty"`
	Listings       int    `json:"listings,omitempty"`
	Timestamp      string `json:"timestamp"`
	Note           string `json:"note,omitempty"`
}

// PubSubSink forwards classifications of the configured kinds, plus run
// completion, to a Publisher for downstream consumers.
type PubSubSink struct {
	publisher Publisher
	kinds     map[string]struct{}
	logger    *zap.Logger
}

// NewPubSubSink builds a sink publishing the given classification kinds. An
// empty kinds list publishes only active classifications.
func NewPubSubSink(publisher Publisher, kinds []string, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(kinds) == 0 {
		kinds = []string{"active"}
	}
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return &PubSubSink{publisher: publisher, kinds: set, logger: logger}
}

// Consume publishes matching events in batch order and stops at the first
// publish failure.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	published := 0
	for _, evt := range batch {
		if !s.selected(evt) {
			continue
		}
		msg := ClassificationMessage{
			RunID:          evt.RunUUID().String(),
			Stage:          string(evt.Stage),
			Identifier:     evt.Identifier,
			Credential:     evt.Credential,
			Classification: evt.Classification,
			Listings:       evt.Listings,
			Timestamp:      evt.TS.UTC().Format(time.RFC3339),
			Note:           evt.Note,
		}
		if !evt.LastSeen.IsZero() {
			msg.LastSeen = evt.LastSeen.Unix()
		}
		attrs := map[string]string{"stage": msg.Stage}
		if msg.Classification != "" {
			attrs["classification"] = msg.Classification
		}
		if _, err := s.publisher.Publish(ctx, msg, attrs); err != nil {
			return fmt.Errorf("publish %s event: %w", evt.Stage, err)
		}
		published++
	}
	if published > 0 {
		s.logger.Debug("progress events published", zap.Int("count", published))
	}
	return nil
}

func (s *PubSubSink) selected(evt progress.Event) bool {
	switch evt.Stage {
	case progress.StageRunDone, progress.StageRunError:
		return true
	case progress.StageClassified:
		_, ok := s.kinds[evt.Classification]
		return ok
	default:
		return false
	}
}

// Close implements the Sink interface; the publisher is closed by its owner.
func (s *PubSubSink) Close(context.Context) error {
	return nil
}
