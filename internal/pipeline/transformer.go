// Package pipeline contains the message-processing components that connect
// the Pub/Sub trigger feed to the fan-out core.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-fanout-service/internal/fanout"
)

// DocumentCreated is the trigger envelope published for every Firestore
// document creation the service subscribes to. Document is the full path of
// the created document relative to the database root, e.g.
// "clubs/c1/messages/m1".
type DocumentCreated struct {
	Document string         `json:"document"`
	Fields   map[string]any `json:"fields"`
}

// EventTransformer is a dataflow Transformer that decodes a raw trigger
// message into a routed fanout.Event.
//
// Malformed envelopes and paths outside the route table return an error with
// skip=true so the StreamingService can handle the Nack/DLQ logic.
func EventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*fanout.Event, bool, error) {
	var env DocumentCreated
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal trigger envelope from message %s: %w", msg.ID, err)
	}

	ev, err := fanout.MatchDocumentPath(env.Document, env.Fields)
	if err != nil {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	return ev, false, nil
}
