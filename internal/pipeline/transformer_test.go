package pipeline_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-fanout-service/internal/fanout"
	"github.com/tinywideclouds/go-fanout-service/internal/pipeline"
)

func TestEventTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	validPayload, err := json.Marshal(pipeline.DocumentCreated{
		Document: "chats/chat-1/messages/msg-1",
		Fields:   map[string]any{"senderId": "user-1", "text": "hello"},
	})
	require.NoError(t, err)

	unroutedPayload, err := json.Marshal(pipeline.DocumentCreated{
		Document: "auditLog/a1/entries/e1",
		Fields:   map[string]any{"action": "login"},
	})
	require.NoError(t, err)

	testCases := []struct {
		name                  string
		inputMessage          *messagepipeline.Message
		expectError           bool
		expectedErrorContains string
	}{
		{
			name: "Happy Path - Routed Document",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: validPayload},
			},
			expectError: false,
		},
		{
			name: "Failure - Malformed JSON",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-2", Payload: []byte("not-json")},
			},
			expectError:           true,
			expectedErrorContains: "failed to unmarshal trigger envelope",
		},
		{
			name: "Failure - Path Outside Route Table",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-3", Payload: unroutedPayload},
			},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, skip, err := pipeline.EventTransformer(ctx, tc.inputMessage)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				if tc.expectedErrorContains != "" {
					assert.Contains(t, err.Error(), tc.expectedErrorContains)
				}
			} else {
				require.NoError(t, err)
				assert.False(t, skip)
				assert.Equal(t, fanout.KindChat, ev.Route.Kind)
				assert.Equal(t, "chat-1", ev.ContainerID)
				assert.Equal(t, "msg-1", ev.DocumentID)
			}
		})
	}
}
