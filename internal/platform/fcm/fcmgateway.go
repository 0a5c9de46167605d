// Package fcm adapts the Firebase Cloud Messaging client to the dispatch
// gateway contract.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
// Note: *messaging.Client satisfies it directly.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

type Gateway struct {
	client MessagingClient
	logger *slog.Logger
}

func NewGateway(client MessagingClient, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With("component", "FCMGateway"),
	}
}

// Send delivers to a single token via the unary endpoint.
func (g *Gateway) Send(ctx context.Context, token string, payload dispatch.Payload) (string, error) {
	id, err := g.client.Send(ctx, buildMessage(token, payload))
	if err != nil {
		return "", fmt.Errorf("fcm send failed: %w", err)
	}
	return id, nil
}

// SendBatch delivers one message per token in a single batched call.
// SendEach keeps its responses in request order, so the returned report is
// positionally aligned with tokens.
func (g *Gateway) SendBatch(ctx context.Context, tokens []string, payload dispatch.Payload) (*dispatch.DeliveryReport, error) {
	messages := make([]*messaging.Message, len(tokens))
	for i, token := range tokens {
		messages[i] = buildMessage(token, payload)
	}

	br, err := g.client.SendEach(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("fcm batch transport failed: %w", err)
	}

	report := &dispatch.DeliveryReport{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
		Results:      make([]dispatch.SendResult, len(br.Responses)),
	}
	for i, resp := range br.Responses {
		if resp.Success {
			report.Results[i] = dispatch.SendResult{MessageID: resp.MessageID}
			continue
		}
		report.Results[i] = dispatch.SendResult{Err: classify(resp.Error)}
	}
	return report, nil
}

// classify maps SDK error types onto the dispatch sentinels so callers never
// import the messaging package.
func classify(err error) error {
	switch {
	case err == nil:
		return errors.New("fcm reported failure without error detail")
	case messaging.IsRegistrationTokenNotRegistered(err):
		return fmt.Errorf("%w: %v", dispatch.ErrTokenNotRegistered, err)
	case messaging.IsInvalidArgument(err):
		return fmt.Errorf("%w: %v", dispatch.ErrInvalidToken, err)
	default:
		return err
	}
}

func buildMessage(token string, payload dispatch.Payload) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Data:  payload.Data,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
	}
}
