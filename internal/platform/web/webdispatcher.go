// Package web delivers notifications to browser push subscriptions using the
// VAPID protocol.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-fanout-service/fanoutservice/config"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-fanout-service/pkg/store"
)

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// Dispatch sends the payload to each subscription in turn (the web push
// protocol has no batch endpoint). It returns the subscriptions the push
// service reported as gone, for cleanup by the caller.
func (d *Dispatcher) Dispatch(
	_ context.Context,
	subs []store.WebPushSubscription,
	payload dispatch.Payload,
) (string, []store.WebPushSubscription, error) {

	body, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": payload.Title,
			"body":  payload.Body,
		},
		"data": payload.Data,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal web push payload: %w", err)
	}

	var invalid []store.WebPushSubscription
	successCount := 0
	failureCount := 0

	for _, sub := range subs {
		s := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.Keys.P256dh,
				Auth:   sub.Keys.Auth,
			},
		}

		resp, err := webpush.SendNotification(body, s, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             60,
			HTTPClient:      d.httpClient,
		})
		if err != nil {
			// Transport error (DNS, timeout): log and skip, the subscription
			// may still be alive.
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			failureCount++
			continue
		}
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			successCount++
		case http.StatusGone, http.StatusNotFound:
			// The push service no longer knows this subscription.
			invalid = append(invalid, sub)
			failureCount++
		default:
			d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			failureCount++
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalid), failureCount)
	return receipt, invalid, nil
}
