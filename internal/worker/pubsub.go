// Package worker consumes pass-change messages and runs push fan-out.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/passrelay/passrelay/internal/notify"
)

// PubSubHandler handles pass-change messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	notifier         *notify.Notifier
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Notifier         *notify.Notifier
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Fan-out for one pass can take a while with many registrations; keep
	// the lease extended rather than letting redelivery double-push.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		notifier:         cfg.Notifier,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pass-change consumer")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	var change notify.ChangeMessage
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		logger.Error().Err(err).Msg("failed to parse change message")
		// Malformed messages never become parseable; drop them.
		msg.Ack()
		return
	}

	result, err := h.notifier.NotifyPassChanged(ctx, change.SerialNumber)
	if err != nil {
		// Store read failed before any dispatch; redeliver.
		logger.Error().Err(err).
			Str("serial_number", change.SerialNumber).
			Msg("fan-out failed")
		msg.Nack()
		return
	}

	logger.Info().
		Str("serial_number", change.SerialNumber).
		Int("tokens", result.Tokens).
		Int("delivered", result.Delivered).
		Dur("duration", time.Since(startTime)).
		Msg("change message processed")

	// Individual dispatch failures were already logged and are not retried:
	// the wake signal is best-effort and the device polls periodically anyway.
	msg.Ack()
}
