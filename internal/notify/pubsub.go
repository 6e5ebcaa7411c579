package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// PubSubPublisher announces committed pass changes on a Pub/Sub topic; the
// worker binary consumes them and runs the fan-out.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	logger    zerolog.Logger
}

// PubSubPublisherConfig holds configuration for the Pub/Sub publisher.
type PubSubPublisherConfig struct {
	ProjectID string
	TopicName string
	Logger    zerolog.Logger
}

// NewPubSubPublisher creates a new Pub/Sub publisher.
func NewPubSubPublisher(ctx context.Context, cfg PubSubPublisherConfig) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &PubSubPublisher{
		client:    client,
		publisher: client.Publisher(cfg.TopicName),
		logger:    cfg.Logger,
	}, nil
}

// PassChanged publishes the change announcement. The publish result is
// confirmed off the request path; a publish failure is logged, not surfaced,
// since the content change itself already succeeded.
func (p *PubSubPublisher) PassChanged(ctx context.Context, serialNumber string) {
	msg := ChangeMessage{
		SerialNumber: serialNumber,
		ChangedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error().Err(err).
			Str("serial_number", serialNumber).
			Msg("failed to encode change message")
		return
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{Data: data})

	go func() {
		confirmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := result.Get(confirmCtx); err != nil {
			p.logger.Error().Err(err).
				Str("serial_number", serialNumber).
				Msg("failed to publish change message")
		}
	}()
}

// Close stops the publisher and releases the client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}
