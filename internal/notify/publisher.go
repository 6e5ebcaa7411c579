package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ChangeMessage is the queue payload announcing a committed pass change.
type ChangeMessage struct {
	SerialNumber string    `json:"serial_number"`
	ChangedAt    time.Time `json:"changed_at"`
}

// DirectPublisher runs the fan-out in-process, detached from the request that
// triggered the change. Used by single-binary deployments and tests; larger
// deployments publish to Pub/Sub and let the worker consume.
type DirectPublisher struct {
	notifier *Notifier
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewDirectPublisher creates a publisher that dispatches via the given
// notifier in a background goroutine.
func NewDirectPublisher(notifier *Notifier, logger zerolog.Logger) *DirectPublisher {
	return &DirectPublisher{
		notifier: notifier,
		timeout:  time.Minute,
		logger:   logger,
	}
}

// PassChanged triggers fan-out for the pass. The caller's request returns
// without waiting for deliveries; the content mutation is already durable.
func (p *DirectPublisher) PassChanged(_ context.Context, serialNumber string) {
	go func() {
		// Detached from the request context: the triggering request may
		// finish long before the last push attempt does.
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if _, err := p.notifier.NotifyPassChanged(ctx, serialNumber); err != nil {
			p.logger.Error().Err(err).
				Str("serial_number", serialNumber).
				Msg("pass change fan-out failed")
		}
	}()
}
