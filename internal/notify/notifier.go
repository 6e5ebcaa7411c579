// Package notify implements update notification fan-out: when a pass's
// content changes, every registered device gets a background push telling it
// to re-fetch.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/passrelay/passrelay/internal/notify/apns"
	"github.com/passrelay/passrelay/internal/registration"
)

// Pusher delivers one background push. Satisfied by apns.Client.
type Pusher interface {
	Push(ctx context.Context, topic, deviceToken string) (apns.Result, error)
}

// NotifierConfig holds configuration for the notifier.
type NotifierConfig struct {
	Registrations registration.Repository
	Pusher        Pusher

	// Concurrency bounds parallel delivery attempts. Default: 4.
	Concurrency int

	// PerTokenTimeout bounds one delivery attempt. Default: 10s.
	PerTokenTimeout time.Duration

	Logger zerolog.Logger
}

// Notifier dispatches wake pushes for changed passes.
//
// Delivery is strictly best-effort: the content change has already committed
// by the time the notifier runs, so an individual dispatch failure is logged
// and swallowed, never propagated back to the mutation. Dead tokens are
// logged but not evicted here.
type Notifier struct {
	registrations   registration.Repository
	pusher          Pusher
	concurrency     int
	perTokenTimeout time.Duration
	logger          zerolog.Logger
}

// NewNotifier creates a new notifier.
func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PerTokenTimeout <= 0 {
		cfg.PerTokenTimeout = 10 * time.Second
	}

	return &Notifier{
		registrations:   cfg.Registrations,
		pusher:          cfg.Pusher,
		concurrency:     cfg.Concurrency,
		perTokenTimeout: cfg.PerTokenTimeout,
		logger:          cfg.Logger,
	}
}

// FanOutResult summarizes one notification batch.
type FanOutResult struct {
	Tokens        int
	Delivered     int
	InvalidTokens int
	Failed        int
}

// NotifyPassChanged pushes a wake signal to every distinct token registered
// for the pass. Each token gets an independent, time-bounded attempt; one
// failure never blocks the others.
func (n *Notifier) NotifyPassChanged(ctx context.Context, serialNumber string) (*FanOutResult, error) {
	regs, err := n.registrations.ListByPass(ctx, serialNumber)
	if err != nil {
		return nil, err
	}

	// Distinct tokens only: two registrations sharing a push token (same
	// device watching via different library identifiers) get one wake.
	type target struct {
		token string
		topic string
	}
	seen := make(map[string]struct{}, len(regs))
	var targets []target
	for _, reg := range regs {
		if _, ok := seen[reg.PushToken]; ok {
			continue
		}
		seen[reg.PushToken] = struct{}{}
		targets = append(targets, target{token: reg.PushToken, topic: reg.PassTypeIdentifier})
	}

	result := &FanOutResult{Tokens: len(targets)}
	if len(targets) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, n.concurrency)

	for _, tgt := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(tgt target) {
			defer wg.Done()
			defer func() { <-sem }()

			pushCtx, cancel := context.WithTimeout(ctx, n.perTokenTimeout)
			defer cancel()

			res, err := n.pusher.Push(pushCtx, tgt.topic, tgt.token)

			mu.Lock()
			defer mu.Unlock()
			switch res {
			case apns.Delivered:
				result.Delivered++
			case apns.InvalidToken:
				result.InvalidTokens++
				n.logger.Warn().Err(err).
					Str("serial_number", serialNumber).
					Str("push_token_last4", tokenLast4(tgt.token)).
					Msg("push token no longer valid")
			default:
				result.Failed++
				n.logger.Error().Err(err).
					Str("serial_number", serialNumber).
					Str("push_token_last4", tokenLast4(tgt.token)).
					Msg("push dispatch failed")
			}
		}(tgt)
	}

	wg.Wait()

	n.logger.Info().
		Str("serial_number", serialNumber).
		Int("tokens", result.Tokens).
		Int("delivered", result.Delivered).
		Int("invalid", result.InvalidTokens).
		Int("failed", result.Failed).
		Msg("pass change fan-out completed")

	return result, nil
}

// tokenLast4 truncates a push token for logging.
func tokenLast4(token string) string {
	if len(token) < 4 {
		return token
	}
	return token[len(token)-4:]
}
