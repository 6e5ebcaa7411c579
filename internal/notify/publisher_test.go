package notify_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/passrelay/passrelay/internal/notify"
	"github.com/passrelay/passrelay/internal/registration"
)

func TestDirectPublisher_PassChanged(t *testing.T) {
	regs := registration.NewInMemoryRepository()
	seedRegistrations(t, regs, "S1", "token-a", "token-b")

	pusher := &fakePusher{}
	notifier := notify.NewNotifier(notify.NotifierConfig{
		Registrations: regs,
		Pusher:        pusher,
		Logger:        zerolog.New(io.Discard),
	})

	publisher := notify.NewDirectPublisher(notifier, zerolog.New(io.Discard))

	// The trigger returns immediately; delivery happens detached.
	publisher.PassChanged(context.Background(), "S1")

	deadline := time.Now().Add(2 * time.Second)
	for {
		pusher.mu.Lock()
		attempts := len(pusher.attempts)
		pusher.mu.Unlock()

		if attempts == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 push attempts, got %d", attempts)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDirectPublisher_SurvivesCancelledTrigger(t *testing.T) {
	regs := registration.NewInMemoryRepository()
	seedRegistrations(t, regs, "S1", "token-a")

	pusher := &fakePusher{}
	notifier := notify.NewNotifier(notify.NotifierConfig{
		Registrations: regs,
		Pusher:        pusher,
		Logger:        zerolog.New(io.Discard),
	})

	publisher := notify.NewDirectPublisher(notifier, zerolog.New(io.Discard))

	// The triggering request's context ends right away; fan-out must not be
	// tied to it.
	ctx, cancel := context.WithCancel(context.Background())
	publisher.PassChanged(ctx, "S1")
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		pusher.mu.Lock()
		attempts := len(pusher.attempts)
		pusher.mu.Unlock()

		if attempts == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected fan-out despite cancelled trigger context, got %d attempts", attempts)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
