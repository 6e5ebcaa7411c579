package pass_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/passrelay/passrelay/internal/pass"
	"github.com/passrelay/passrelay/internal/registration"
)

// recordingNotifier captures change announcements, along with the message the
// repository held at the moment each announcement arrived.
type recordingNotifier struct {
	repo           pass.Repository
	serials        []string
	messagesAtWake []string
}

func (n *recordingNotifier) PassChanged(ctx context.Context, serialNumber string) {
	n.serials = append(n.serials, serialNumber)
	if p, err := n.repo.GetBySerial(ctx, serialNumber); err == nil {
		n.messagesAtWake = append(n.messagesAtWake, p.Message)
	}
}

func newTestPassService(t *testing.T) (*pass.Service, *pass.InMemoryRepository, *recordingNotifier) {
	t.Helper()

	repo := pass.NewInMemoryRepository()
	notifier := &recordingNotifier{repo: repo}

	service := pass.NewService(pass.ServiceConfig{
		Repo:               repo,
		PassTypeIdentifier: "pass.example.card",
		Notifier:           notifier,
		Logger:             zerolog.New(io.Discard),
	})

	return service, repo, notifier
}

func TestService_Create(t *testing.T) {
	service, _, _ := newTestPassService(t)

	p, err := service.Create(context.Background(), pass.CreateInput{
		Description:      "Loyalty card",
		OrganizationName: "Acme",
		Message:          "Welcome",
	})
	if err != nil {
		t.Fatalf("failed to create pass: %v", err)
	}

	if p.SerialNumber == "" {
		t.Error("expected generated serial number")
	}
	if len(p.AuthenticationToken) != 32 {
		t.Errorf("expected 32-char authentication token, got %d chars", len(p.AuthenticationToken))
	}
	if p.PassTypeIdentifier != "pass.example.card" {
		t.Errorf("expected configured pass type, got %q", p.PassTypeIdentifier)
	}
	if p.LastModifiedAt.IsZero() || p.CreatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestService_Create_WithSerial(t *testing.T) {
	service, _, _ := newTestPassService(t)

	p, err := service.Create(context.Background(), pass.CreateInput{
		SerialNumber: "member-001",
		Description:  "Loyalty card",
	})
	if err != nil {
		t.Fatalf("failed to create pass: %v", err)
	}
	if p.SerialNumber != "member-001" {
		t.Errorf("expected supplied serial to be kept, got %q", p.SerialNumber)
	}
}

func TestService_Create_DuplicateSerial(t *testing.T) {
	service, _, _ := newTestPassService(t)
	ctx := context.Background()

	if _, err := service.Create(ctx, pass.CreateInput{SerialNumber: "dup", Description: "A"}); err != nil {
		t.Fatalf("failed to create first pass: %v", err)
	}

	_, err := service.Create(ctx, pass.CreateInput{SerialNumber: "dup", Description: "B"})
	if !errors.Is(err, pass.ErrSerialTaken) {
		t.Fatalf("expected ErrSerialTaken, got %v", err)
	}
}

func TestService_Create_DistinctTokens(t *testing.T) {
	service, _, _ := newTestPassService(t)
	ctx := context.Background()

	a, err := service.Create(ctx, pass.CreateInput{Description: "A"})
	if err != nil {
		t.Fatalf("failed to create pass: %v", err)
	}
	b, err := service.Create(ctx, pass.CreateInput{Description: "B"})
	if err != nil {
		t.Fatalf("failed to create pass: %v", err)
	}

	if a.AuthenticationToken == b.AuthenticationToken {
		t.Error("expected distinct authentication tokens per pass")
	}
}

func TestService_UpdateMessage(t *testing.T) {
	service, _, notifier := newTestPassService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, pass.CreateInput{Description: "Card", Message: "old"})
	if err != nil {
		t.Fatalf("failed to create pass: %v", err)
	}

	updated, err := service.UpdateMessage(ctx, created.SerialNumber, "new")
	if err != nil {
		t.Fatalf("failed to update message: %v", err)
	}

	if updated.Message != "new" {
		t.Errorf("expected message %q, got %q", "new", updated.Message)
	}
	if !updated.LastModifiedAt.After(created.LastModifiedAt) && !updated.LastModifiedAt.Equal(created.LastModifiedAt) {
		t.Errorf("expected LastModifiedAt to advance, got %v -> %v", created.LastModifiedAt, updated.LastModifiedAt)
	}

	if len(notifier.serials) != 1 || notifier.serials[0] != created.SerialNumber {
		t.Fatalf("expected one change announcement for %s, got %v", created.SerialNumber, notifier.serials)
	}
	// The announcement must arrive after the commit: a device woken by it and
	// asking for the pass immediately must see the new content.
	if notifier.messagesAtWake[0] != "new" {
		t.Errorf("expected committed message at wake time, got %q", notifier.messagesAtWake[0])
	}
}

func TestService_UpdateMessage_NotFound(t *testing.T) {
	service, _, notifier := newTestPassService(t)

	_, err := service.UpdateMessage(context.Background(), "missing", "new")
	if !errors.Is(err, pass.ErrPassNotFound) {
		t.Fatalf("expected ErrPassNotFound, got %v", err)
	}
	if len(notifier.serials) != 0 {
		t.Error("expected no announcement for failed update")
	}
}

func TestService_Delete_CascadesRegistrations(t *testing.T) {
	service, repo, _ := newTestPassService(t)
	ctx := context.Background()

	regs := registration.NewInMemoryRepository()
	repo.SetCascade(regs)

	created, err := service.Create(ctx, pass.CreateInput{Description: "Card"})
	if err != nil {
		t.Fatalf("failed to create pass: %v", err)
	}

	now := time.Now().UTC()
	if _, err := regs.Upsert(ctx, &registration.Registration{
		DeviceLibraryID:    "device1",
		PassTypeIdentifier: "pass.example.card",
		SerialNumber:       created.SerialNumber,
		PushToken:          "push-abc",
		CreatedAt:          now,
		UpdatedAt:          now,
	}); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	if err := service.Delete(ctx, created.SerialNumber); err != nil {
		t.Fatalf("failed to delete pass: %v", err)
	}

	if _, err := service.Get(ctx, created.SerialNumber); !errors.Is(err, pass.ErrPassNotFound) {
		t.Errorf("expected ErrPassNotFound after delete, got %v", err)
	}

	remaining, err := regs.ListByPass(ctx, created.SerialNumber)
	if err != nil {
		t.Fatalf("failed to list registrations: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected registrations to cascade on delete, got %d", len(remaining))
	}
}

func TestService_Delete_NotFound(t *testing.T) {
	service, _, _ := newTestPassService(t)

	err := service.Delete(context.Background(), "missing")
	if !errors.Is(err, pass.ErrPassNotFound) {
		t.Fatalf("expected ErrPassNotFound, got %v", err)
	}
}

func TestPass_TokenLast4(t *testing.T) {
	p := &pass.Pass{AuthenticationToken: "abcdef123456"}
	if got := p.TokenLast4(); got != "3456" {
		t.Errorf("expected %q, got %q", "3456", got)
	}

	short := &pass.Pass{AuthenticationToken: "ab"}
	if got := short.TokenLast4(); got != "ab" {
		t.Errorf("expected %q, got %q", "ab", got)
	}
}

func TestPass_UpdatedSince(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &pass.Pass{LastModifiedAt: base}

	if !p.UpdatedSince(base.Add(-time.Second)) {
		t.Error("expected pass modified after the mark to count as updated")
	}
	// Strictly after: a pass modified exactly at the mark is not updated.
	if p.UpdatedSince(base) {
		t.Error("expected pass modified exactly at the mark to not count as updated")
	}
	if p.UpdatedSince(base.Add(time.Second)) {
		t.Error("expected pass modified before the mark to not count as updated")
	}
}
