package pass

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notifier is told about committed content changes so registered devices can
// be woken. Implementations must not block the caller on push delivery.
type Notifier interface {
	PassChanged(ctx context.Context, serialNumber string)
}

// Archiver produces the signed .pkpass bundle for a pass. Satisfied by
// pkpass.Signer.
type Archiver interface {
	Sign(ctx context.Context, p *Pass) ([]byte, error)
}

// BundleStore persists signed bundles for distribution links.
type BundleStore interface {
	Save(ctx context.Context, key string, data []byte) error
}

// ServiceConfig holds dependencies for the pass service.
type ServiceConfig struct {
	Repo               Repository
	PassTypeIdentifier string
	Notifier           Notifier    // optional
	Archiver           Archiver    // optional, used with BundleStore
	BundleStore        BundleStore // optional
	Logger             zerolog.Logger
}

// Service provides pass directory operations.
type Service struct {
	repo        Repository
	passTypeID  string
	notifier    Notifier
	archiver    Archiver
	bundleStore BundleStore
	logger      zerolog.Logger
}

// NewService creates a new pass service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:        cfg.Repo,
		passTypeID:  cfg.PassTypeIdentifier,
		notifier:    cfg.Notifier,
		archiver:    cfg.Archiver,
		bundleStore: cfg.BundleStore,
		logger:      cfg.Logger,
	}
}

// CreateInput holds the operator-supplied fields for a new pass.
type CreateInput struct {
	SerialNumber     string // optional, generated when empty
	Description      string
	OrganizationName string
	Message          string
}

// Create issues a new pass. The serial number and authentication token are
// generated server-side unless a serial is supplied.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Pass, error) {
	serial := strings.TrimSpace(input.SerialNumber)
	if serial == "" {
		serial = uuid.New().String()
	}

	token, err := newAuthToken()
	if err != nil {
		return nil, fmt.Errorf("generate authentication token: %w", err)
	}

	now := time.Now().UTC()
	p := &Pass{
		SerialNumber:        serial,
		AuthenticationToken: token,
		PassTypeIdentifier:  s.passTypeID,
		Description:         input.Description,
		OrganizationName:    input.OrganizationName,
		Message:             input.Message,
		LastModifiedAt:      now,
		CreatedAt:           now,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

// Get retrieves a pass by serial number.
func (s *Service) Get(ctx context.Context, serialNumber string) (*Pass, error) {
	return s.repo.GetBySerial(ctx, serialNumber)
}

// UpdateMessage replaces the pass message, bumps the modification timestamp,
// and only after that commit wakes registered devices. A woken device that
// immediately asks "what changed since t?" must see the new timestamp, so the
// notifier runs strictly after the repository write returns.
func (s *Service) UpdateMessage(ctx context.Context, serialNumber, message string) (*Pass, error) {
	modifiedAt := time.Now().UTC()

	if err := s.repo.UpdateMessage(ctx, serialNumber, message, modifiedAt); err != nil {
		return nil, err
	}

	p, err := s.repo.GetBySerial(ctx, serialNumber)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.PassChanged(ctx, serialNumber)
	}

	s.uploadBundle(ctx, p)

	return p, nil
}

// Delete removes a pass and all registrations referencing it.
func (s *Service) Delete(ctx context.Context, serialNumber string) error {
	return s.repo.Delete(ctx, serialNumber)
}

// uploadBundle refreshes the distributable signed bundle. Best-effort: the
// content change already committed, so a storage failure is logged and the
// update still succeeds.
func (s *Service) uploadBundle(ctx context.Context, p *Pass) {
	if s.archiver == nil || s.bundleStore == nil {
		return
	}

	data, err := s.archiver.Sign(ctx, p)
	if err != nil {
		s.logger.Error().Err(err).
			Str("serial_number", p.SerialNumber).
			Msg("failed to sign pass bundle")
		return
	}

	key := fmt.Sprintf("passes/%s.pkpass", p.SerialNumber)
	if err := s.bundleStore.Save(ctx, key, data); err != nil {
		s.logger.Error().Err(err).
			Str("serial_number", p.SerialNumber).
			Msg("failed to upload pass bundle")
	}
}

// newAuthToken returns a 32-hex-char random bearer token.
func newAuthToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
