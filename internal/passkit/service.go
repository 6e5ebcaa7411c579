// Package passkit implements the server side of the PassKit Web Service
// protocol: device registration, update checks, and pass fetches, with
// per-pass bearer authentication.
package passkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/passrelay/passrelay/internal/pass"
	"github.com/passrelay/passrelay/internal/pkpass"
	"github.com/passrelay/passrelay/internal/registration"
)

// Service errors.
var (
	// ErrUnauthorized means the presented ApplePass token does not match
	// the pass (or the pass does not exist, for operations that must not
	// reveal which).
	ErrUnauthorized = errors.New("authentication token mismatch")

	// ErrPassNotFound mirrors pass.ErrPassNotFound for fetch operations.
	ErrPassNotFound = pass.ErrPassNotFound
)

// Service implements the four web-service operations.
type Service struct {
	passes pass.Repository
	regs   registration.Repository
	signer pkpass.Signer
	logger zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// ServiceConfig holds dependencies for the passkit service.
type ServiceConfig struct {
	Passes        pass.Repository
	Registrations registration.Repository
	Signer        pkpass.Signer
	Logger        zerolog.Logger
}

// NewService creates a new passkit service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		passes: cfg.Passes,
		regs:   cfg.Registrations,
		signer: cfg.Signer,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

// Register subscribes a device to updates for a pass.
//
// Registration is an upsert keyed on (device, serial): repeated registrations
// never create duplicates, and a re-registration refreshes the stored push
// token since tokens rotate. Returns true when a new registration was
// created (the handler answers 201) and false when one already existed (200).
func (s *Service) Register(ctx context.Context, deviceLibraryID, passTypeID, serialNumber, authToken, pushToken string) (bool, error) {
	if err := s.authenticate(ctx, serialNumber, authToken); err != nil {
		return false, err
	}

	now := s.now().UTC()
	created, err := s.regs.Upsert(ctx, &registration.Registration{
		DeviceLibraryID:    deviceLibraryID,
		PassTypeIdentifier: passTypeID,
		SerialNumber:       serialNumber,
		PushToken:          pushToken,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return false, err
	}

	s.logger.Debug().
		Str("device_library_id", deviceLibraryID).
		Str("serial_number", serialNumber).
		Bool("created", created).
		Msg("device registered")

	return created, nil
}

// Unregister removes a device's subscription to a pass. Removing an absent
// registration is a success: the device's desired end state holds either way.
func (s *Service) Unregister(ctx context.Context, deviceLibraryID, passTypeID, serialNumber, authToken string) error {
	_ = passTypeID // the (device, serial) pair fully identifies the registration

	if err := s.authenticate(ctx, serialNumber, authToken); err != nil {
		return err
	}

	err := s.regs.Delete(ctx, deviceLibraryID, serialNumber)
	if err != nil && !errors.Is(err, registration.ErrRegistrationNotFound) {
		return err
	}

	s.logger.Debug().
		Str("device_library_id", deviceLibraryID).
		Str("serial_number", serialNumber).
		Msg("device unregistered")

	return nil
}

// UpdatedSerials is the response to an update check.
type UpdatedSerials struct {
	LastUpdated   time.Time
	SerialNumbers []string
}

// ListUpdatedSerials returns the serials of this device's registered passes
// that changed strictly after since. An empty list is the normal quiet-path
// answer, not an error. LastUpdated is the marker the device echoes back on
// its next check.
func (s *Service) ListUpdatedSerials(ctx context.Context, deviceLibraryID, passTypeID string, since time.Time) (*UpdatedSerials, error) {
	regs, err := s.regs.ListByDevice(ctx, deviceLibraryID, passTypeID)
	if err != nil {
		return nil, err
	}

	serials := make([]string, 0, len(regs))
	for _, reg := range regs {
		serials = append(serials, reg.SerialNumber)
	}

	passes, err := s.passes.GetBySerials(ctx, serials)
	if err != nil {
		return nil, err
	}

	updated := make([]string, 0, len(passes))
	for _, p := range passes {
		if p.UpdatedSince(since) {
			updated = append(updated, p.SerialNumber)
		}
	}

	return &UpdatedSerials{
		LastUpdated:   s.now().UTC(),
		SerialNumbers: updated,
	}, nil
}

// FetchPass returns a freshly signed bundle for the pass. Unknown serials are
// ErrPassNotFound; a token mismatch on a known serial is ErrUnauthorized.
func (s *Service) FetchPass(ctx context.Context, passTypeID, serialNumber, authToken string) ([]byte, error) {
	p, err := s.passes.GetBySerial(ctx, serialNumber)
	if err != nil {
		return nil, err
	}

	if p.PassTypeIdentifier != passTypeID {
		return nil, ErrPassNotFound
	}

	if !tokenMatches(p, authToken) {
		return nil, ErrUnauthorized
	}

	return s.signer.Sign(ctx, p)
}

// authenticate checks the bearer token for registration operations. An
// unknown serial reads as unauthorized here: register/unregister must not
// disclose which serials exist to a caller without a valid token.
func (s *Service) authenticate(ctx context.Context, serialNumber, authToken string) error {
	p, err := s.passes.GetBySerial(ctx, serialNumber)
	if err != nil {
		if errors.Is(err, pass.ErrPassNotFound) {
			return ErrUnauthorized
		}
		return err
	}

	if !tokenMatches(p, authToken) {
		return ErrUnauthorized
	}

	return nil
}

// tokenMatches compares the presented token against the pass's stored token
// in constant time.
func tokenMatches(p *pass.Pass, authToken string) bool {
	if authToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p.AuthenticationToken), []byte(authToken)) == 1
}
