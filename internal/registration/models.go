// Package registration provides the registration store: the persistent mapping
// of (device, pass) pairs to push tokens used to wake devices for updates.
package registration

import (
	"errors"
	"time"
)

// Repository errors.
var (
	ErrRegistrationNotFound = errors.New("registration not found")
)

// Registration represents one device's subscription to updates for one pass.
type Registration struct {
	DeviceLibraryID    string
	PassTypeIdentifier string
	SerialNumber       string
	PushToken          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
