// Package pass provides the pass directory: the source of truth for a pass's
// identity, authentication token, and modification timestamp.
package pass

import (
	"errors"
	"time"
)

// Repository errors.
var (
	ErrPassNotFound = errors.New("pass not found")
	ErrSerialTaken  = errors.New("serial number already in use")
)

// Pass represents a distributable wallet pass.
type Pass struct {
	SerialNumber        string
	AuthenticationToken string
	PassTypeIdentifier  string
	Description         string
	OrganizationName    string
	Message             string
	LastModifiedAt      time.Time
	CreatedAt           time.Time
}

// TokenLast4 returns the last 4 characters of the authentication token for
// display purposes. The full token is never logged.
func (p *Pass) TokenLast4() string {
	if len(p.AuthenticationToken) < 4 {
		return p.AuthenticationToken
	}
	return p.AuthenticationToken[len(p.AuthenticationToken)-4:]
}

// UpdatedSince reports whether the pass changed strictly after t.
func (p *Pass) UpdatedSince(t time.Time) bool {
	return p.LastModifiedAt.After(t)
}
