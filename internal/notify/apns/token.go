package apns

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Apple rejects provider tokens older than an hour; refresh well before that.
const tokenLifetime = 50 * time.Minute

// ErrNotECDSAKey is returned when the provider key is not an ECDSA P-256 key.
var ErrNotECDSAKey = errors.New("APNs provider key is not an ECDSA key")

// ProviderToken issues and caches the ES256 JWTs APNs token-based
// authentication requires.
type ProviderToken struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string

	mu       sync.Mutex
	bearer   string
	issuedAt time.Time
}

// NewProviderToken parses a PEM-encoded PKCS#8 signing key (the .p8 file from
// the developer portal) and returns a token issuer for the given key and team.
func NewProviderToken(keyPEM []byte, keyID, teamID string) (*ProviderToken, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("APNs provider key is not valid PEM")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse APNs provider key: %w", err)
	}

	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, ErrNotECDSAKey
	}

	return &ProviderToken{key: key, keyID: keyID, teamID: teamID}, nil
}

// Bearer returns a current provider token, minting a fresh one when the
// cached token is near expiry.
func (t *ProviderToken) Bearer() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.bearer != "" && now.Sub(t.issuedAt) < tokenLifetime {
		return t.bearer, nil
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": t.teamID,
		"iat": now.Unix(),
	})
	token.Header["kid"] = t.keyID

	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign provider token: %w", err)
	}

	t.bearer = signed
	t.issuedAt = now
	return signed, nil
}
