// Package pkpass assembles signed .pkpass bundles.
//
// The bundle layout is Apple's: a zip archive containing pass.json, a
// manifest.json of SHA-1 digests for every other file, and a detached PKCS#7
// signature over the manifest. Producing that signature requires the pass type
// certificate and the WWDR intermediate, which stay outside this package
// behind SignFunc.
package pkpass

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // SHA-1 is what the PassKit manifest format mandates
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/passrelay/passrelay/internal/pass"
)

// ContentType is the media type Wallet expects for a pass bundle.
const ContentType = "application/vnd.apple.pkpass"

// Signer produces a signed bundle for a pass.
type Signer interface {
	Sign(ctx context.Context, p *pass.Pass) ([]byte, error)
}

// SignFunc produces a detached PKCS#7 signature over the manifest bytes.
type SignFunc func(manifest []byte) ([]byte, error)

// BundleSigner assembles pass bundles, delegating the manifest signature to
// an injected SignFunc.
type BundleSigner struct {
	webServiceURL string
	teamID        string
	signManifest  SignFunc
}

// BundleSignerConfig holds configuration for a BundleSigner.
type BundleSignerConfig struct {
	// WebServiceURL is the base URL devices call back for updates.
	WebServiceURL string

	// TeamID is the Apple developer team identifier embedded in pass.json.
	TeamID string

	// SignManifest signs the manifest. Required.
	SignManifest SignFunc
}

// NewBundleSigner creates a new BundleSigner.
func NewBundleSigner(cfg BundleSignerConfig) *BundleSigner {
	return &BundleSigner{
		webServiceURL: cfg.WebServiceURL,
		teamID:        cfg.TeamID,
		signManifest:  cfg.SignManifest,
	}
}

// passJSON is the serialized pass.json payload.
type passJSON struct {
	FormatVersion       int     `json:"formatVersion"`
	SerialNumber        string  `json:"serialNumber"`
	PassTypeIdentifier  string  `json:"passTypeIdentifier"`
	TeamIdentifier      string  `json:"teamIdentifier"`
	WebServiceURL       string  `json:"webServiceURL,omitempty"`
	AuthenticationToken string  `json:"authenticationToken"`
	Description         string  `json:"description"`
	OrganizationName    string  `json:"organizationName"`
	Generic             generic `json:"generic"`
}

type generic struct {
	PrimaryFields []field `json:"primaryFields"`
}

type field struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

// Sign serializes the pass fields and assembles the signed bundle.
func (s *BundleSigner) Sign(_ context.Context, p *pass.Pass) ([]byte, error) {
	doc := passJSON{
		FormatVersion:       1,
		SerialNumber:        p.SerialNumber,
		PassTypeIdentifier:  p.PassTypeIdentifier,
		TeamIdentifier:      s.teamID,
		WebServiceURL:       s.webServiceURL,
		AuthenticationToken: p.AuthenticationToken,
		Description:         p.Description,
		OrganizationName:    p.OrganizationName,
		Generic: generic{
			PrimaryFields: []field{
				{Key: "message", Label: "Message", Value: p.Message},
			},
		},
	}

	passData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal pass.json: %w", err)
	}

	return s.assemble(map[string][]byte{"pass.json": passData})
}

// assemble builds manifest.json over the given files, signs it, and zips
// everything into the final bundle.
func (s *BundleSigner) assemble(files map[string][]byte) ([]byte, error) {
	manifest := make(map[string]string, len(files))
	for name, data := range files {
		sum := sha1.Sum(data) //nolint:gosec // manifest format
		manifest[name] = hex.EncodeToString(sum[:])
	}

	manifestData, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	signature, err := s.signManifest(manifestData)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	entries := map[string][]byte{
		"manifest.json": manifestData,
		"signature":     signature,
	}
	for name, data := range files {
		entries[name] = data
	}

	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close bundle: %w", err)
	}

	return buf.Bytes(), nil
}

// Ensure BundleSigner implements Signer.
var _ Signer = (*BundleSigner)(nil)
