package pkpass_test

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // manifest format
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/passrelay/passrelay/internal/pass"
	"github.com/passrelay/passrelay/internal/pkpass"
)

func testSigner() *pkpass.BundleSigner {
	return pkpass.NewBundleSigner(pkpass.BundleSignerConfig{
		WebServiceURL: "https://passes.example.com",
		TeamID:        "TEAM456",
		SignManifest: func(manifest []byte) ([]byte, error) {
			// Stand-in for the PKCS#7 signature; the format is opaque here.
			sum := sha1.Sum(manifest) //nolint:gosec
			return append([]byte("sig:"), sum[:]...), nil
		},
	})
}

func testPass() *pass.Pass {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &pass.Pass{
		SerialNumber:        "S1",
		AuthenticationToken: "token1",
		PassTypeIdentifier:  "pass.example.card",
		Description:         "Test pass",
		OrganizationName:    "Acme",
		Message:             "hello",
		LastModifiedAt:      now,
		CreatedAt:           now,
	}
}

func readBundle(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("bundle is not a zip archive: %v", err)
	}

	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("failed to read %s: %v", f.Name, err)
		}
		files[f.Name] = content
	}
	return files
}

func TestBundleSigner_Sign(t *testing.T) {
	data, err := testSigner().Sign(context.Background(), testPass())
	if err != nil {
		t.Fatalf("failed to sign bundle: %v", err)
	}

	files := readBundle(t, data)

	for _, name := range []string{"pass.json", "manifest.json", "signature"} {
		if _, ok := files[name]; !ok {
			t.Errorf("expected bundle to contain %s", name)
		}
	}
}

func TestBundleSigner_PassJSON(t *testing.T) {
	data, err := testSigner().Sign(context.Background(), testPass())
	if err != nil {
		t.Fatalf("failed to sign bundle: %v", err)
	}

	files := readBundle(t, data)

	var doc map[string]interface{}
	if err := json.Unmarshal(files["pass.json"], &doc); err != nil {
		t.Fatalf("pass.json is not valid JSON: %v", err)
	}

	if doc["formatVersion"] != float64(1) {
		t.Errorf("expected formatVersion 1, got %v", doc["formatVersion"])
	}
	if doc["serialNumber"] != "S1" {
		t.Errorf("expected serialNumber S1, got %v", doc["serialNumber"])
	}
	if doc["passTypeIdentifier"] != "pass.example.card" {
		t.Errorf("expected passTypeIdentifier, got %v", doc["passTypeIdentifier"])
	}
	if doc["teamIdentifier"] != "TEAM456" {
		t.Errorf("expected teamIdentifier TEAM456, got %v", doc["teamIdentifier"])
	}
	if doc["webServiceURL"] != "https://passes.example.com" {
		t.Errorf("expected webServiceURL, got %v", doc["webServiceURL"])
	}
	if doc["authenticationToken"] != "token1" {
		t.Errorf("expected authenticationToken, got %v", doc["authenticationToken"])
	}

	generic, ok := doc["generic"].(map[string]interface{})
	if !ok {
		t.Fatal("expected generic pass style")
	}
	primary, ok := generic["primaryFields"].([]interface{})
	if !ok || len(primary) != 1 {
		t.Fatalf("expected one primary field, got %v", generic["primaryFields"])
	}
	field := primary[0].(map[string]interface{})
	if field["value"] != "hello" {
		t.Errorf("expected message value in primary field, got %v", field["value"])
	}
}

func TestBundleSigner_ManifestDigests(t *testing.T) {
	data, err := testSigner().Sign(context.Background(), testPass())
	if err != nil {
		t.Fatalf("failed to sign bundle: %v", err)
	}

	files := readBundle(t, data)

	var manifest map[string]string
	if err := json.Unmarshal(files["manifest.json"], &manifest); err != nil {
		t.Fatalf("manifest.json is not valid JSON: %v", err)
	}

	sum := sha1.Sum(files["pass.json"]) //nolint:gosec
	want := hex.EncodeToString(sum[:])
	if manifest["pass.json"] != want {
		t.Errorf("expected manifest digest %s for pass.json, got %s", want, manifest["pass.json"])
	}

	// The manifest covers bundle files, never itself or the signature.
	if _, ok := manifest["manifest.json"]; ok {
		t.Error("manifest must not list itself")
	}
	if _, ok := manifest["signature"]; ok {
		t.Error("manifest must not list the signature")
	}
}

func TestBundleSigner_SignatureCoversManifest(t *testing.T) {
	data, err := testSigner().Sign(context.Background(), testPass())
	if err != nil {
		t.Fatalf("failed to sign bundle: %v", err)
	}

	files := readBundle(t, data)

	sum := sha1.Sum(files["manifest.json"]) //nolint:gosec
	want := append([]byte("sig:"), sum[:]...)
	if !bytes.Equal(files["signature"], want) {
		t.Error("expected signature to be produced over the manifest bytes")
	}
}

func TestBundleSigner_SignError(t *testing.T) {
	wantErr := errors.New("hsm offline")
	signer := pkpass.NewBundleSigner(pkpass.BundleSignerConfig{
		TeamID: "TEAM456",
		SignManifest: func([]byte) ([]byte, error) {
			return nil, wantErr
		},
	})

	_, err := signer.Sign(context.Background(), testPass())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected signing error to propagate, got %v", err)
	}
}
