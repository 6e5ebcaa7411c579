package pkpass

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// CommandSignFunc returns a SignFunc that shells out to openssl to produce
// the detached PKCS#7 signature over the manifest. The pass type certificate,
// its private key, and the WWDR intermediate stay on disk, never in process
// configuration.
func CommandSignFunc(certFile, keyFile, wwdrFile string) SignFunc {
	return func(manifest []byte) ([]byte, error) {
		dir, err := os.MkdirTemp("", "pkpass-sign")
		if err != nil {
			return nil, fmt.Errorf("create signing dir: %w", err)
		}
		defer os.RemoveAll(dir)

		manifestPath := filepath.Join(dir, "manifest.json")
		if err := os.WriteFile(manifestPath, manifest, 0o600); err != nil {
			return nil, fmt.Errorf("write manifest: %w", err)
		}
		signaturePath := filepath.Join(dir, "signature")

		cmd := exec.Command("openssl", "smime", "-binary", "-sign",
			"-certfile", wwdrFile,
			"-signer", certFile,
			"-inkey", keyFile,
			"-in", manifestPath,
			"-out", signaturePath,
			"-outform", "DER",
		)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("openssl sign: %w: %s", err, stderr.String())
		}

		signature, err := os.ReadFile(signaturePath)
		if err != nil {
			return nil, fmt.Errorf("read signature: %w", err)
		}
		return signature, nil
	}
}
