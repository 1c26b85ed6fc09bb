package pki

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// ProvideCA is a Wire provider that loads CA material from certPath and
// keyPath. Unlike the teacher's discovery-agent CA, this proxy's root
// CA is an external trust anchor the operator installs in client trust
// stores: a missing CA file is a fatal startup condition, never
// silently generated.
func ProvideCA(certPath, keyPath string) (*CA, error) {
	return LoadCAFromFiles(certPath, keyPath)
}

// Bootstrap generates a new CA and writes its certificate and key to
// certPath/keyPath, failing if either already exists. It is a one-time
// provisioning step: the server startup path never invokes it, and no
// CLI subcommand calls it.
func Bootstrap(certPath, keyPath string) (*CA, error) {
	if _, err := os.Stat(certPath); err == nil {
		return nil, fmt.Errorf("pki: %s already exists, refusing to overwrite", certPath)
	}
	if _, err := os.Stat(keyPath); err == nil {
		return nil, fmt.Errorf("pki: %s already exists, refusing to overwrite", keyPath)
	}

	ca, err := NewCA()
	if err != nil {
		return nil, fmt.Errorf("pki: generate CA: %w", err)
	}

	keyPEM, err := ca.KeyPEM()
	if err != nil {
		return nil, fmt.Errorf("pki: export CA key: %w", err)
	}

	if dir := filepath.Dir(certPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("pki: create CA dir: %w", err)
		}
	}

	if err := atomicWriteFile(certPath, ca.CertPEM(), 0o644); err != nil {
		return nil, fmt.Errorf("pki: write CA cert: %w", err)
	}
	if err := atomicWriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("pki: write CA key: %w", err)
	}

	return ca, nil
}

// atomicWriteFile writes data to a temporary file beside path, then
// renames it into place, so a crash mid-write never leaves a
// partially written CA file on disk.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// parsePrivateKey accepts PKCS#1, PKCS#8, or SEC1/EC PEM blocks for a
// CA signing key.
func parsePrivateKey(block *pem.Block) (any, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		return x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		// Some tools omit a precise PEM type; fall back to trying
		// each parser in turn.
		if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
			return k, nil
		}
		if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			return k, nil
		}
		if k, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
			return k, nil
		}
		return nil, fmt.Errorf("pki: unrecognized private key PEM type %q", block.Type)
	}
}

func publicKeysEqual(certPub any, key any) bool {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		pub, ok := certPub.(*rsa.PublicKey)
		return ok && pub.Equal(&k.PublicKey)
	case *ecdsa.PrivateKey:
		pub, ok := certPub.(*ecdsa.PublicKey)
		return ok && pub.Equal(&k.PublicKey)
	default:
		return false
	}
}
