// Package identity manages the operator console's SSH host key.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	keyDirName  = "console"
	privKeyName = "host_key"
	pubKeyName  = "host_key.pub"
)

// HostKey is the ED25519 key the console presents to SSH clients.
type HostKey struct {
	PrivateKey  ed25519.PrivateKey
	Signer      ssh.Signer
	Fingerprint string // SHA256:... as printed by ssh-keygen -l
}

// Load reads the host key from dataDir/console/. A missing key is generated
// and persisted so the console keeps the same fingerprint across restarts.
func Load(dataDir string) (*HostKey, error) {
	keyDir := filepath.Join(dataDir, keyDirName)
	privPath := filepath.Join(keyDir, privKeyName)

	privPEM, err := os.ReadFile(privPath)
	if errors.Is(err, os.ErrNotExist) {
		return generate(keyDir)
	}
	if err != nil {
		return nil, fmt.Errorf("reading host key: %w", err)
	}
	return parse(privPEM)
}

func generate(keyDir string) (*HostKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating host key: %w", err)
	}
	hk, err := fromPrivate(priv)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("creating key dir: %w", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling host key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	if err := os.WriteFile(filepath.Join(keyDir, privKeyName), privPEM, 0600); err != nil {
		return nil, fmt.Errorf("writing host key: %w", err)
	}
	pubLine := ssh.MarshalAuthorizedKey(hk.Signer.PublicKey())
	if err := os.WriteFile(filepath.Join(keyDir, pubKeyName), pubLine, 0644); err != nil {
		return nil, fmt.Errorf("writing host public key: %w", err)
	}
	return hk, nil
}

func parse(privPEM []byte) (*HostKey, error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, errors.New("no PEM block found in host key")
	}
	raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing host key: %w", err)
	}
	priv, ok := raw.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("host key is %T, want ED25519", raw)
	}
	return fromPrivate(priv)
}

func fromPrivate(priv ed25519.PrivateKey) (*HostKey, error) {
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("creating SSH signer: %w", err)
	}
	return &HostKey{
		PrivateKey:  priv,
		Signer:      signer,
		Fingerprint: ssh.FingerprintSHA256(signer.PublicKey()),
	}, nil
}
