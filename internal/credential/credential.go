// Package credential encrypts backend passwords before they are handed to
// the Stager, which holds the matching private key.
package credential

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ErrNoKey is returned by a nil Encryptor, i.e. when no key is configured.
var ErrNoKey = errors.New("no public key configured for credential encryption")

// Encryptor encrypts strings with an RSA public key.
type Encryptor struct {
	key *rsa.PublicKey
}

// Load reads a PEM encoded RSA public key, either PKIX ("PUBLIC KEY") or
// PKCS#1 ("RSA PUBLIC KEY"). An empty path yields a nil Encryptor.
func Load(path string) (*Encryptor, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return Parse(data)
}

// Parse decodes a PEM encoded RSA public key.
func Parse(data []byte) (*Encryptor, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("public key: no PEM block found")
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#1 public key: %w", err)
		}
		return &Encryptor{key: key}, nil
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKIX public key: %w", err)
		}
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA", pub)
		}
		return &Encryptor{key: key}, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// EncryptString returns the base64 (standard encoding) PKCS#1 v1.5
// ciphertext of s.
func (e *Encryptor) EncryptString(s string) (string, error) {
	if e == nil {
		return "", ErrNoKey
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, e.key, []byte(s))
	if err != nil {
		return "", fmt.Errorf("encrypt credential: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}
