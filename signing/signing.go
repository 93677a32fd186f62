// Package signing produces the detached ECDSA P-256 signatures that
// accompany every exported batch.
package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
)

// Identification advertised alongside each signature so consumers can pick
// the matching verification key.
const (
	AppBundleID            = "com.exposafe.app"
	AndroidPackage         = "com.exposafe.app"
	SignatureAlgorithm     = "1.2.840.10045.4.3.2" // ecdsa-with-SHA256
	VerificationKeyVersion = "v1"
	VerificationKeyID      = "302"
)

// Signer signs export payloads.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

type ecdsaSigner struct {
	priv *ecdsa.PrivateKey
}

// NewSigner parses a hex-encoded SEC 1 (ASN.1 DER) EC private key and returns
// a SHA-256/P-256 signer.
func NewSigner(hexKey string) (Signer, error) {
	if hexKey == "" {
		return nil, errors.New("signing: no key configured")
	}
	der, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signing: key is not valid hex: %w", err)
	}
	priv, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("signing: parse EC private key: %w", err)
	}
	return &ecdsaSigner{priv: priv}, nil
}

func (s *ecdsaSigner) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return s.priv.Sign(rand.Reader, digest[:], crypto.SHA256)
}

// GenerateKey creates a fresh P-256 key and returns it hex-encoded in the
// format NewSigner accepts.
func GenerateKey() (string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(der), nil
}
