package signing

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSigner(t *testing.T) {
	_, err := NewSigner("")
	assert.Error(t, err)

	_, err = NewSigner("zz")
	assert.Error(t, err)

	_, err = NewSigner("abcd")
	assert.Error(t, err, "valid hex but not a DER EC key")
}

func TestSignVerifies(t *testing.T) {
	hexKey, err := GenerateKey()
	require.NoError(t, err)

	signer, err := NewSigner(hexKey)
	require.NoError(t, err)

	payload := []byte("export payload")
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	der, err := hex.DecodeString(hexKey)
	require.NoError(t, err)
	priv, err := x509.ParseECPrivateKey(der)
	require.NoError(t, err)

	digest := sha256.Sum256(payload)
	assert.True(t, ecdsa.VerifyASN1(&priv.PublicKey, digest[:], sig))
}
