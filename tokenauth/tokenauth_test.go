package tokenauth

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("foobaz")
	assert.Error(t, err)

	_, err = New(strings.Repeat("a", 64) + "=302")
	assert.Error(t, err, "token longer than 63 characters must be rejected")

	_, err = New(strings.Repeat("a", 19) + "=302")
	assert.Error(t, err, "token shorter than 20 characters must be rejected")

	_, err = New(strings.Repeat("a", 20) + "=" + strings.Repeat("r", 32))
	assert.Error(t, err, "region longer than 31 characters must be rejected")

	auth, err := New(strings.Repeat("a", 20) + "=302:" + strings.Repeat("b", 20) + "=204")
	require.NoError(t, err)

	region, err := auth.Authenticate(strings.Repeat("a", 20))
	require.NoError(t, err)
	assert.Equal(t, "302", region)

	region, err = auth.Authenticate(strings.Repeat("b", 20))
	require.NoError(t, err)
	assert.Equal(t, "204", region)

	_, err = auth.Authenticate(strings.Repeat("c", 20))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRegionFromRequest(t *testing.T) {
	token := strings.Repeat("a", 20)
	auth, err := New(token + "=302")
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/new-key-claim", nil)
	_, err = auth.RegionFromRequest(req)
	assert.ErrorIs(t, err, ErrUnauthorized, "missing header")

	req.Header.Set("Authorization", token)
	_, err = auth.RegionFromRequest(req)
	assert.ErrorIs(t, err, ErrUnauthorized, "missing Bearer prefix")

	req.Header.Set("Authorization", "Bearer "+token)
	region, err := auth.RegionFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "302", region)
}
