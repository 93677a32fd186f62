// Package tokenauth validates the bearer tokens that healthcare-provider
// portals use against the submission endpoints. Tokens are configured as
// colon-separated `token=region` pairs.
package tokenauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	minTokenLength  = 20
	maxTokenLength  = 63
	maxRegionLength = 31
)

var ErrUnauthorized = errors.New("tokenauth: unauthorized")

// Authenticator maps bearer tokens to the region (originator) each token is
// allowed to issue codes for.
type Authenticator struct {
	tokens map[string]string
}

// New parses a `token=region:token=region` list. Every token must be 20 to 63
// characters and every region at most 31.
func New(raw string) (*Authenticator, error) {
	if raw == "" {
		return nil, errors.New("tokenauth: no tokens configured")
	}

	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ":") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("tokenauth: malformed token assignment %q", pair)
		}

		token, region := parts[0], parts[1]
		if len(token) < minTokenLength {
			return nil, errors.New("tokenauth: token too short")
		}
		if len(token) > maxTokenLength {
			return nil, errors.New("tokenauth: token too long")
		}
		if len(region) > maxRegionLength {
			return nil, errors.New("tokenauth: region too long")
		}

		tokens[token] = region
	}

	return &Authenticator{tokens: tokens}, nil
}

// Authenticate returns the region bound to the token, or ErrUnauthorized.
func (a *Authenticator) Authenticate(token string) (string, error) {
	region, ok := a.tokens[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return region, nil
}

// RegionFromRequest extracts and validates the Authorization bearer token of
// an incoming request.
func (a *Authenticator) RegionFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrUnauthorized
	}
	return a.Authenticate(token)
}
