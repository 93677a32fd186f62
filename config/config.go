// Package config collects the tunables shared by the submission and retrieval
// services. Values are populated from CLI flags in cmd/; Default returns the
// production defaults.
package config

import "time"

type Config struct {
	// InitialRemainingKeys is the diagnosis-key quota assigned to a keypair
	// when its one-time code is claimed.
	InitialRemainingKeys int

	// MaxKeysInUpload bounds the number of keys in a single upload.
	MaxKeysInUpload int

	// MaxConsecutiveClaimFailures is the number of failed claim attempts an
	// origin gets before it is temporarily banned.
	MaxConsecutiveClaimFailures int

	// ClaimBanDuration is how long an origin stays banned after exhausting
	// its claim attempts.
	ClaimBanDuration time.Duration

	// OneTimeCodeLifetime is how long an unclaimed code stays redeemable.
	OneTimeCodeLifetime time.Duration

	// KeypairValidityDays is the number of days after creation during which a
	// claimed keypair can still upload. Whether the window is 14 or 15 days
	// inclusive is deliberately configurable; the upstream protocol documents
	// the boundary as ambiguous.
	KeypairValidityDays int

	// RetentionDays is the horizon past which diagnosis keys and outbreak
	// events are expired, and the oldest retrieval window served.
	RetentionDays int

	// ExpirationInterval is the sweep interval of the expiration worker.
	ExpirationInterval time.Duration

	// NonceLifetime is how long an event nonce stays valid.
	NonceLifetime time.Duration

	// Region is the region code stamped on persisted keys and exports.
	Region string

	// EnablePeriodBundle allows date number 00000 to serve the entire
	// retention window as a single bundle.
	EnablePeriodBundle bool

	// CORSAllowOrigin is the Access-Control-Allow-Origin value served on the
	// code-issuance endpoints.
	CORSAllowOrigin string
}

func Default() Config {
	return Config{
		InitialRemainingKeys:        14,
		MaxKeysInUpload:             14,
		MaxConsecutiveClaimFailures: 8,
		ClaimBanDuration:            time.Hour,
		OneTimeCodeLifetime:         24 * time.Hour,
		KeypairValidityDays:         14,
		RetentionDays:               14,
		ExpirationInterval:          30 * time.Second,
		NonceLifetime:               time.Hour,
		Region:                      "302",
		EnablePeriodBundle:          false,
		CORSAllowOrigin:             "*",
	}
}
