package store

import "time"

// EncryptionKeypair is one issued NaCl keypair. Before the claim the row
// carries the one-time code (and optionally a hash id); claiming nulls the
// code and binds the client's public key in its place.
type EncryptionKeypair struct {
	ID               uint64  `gorm:"primaryKey"`
	ServerPublicKey  []byte  `gorm:"uniqueIndex;size:32"`
	ServerPrivateKey []byte  `gorm:"size:32"`
	AppPublicKey     []byte  `gorm:"uniqueIndex;size:32"`
	OneTimeCode      *string `gorm:"uniqueIndex;size:8"`
	HashID           *string `gorm:"uniqueIndex;size:128"`
	Region           string  `gorm:"size:32"`
	Originator       string  `gorm:"size:32"`
	RemainingKeys    uint32
	Created          time.Time
}

// DiagnosisKey is one reported temporary exposure key. The (key_data, region)
// pair is unique and re-uploads are ignored.
type DiagnosisKey struct {
	ID                         uint64 `gorm:"primaryKey"`
	Region                     string `gorm:"size:32;uniqueIndex:idx_key_data_region"`
	Originator                 string `gorm:"size:32"`
	KeyData                    []byte `gorm:"size:16;uniqueIndex:idx_key_data_region"`
	RollingStartIntervalNumber int32
	RollingPeriod              int32
	TransmissionRiskLevel      int32
	HourOfSubmission           uint32 `gorm:"index"`
}

// FailedClaimAttempt counts consecutive failed claims per request origin.
type FailedClaimAttempt struct {
	Identifier  string `gorm:"primaryKey;size:64"`
	Failures    uint32
	LastFailure time.Time
}

// OutbreakEvent marks a venue as an exposure site for a time window.
type OutbreakEvent struct {
	ID         uint64 `gorm:"primaryKey"`
	LocationID string `gorm:"size:36;index"`
	Originator string `gorm:"size:32"`
	StartTime  time.Time
	EndTime    time.Time
	Severity   uint32
	Created    time.Time `gorm:"index"`
}

// EventNonce is a one-time nonce handed to devices before they report an
// event. Expired by the background worker.
type EventNonce struct {
	Nonce   string `gorm:"primaryKey;size:64"`
	Created time.Time
}

// MetricEvent is a daily audit counter, keyed by originator, event
// identifier, device type and date.
type MetricEvent struct {
	ID         uint64 `gorm:"primaryKey"`
	Originator string `gorm:"size:32;uniqueIndex:idx_metric_event"`
	Identifier string `gorm:"size:32;uniqueIndex:idx_metric_event"`
	DeviceType string `gorm:"size:16;uniqueIndex:idx_metric_event"`
	Date       string `gorm:"size:10;uniqueIndex:idx_metric_event"`
	Count      uint64
}

// Metric event identifiers.
const (
	EventOTKGenerated = "OTKGenerated"
	EventOTKClaimed   = "OTKClaimed"
	EventOTKExpired   = "OTKExpired"
	EventOTKExhausted = "OTKExhausted"
	EventKeysUploaded = "KeysUploaded"
	EventDeviceEvent  = "DeviceEvent"
)

// DeviceTypeServer marks metric events recorded server-side rather than
// reported by a device.
const DeviceTypeServer = "Server"
