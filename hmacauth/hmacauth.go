// Package hmacauth verifies the keyed-hash auth parameter carried on
// retrieval URLs. The MAC covers the requested period plus the current UTC
// hour number; a request is accepted when it verifies against the current
// hour or either adjacent hour.
package hmacauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/exposafe/diagnosis-server/timeutil"
)

const keyLength = 32

var ErrKeyTooShort = errors.New("hmacauth: key must be at least 32 bytes")

// Authenticator verifies retrieval MACs with a shared secret.
type Authenticator struct {
	key []byte
	now func() time.Time
}

// New decodes the hex-encoded shared secret.
func New(hexKey string) (*Authenticator, error) {
	if len(hexKey) < hex.EncodedLen(keyLength) {
		return nil, ErrKeyTooShort
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.New("hmacauth: key is not valid hex")
	}
	return &Authenticator{key: key, now: time.Now}, nil
}

// AuthenticatePeriod verifies the MAC on a date-number retrieval request. The
// message is `region:dateNumber:hourNumber`.
func (a *Authenticator) AuthenticatePeriod(region, dateNumber, auth string) bool {
	return a.verify(region+":"+dateNumber+":", auth)
}

// AuthenticateDay verifies the MAC on a whole-day retrieval request. The
// message is `date:hourNumber` with an ISO 8601 date.
func (a *Authenticator) AuthenticateDay(date, auth string) bool {
	if len(date) != 10 {
		return false
	}
	return a.verify(date+":", auth)
}

// AuthenticateHour verifies the MAC on a single-hour retrieval request. The
// message is `date:hh:hourNumber`.
func (a *Authenticator) AuthenticateHour(date, hour, auth string) bool {
	if len(date) != 10 || len(hour) == 0 || len(hour) > 2 {
		return false
	}
	return a.verify(date+":"+hour+":", auth)
}

func (a *Authenticator) verify(messageBase, auth string) bool {
	if len(auth) != hex.EncodedLen(sha256.Size) {
		return false
	}
	mac, err := hex.DecodeString(auth)
	if err != nil {
		return false
	}

	hourNumber := int(timeutil.HourNumber(a.now()))
	for _, h := range []int{hourNumber, hourNumber - 1, hourNumber + 1} {
		if a.validMAC(messageBase+strconv.Itoa(h), mac) {
			return true
		}
	}
	return false
}

func (a *Authenticator) validMAC(message string, messageMAC []byte) bool {
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(message))
	return hmac.Equal(messageMAC, mac.Sum(nil))
}
