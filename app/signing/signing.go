package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"

	DefaultTolerance = 300 * time.Second
)

var (
	ErrMissingSignature  = errors.New("timestamp and signature must be sent together")
	ErrInvalidTimestamp  = errors.New("invalid signature timestamp")
	ErrStaleTimestamp    = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Timestamp renders t the way X-Timestamp carries it (unix milliseconds).
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Sign returns the hex HMAC-SHA256 of timestamp + "." + body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type Verifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// Verify checks a signed request. Both headers empty means the request was not signed and
// is accepted only when body is empty.
func (v Verifier) Verify(timestamp, signature string, body []byte) error {
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.TrimSpace(signature)

	if timestamp == "" && signature == "" {
		if len(body) == 0 {
			return nil
		}
		return ErrMissingSignature
	}
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}

	tsMillis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	skew := now().Sub(time.UnixMilli(tsMillis))
	if skew > tolerance || -skew > tolerance {
		return ErrStaleTimestamp
	}

	candidate, err := hex.DecodeString(signature)
	if err != nil {
		return ErrSignatureMismatch
	}
	expected, _ := hex.DecodeString(Sign(v.Secret, timestamp, body))
	if !hmac.Equal(candidate, expected) {
		return ErrSignatureMismatch
	}
	return nil
}
