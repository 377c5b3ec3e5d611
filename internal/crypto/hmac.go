package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Request signing headers.
const (
	HeaderAPIKey    = "X-TC-API-KEY"
	HeaderTimestamp = "X-TC-TIMESTAMP"
	HeaderSignature = "X-TC-SIGNATURE"
)

// RequestSigner signs broker requests as
// base64(HMAC-SHA256(secret, timestamp+method+path+body)).
type RequestSigner struct {
	Key    string
	Secret string
	now    func() time.Time
}

// NewRequestSigner creates a RequestSigner.
func NewRequestSigner(key, secret string) *RequestSigner {
	return &RequestSigner{Key: key, Secret: secret, now: time.Now}
}

// Headers returns the auth headers for one request.
func (s *RequestSigner) Headers(method, path string, body []byte) map[string]string {
	return s.HeadersAt(method, path, body, s.now().Unix())
}

// HeadersAt is Headers with an explicit Unix timestamp.
func (s *RequestSigner) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    s.Key,
		HeaderTimestamp: ts,
		HeaderSignature: Sign([]byte(s.Secret), ts+method+path+string(body)),
	}
}

// Verify reports whether sig matches the request, comparing in constant time.
func (s *RequestSigner) Verify(method, path string, body []byte, ts, sig string) bool {
	want := Sign([]byte(s.Secret), ts+method+path+string(body))
	return hmac.Equal([]byte(want), []byte(sig))
}

// Sign returns the base64 HMAC-SHA256 of message under key.
func Sign(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String redacts the credentials.
func (s *RequestSigner) String() string {
	redact := func(v string) string {
		if len(v) <= 4 {
			return "****"
		}
		return v[:4] + "****"
	}
	return fmt.Sprintf("RequestSigner{key=%s, secret=%s}", redact(s.Key), redact(s.Secret))
}
