package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// APIKeyHeader carries the API key on signed exchange requests.
const APIKeyHeader = "X-MBX-APIKEY"

// HMACAuth holds exchange API credentials and signs query strings with
// HMAC-SHA256, hex encoded.
type HMACAuth struct {
	Key    string
	Secret string
}

// Valid reports whether both key and secret are present.
func (h *HMACAuth) Valid() bool {
	return h != nil && h.Key != "" && h.Secret != ""
}

// Sign returns hex(HMAC-SHA256(secret, payload)).
func (h *HMACAuth) Sign(payload string) string {
	return hmacSHA256Hex([]byte(h.Secret), payload)
}

// SignQuery appends timestamp (client clock, milliseconds) and the signature
// over the full resulting query string.
func (h *HMACAuth) SignQuery(query string) string {
	return h.SignQueryAt(query, time.Now().UnixMilli())
}

// SignQueryAt is like SignQuery but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (h *HMACAuth) SignQueryAt(query string, unixMillis int64) string {
	if query != "" {
		query += "&"
	}
	query += "timestamp=" + strconv.FormatInt(unixMillis, 10)
	return query + "&signature=" + h.Sign(query)
}

// Headers returns the authentication headers for a signed request.
func (h *HMACAuth) Headers() map[string]string {
	return map[string]string{APIKeyHeader: h.Key}
}

func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
