package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign produces the v5 request signature: HMAC-SHA256 over
// timestamp + apiKey + recvWindow + payload, hex encoded. The payload is
// the raw query string for GETs and the JSON body for POSTs.
func Sign(secret, ts, apiKey, recvWindow, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}
