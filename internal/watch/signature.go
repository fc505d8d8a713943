package watch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// SignPayload computes the signature header value for an outbound
// webhook body: "sha256=" followed by the hex HMAC-SHA256 of the raw
// body under the shared secret.
func SignPayload(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound signature header against the raw
// request body. Comparison is constant-time; a missing or malformed
// header fails closed.
func VerifySignature(secret, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(header), []byte(expected))
}
