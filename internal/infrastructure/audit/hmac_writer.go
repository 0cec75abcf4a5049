package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// signPayload returns base64(HMAC-SHA256(key, payload)).
func signPayload(payload []byte, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyPayload reports whether signature was produced by signPayload with key.
func VerifyPayload(payload []byte, signature, key string) bool {
	want, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), want)
}
