package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
// It authenticates operator requests; user actions carry EIP-712 signatures instead.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign returns the lowercase hex HMAC-SHA256 of payload under secretKey.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	return hex.EncodeToString(s.mac(secretKey, payload))
}

// Verify accepts signature in either hex case. The comparison is constant-time.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(s.mac(secretKey, payload), got)
}

// BuildCanonicalString constructs the canonical payload for signing.
// Format: METHOD|PATH|TIMESTAMP|NONCE|BODY
func (s *HMACSignatureService) BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s", method, path, timestamp, nonce, body)
}

func (s *HMACSignatureService) mac(secretKey, payload string) []byte {
	m := hmac.New(sha256.New, []byte(secretKey))
	m.Write([]byte(payload))
	return m.Sum(nil)
}
