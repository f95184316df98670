package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrSecretRequired   = errors.New("webhook: secret is not configured")
	ErrBadSignature     = errors.New("webhook: signature mismatch")
	ErrSignatureMissing = errors.New("webhook: signature header missing")
)

// WebhookVerifier authenticates asynchronous callbacks from the payment
// processor via HMAC-SHA256 over the raw payload.
type WebhookVerifier struct {
	Secret []byte
}

func (v WebhookVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v WebhookVerifier) Verify(payload []byte, signature string) error {
	if len(v.Secret) == 0 {
		return ErrSecretRequired
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrSignatureMissing
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrBadSignature
	}
	return nil
}
