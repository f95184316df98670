package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSignVerifyRoundTrip(t *testing.T) {
	verifier := WebhookVerifier{Secret: []byte("top-secret")}
	payload := []byte(`{"event":"rental.confirmed","rental_id":"r-1"}`)

	signature := verifier.Sign(payload)
	require.NotEmpty(t, signature)
	assert.NoError(t, verifier.Verify(payload, signature))
}

func TestWebhookRejectsTamperedPayloads(t *testing.T) {
	verifier := WebhookVerifier{Secret: []byte("top-secret")}
	signature := verifier.Sign([]byte(`{"amount_cents":100}`))

	err := verifier.Verify([]byte(`{"amount_cents":10000}`), signature)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestWebhookRejectsForeignSecrets(t *testing.T) {
	ours := WebhookVerifier{Secret: []byte("top-secret")}
	theirs := WebhookVerifier{Secret: []byte("other-secret")}
	payload := []byte(`{"event":"rental.confirmed"}`)

	err := ours.Verify(payload, theirs.Sign(payload))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestWebhookRejectsMalformedSignatures(t *testing.T) {
	verifier := WebhookVerifier{Secret: []byte("top-secret")}

	assert.ErrorIs(t, verifier.Verify([]byte("x"), ""), ErrSignatureMissing)
	assert.ErrorIs(t, verifier.Verify([]byte("x"), "  \t"), ErrSignatureMissing)
	assert.ErrorIs(t, verifier.Verify([]byte("x"), "not-hex"), ErrBadSignature)
}

func TestWebhookRequiresConfiguredSecret(t *testing.T) {
	verifier := WebhookVerifier{}
	err := verifier.Verify([]byte("x"), "deadbeef")
	assert.ErrorIs(t, err, ErrSecretRequired)
}
