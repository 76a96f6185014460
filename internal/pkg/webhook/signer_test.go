package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignIsDeterministic(t *testing.T) {
	payload := []byte(`{"type":"payment.confirmed","data":{"payment":{"id":"pay_1"}},"timestamp":"2026-05-01T12:00:00Z"}`)

	first := Sign(payload, "whsec_abc")
	second := Sign(payload, "whsec_abc")

	assert.Equal(t, first, second)
	assert.Len(t, first, 64, "hex-encoded sha256 digest")
}

func TestSignDependsOnPayloadAndSecret(t *testing.T) {
	payload := []byte(`{"type":"payment.confirmed"}`)

	assert.NotEqual(t, Sign(payload, "whsec_abc"), Sign(payload, "whsec_xyz"))
	assert.NotEqual(t, Sign(payload, "whsec_abc"), Sign([]byte(`{"type":"payment.failed"}`), "whsec_abc"))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"type":"payment.created"}`)
	secret := "whsec_0011223344"
	sig := Sign(payload, secret)

	assert.True(t, VerifySignature(payload, sig, secret))
	assert.True(t, VerifySignature(payload, " "+sig+" ", secret), "surrounding whitespace tolerated")

	assert.False(t, VerifySignature(payload, sig, "whsec_other"))
	assert.False(t, VerifySignature([]byte(`{"type":"payment.failed"}`), sig, secret))
	assert.False(t, VerifySignature(payload, "", secret))
	assert.False(t, VerifySignature(payload, "not-hex!", secret))
	assert.False(t, VerifySignature(payload, sig, ""))
}
