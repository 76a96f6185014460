package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"Simple integer", "10", false},
		{"Two decimal places", "99.00", false},
		{"Six decimal places", "0.000001", false},
		{"Whitespace tolerated", " 10.00 ", false},
		{"Zero", "0", true},
		{"Negative", "-5.00", true},
		{"Empty", "", true},
		{"Not a number", "ten", true},
		{"Float artifact", "10.0.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(tt.amount)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeMode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"test", ModeTest},
		{"live", ModeLive},
		{"TEST", ModeTest},
		{" live ", ModeLive},
		{"", ModeLegacy},
		{"unknown", ModeLegacy},
	}

	for _, tt := range tests {
		if got := NormalizeMode(tt.in); got != tt.want {
			t.Fatalf("NormalizeMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewPaymentIntent(t *testing.T) {
	intent, err := NewPaymentIntent("10.00", "USDC", "", "0xMerchant", "test")
	require.NoError(t, err)

	assert.True(t, len(intent.ID) > 4 && intent.ID[:4] == "pay_")
	assert.Equal(t, PaymentStatusCreated, intent.Status)
	assert.Equal(t, "USDC", intent.SettlementCurrency)
	assert.Equal(t, ModeTest, intent.Mode)
	assert.False(t, intent.IsTerminal())
}

func TestNewPaymentIntentRejectsBadAmount(t *testing.T) {
	_, err := NewPaymentIntent("-1", "USDC", "", "0xMerchant", "test")
	assert.Error(t, err)
}

func TestIsTerminalStatus(t *testing.T) {
	for _, status := range []string{PaymentStatusFailed, PaymentStatusExpired, PaymentStatusRefunded} {
		assert.True(t, IsTerminalStatus(status), status)
	}
	// Confirmed still allows the refund branch.
	for _, status := range []string{PaymentStatusCreated, PaymentStatusPending, PaymentStatusConfirmed} {
		assert.False(t, IsTerminalStatus(status), status)
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&PaymentIntent{}).IsExpired(now), "no expiry never expires")
	assert.True(t, (&PaymentIntent{ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&PaymentIntent{ExpiresAt: &future}).IsExpired(now))
}
