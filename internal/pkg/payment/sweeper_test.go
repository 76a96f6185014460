package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anshitraj/arcpay-core/app/models"
)

func TestSweepOnceExpiresPastDueIntents(t *testing.T) {
	m, intents, _, _ := newTestMachine(t)
	sweeper := NewExpirySweeper(m, intents)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	overdue := mustCreateIntent(t, m)
	setExpiry(t, intents, overdue.ID, &past)

	current := mustCreateIntent(t, m)
	setExpiry(t, intents, current.ID, &future)

	open := mustCreateIntent(t, m)

	settled := mustCreateIntent(t, m)
	setExpiry(t, intents, settled.ID, &past)
	_, err := intents.TransitionStatus(settled.ID, models.PaymentStatusCreated, models.PaymentStatusConfirmed, nil, nil)
	require.NoError(t, err)

	sweeper.SweepOnce()

	assertStatus(t, intents, overdue.ID, models.PaymentStatusExpired)
	assertStatus(t, intents, current.ID, models.PaymentStatusCreated)
	assertStatus(t, intents, open.ID, models.PaymentStatusCreated)
	assertStatus(t, intents, settled.ID, models.PaymentStatusConfirmed)
}

func setExpiry(t *testing.T, intents *memIntentRepo, id string, at *time.Time) {
	t.Helper()
	intent, err := intents.GetByID(id)
	require.NoError(t, err)
	intent.ExpiresAt = at
	require.NoError(t, intents.Update(intent))
}

func assertStatus(t *testing.T, intents *memIntentRepo, id, want string) {
	t.Helper()
	intent, err := intents.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, want, intent.Status, id)
}
