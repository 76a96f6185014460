package apikeys

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/internal/pkg/cache"
)

// memKeyRepo is an in-memory ApiKeyRepository.
type memKeyRepo struct {
	mu    sync.Mutex
	keys  map[string]*models.ApiKey
	audit []models.ApiKeyAuditEntry
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{keys: make(map[string]*models.ApiKey)}
}

func (r *memKeyRepo) CreatePair(publishable, secret *models.ApiKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pub, sec := *publishable, *secret
	r.keys[pub.ID] = &pub
	r.keys[sec.ID] = &sec
	return nil
}

func (r *memKeyRepo) GetByID(id string) (*models.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *key
	return &cp, nil
}

func (r *memKeyRepo) GetBySecretHash(hash string) (*models.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if key.KeyType == models.KeyTypeSecret && key.SecretHash == hash {
			cp := *key
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memKeyRepo) ListByMode(mode string) ([]models.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ApiKey
	for _, key := range r.keys {
		if key.Mode == mode {
			out = append(out, *key)
		}
	}
	return out, nil
}

func (r *memKeyRepo) CountPairsByMode(mode string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pairs := make(map[string]struct{})
	for _, key := range r.keys {
		if key.Mode == mode {
			pairs[key.PairID] = struct{}{}
		}
	}
	return int64(len(pairs)), nil
}

func (r *memKeyRepo) Update(key *models.ApiKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *key
	r.keys[key.ID] = &cp
	return nil
}

func (r *memKeyRepo) DeletePair(pairID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, key := range r.keys {
		if key.PairID == pairID {
			delete(r.keys, id)
		}
	}
	return nil
}

func (r *memKeyRepo) TouchLastUsed(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.keys[id]; ok {
		key.LastUsedAt = &at
	}
	return nil
}

func (r *memKeyRepo) AppendAudit(entry *models.ApiKeyAuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, *entry)
	return nil
}

func (r *memKeyRepo) ListAudit(keyID string) ([]models.ApiKeyAuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ApiKeyAuditEntry
	for _, entry := range r.audit {
		if entry.KeyID == keyID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func newTestManager(t *testing.T) (*Manager, *memKeyRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.SetClient(nil) })

	repo := newMemKeyRepo()
	return NewManager(repo, NewSecretStore()), repo
}

func TestCreatePairIssuesBothKeys(t *testing.T) {
	m, repo := newTestManager(t)

	pair, err := m.CreatePair(models.KeyModeTest, "Checkout", "dashboard")
	require.NoError(t, err)

	assert.Equal(t, pair.Publishable.PairID, pair.Secret.PairID)
	assert.Equal(t, models.KeyTypePublishable, pair.Publishable.KeyType)
	assert.Equal(t, models.KeyTypeSecret, pair.Secret.KeyType)
	assert.Contains(t, pair.PublishableKey, "pk_test_")
	assert.Contains(t, pair.SecretKey, "sk_test_")

	// Only hashes are at rest.
	stored, err := repo.GetByID(pair.Secret.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HashAPIKey(pair.SecretKey), stored.SecretHash)
	assert.NotContains(t, stored.Prefix, pair.SecretKey)

	audit, err := repo.ListAudit(pair.Secret.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "create", audit[0].Action)
	assert.Equal(t, "dashboard", audit[0].Principal)
}

func TestCreatePairEnforcesPerModeLimit(t *testing.T) {
	m, _ := newTestManager(t)

	for i := 0; i < MaxPairsPerMode; i++ {
		_, err := m.CreatePair(models.KeyModeTest, "", "dashboard")
		require.NoError(t, err)
	}

	_, err := m.CreatePair(models.KeyModeTest, "", "dashboard")
	assert.ErrorIs(t, err, ErrLimitExceeded)

	// The limit is per mode; live still has room.
	_, err = m.CreatePair(models.KeyModeLive, "", "dashboard")
	assert.NoError(t, err)
}

func TestCreatePairRejectsUnknownMode(t *testing.T) {
	m, _ := newTestManager(t)

	for _, mode := range []string{"", "legacy", "production"} {
		_, err := m.CreatePair(mode, "", "dashboard")
		assert.ErrorIs(t, err, ErrInvalidMode, mode)
	}
}

func TestRevealIsOneShot(t *testing.T) {
	m, _ := newTestManager(t)
	pair, err := m.CreatePair(models.KeyModeLive, "", "dashboard")
	require.NoError(t, err)

	first, err := m.Reveal(pair.Secret.ID, "dashboard")
	require.NoError(t, err)
	assert.True(t, first.Revealed)
	assert.Equal(t, pair.SecretKey, first.Plaintext)
	assert.NotNil(t, first.Key.RevealedAt)

	second, err := m.Reveal(pair.Secret.ID, "dashboard")
	require.NoError(t, err)
	assert.False(t, second.Revealed)
	assert.Empty(t, second.Plaintext)
}

func TestRevealRejectsPublishableKeys(t *testing.T) {
	m, _ := newTestManager(t)
	pair, err := m.CreatePair(models.KeyModeTest, "", "dashboard")
	require.NoError(t, err)

	_, err = m.Reveal(pair.Publishable.ID, "dashboard")
	assert.ErrorIs(t, err, ErrNotSecretKey)
}

func TestRegenerateInvalidatesOldMaterial(t *testing.T) {
	m, repo := newTestManager(t)
	pair, err := m.CreatePair(models.KeyModeTest, "", "dashboard")
	require.NoError(t, err)

	oldSecret := pair.SecretKey
	_, err = m.Authenticate(oldSecret)
	require.NoError(t, err)

	key, newSecret, err := m.Regenerate(pair.Secret.ID, "dashboard")
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, newSecret)
	assert.Nil(t, key.RevealedAt, "reveal window resets")
	assert.Nil(t, key.LastUsedAt)

	_, err = m.Authenticate(oldSecret)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound, "old material stops authenticating")
	_, err = m.Authenticate(newSecret)
	assert.NoError(t, err)

	// The staged plaintext belongs to the new generation.
	reveal, err := m.Reveal(pair.Secret.ID, "dashboard")
	require.NoError(t, err)
	assert.True(t, reveal.Revealed)
	assert.Equal(t, newSecret, reveal.Plaintext)

	audit, err := repo.ListAudit(pair.Secret.ID)
	require.NoError(t, err)
	actions := make([]string, 0, len(audit))
	for _, entry := range audit {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []string{"create", "regenerate", "reveal"}, actions)
}

func TestDeleteRemovesWholePair(t *testing.T) {
	m, _ := newTestManager(t)
	pair, err := m.CreatePair(models.KeyModeTest, "", "dashboard")
	require.NoError(t, err)

	require.NoError(t, m.Delete(pair.Secret.ID, "dashboard"))

	_, err = m.ListByMode("legacy")
	assert.ErrorIs(t, err, ErrInvalidMode)

	keys, err := m.ListByMode(models.KeyModeTest)
	require.NoError(t, err)
	assert.Empty(t, keys, "publishable half is deleted with the secret")

	_, err = m.Reveal(pair.Secret.ID, "dashboard")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestAuthenticateTouchesLastUsed(t *testing.T) {
	m, repo := newTestManager(t)
	pair, err := m.CreatePair(models.KeyModeLive, "", "dashboard")
	require.NoError(t, err)

	key, err := m.Authenticate(pair.SecretKey)
	require.NoError(t, err)
	assert.Equal(t, pair.Secret.ID, key.ID)

	stored, err := repo.GetByID(pair.Secret.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastUsedAt)

	// Publishable material never authenticates.
	_, err = m.Authenticate(pair.PublishableKey)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSecretStoreTakeIsAtomicallyConsuming(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.SetClient(nil) })

	store := NewSecretStore()
	require.NoError(t, store.Stage("key_1", "sk_test_material", time.Hour))

	val, ok, err := store.Take("key_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk_test_material", val)

	_, ok, err = store.Take("key_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Stage("key_2", "sk_test_other", time.Hour))
	require.NoError(t, store.Drop("key_2"))
	_, ok, err = store.Take("key_2")
	require.NoError(t, err)
	assert.False(t, ok)
}
