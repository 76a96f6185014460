package apikeys

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/app/repository"
	"github.com/anshitraj/arcpay-core/internal/pkg/cache"
	"github.com/anshitraj/arcpay-core/internal/pkg/env"
)

const (
	// MaxPairsPerMode caps publishable/secret pairs per mode. Enforced
	// here, not by callers.
	MaxPairsPerMode = 2

	listCacheKeyPrefix = "apikeys_list:"
)

var (
	// ErrLimitExceeded is returned when creating a pair would exceed the
	// per-mode cap.
	ErrLimitExceeded = errors.New("API key pair limit exceeded for this mode")
	// ErrNotSecretKey is returned when reveal is requested for a
	// publishable key; publishable keys are not secret material.
	ErrNotSecretKey = errors.New("only secret keys can be revealed")
	// ErrInvalidMode rejects modes outside test/live. Key pairs are always
	// created explicitly in one mode; there is no legacy mode for keys.
	ErrInvalidMode = errors.New("mode must be test or live")
)

// CreatedPair carries the one-time plaintext of a freshly created pair.
// This is the only moment the publishable and secret plaintext exist
// together; afterwards only hashes are at rest.
type CreatedPair struct {
	Publishable    *models.ApiKey
	Secret         *models.ApiKey
	PublishableKey string
	SecretKey      string
}

// Manager implements the API key lifecycle: paired issuance, one-time
// reveal, regeneration, rename and pair-transactional deletion.
type Manager struct {
	repo    repository.ApiKeyRepository
	secrets SecretStore
}

// NewManager creates a manager over the given repository and secret store.
func NewManager(repo repository.ApiKeyRepository, secrets SecretStore) *Manager {
	return &Manager{repo: repo, secrets: secrets}
}

// revealTTL bounds how long a generated secret stays available for its
// one-time reveal (API_KEY_REVEAL_TTL_HOURS, default 24).
func revealTTL() time.Duration {
	return time.Duration(env.GetEnvInt("API_KEY_REVEAL_TTL_HOURS", 24)) * time.Hour
}

// CreatePair generates one publishable and one secret key as an atomic
// pair and returns the plaintext once. The secret plaintext is also staged
// for the one-time reveal flow.
func (m *Manager) CreatePair(mode, name, principal string) (*CreatedPair, error) {
	if mode != models.KeyModeTest && mode != models.KeyModeLive {
		return nil, ErrInvalidMode
	}

	count, err := m.repo.CountPairsByMode(mode)
	if err != nil {
		return nil, err
	}
	if count >= MaxPairsPerMode {
		return nil, ErrLimitExceeded
	}

	pairID := models.NewPairID()
	pubRaw, pubPrefix, pubHash, err := models.GenerateAPIKeyMaterial(models.KeyTypePublishable, mode)
	if err != nil {
		return nil, err
	}
	secRaw, secPrefix, secHash, err := models.GenerateAPIKeyMaterial(models.KeyTypeSecret, mode)
	if err != nil {
		return nil, err
	}

	publishable := &models.ApiKey{
		ID:         models.NewApiKeyID(),
		PairID:     pairID,
		KeyType:    models.KeyTypePublishable,
		Mode:       mode,
		Prefix:     pubPrefix,
		SecretHash: pubHash,
		Name:       name,
	}
	secret := &models.ApiKey{
		ID:         models.NewApiKeyID(),
		PairID:     pairID,
		KeyType:    models.KeyTypeSecret,
		Mode:       mode,
		Prefix:     secPrefix,
		SecretHash: secHash,
		Name:       name,
	}
	if err := m.repo.CreatePair(publishable, secret); err != nil {
		return nil, err
	}

	if err := m.secrets.Stage(secret.ID, secRaw, revealTTL()); err != nil {
		log.Errorf("[ApiKeys] Failed to stage secret for %s: %v", secret.ID, err)
	}
	m.audit(publishable.ID, "create", principal)
	m.audit(secret.ID, "create", principal)
	m.invalidateListCache(mode)

	return &CreatedPair{
		Publishable:    publishable,
		Secret:         secret,
		PublishableKey: pubRaw,
		SecretKey:      secRaw,
	}, nil
}

// RevealResult is the outcome of a reveal request.
type RevealResult struct {
	Key *models.ApiKey
	// Plaintext is set only on the first reveal after a generation.
	Plaintext string
	// Revealed is false when the one-shot window was already used; the
	// caller then only gets the display-masked prefix on Key.
	Revealed bool
}

// Reveal returns a secret key's plaintext exactly once per generation.
// Subsequent reveals return only the masked prefix; the plaintext is gone
// from the staging store and only its hash is at rest.
func (m *Manager) Reveal(keyID, principal string) (*RevealResult, error) {
	key, err := m.repo.GetByID(keyID)
	if err != nil {
		return nil, err
	}
	if key.KeyType != models.KeyTypeSecret {
		return nil, ErrNotSecretKey
	}

	if key.RevealedAt != nil {
		return &RevealResult{Key: key}, nil
	}

	plaintext, ok, err := m.secrets.Take(key.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Staging TTL elapsed before anyone revealed. Only regeneration
		// issues new plaintext.
		return &RevealResult{Key: key}, nil
	}

	now := time.Now()
	key.RevealedAt = &now
	if err := m.repo.Update(key); err != nil {
		return nil, err
	}
	m.audit(key.ID, "reveal", principal)

	return &RevealResult{Key: key, Plaintext: plaintext, Revealed: true}, nil
}

// Regenerate replaces a key's material. The old secret is invalidated the
// moment the new hash is stored; the reveal window resets.
func (m *Manager) Regenerate(keyID, principal string) (*models.ApiKey, string, error) {
	key, err := m.repo.GetByID(keyID)
	if err != nil {
		return nil, "", err
	}

	raw, prefix, hash, err := models.GenerateAPIKeyMaterial(key.KeyType, key.Mode)
	if err != nil {
		return nil, "", err
	}

	// Any plaintext still staged for the old generation must not survive.
	if err := m.secrets.Drop(key.ID); err != nil {
		log.Errorf("[ApiKeys] Failed to drop staged secret for %s: %v", key.ID, err)
	}

	key.Prefix = prefix
	key.SecretHash = hash
	key.RevealedAt = nil
	key.LastUsedAt = nil
	if err := m.repo.Update(key); err != nil {
		return nil, "", err
	}

	if key.KeyType == models.KeyTypeSecret {
		if err := m.secrets.Stage(key.ID, raw, revealTTL()); err != nil {
			log.Errorf("[ApiKeys] Failed to stage secret for %s: %v", key.ID, err)
		}
	}
	m.audit(key.ID, "regenerate", principal)
	m.invalidateListCache(key.Mode)

	return key, raw, nil
}

// Rename updates the human-readable name. Metadata only.
func (m *Manager) Rename(keyID, name string) (*models.ApiKey, error) {
	key, err := m.repo.GetByID(keyID)
	if err != nil {
		return nil, err
	}
	key.Name = name
	if err := m.repo.Update(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Delete removes both keys of the pair transactionally and disables any
// pending reveal.
func (m *Manager) Delete(keyID, principal string) error {
	key, err := m.repo.GetByID(keyID)
	if err != nil {
		return err
	}
	if err := m.repo.DeletePair(key.PairID); err != nil {
		return err
	}
	if err := m.secrets.Drop(key.ID); err != nil {
		log.Errorf("[ApiKeys] Failed to drop staged secret for %s: %v", key.ID, err)
	}
	m.audit(key.ID, "delete", principal)
	m.invalidateListCache(key.Mode)
	return nil
}

// ListByMode returns the keys for a mode.
func (m *Manager) ListByMode(mode string) ([]models.ApiKey, error) {
	if mode != models.KeyModeTest && mode != models.KeyModeLive {
		return nil, ErrInvalidMode
	}
	return m.repo.ListByMode(mode)
}

// Authenticate resolves raw secret-key material to its record and touches
// the last-used timestamp best-effort. Used by the auth middleware.
func (m *Manager) Authenticate(rawKey string) (*models.ApiKey, error) {
	key, err := m.repo.GetBySecretHash(models.HashAPIKey(rawKey))
	if err != nil {
		return nil, err
	}
	if err := m.repo.TouchLastUsed(key.ID, time.Now()); err != nil {
		log.Errorf("[ApiKeys] Failed to touch last-used for %s: %v", key.ID, err)
	}
	return key, nil
}

func (m *Manager) audit(keyID, action, principal string) {
	entry := &models.ApiKeyAuditEntry{
		KeyID:     keyID,
		Action:    action,
		Principal: principal,
	}
	if err := m.repo.AppendAudit(entry); err != nil {
		log.Errorf("[ApiKeys] Failed to audit %s on %s: %v", action, keyID, err)
	}
}

// invalidateListCache drops cached key listings for a mode after any
// create/regenerate/delete.
func (m *Manager) invalidateListCache(mode string) {
	if err := cache.Delete(listCacheKeyPrefix + mode); err != nil {
		log.Debugf("[ApiKeys] List cache invalidation for %s: %v", mode, err)
	}
}

// ListCacheKey exposes the cache key layout for handlers that cache
// listings.
func ListCacheKey(mode string) string {
	return fmt.Sprintf("%s%s", listCacheKeyPrefix, mode)
}
