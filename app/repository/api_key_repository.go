package repository

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/anshitraj/arcpay-core/app/models"
)

// apiKeyRepository implements the ApiKeyRepository interface
type apiKeyRepository struct {
	db *gorm.DB
}

// NewApiKeyRepository creates a new API key repository instance
func NewApiKeyRepository(db *gorm.DB) ApiKeyRepository {
	return &apiKeyRepository{db: db}
}

// CreatePair persists a publishable/secret pair atomically
func (r *apiKeyRepository) CreatePair(publishable, secret *models.ApiKey) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(publishable).Error; err != nil {
			return err
		}
		return tx.Create(secret).Error
	})
}

// GetByID retrieves an API key by its ID
func (r *apiKeyRepository) GetByID(id string) (*models.ApiKey, error) {
	var key models.ApiKey
	if err := r.db.First(&key, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

// GetBySecretHash resolves a hashed secret key to its record. Only
// secret-type keys authenticate API requests.
func (r *apiKeyRepository) GetBySecretHash(hash string) (*models.ApiKey, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var key models.ApiKey
	err := r.db.
		Where("secret_hash = ? AND key_type = ?", trimmed, models.KeyTypeSecret).
		First(&key).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListByMode returns all keys for a mode, pairs together
func (r *apiKeyRepository) ListByMode(mode string) ([]models.ApiKey, error) {
	var keys []models.ApiKey
	err := r.db.Where("mode = ?", mode).Order("pair_id, key_type").Find(&keys).Error
	return keys, err
}

// CountPairsByMode counts existing pairs for limit enforcement
func (r *apiKeyRepository) CountPairsByMode(mode string) (int64, error) {
	var count int64
	err := r.db.Model(&models.ApiKey{}).
		Where("mode = ?", mode).
		Distinct("pair_id").
		Count(&count).Error
	return count, err
}

// Update saves key changes
func (r *apiKeyRepository) Update(key *models.ApiKey) error {
	return r.db.Save(key).Error
}

// DeletePair removes both keys of a pair transactionally so a publishable
// key is never left orphaned
func (r *apiKeyRepository) DeletePair(pairID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Unscoped().Delete(&models.ApiKey{}, "pair_id = ?", pairID).Error
	})
}

// TouchLastUsed refreshes the last-used timestamp best-effort
func (r *apiKeyRepository) TouchLastUsed(id string, at time.Time) error {
	return r.db.Model(&models.ApiKey{}).Where("id = ?", id).Update("last_used_at", at).Error
}

// AppendAudit records a security-relevant key operation
func (r *apiKeyRepository) AppendAudit(entry *models.ApiKeyAuditEntry) error {
	return r.db.Create(entry).Error
}

// ListAudit returns the audit trail for a key
func (r *apiKeyRepository) ListAudit(keyID string) ([]models.ApiKeyAuditEntry, error) {
	var entries []models.ApiKeyAuditEntry
	err := r.db.Where("key_id = ?", keyID).Order("created_at ASC").Find(&entries).Error
	return entries, err
}
