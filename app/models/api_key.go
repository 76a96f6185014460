package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	KeyTypePublishable = "publishable"
	KeyTypeSecret      = "secret"

	KeyModeTest = "test"
	KeyModeLive = "live"
)

var apiKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ApiKey stores one half of a publishable/secret key pair. Only the SHA-256
// hash of the material is at rest; the plaintext exists transiently between
// generation and the first response (or the one-time reveal for secret
// keys).
type ApiKey struct {
	ID         string         `gorm:"primaryKey;type:varchar(45)" json:"id"`
	PairID     string         `gorm:"type:varchar(45);not null;index" json:"pair_id"`
	KeyType    string         `gorm:"type:varchar(20);not null" json:"key_type"`
	Mode       string         `gorm:"type:varchar(10);not null;index" json:"mode"`
	Prefix     string         `gorm:"type:varchar(30);not null" json:"prefix"`
	SecretHash string         `gorm:"type:char(64);not null;index" json:"-"`
	Name       string         `gorm:"type:varchar(150)" json:"name,omitempty"`
	RevealedAt *time.Time     `gorm:"type:timestamp" json:"revealed_at,omitempty"`
	LastUsedAt *time.Time     `gorm:"type:timestamp" json:"last_used_at,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// NewApiKeyID returns a display-prefixed key identifier.
func NewApiKeyID() string {
	return fmt.Sprintf("key_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// NewPairID returns the identifier binding a publishable/secret pair.
func NewPairID() string {
	return fmt.Sprintf("keypair_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// HashAPIKey returns the SHA-256 hash for the provided API key material.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// KeyTypePrefix returns the display prefix for a key type and mode, e.g.
// "sk_test_" or "pk_live_".
func KeyTypePrefix(keyType, mode string) string {
	short := "pk"
	if keyType == KeyTypeSecret {
		short = "sk"
	}
	return fmt.Sprintf("%s_%s_", short, mode)
}

// GenerateAPIKeyMaterial creates fresh key material. It returns the full
// plaintext key, the display-safe prefix and the hash to store. A rand
// failure aborts; callers must surface it, never swallow it.
func GenerateAPIKeyMaterial(keyType, mode string) (rawKey, prefix, hash string, err error) {
	b := make([]byte, 32)
	if _, err = rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("failed to generate key material: %w", err)
	}
	encoded := apiKeyEncoding.EncodeToString(b)
	rawKey = KeyTypePrefix(keyType, mode) + encoded
	prefix = MaskKey(rawKey)
	hash = HashAPIKey(rawKey)
	return rawKey, prefix, hash, nil
}

// MaskKey reduces a full key to its display-safe form: type/mode prefix plus
// the first four characters of the material.
func MaskKey(rawKey string) string {
	idx := strings.LastIndex(rawKey, "_")
	if idx < 0 || len(rawKey) <= idx+5 {
		return rawKey
	}
	return rawKey[:idx+5] + "..."
}

// TouchUsage updates the last-used timestamp metadata.
func (k *ApiKey) TouchUsage() {
	now := time.Now()
	k.LastUsedAt = &now
}

// ApiKeyAuditEntry records security-relevant key operations with the
// requesting principal.
type ApiKeyAuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	KeyID     string    `gorm:"type:varchar(45);not null;index" json:"key_id"`
	Action    string    `gorm:"type:varchar(30);not null" json:"action"`
	Principal string    `gorm:"type:varchar(150);not null" json:"principal"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
