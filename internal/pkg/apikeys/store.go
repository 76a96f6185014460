package apikeys

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anshitraj/arcpay-core/internal/pkg/cache"
)

const revealKeyPrefix = "apikey_reveal:"

// SecretStore stages freshly generated secret-key plaintext for the
// one-time reveal flow. Plaintext never reaches the database; it lives
// only here, TTL-bounded, and is consumed atomically on first reveal.
type SecretStore interface {
	Stage(keyID, plaintext string, ttl time.Duration) error
	// Take returns and deletes the staged plaintext. The second return is
	// false when nothing is staged (already revealed, or TTL elapsed).
	Take(keyID string) (string, bool, error)
	Drop(keyID string) error
}

// redisSecretStore backs the staging area with Redis GETDEL.
type redisSecretStore struct{}

// NewSecretStore returns the Redis-backed secret store.
func NewSecretStore() SecretStore {
	return &redisSecretStore{}
}

func (s *redisSecretStore) Stage(keyID, plaintext string, ttl time.Duration) error {
	return cache.Set(revealKeyPrefix+keyID, plaintext, ttl)
}

func (s *redisSecretStore) Take(keyID string) (string, bool, error) {
	val, err := cache.GetDel(revealKeyPrefix + keyID)
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *redisSecretStore) Drop(keyID string) error {
	return cache.Delete(revealKeyPrefix + keyID)
}
