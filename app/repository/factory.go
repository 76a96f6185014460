package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetPaymentIntentRepository returns the payment intent repository instance
func (f *Factory) GetPaymentIntentRepository() PaymentIntentRepository {
	return f.GetRepositories().PaymentIntent
}

// GetWebhookRepository returns the webhook repository instance
func (f *Factory) GetWebhookRepository() WebhookRepository {
	return f.GetRepositories().Webhook
}

// GetApiKeyRepository returns the API key repository instance
func (f *Factory) GetApiKeyRepository() ApiKeyRepository {
	return f.GetRepositories().ApiKey
}

// GetBridgeTransferRepository returns the bridge transfer repository instance
func (f *Factory) GetBridgeTransferRepository() BridgeTransferRepository {
	return f.GetRepositories().Bridge
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("repository factory not initialized - call InitializeFactory first")
	}
	return globalFactory
}

// ResetGlobalFactory clears the global factory. Used by tests.
func ResetGlobalFactory() {
	globalFactory = nil
	factoryOnce = sync.Once{}
}

// SetGlobalRepositories installs prebuilt repositories as the global
// factory. Used by tests that substitute in-memory implementations.
func SetGlobalRepositories(repos *Repositories) {
	f := &Factory{}
	f.once.Do(func() {})
	f.repos = repos
	globalFactory = f
	factoryOnce = sync.Once{}
}
