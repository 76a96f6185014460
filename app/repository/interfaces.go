package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/anshitraj/arcpay-core/app/models"
)

// PaymentIntentRepository defines the interface for payment intent database
// operations. Status is only ever written through TransitionStatus; callers
// never update it directly.
type PaymentIntentRepository interface {
	Create(intent *models.PaymentIntent) error
	// CreateWithEvent persists a new intent and its creation event in one
	// transaction, so an intent can never exist without its first event.
	CreateWithEvent(intent *models.PaymentIntent, event *models.WebhookEvent) error
	GetByID(id string) (*models.PaymentIntent, error)
	Update(intent *models.PaymentIntent) error
	List(offset, limit int) ([]models.PaymentIntent, error)
	ListByStatus(status string, limit int) ([]models.PaymentIntent, error)
	// ListConfirmedSince returns undisputed intents confirmed after the
	// cutoff, for reorg review.
	ListConfirmedSince(since time.Time, limit int) ([]models.PaymentIntent, error)
	ListExpirable(now time.Time, limit int) ([]models.PaymentIntent, error)
	// TransitionStatus conditionally moves an intent from one status to
	// another, applies extra column updates, and records the event row in
	// the same transaction. It returns (false, nil) when the conditional
	// update matched no row.
	TransitionStatus(id, fromStatus, toStatus string, updates map[string]any, event *models.WebhookEvent) (bool, error)
}

// WebhookRepository covers subscriptions, events and per-subscription
// delivery records.
type WebhookRepository interface {
	CreateSubscription(sub *models.WebhookSubscription) error
	GetSubscription(id string) (*models.WebhookSubscription, error)
	ListSubscriptions(includeInactive bool) ([]models.WebhookSubscription, error)
	ListActiveMatching(eventType string) ([]models.WebhookSubscription, error)
	UpdateSubscription(sub *models.WebhookSubscription) error
	DeleteSubscription(id string) error

	CreateEvent(event *models.WebhookEvent) error
	GetEvent(id string) (*models.WebhookEvent, error)
	ListEventsByPayment(paymentID string) ([]models.WebhookEvent, error)
	ListUnenqueuedEvents(olderThan time.Time, limit int) ([]models.WebhookEvent, error)
	MarkEventEnqueued(id string) error
	UpdateEventStatus(id, status string) error

	CreateDelivery(delivery *models.WebhookDelivery) error
	GetDelivery(id string) (*models.WebhookDelivery, error)
	ListDeliveriesByEvent(eventID string) ([]models.WebhookDelivery, error)
	UpdateDelivery(delivery *models.WebhookDelivery) error
	// ListStalePendingDeliveries returns pending deliveries whose last
	// activity predates the cutoff, for crash-recovery requeueing.
	ListStalePendingDeliveries(cutoff time.Time, limit int) ([]models.WebhookDelivery, error)
}

// ApiKeyRepository defines the interface for API key persistence. Pair
// operations are transactional so a publishable key is never orphaned from
// its secret counterpart.
type ApiKeyRepository interface {
	CreatePair(publishable, secret *models.ApiKey) error
	GetByID(id string) (*models.ApiKey, error)
	GetBySecretHash(hash string) (*models.ApiKey, error)
	ListByMode(mode string) ([]models.ApiKey, error)
	CountPairsByMode(mode string) (int64, error)
	Update(key *models.ApiKey) error
	DeletePair(pairID string) error
	TouchLastUsed(id string, at time.Time) error
	AppendAudit(entry *models.ApiKeyAuditEntry) error
	ListAudit(keyID string) ([]models.ApiKeyAuditEntry, error)
}

// BridgeTransferRepository persists cross-chain transfers so in-flight
// phases survive restarts.
type BridgeTransferRepository interface {
	Create(transfer *models.BridgeTransfer) error
	GetByID(id string) (*models.BridgeTransfer, error)
	Update(transfer *models.BridgeTransfer) error
	List(offset, limit int) ([]models.BridgeTransfer, error)
	ListInFlight() ([]models.BridgeTransfer, error)
}

// Repositories holds all repository instances
type Repositories struct {
	PaymentIntent PaymentIntentRepository
	Webhook       WebhookRepository
	ApiKey        ApiKeyRepository
	Bridge        BridgeTransferRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		PaymentIntent: NewPaymentIntentRepository(db),
		Webhook:       NewWebhookRepository(db),
		ApiKey:        NewApiKeyRepository(db),
		Bridge:        NewBridgeTransferRepository(db),
	}
}
