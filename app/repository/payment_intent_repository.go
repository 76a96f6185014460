package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/anshitraj/arcpay-core/app/models"
)

// paymentIntentRepository implements the PaymentIntentRepository interface
type paymentIntentRepository struct {
	db *gorm.DB
}

// NewPaymentIntentRepository creates a new payment intent repository instance
func NewPaymentIntentRepository(db *gorm.DB) PaymentIntentRepository {
	return &paymentIntentRepository{db: db}
}

// Create persists a new payment intent
func (r *paymentIntentRepository) Create(intent *models.PaymentIntent) error {
	return r.db.Create(intent).Error
}

// CreateWithEvent persists the intent and its creation event in one
// transaction. A crash can therefore never leave an intent without its
// payment.created row.
func (r *paymentIntentRepository) CreateWithEvent(intent *models.PaymentIntent, event *models.WebhookEvent) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(intent).Error; err != nil {
			return err
		}
		return tx.Create(event).Error
	})
}

// GetByID retrieves a payment intent by its ID
func (r *paymentIntentRepository) GetByID(id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.First(&intent, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

// Update saves non-status fields of an intent
func (r *paymentIntentRepository) Update(intent *models.PaymentIntent) error {
	return r.db.Save(intent).Error
}

// List returns intents newest first
func (r *paymentIntentRepository) List(offset, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&intents).Error
	return intents, err
}

// ListByStatus returns intents in a given status
func (r *paymentIntentRepository) ListByStatus(status string, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.Where("status = ?", status).Order("created_at ASC").Limit(limit).Find(&intents).Error
	return intents, err
}

// ListConfirmedSince returns undisputed intents confirmed after the cutoff
func (r *paymentIntentRepository) ListConfirmedSince(since time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.
		Where("status = ? AND disputed_at IS NULL AND updated_at >= ?", models.PaymentStatusConfirmed, since).
		Order("updated_at ASC").Limit(limit).
		Find(&intents).Error
	return intents, err
}

// ListExpirable returns non-terminal intents whose expiry has passed
func (r *paymentIntentRepository) ListExpirable(now time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.
		Where("status IN ?", []string{models.PaymentStatusCreated, models.PaymentStatusPending}).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Order("expires_at ASC").Limit(limit).
		Find(&intents).Error
	return intents, err
}

// TransitionStatus applies a conditional status update and creates the
// paired webhook event in one transaction. The WHERE on the prior status is
// the optimistic-concurrency check: under a race only one caller sees
// RowsAffected == 1.
func (r *paymentIntentRepository) TransitionStatus(id, fromStatus, toStatus string, updates map[string]any, event *models.WebhookEvent) (bool, error) {
	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		cols := map[string]any{"status": toStatus, "updated_at": time.Now()}
		for k, v := range updates {
			cols[k] = v
		}

		res := tx.Model(&models.PaymentIntent{}).
			Where("id = ? AND status = ?", id, fromStatus).
			Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race or wrong prior state; no event, no change.
			return nil
		}

		applied = true
		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
