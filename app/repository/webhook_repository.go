package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/anshitraj/arcpay-core/app/models"
)

// webhookRepository implements the WebhookRepository interface
type webhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository creates a new webhook repository instance
func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

// CreateSubscription persists a new webhook subscription
func (r *webhookRepository) CreateSubscription(sub *models.WebhookSubscription) error {
	return r.db.Create(sub).Error
}

// GetSubscription retrieves a subscription by ID
func (r *webhookRepository) GetSubscription(id string) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	if err := r.db.First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns all subscriptions, optionally including
// soft-deleted (inactive) ones
func (r *webhookRepository) ListSubscriptions(includeInactive bool) ([]models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	query := r.db.Order("created_at ASC")
	if !includeInactive {
		query = query.Where("active = ?", true)
	}
	err := query.Find(&subs).Error
	return subs, err
}

// ListActiveMatching returns active subscriptions registered for the event
// type. The event-type set is comma-serialized, so matching is finished in
// memory after a coarse SQL filter.
func (r *webhookRepository) ListActiveMatching(eventType string) ([]models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	if err := r.db.Where("active = ?", true).Find(&subs).Error; err != nil {
		return nil, err
	}
	matching := make([]models.WebhookSubscription, 0, len(subs))
	for _, sub := range subs {
		if sub.Matches(eventType) {
			matching = append(matching, sub)
		}
	}
	return matching, nil
}

// UpdateSubscription saves subscription changes
func (r *webhookRepository) UpdateSubscription(sub *models.WebhookSubscription) error {
	return r.db.Save(sub).Error
}

// DeleteSubscription hard-deletes a subscription
func (r *webhookRepository) DeleteSubscription(id string) error {
	return r.db.Unscoped().Delete(&models.WebhookSubscription{}, "id = ?", id).Error
}

// CreateEvent persists a webhook event that is not paired with a status
// transition (created, disputed)
func (r *webhookRepository) CreateEvent(event *models.WebhookEvent) error {
	return r.db.Create(event).Error
}

// GetEvent retrieves a webhook event by ID
func (r *webhookRepository) GetEvent(id string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ListEventsByPayment returns the events recorded for a payment
func (r *webhookRepository) ListEventsByPayment(paymentID string) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&events).Error
	return events, err
}

// ListUnenqueuedEvents returns pending events whose deliveries were never
// fanned out, e.g. after a crash between commit and enqueue
func (r *webhookRepository) ListUnenqueuedEvents(olderThan time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.
		Where("status = ? AND enqueued = ? AND created_at < ?", models.WebhookEventStatusPending, false, olderThan).
		Order("created_at ASC").Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkEventEnqueued flags an event as handed to the dispatcher queue
func (r *webhookRepository) MarkEventEnqueued(id string) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Update("enqueued", true).Error
}

// UpdateEventStatus sets the aggregate delivery status of an event
func (r *webhookRepository) UpdateEventStatus(id, status string) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Update("status", status).Error
}

// CreateDelivery persists a delivery record for an (event, subscription) pair
func (r *webhookRepository) CreateDelivery(delivery *models.WebhookDelivery) error {
	return r.db.Create(delivery).Error
}

// GetDelivery retrieves a delivery by ID
func (r *webhookRepository) GetDelivery(id string) (*models.WebhookDelivery, error) {
	var delivery models.WebhookDelivery
	if err := r.db.First(&delivery, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &delivery, nil
}

// ListDeliveriesByEvent returns all delivery records for an event
func (r *webhookRepository) ListDeliveriesByEvent(eventID string) ([]models.WebhookDelivery, error) {
	var deliveries []models.WebhookDelivery
	err := r.db.Where("event_id = ?", eventID).Order("created_at ASC").Find(&deliveries).Error
	return deliveries, err
}

// UpdateDelivery saves delivery attempt state
func (r *webhookRepository) UpdateDelivery(delivery *models.WebhookDelivery) error {
	return r.db.Save(delivery).Error
}

// ListStalePendingDeliveries returns pending deliveries with no attempt
// or retry activity since the cutoff, e.g. after a crash that took the
// in-memory retry timers with it
func (r *webhookRepository) ListStalePendingDeliveries(cutoff time.Time, limit int) ([]models.WebhookDelivery, error) {
	var deliveries []models.WebhookDelivery
	err := r.db.
		Where("status = ?", models.WebhookDeliveryStatusPending).
		Where("(last_attempt_at IS NOT NULL AND last_attempt_at < ?) OR (last_attempt_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Order("created_at ASC").Limit(limit).
		Find(&deliveries).Error
	return deliveries, err
}
