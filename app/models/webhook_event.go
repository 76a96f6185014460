package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	WebhookEventStatusPending   = "pending"
	WebhookEventStatusDelivered = "delivered"
	WebhookEventStatusFailed    = "failed"
)

// WebhookEvent is one outbound notification created for an accepted payment
// transition. The ID doubles as the idempotency key consumers deduplicate
// on. Rows are never deleted; they are the audit trail.
type WebhookEvent struct {
	ID          string    `gorm:"primaryKey;type:varchar(45)" json:"id"`
	Type        string    `gorm:"type:varchar(50);not null;index" json:"type"`
	PaymentID   string    `gorm:"type:varchar(45);not null;index" json:"payment_id"`
	PayloadJSON string    `gorm:"type:longtext;not null" json:"payload_json"`
	Status      string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Enqueued    bool      `gorm:"default:false;index" json:"enqueued"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewWebhookEventID returns a display-prefixed event identifier.
func NewWebhookEventID() string {
	return fmt.Sprintf("evt_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

const (
	WebhookDeliveryStatusPending   = "pending"
	WebhookDeliveryStatusDelivered = "delivered"
	WebhookDeliveryStatusFailed    = "failed"
)

// WebhookDelivery tracks the attempts for one (event, subscription) pair.
// Attempts for the same pair run strictly sequentially; pairs are
// independent and may complete out of order.
type WebhookDelivery struct {
	ID             string     `gorm:"primaryKey;type:varchar(45)" json:"id"`
	EventID        string     `gorm:"type:varchar(45);not null;index:ux_webhook_delivery_pair,unique,priority:1" json:"event_id"`
	SubscriptionID string     `gorm:"type:varchar(45);not null;index:ux_webhook_delivery_pair,unique,priority:2" json:"subscription_id"`
	Status         string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	AttemptCount   int        `gorm:"default:0" json:"attempt_count"`
	LastAttemptAt  *time.Time `gorm:"type:timestamp" json:"last_attempt_at,omitempty"`
	LastError      string     `gorm:"type:varchar(1000)" json:"last_error,omitempty"`
	ResponseStatus int        `gorm:"default:0" json:"response_status"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewWebhookDeliveryID returns a display-prefixed delivery identifier.
func NewWebhookDeliveryID() string {
	return fmt.Sprintf("whdel_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}
