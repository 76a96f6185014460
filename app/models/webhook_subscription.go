package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Webhook event type vocabulary. Every accepted payment transition maps onto
// exactly one of these.
const (
	EventPaymentCreated   = "payment.created"
	EventPaymentPending   = "payment.pending"
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
	EventPaymentExpired   = "payment.expired"
	EventPaymentDisputed  = "payment.disputed"
)

// KnownEventTypes lists every event type a subscription may register for.
var KnownEventTypes = []string{
	EventPaymentCreated,
	EventPaymentPending,
	EventPaymentConfirmed,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventPaymentExpired,
	EventPaymentDisputed,
}

// WebhookSubscription is a merchant-registered HTTPS endpoint with its
// signing secret. The secret is generated once and returned once on create;
// the dispatcher reads it to sign outbound payloads.
type WebhookSubscription struct {
	ID         string         `gorm:"primaryKey;type:varchar(45)" json:"id"`
	URL        string         `gorm:"type:varchar(500);not null" json:"url" validate:"required,url,startswith=https://"`
	EventTypes string         `gorm:"type:varchar(500);not null" json:"event_types"`
	Secret     string         `gorm:"type:varchar(100);not null" json:"-"`
	Active     bool           `gorm:"default:true;index" json:"active"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (s *WebhookSubscription) Validate() error {
	v := validator.New()
	if err := v.Struct(s); err != nil {
		return err
	}
	for _, et := range s.EventTypeList() {
		if !isKnownEventType(et) {
			return fmt.Errorf("unknown event type %q", et)
		}
	}
	return nil
}

// NewWebhookSubscription builds an active subscription with a fresh signing
// secret. A secret generation failure aborts creation.
func NewWebhookSubscription(url string, eventTypes []string) (*WebhookSubscription, error) {
	secret, err := generateSigningSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	s := &WebhookSubscription{
		ID:         fmt.Sprintf("whsub_%s", strings.ReplaceAll(uuid.New().String(), "-", "")),
		URL:        strings.TrimSpace(url),
		EventTypes: strings.Join(eventTypes, ","),
		Secret:     secret,
		Active:     true,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// EventTypeList splits the stored set into its elements.
func (s *WebhookSubscription) EventTypeList() []string {
	if s.EventTypes == "" {
		return nil
	}
	parts := strings.Split(s.EventTypes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Matches reports whether this subscription wants the given event type.
func (s *WebhookSubscription) Matches(eventType string) bool {
	for _, et := range s.EventTypeList() {
		if et == eventType {
			return true
		}
	}
	return false
}

func isKnownEventType(et string) bool {
	for _, known := range KnownEventTypes {
		if et == known {
			return true
		}
	}
	return false
}

func generateSigningSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
