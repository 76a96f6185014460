package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/app/repository"
)

var (
	// ErrInvalidTransition is returned when a requested transition is not
	// allowed from the intent's current state. The intent is left untouched.
	ErrInvalidTransition = errors.New("invalid payment state transition")
	// ErrNotExpired is returned when an expire is requested before the
	// intent's expiry timestamp has passed.
	ErrNotExpired = errors.New("payment has not reached its expiry timestamp")
)

// EventSink receives the IDs of committed webhook events for delivery
// fan-out. The dispatcher implements it; tests substitute a recorder.
type EventSink interface {
	EnqueueEvent(eventID string) error
}

// Machine validates and applies payment intent state transitions. It is the
// only writer of the status column. Every accepted transition creates
// exactly one webhook event in the same database transaction; the event is
// then handed to the sink for delivery.
type Machine struct {
	intents repository.PaymentIntentRepository
	sink    EventSink
	now     func() time.Time
}

// NewMachine creates a state machine over the intent repository. Event rows
// are written through the repository's transactional methods. The sink may
// be nil until the dispatcher is wired in (events are then picked up by the
// unenqueued-event sweep).
func NewMachine(intents repository.PaymentIntentRepository, sink EventSink) *Machine {
	return &Machine{
		intents: intents,
		sink:    sink,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}

// Create validates and persists a new intent and emits payment.created. The
// intent and its event commit in one transaction, like every transition.
func (m *Machine) Create(intent *models.PaymentIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}
	event := m.buildEvent(models.EventPaymentCreated, intent)
	if err := m.intents.CreateWithEvent(intent, event); err != nil {
		return err
	}
	m.handOff(event.ID)
	return nil
}

// MarkPending applies the client-visible confirm action: created -> pending
// with the submitted transaction evidence attached.
func (m *Machine) MarkPending(id, txHash, payerWallet string, customerEmail *string) (*models.PaymentIntent, error) {
	intent, err := m.getLive(id)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{
		"tx_hash":      txHash,
		"payer_wallet": payerWallet,
	}
	if customerEmail != nil {
		updates["customer_email"] = *customerEmail
	}
	return m.transition(intent, models.PaymentStatusCreated, models.PaymentStatusPending, models.EventPaymentPending, updates)
}

// Confirm applies settlement evidence: pending -> confirmed. Only the
// settlement watcher calls this; the tx hash must already match the intent.
func (m *Machine) Confirm(id, txHash string) (*models.PaymentIntent, error) {
	intent, err := m.getLive(id)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{"tx_hash": txHash}
	return m.transition(intent, models.PaymentStatusPending, models.PaymentStatusConfirmed, models.EventPaymentConfirmed, updates)
}

// Fail moves a non-terminal, unconfirmed intent to failed.
func (m *Machine) Fail(id, reason string) (*models.PaymentIntent, error) {
	intent, err := m.intents.GetByID(id)
	if err != nil {
		return nil, err
	}
	from := intent.Status
	if from != models.PaymentStatusCreated && from != models.PaymentStatusPending {
		return nil, ErrInvalidTransition
	}
	updates := map[string]any{"failure_reason": reason}
	return m.transition(intent, from, models.PaymentStatusFailed, models.EventPaymentFailed, updates)
}

// Expire moves a past-due intent to expired. Only non-terminal states can
// expire, and only after the configured expiry timestamp.
func (m *Machine) Expire(id string) (*models.PaymentIntent, error) {
	intent, err := m.intents.GetByID(id)
	if err != nil {
		return nil, err
	}
	from := intent.Status
	if from != models.PaymentStatusCreated && from != models.PaymentStatusPending {
		return nil, ErrInvalidTransition
	}
	if !intent.IsExpired(m.now()) {
		return nil, ErrNotExpired
	}
	return m.transition(intent, from, models.PaymentStatusExpired, models.EventPaymentExpired, nil)
}

// Refund moves a confirmed intent to refunded.
func (m *Machine) Refund(id string) (*models.PaymentIntent, error) {
	intent, err := m.intents.GetByID(id)
	if err != nil {
		return nil, err
	}
	return m.transition(intent, models.PaymentStatusConfirmed, models.PaymentStatusRefunded, models.EventPaymentRefunded, nil)
}

// Dispute records a compensating event for a confirmed payment whose chain
// evidence was invalidated by a reorg. The status is never rewritten; the
// dispute surfaces as a new event instead, at most once per payment. The
// disputed_at marker and the event commit together through the conditional
// update, with confirmed as both sides of the transition.
func (m *Machine) Dispute(id, reason string) error {
	intent, err := m.intents.GetByID(id)
	if err != nil {
		return err
	}
	if intent.Status != models.PaymentStatusConfirmed || intent.DisputedAt != nil {
		return ErrInvalidTransition
	}

	now := m.now()
	next := *intent
	next.DisputedAt = &now
	event := m.buildEvent(models.EventPaymentDisputed, &next)

	updates := map[string]any{"disputed_at": now}
	applied, err := m.intents.TransitionStatus(id, models.PaymentStatusConfirmed, models.PaymentStatusConfirmed, updates, event)
	if err != nil {
		return fmt.Errorf("dispute %s: %w", id, err)
	}
	if !applied {
		return ErrInvalidTransition
	}
	log.Warnf("[Payments] Recorded dispute for %s: %s", id, reason)
	m.handOff(event.ID)
	return nil
}

// getLive loads an intent and lazily expires it when its deadline passed
// without settlement evidence bringing it further along.
func (m *Machine) getLive(id string) (*models.PaymentIntent, error) {
	intent, err := m.intents.GetByID(id)
	if err != nil {
		return nil, err
	}
	if intent.IsExpired(m.now()) && !intent.IsTerminal() && intent.Status != models.PaymentStatusConfirmed {
		if expired, eerr := m.Expire(id); eerr == nil {
			return expired, nil
		}
	}
	return intent, nil
}

// transition performs the conditional update, pairing it transactionally
// with the creation of exactly one webhook event.
func (m *Machine) transition(intent *models.PaymentIntent, from, to, eventType string, updates map[string]any) (*models.PaymentIntent, error) {
	if intent.Status != from {
		return nil, ErrInvalidTransition
	}

	// Build the post-transition snapshot for the payload before touching
	// the database so the serialized bytes are fixed once.
	next := *intent
	next.Status = to
	applyUpdates(&next, updates)
	event := m.buildEvent(eventType, &next)

	applied, err := m.intents.TransitionStatus(intent.ID, from, to, updates, event)
	if err != nil {
		return nil, fmt.Errorf("transition %s -> %s for %s: %w", from, to, intent.ID, err)
	}
	if !applied {
		// A concurrent transition won the conditional update. No event was
		// written; reject as a no-op.
		return nil, ErrInvalidTransition
	}

	m.handOff(event.ID)
	return &next, nil
}

func (m *Machine) handOff(eventID string) {
	if m.sink == nil {
		return
	}
	if err := m.sink.EnqueueEvent(eventID); err != nil {
		// The unenqueued-event sweep will pick it up.
		log.Errorf("[Payments] Failed to enqueue event %s: %v", eventID, err)
	}
}

// buildEvent serializes the webhook payload exactly once. The byte-stable
// JSON is what gets signed on every delivery attempt; re-serializing per
// attempt would risk signature drift.
func (m *Machine) buildEvent(eventType string, intent *models.PaymentIntent) *models.WebhookEvent {
	payload := EventPayload{
		Type: eventType,
		Data: EventData{
			Payment: NewPaymentView(intent),
		},
		Timestamp: m.now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		// Marshalling a plain struct cannot fail at runtime; guard anyway.
		raw = []byte(fmt.Sprintf(`{"type":%q}`, eventType))
	}
	return &models.WebhookEvent{
		ID:          models.NewWebhookEventID(),
		Type:        eventType,
		PaymentID:   intent.ID,
		PayloadJSON: string(raw),
		Status:      models.WebhookEventStatusPending,
	}
}

func applyUpdates(intent *models.PaymentIntent, updates map[string]any) {
	for col, val := range updates {
		s, ok := val.(string)
		if !ok {
			continue
		}
		switch col {
		case "tx_hash":
			intent.TxHash = &s
		case "payer_wallet":
			intent.PayerWallet = &s
		case "customer_email":
			intent.CustomerEmail = &s
		case "failure_reason":
			intent.FailureReason = s
		}
	}
}
