package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/internal/pkg/payment"
)

// ctrlIntentRepo is an in-memory PaymentIntentRepository for handler tests.
type ctrlIntentRepo struct {
	mu      sync.Mutex
	intents map[string]*models.PaymentIntent
	events  *ctrlWebhookRepo
}

func newCtrlIntentRepo(events *ctrlWebhookRepo) *ctrlIntentRepo {
	return &ctrlIntentRepo{intents: make(map[string]*models.PaymentIntent), events: events}
}

func (r *ctrlIntentRepo) Create(intent *models.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *intent
	r.intents[intent.ID] = &cp
	return nil
}

func (r *ctrlIntentRepo) CreateWithEvent(intent *models.PaymentIntent, event *models.WebhookEvent) error {
	if err := r.Create(intent); err != nil {
		return err
	}
	return r.events.CreateEvent(event)
}

func (r *ctrlIntentRepo) GetByID(id string) (*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *intent
	return &cp, nil
}

func (r *ctrlIntentRepo) Update(intent *models.PaymentIntent) error {
	return r.Create(intent)
}

func (r *ctrlIntentRepo) List(offset, limit int) ([]models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PaymentIntent, 0, len(r.intents))
	for _, intent := range r.intents {
		out = append(out, *intent)
	}
	return out, nil
}

func (r *ctrlIntentRepo) ListByStatus(status string, limit int) ([]models.PaymentIntent, error) {
	return nil, nil
}

func (r *ctrlIntentRepo) ListExpirable(now time.Time, limit int) ([]models.PaymentIntent, error) {
	return nil, nil
}

func (r *ctrlIntentRepo) ListConfirmedSince(since time.Time, limit int) ([]models.PaymentIntent, error) {
	return nil, nil
}

func (r *ctrlIntentRepo) TransitionStatus(id, fromStatus, toStatus string, updates map[string]any, event *models.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[id]
	if !ok || intent.Status != fromStatus {
		return false, nil
	}
	intent.Status = toStatus
	if s, ok := updates["tx_hash"].(string); ok {
		v := s
		intent.TxHash = &v
	}
	if s, ok := updates["payer_wallet"].(string); ok {
		v := s
		intent.PayerWallet = &v
	}
	if s, ok := updates["failure_reason"].(string); ok {
		intent.FailureReason = s
	}
	if event != nil {
		r.events.CreateEvent(event)
	}
	return true, nil
}

// ctrlWebhookRepo is an in-memory WebhookRepository shared by the payment
// and webhook handler tests.
type ctrlWebhookRepo struct {
	mu         sync.Mutex
	subs       map[string]*models.WebhookSubscription
	events     []models.WebhookEvent
	deliveries []models.WebhookDelivery
}

func newCtrlWebhookRepo() *ctrlWebhookRepo {
	return &ctrlWebhookRepo{subs: make(map[string]*models.WebhookSubscription)}
}

func (r *ctrlWebhookRepo) CreateSubscription(sub *models.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *ctrlWebhookRepo) GetSubscription(id string) (*models.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *ctrlWebhookRepo) ListSubscriptions(includeInactive bool) ([]models.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookSubscription
	for _, sub := range r.subs {
		if sub.Active || includeInactive {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *ctrlWebhookRepo) ListActiveMatching(eventType string) ([]models.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookSubscription
	for _, sub := range r.subs {
		if sub.Active && sub.Matches(eventType) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *ctrlWebhookRepo) UpdateSubscription(sub *models.WebhookSubscription) error {
	return r.CreateSubscription(sub)
}

func (r *ctrlWebhookRepo) DeleteSubscription(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

func (r *ctrlWebhookRepo) CreateEvent(event *models.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *ctrlWebhookRepo) GetEvent(id string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.ID == id {
			cp := event
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlWebhookRepo) ListEventsByPayment(paymentID string) ([]models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookEvent
	for _, event := range r.events {
		if event.PaymentID == paymentID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (r *ctrlWebhookRepo) ListUnenqueuedEvents(time.Time, int) ([]models.WebhookEvent, error) {
	return nil, nil
}
func (r *ctrlWebhookRepo) MarkEventEnqueued(string) error         { return nil }
func (r *ctrlWebhookRepo) UpdateEventStatus(string, string) error { return nil }

func (r *ctrlWebhookRepo) CreateDelivery(delivery *models.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, *delivery)
	return nil
}

func (r *ctrlWebhookRepo) GetDelivery(string) (*models.WebhookDelivery, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *ctrlWebhookRepo) ListDeliveriesByEvent(eventID string) ([]models.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookDelivery
	for _, delivery := range r.deliveries {
		if delivery.EventID == eventID {
			out = append(out, delivery)
		}
	}
	return out, nil
}

func (r *ctrlWebhookRepo) UpdateDelivery(*models.WebhookDelivery) error { return nil }

func (r *ctrlWebhookRepo) ListStalePendingDeliveries(time.Time, int) ([]models.WebhookDelivery, error) {
	return nil, nil
}

func setupPaymentApp(t *testing.T) (*fiber.App, *ctrlIntentRepo) {
	t.Helper()
	webhooks := newCtrlWebhookRepo()
	intents := newCtrlIntentRepo(webhooks)
	machine := payment.NewMachine(intents, nil)
	pc := NewPaymentController(machine, intents, webhooks)

	app := fiber.New()
	app.Post("/api/payments/create", pc.HandleCreate)
	app.Post("/api/payments/submit-tx", pc.HandleSubmitTx)
	app.Post("/api/payments/fail", pc.HandleFail)
	app.Post("/api/payments/expire", pc.HandleExpire)
	app.Post("/api/payments/refund", pc.HandleRefund)
	app.Get("/api/payments/:id", pc.HandleGet)
	app.Get("/api/payments/:id/events", pc.HandleListEvents)
	return app, intents
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestHandleCreatePayment(t *testing.T) {
	app, intents := setupPaymentApp(t)

	isTest := true
	status, body := postJSON(t, app, "/api/payments/create", fiber.Map{
		"amount":           "49.99",
		"merchantWallet":   "0xMerchant",
		"isTest":           isTest,
		"paymentChainId":   8453,
		"expiresInMinutes": 30,
	})

	require.Equal(t, fiber.StatusCreated, status)
	id, _ := body["id"].(string)
	assert.Contains(t, id, "pay_")
	assert.Equal(t, models.PaymentStatusCreated, body["status"])
	assert.Equal(t, models.ModeTest, body["mode"])
	assert.NotNil(t, body["expires_at"])

	stored, err := intents.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, "49.99", stored.Amount)
}

func TestHandleCreateWithoutIsTestRecordsLegacy(t *testing.T) {
	app, _ := setupPaymentApp(t)

	status, body := postJSON(t, app, "/api/payments/create", fiber.Map{
		"amount":         "10",
		"merchantWallet": "0xMerchant",
	})

	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, models.ModeLegacy, body["mode"])
}

func TestHandleCreateValidation(t *testing.T) {
	app, _ := setupPaymentApp(t)

	tests := []struct {
		name string
		body fiber.Map
	}{
		{"Missing amount", fiber.Map{"merchantWallet": "0xMerchant"}},
		{"Negative amount", fiber.Map{"amount": "-1", "merchantWallet": "0xMerchant"}},
		{"Missing wallet", fiber.Map{"amount": "10"}},
		{"Bad settlement currency", fiber.Map{"amount": "10", "merchantWallet": "0xM", "settlementCurrency": "BTC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := postJSON(t, app, "/api/payments/create", tt.body)
			assert.Equal(t, fiber.StatusBadRequest, status)
		})
	}
}

func TestHandleSubmitTx(t *testing.T) {
	app, intents := setupPaymentApp(t)
	status, created := postJSON(t, app, "/api/payments/create", fiber.Map{
		"amount": "10", "merchantWallet": "0xMerchant",
	})
	require.Equal(t, fiber.StatusCreated, status)
	id := created["id"].(string)

	status, body := postJSON(t, app, "/api/payments/submit-tx", fiber.Map{
		"paymentId":   id,
		"txHash":      "0xsettle",
		"payerWallet": "0xPayer",
	})
	require.Equal(t, fiber.StatusOK, status)
	paymentBody := body["payment"].(map[string]any)
	assert.Equal(t, models.PaymentStatusPending, paymentBody["status"])

	stored, err := intents.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, stored.TxHash)
	assert.Equal(t, "0xsettle", *stored.TxHash)

	// A second submit for the same payment conflicts.
	status, _ = postJSON(t, app, "/api/payments/submit-tx", fiber.Map{
		"paymentId":   id,
		"txHash":      "0xother",
		"payerWallet": "0xPayer",
	})
	assert.Equal(t, fiber.StatusConflict, status)
}

func TestHandleRefundRequiresConfirmed(t *testing.T) {
	app, intents := setupPaymentApp(t)
	_, created := postJSON(t, app, "/api/payments/create", fiber.Map{
		"amount": "10", "merchantWallet": "0xMerchant",
	})
	id := created["id"].(string)

	status, _ := postJSON(t, app, "/api/payments/refund", fiber.Map{"paymentId": id})
	assert.Equal(t, fiber.StatusConflict, status)

	// Settle out of band, then refund.
	_, err := intents.TransitionStatus(id, models.PaymentStatusCreated, models.PaymentStatusConfirmed, nil, nil)
	require.NoError(t, err)

	status, body := postJSON(t, app, "/api/payments/refund", fiber.Map{"paymentId": id})
	require.Equal(t, fiber.StatusOK, status)
	paymentBody := body["payment"].(map[string]any)
	assert.Equal(t, models.PaymentStatusRefunded, paymentBody["status"])
}

func TestHandleFailAndGet(t *testing.T) {
	app, _ := setupPaymentApp(t)
	_, created := postJSON(t, app, "/api/payments/create", fiber.Map{
		"amount": "10", "merchantWallet": "0xMerchant",
	})
	id := created["id"].(string)

	status, _ := postJSON(t, app, "/api/payments/fail", fiber.Map{
		"paymentId": id, "reason": "abandoned checkout",
	})
	require.Equal(t, fiber.StatusOK, status)

	req := httptest.NewRequest("GET", "/api/payments/"+id, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/api/payments/pay_missing", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleListEvents(t *testing.T) {
	app, _ := setupPaymentApp(t)
	_, created := postJSON(t, app, "/api/payments/create", fiber.Map{
		"amount": "10", "merchantWallet": "0xMerchant",
	})
	id := created["id"].(string)
	postJSON(t, app, "/api/payments/submit-tx", fiber.Map{
		"paymentId": id, "txHash": "0xsettle", "payerWallet": "0xPayer",
	})

	req := httptest.NewRequest("GET", "/api/payments/"+id+"/events", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body struct {
		Events []models.WebhookEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, models.EventPaymentCreated, body.Events[0].Type)
	assert.Equal(t, models.EventPaymentPending, body.Events[1].Type)
}
