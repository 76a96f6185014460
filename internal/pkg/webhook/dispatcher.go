package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/anshitraj/arcpay-core/app/models"
	"github.com/anshitraj/arcpay-core/app/repository"
	"github.com/anshitraj/arcpay-core/internal/pkg/cache"
	"github.com/anshitraj/arcpay-core/internal/pkg/env"
)

const (
	// Redis key layout for the delivery queue
	DeliveryQueueKey      = "webhook_delivery_queue"
	DeliveryProcessingKey = "webhook_delivery_processing"

	// MaxAttempts bounds total delivery attempts per subscription,
	// including the first one.
	MaxAttempts = 3
)

// Dispatcher delivers webhook events to every active, matching
// subscription. Delivery records live in the database; Redis only carries
// the IDs of work to do, so a flushed queue loses no audit state and the
// unenqueued-event sweep can rebuild it.
type Dispatcher struct {
	client       *redis.Client
	repo         repository.WebhookRepository
	sender       *Sender
	workers      int
	retryBase    time.Duration
	workerPool   chan struct{}
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
	afterAttempt func(deliveryID string) // test hook
}

// NewDispatcher creates a dispatcher with a bounded worker pool. Worker
// count comes from WEBHOOK_WORKERS (default 3), retry backoff base from
// WEBHOOK_RETRY_BASE_SECONDS (default 30).
func NewDispatcher(repo repository.WebhookRepository, sender *Sender) *Dispatcher {
	workers := env.GetEnvInt("WEBHOOK_WORKERS", 3)
	if workers <= 0 {
		workers = 3
	}
	retryBase := time.Duration(env.GetEnvInt("WEBHOOK_RETRY_BASE_SECONDS", 30)) * time.Second

	return &Dispatcher{
		client:     cache.GetClient(),
		repo:       repo,
		sender:     sender,
		workers:    workers,
		retryBase:  retryBase,
		workerPool: make(chan struct{}, workers),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	d.running = true
	d.stopCh = make(chan struct{})
	log.Infof("[Webhooks] Starting %d delivery workers", d.workers)

	for i := 0; i < d.workers; i++ {
		d.workerPool <- struct{}{}
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	// Recover deliveries stuck in the processing list after a crash.
	d.wg.Add(1)
	go d.stuckSweeper(10*time.Minute, time.Minute)
}

// Stop stops the delivery workers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}

	log.Info("[Webhooks] Stopping delivery workers...")
	close(d.stopCh)
	d.running = false
	d.wg.Wait()
	log.Info("[Webhooks] All delivery workers stopped")
}

// EnqueueEvent fans an event out to every active subscription matching its
// type: one delivery record per subscription, each queued independently.
// Implements the state machine's EventSink.
func (d *Dispatcher) EnqueueEvent(eventID string) error {
	event, err := d.repo.GetEvent(eventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}

	subs, err := d.repo.ListActiveMatching(event.Type)
	if err != nil {
		return fmt.Errorf("match subscriptions for %s: %w", eventID, err)
	}

	if len(subs) == 0 {
		// Nothing to deliver; the event stays on record as the audit trail.
		if err := d.repo.UpdateEventStatus(event.ID, models.WebhookEventStatusDelivered); err != nil {
			return err
		}
		return d.repo.MarkEventEnqueued(event.ID)
	}

	// A prior fan-out may have created some pairs already, e.g. when a
	// crash or Redis error interrupted it and the unenqueued-event sweep
	// re-runs this. Each (event, subscription) pair is created at most
	// once; open pairs are requeued, settled pairs are left alone.
	existing, err := d.repo.ListDeliveriesByEvent(event.ID)
	if err != nil {
		return fmt.Errorf("list deliveries for %s: %w", eventID, err)
	}
	bySub := make(map[string]models.WebhookDelivery, len(existing))
	for _, delivery := range existing {
		bySub[delivery.SubscriptionID] = delivery
	}

	ctx := context.Background()
	for _, sub := range subs {
		if prior, ok := bySub[sub.ID]; ok {
			if prior.Status == models.WebhookDeliveryStatusPending {
				if err := d.requeueIfAbsent(ctx, prior.ID); err != nil {
					return fmt.Errorf("requeue delivery %s: %w", prior.ID, err)
				}
			}
			continue
		}
		delivery := &models.WebhookDelivery{
			ID:             models.NewWebhookDeliveryID(),
			EventID:        event.ID,
			SubscriptionID: sub.ID,
			Status:         models.WebhookDeliveryStatusPending,
		}
		if err := d.repo.CreateDelivery(delivery); err != nil {
			return fmt.Errorf("create delivery for %s/%s: %w", event.ID, sub.ID, err)
		}
		if err := d.client.LPush(ctx, DeliveryQueueKey, delivery.ID).Err(); err != nil {
			return fmt.Errorf("enqueue delivery %s: %w", delivery.ID, err)
		}
	}

	if err := d.repo.MarkEventEnqueued(event.ID); err != nil {
		return err
	}
	log.Infof("[Webhooks] Enqueued event %s (%s) to %d subscription(s)", event.ID, event.Type, len(subs))
	return nil
}

// worker pulls delivery IDs off the queue and attempts them.
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	log.Infof("[Webhooks] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-d.stopCh:
			log.Infof("[Webhooks] Worker %d stopping", id)
			return
		default:
			<-d.workerPool

			deliveryID, err := d.client.BRPopLPush(ctx, DeliveryQueueKey, DeliveryProcessingKey, time.Second).Result()
			if err != nil {
				if err != redis.Nil {
					log.Errorf("[Webhooks] Worker %d: dequeue error: %v", id, err)
					time.Sleep(time.Second)
				}
				d.workerPool <- struct{}{}
				continue
			}

			d.Attempt(deliveryID)
			d.client.LRem(ctx, DeliveryProcessingKey, 1, deliveryID)

			d.workerPool <- struct{}{}
		}
	}
}

// Attempt performs one delivery attempt for the given delivery record and
// schedules the retry or records the terminal outcome. Attempts for the
// same (event, subscription) pair never overlap: the next attempt is only
// enqueued here, after this one finished.
func (d *Dispatcher) Attempt(deliveryID string) {
	if d.afterAttempt != nil {
		defer d.afterAttempt(deliveryID)
	}

	delivery, err := d.repo.GetDelivery(deliveryID)
	if err != nil {
		log.Errorf("[Webhooks] Delivery %s not found: %v", deliveryID, err)
		return
	}
	if delivery.Status != models.WebhookDeliveryStatusPending {
		// Already settled; nothing to do.
		return
	}

	event, err := d.repo.GetEvent(delivery.EventID)
	if err != nil {
		log.Errorf("[Webhooks] Event %s for delivery %s not found: %v", delivery.EventID, deliveryID, err)
		return
	}
	sub, err := d.repo.GetSubscription(delivery.SubscriptionID)
	if err != nil {
		log.Errorf("[Webhooks] Subscription %s for delivery %s not found: %v", delivery.SubscriptionID, deliveryID, err)
		return
	}
	if !sub.Active {
		// Deactivated between fan-out and attempt; settle without sending.
		delivery.Status = models.WebhookDeliveryStatusFailed
		delivery.LastError = "subscription inactive"
		if err := d.repo.UpdateDelivery(delivery); err != nil {
			log.Errorf("[Webhooks] Failed to settle delivery %s: %v", deliveryID, err)
		}
		d.reconcileEventStatus(event.ID)
		return
	}

	now := time.Now()
	delivery.AttemptCount++
	delivery.LastAttemptAt = &now

	result := d.sender.Send(sub.URL, []byte(event.PayloadJSON), sub.Secret, event.Type, event.ID)
	delivery.ResponseStatus = result.StatusCode

	if result.Acknowledged() {
		delivery.Status = models.WebhookDeliveryStatusDelivered
		delivery.LastError = ""
		if err := d.repo.UpdateDelivery(delivery); err != nil {
			log.Errorf("[Webhooks] Failed to record delivery %s: %v", deliveryID, err)
			return
		}
		log.Infof("[Webhooks] Delivered %s to %s (attempt %d)", event.ID, sub.ID, delivery.AttemptCount)
		d.reconcileEventStatus(event.ID)
		return
	}

	if result.Err != nil {
		delivery.LastError = result.Err.Error()
	} else {
		delivery.LastError = fmt.Sprintf("endpoint returned %d", result.StatusCode)
	}

	if delivery.AttemptCount >= MaxAttempts {
		delivery.Status = models.WebhookDeliveryStatusFailed
		if err := d.repo.UpdateDelivery(delivery); err != nil {
			log.Errorf("[Webhooks] Failed to record delivery %s: %v", deliveryID, err)
			return
		}
		log.Errorf("[Webhooks] Delivery %s permanently failed after %d attempts: %s", deliveryID, delivery.AttemptCount, delivery.LastError)
		d.reconcileEventStatus(event.ID)
		return
	}

	if err := d.repo.UpdateDelivery(delivery); err != nil {
		log.Errorf("[Webhooks] Failed to record delivery %s: %v", deliveryID, err)
		return
	}

	delay := d.backoff(delivery.AttemptCount)
	log.Warnf("[Webhooks] Delivery %s attempt %d failed (%s); retrying in %s", deliveryID, delivery.AttemptCount, delivery.LastError, delay)
	time.AfterFunc(delay, func() {
		if err := d.client.LPush(context.Background(), DeliveryQueueKey, deliveryID).Err(); err != nil {
			log.Errorf("[Webhooks] Failed to requeue delivery %s: %v", deliveryID, err)
		}
	})
}

// requeueIfAbsent pushes a delivery onto the queue unless it is already
// queued or mid-attempt in the processing list.
func (d *Dispatcher) requeueIfAbsent(ctx context.Context, deliveryID string) error {
	for _, key := range []string{DeliveryQueueKey, DeliveryProcessingKey} {
		_, err := d.client.LPos(ctx, key, deliveryID, redis.LPosArgs{}).Result()
		if err == nil {
			return nil
		}
		if err != redis.Nil {
			return err
		}
	}
	return d.client.LPush(ctx, DeliveryQueueKey, deliveryID).Err()
}

// SweepStalled requeues pending deliveries stranded by a crash: a retry
// scheduled in process memory dies with the process, leaving the record
// pending in the database with nothing in any Redis list. Anything still
// pending well past the maximum backoff (or never attempted and old) gets
// pushed back onto the queue.
func (d *Dispatcher) SweepStalled(ctx context.Context) {
	cutoff := time.Now().Add(-(d.backoff(MaxAttempts) + time.Minute))
	deliveries, err := d.repo.ListStalePendingDeliveries(cutoff, 100)
	if err != nil {
		log.Errorf("[Webhooks] Failed to list stalled deliveries: %v", err)
		return
	}
	for _, delivery := range deliveries {
		if err := d.requeueIfAbsent(ctx, delivery.ID); err != nil {
			log.Errorf("[Webhooks] Failed to requeue stalled delivery %s: %v", delivery.ID, err)
			continue
		}
		log.Warnf("[Webhooks] Requeued stalled delivery %s", delivery.ID)
	}
}

// backoff returns the delay before the next attempt: base * 2^(attempt-1).
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// reconcileEventStatus aggregates delivery outcomes onto the event: pending
// while any delivery is open, delivered when every delivery succeeded,
// failed once all are settled and at least one exhausted its retries.
func (d *Dispatcher) reconcileEventStatus(eventID string) {
	deliveries, err := d.repo.ListDeliveriesByEvent(eventID)
	if err != nil {
		log.Errorf("[Webhooks] Failed to list deliveries for %s: %v", eventID, err)
		return
	}

	anyFailed := false
	for _, delivery := range deliveries {
		switch delivery.Status {
		case models.WebhookDeliveryStatusPending:
			return
		case models.WebhookDeliveryStatusFailed:
			anyFailed = true
		}
	}

	status := models.WebhookEventStatusDelivered
	if anyFailed {
		status = models.WebhookEventStatusFailed
	}
	if err := d.repo.UpdateEventStatus(eventID, status); err != nil {
		log.Errorf("[Webhooks] Failed to update event %s status: %v", eventID, err)
	}
}

// stuckSweeper requeues deliveries abandoned in the processing list, e.g.
// after a worker crash mid-attempt.
func (d *Dispatcher) stuckSweeper(maxAge, interval time.Duration) {
	defer d.wg.Done()
	log.Infof("[Webhooks] Stuck sweeper running (maxAge=%s, interval=%s)", maxAge, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-d.stopCh:
			log.Info("[Webhooks] Stuck sweeper stopping")
			return
		case <-ticker.C:
			ids, err := d.client.LRange(ctx, DeliveryProcessingKey, 0, -1).Result()
			if err != nil {
				log.Errorf("[Webhooks] Sweeper LRange error: %v", err)
				continue
			}
			for _, id := range ids {
				delivery, err := d.repo.GetDelivery(id)
				if err != nil {
					d.client.LRem(ctx, DeliveryProcessingKey, 1, id)
					continue
				}
				if delivery.Status != models.WebhookDeliveryStatusPending {
					d.client.LRem(ctx, DeliveryProcessingKey, 1, id)
					continue
				}
				if delivery.LastAttemptAt != nil && time.Since(*delivery.LastAttemptAt) < maxAge {
					continue
				}
				if delivery.LastAttemptAt == nil && time.Since(delivery.CreatedAt) < maxAge {
					continue
				}
				log.Warnf("[Webhooks] Recovering stuck delivery %s", id)
				d.client.LRem(ctx, DeliveryProcessingKey, 1, id)
				d.client.RPush(ctx, DeliveryQueueKey, id)
			}
		}
	}
}
