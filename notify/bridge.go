// Package notify bridges realtime events into durable notification
// records so offline recipients see them later.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"dispatchd/broadcast"
	"dispatchd/domain"
)

// Store is the slice of the record store the bridge writes to.
type Store interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	MarkNotificationDelivered(ctx context.Context, contractorID, notificationID string) (bool, error)
}

// Bridge persists notifications alongside (not instead of) their realtime
// push. Writes happen off the caller's goroutine; a slow or failing store
// never blocks or fails the operation that triggered the notification.
type Bridge struct {
	store   Store
	router  *broadcast.Router
	logger  *log.Logger
	ttl     time.Duration
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewBridge(store Store, router *broadcast.Router, logger *log.Logger, ttl time.Duration) *Bridge {
	return &Bridge{
		store:   store,
		router:  router,
		logger:  logger,
		ttl:     ttl,
		timeout: 30 * time.Second,
	}
}

// Deliver writes a durable notification for one contractor and pushes a
// notification:personal event to their live connections. Fire-and-forget.
func (b *Bridge) Deliver(n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = now.Add(b.ttl)
	}
	if n.Priority == "" {
		n.Priority = domain.NotifyNormal
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := b.store.CreateNotification(ctx, &n); err != nil {
			b.logger.WithError(err).WithFields(log.Fields{
				"contractor": n.ContractorID,
				"type":       n.Type,
			}).Error("durable notification write failed")
		}
		b.router.Broadcast(domain.EventNotifyPersonal, map[string]any{
			"id":       n.ID,
			"type":     n.Type,
			"priority": string(n.Priority),
			"title":    n.Title,
			"message":  n.Message,
			"data":     n.Data,
		}, broadcast.Target{Contractor: n.ContractorID})
	}()
}

// System pushes a system-wide announcement to the given target. No
// durable record is materialized here: callers that know their recipient
// set persist through Deliver, and offline contractors rediscover
// dispatchable work through the available-tasks query.
func (b *Bridge) System(title, message string, data map[string]any, t broadcast.Target) {
	b.router.Broadcast(domain.EventNotifySystem, map[string]any{
		"title":   title,
		"message": message,
		"data":    data,
	}, t)
}

// MarkDelivered acks a notification on behalf of its recipient.
func (b *Bridge) MarkDelivered(ctx context.Context, contractorID, notificationID string) (bool, error) {
	return b.store.MarkNotificationDelivered(ctx, contractorID, notificationID)
}

// Flush waits for in-flight durable writes. Used by shutdown and tests.
func (b *Bridge) Flush() {
	b.wg.Wait()
}
