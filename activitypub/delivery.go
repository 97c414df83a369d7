package activitypub

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moapub/moa/db"
	"github.com/moapub/moa/domain"
)

// Deliverer is the engine's delivery collaborator. Implementations decide
// how activities reach remote inboxes; the shipped one queues them for the
// background worker.
type Deliverer interface {
	DeliverToFollowers(raw []byte) error
	DeliverToInbox(raw []byte, inboxIRI string) error
}

// QueueDeliverer writes deliveries into the queue table for the worker to
// pick up. Enqueueing never blocks on the network.
type QueueDeliverer struct {
	store *db.DB
}

func NewQueueDeliverer(store *db.DB) *QueueDeliverer {
	return &QueueDeliverer{store: store}
}

func (q *QueueDeliverer) DeliverToFollowers(raw []byte) error {
	err, inboxes := q.store.ReadFollowerInboxes()
	if err != nil {
		return err
	}
	if inboxes == nil || len(*inboxes) == 0 {
		return nil
	}
	for _, inbox := range *inboxes {
		if err := q.DeliverToInbox(raw, inbox); err != nil {
			log.Printf("Delivery: Failed to queue delivery to %s: %v", inbox, err)
		}
	}
	log.Printf("Delivery: Queued delivery to %d follower inboxes", len(*inboxes))
	return nil
}

func (q *QueueDeliverer) DeliverToInbox(raw []byte, inboxIRI string) error {
	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxIRI:     inboxIRI,
		ActivityJSON: string(raw),
		Attempts:     0,
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	}
	return q.store.EnqueueDelivery(item)
}

// StartDeliveryWorker starts a background worker that processes the delivery queue
func StartDeliveryWorker(store *db.DB, client *Client) {
	log.Println("Starting ActivityPub delivery worker...")

	ticker := time.NewTicker(10 * time.Second)
	go func() {
		for range ticker.C {
			processDeliveryQueue(store, client)
		}
	}()
}

// processDeliveryQueue processes pending deliveries from the queue
func processDeliveryQueue(store *db.DB, client *Client) {
	// Get pending deliveries (max 50 at a time)
	err, items := store.ReadPendingDeliveries(50)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}

	if items == nil || len(*items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(*items))

	for _, item := range *items {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		err := client.Post(ctx, item.InboxIRI, []byte(item.ActivityJSON))
		cancel()

		if err != nil {
			// Failed delivery - retry with exponential backoff
			item.Attempts++
			backoffMinutes := []int{1, 5, 15, 60, 240, 1440}[min(item.Attempts-1, 5)]
			item.NextRetryAt = time.Now().Add(time.Duration(backoffMinutes) * time.Minute)

			if item.Attempts >= 10 {
				// Give up after 10 attempts
				log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.InboxIRI, item.Attempts)
				store.DeleteDelivery(item.Id)
			} else {
				log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
					item.InboxIRI, item.Attempts, backoffMinutes, err)
				store.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
			}
		} else {
			// Successful delivery - remove from queue
			log.Printf("DeliveryWorker: Successfully delivered to %s", item.InboxIRI)
			store.DeleteDelivery(item.Id)
		}
	}
}

// min returns the minimum of two integers
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
