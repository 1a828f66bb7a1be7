package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskflow-api/domain"
)

// EventPublisher pushes task lifecycle events onto a storage queue for
// downstream consumers. Delivery is best-effort; the lifecycle service
// treats publish failures as non-fatal.
type EventPublisher struct {
	queue *azqueue.QueueClient
}

// NewEventPublisher creates a publisher for the given queue.
func NewEventPublisher(connStr, queueName string) (*EventPublisher, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &EventPublisher{queue: q}, nil
}

// PublishTaskEvent sends one event to the queue.
func (p *EventPublisher) PublishTaskEvent(ctx context.Context, ev domain.TaskEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}
