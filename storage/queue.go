package storage

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// EventEnvelope is the message EventQueue writes for every board change.
type EventEnvelope struct {
	Board string           `json:"board"`
	Event domain.PushEvent `json:"event"`
}

// EventQueue forwards board changes to an Azure Storage queue for downstream consumers.
type EventQueue struct {
	queue *azqueue.QueueClient
}

func NewEventQueue(connStr, name string) (*EventQueue, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    retryOptions.TryTimeout,
				RetryDelay:    retryOptions.RetryDelay,
				MaxRetryDelay: retryOptions.MaxRetryDelay * 4,
				StatusCodes:   retryOptions.StatusCodes,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q}, nil
}

func (q *EventQueue) Publish(ctx context.Context, board string, ev domain.PushEvent) error {
	data, err := sonic.MarshalString(EventEnvelope{Board: board, Event: ev})
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, data, nil)
	return err
}
