package scene_sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/stagehand-dev/stagehand/editor/item_service"
)

// Subscription is an active pub/sub subscription to a scene's item events.
// The caller must call Close when done to release the underlying connection.
type Subscription struct {
	events <-chan item_service.ItemEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of item events. The channel is closed when the
// subscription is closed or the parent context is cancelled.
func (s *Subscription) Events() <-chan item_service.ItemEvent {
	return s.events
}

// Errors returns the channel of subscription errors. Errors are non-fatal;
// malformed messages are skipped and the subscription continues.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe opens a pub/sub subscription to the scene's item events channel
// and pumps decoded events until ctx is cancelled or Close is called.
//
// Parameters:
//   - ctx: the parent context; cancelling it terminates the subscription
//   - rdb: the redis client shared with the item service
//   - sceneID: the scene whose item events to receive
//
// Returns:
//   - *Subscription: the live subscription
//   - error: error if the scene identifier is empty
func Subscribe(ctx context.Context, rdb *redis.Client, sceneID string) (*Subscription, error) {
	if sceneID == "" {
		return nil, fmt.Errorf("sceneID cannot be empty")
	}
	pubsub := rdb.Subscribe(ctx, item_service.ItemEventsChannel(sceneID))

	eventsChan := make(chan item_service.ItemEvent, 16)
	errorsChan := make(chan error, 16)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event item_service.ItemEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal item event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
