package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides run-scoped Redis operations for the step feed.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb     *redis.Client
	runName string
}

// NewClient creates a feed client for the given run.
// Returns an error if runName is empty.
func NewClient(redisOpts *redis.Options, runName string) (*Client, error) {
	if runName == "" {
		return nil, fmt.Errorf("run name cannot be empty")
	}
	return &Client{
		rdb:     redis.NewClient(redisOpts),
		runName: runName,
	}, nil
}

// Dial parses a redis:// URL and creates a client.
func Dial(redisURL, runName string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewClient(opts, runName)
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PublishStep stores the event as the walker's latest status and publishes it
// to the step events channel.
func (c *Client) PublishStep(ctx context.Context, e StepEvent) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid step event: %w", err)
	}

	hash, err := StepToHash(&e)
	if err != nil {
		return fmt.Errorf("failed to serialize step event: %w", err)
	}
	if err := c.rdb.HSet(ctx, WalkerKey(c.runName, e.Worker), hash).Err(); err != nil {
		return fmt.Errorf("failed to write walker status to Redis: %w", err)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal step event: %w", err)
	}
	if err := c.rdb.Publish(ctx, StepEventsChannel(c.runName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish step event: %w", err)
	}
	return nil
}

// GetWalker returns the latest status of one walker.
// Returns (nil, redis.Nil) if the walker never reported; use IsNotFound.
func (c *Client) GetWalker(ctx context.Context, worker int) (*StepEvent, error) {
	hash, err := c.rdb.HGetAll(ctx, WalkerKey(c.runName, worker)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read walker status from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	e, err := HashToStep(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize walker status: %w", err)
	}
	return e, nil
}

// ListWalkers returns the latest status of every walker of the run, ordered
// by worker id. Unreadable hashes are skipped.
func (c *Client) ListWalkers(ctx context.Context) ([]*StepEvent, error) {
	var out []*StepEvent
	iter := c.rdb.Scan(ctx, 0, WalkerKeyPattern(c.runName), 100).Iterator()
	for iter.Next(ctx) {
		hash, err := c.rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", iter.Val(), err)
		}
		e, err := HashToStep(hash)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan walker keys: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out, nil
}

// Subscription represents an active subscription to step events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *StepEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of step events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *StepEvent {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeSteps subscribes to the run's step events. The subscription is
// confirmed by Redis before it is returned, so no later event is missed.
//
// Events are delivered on a buffered channel (size 10). Redis Pub/Sub is
// at-most-once; a slow subscriber may miss events.
func (c *Client) SubscribeSteps(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, StepEventsChannel(c.runName))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to step events: %w", err)
	}

	eventsChan := make(chan *StepEvent, 10)
	errorsChan := make(chan error, 10)
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

				var e StepEvent
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal step event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &e:
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

// IsNotFound reports whether err means a key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
