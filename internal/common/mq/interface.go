package mq

import (
	"context"
	"time"
)

// MessageQueue defines the queue operations the remote judge needs:
// publishing record events and per-account task consumption.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the message queue connection is alive
	Ping(ctx context.Context) error

	// Shutdown stops every subscription and the producer, waiting for in-flight
	// handlers until ctx is done.
	Shutdown(ctx context.Context) error

	// Close is Shutdown without a deadline
	Close() error
}

// Producer defines the interface for publishing messages
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
	PublishBatch(ctx context.Context, topic string, messages []*Message) error
}

// Consumer defines the interface for consuming messages
type Consumer interface {
	// Subscribe starts consuming topic immediately. The handler should return nil on
	// success; an error triggers the retry policy in opts.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) (Subscription, error)
}

// Subscription is one running consumer. Close stops fetching new messages;
// a message already handed to the handler is finished and committed first.
type Subscription interface {
	Topic() string
	Close() error
	// Done is closed once the in-flight handler (if any) has returned.
	Done() <-chan struct{}
}

// Message represents a message in the queue
type Message struct {
	ID string `json:"id"`
	// Key routes messages with equal keys to the same partition, keeping their order.
	Key       string            `json:"key,omitempty"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Expiration drops the message unprocessed once it is older than this
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc is the function signature for message handlers
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup is the consumer group name. Accounts of the same provider
	// share a group so each task is delivered to exactly one of them.
	ConsumerGroup string

	// Concurrency sets the number of concurrent workers
	// Default: 1 (remote sites are rate-sensitive)
	Concurrency int

	// MaxRetries sets the maximum number of retries for failed messages
	// Default: 3
	MaxRetries int

	// RetryDelay sets the delay between retries
	// Default: 1 second
	RetryDelay time.Duration

	// DeadLetterTopic is where messages go after max retries
	DeadLetterTopic string

	MessageTTL time.Duration
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

func (m *Message) partitionKey() string {
	if m.Key != "" {
		return m.Key
	}
	return m.ID
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// expired reports whether the message outlived its TTL.
func (m *Message) expired(now time.Time) bool {
	return m.Expiration > 0 && !m.Timestamp.IsZero() && now.Sub(m.Timestamp) > m.Expiration
}

type outcome int

const (
	outcomeHandled outcome = iota
	outcomeDeadLetter
	// outcomeAbandoned leaves the message uncommitted so the group redelivers it.
	outcomeAbandoned
)

// deliver runs handler with the retry policy. Retries stop early once stop is closed.
func deliver(ctx context.Context, stop <-chan struct{}, handler HandlerFunc, m *Message, opts SubscribeOptions) outcome {
	if m.MaxRetries == 0 {
		m.MaxRetries = opts.MaxRetries
	}
	for {
		if err := handler(ctx, m); err == nil {
			return outcomeHandled
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			if opts.DeadLetterTopic != "" {
				return outcomeDeadLetter
			}
			return outcomeHandled
		}
		select {
		case <-stop:
			return outcomeAbandoned
		case <-time.After(opts.RetryDelay):
		}
	}
}
