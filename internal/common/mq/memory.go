package mq

import (
	"context"
	"errors"
	"sync"
	"time"
)

const memoryTopicBuffer = 1024

// MemoryQueue is an in-process MessageQueue for single-node deployments and tests.
// Subscribers sharing a consumer group split the messages of a topic; distinct
// groups each receive every message.
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
	closed bool
}

type memoryTopic struct {
	groups  map[string]chan *Message
	pending []*Message
	subs    map[*memorySubscription]struct{}
}

type memorySubscription struct {
	queue   *MemoryQueue
	topic   string
	ch      chan *Message
	handler HandlerFunc
	opts    SubscribeOptions

	handlerCtx context.Context
	stop       chan struct{}
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{topics: make(map[string]*memoryTopic)}
}

func (q *MemoryQueue) topicLocked(name string) *memoryTopic {
	t, ok := q.topics[name]
	if !ok {
		t = &memoryTopic{
			groups: make(map[string]chan *Message),
			subs:   make(map[*memorySubscription]struct{}),
		}
		q.topics[name] = t
	}
	return t
}

// Publish enqueues a copy of message for every consumer group of topic.
// Messages published before any subscriber exists are held for the first group;
// once that buffer is full the oldest held message is dropped.
func (q *MemoryQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	t := q.topicLocked(topic)
	if len(t.groups) == 0 {
		if len(t.pending) >= memoryTopicBuffer {
			t.pending[0] = nil
			t.pending = t.pending[1:]
		}
		t.pending = append(t.pending, cloneMessage(message))
		return nil
	}
	for _, ch := range t.groups {
		select {
		case ch <- cloneMessage(message):
		case <-ctx.Done():
			return ctx.Err()
		default:
			return errors.New("topic buffer is full")
		}
	}
	return nil
}

// PublishBatch publishes messages in order.
func (q *MemoryQueue) PublishBatch(ctx context.Context, topic string, messages []*Message) error {
	if len(messages) == 0 {
		return errors.New("messages are required")
	}
	for _, m := range messages {
		if err := q.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe starts workers draining the group channel of topic.
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) (Subscription, error) {
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = "vjudge-" + topic
	}
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.New("message queue is closed")
	}
	t := q.topicLocked(topic)
	ch, ok := t.groups[options.ConsumerGroup]
	if !ok {
		ch = make(chan *Message, memoryTopicBuffer)
		t.groups[options.ConsumerGroup] = ch
		for _, m := range t.pending {
			ch <- m
		}
		t.pending = nil
	}

	sub := &memorySubscription{
		queue:      q,
		topic:      topic,
		ch:         ch,
		handler:    handler,
		opts:       options,
		handlerCtx: context.WithoutCancel(ctx),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	t.subs[sub] = struct{}{}
	for i := 0; i < options.Concurrency; i++ {
		sub.wg.Add(1)
		go sub.run()
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.stop:
		}
	}()
	return sub, nil
}

func (s *memorySubscription) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		select {
		case <-s.stop:
			return
		case m := <-s.ch:
			s.handle(m)
		}
	}
}

func (s *memorySubscription) handle(m *Message) {
	if m.Expiration == 0 && s.opts.MessageTTL > 0 {
		m.Expiration = s.opts.MessageTTL
	}
	if m.expired(time.Now()) {
		return
	}
	switch deliver(s.handlerCtx, s.stop, s.handler, m, s.opts) {
	case outcomeAbandoned:
		select {
		case s.ch <- m:
		default:
		}
	case outcomeDeadLetter:
		_ = s.queue.Publish(s.handlerCtx, s.opts.DeadLetterTopic, m)
	}
}

// Topic returns the subscribed topic.
func (s *memorySubscription) Topic() string {
	return s.topic
}

// Close stops taking new messages; Done fires after the in-flight one finishes.
func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		go func() {
			s.wg.Wait()
			s.queue.mu.Lock()
			if t, ok := s.queue.topics[s.topic]; ok {
				delete(t.subs, s)
			}
			s.queue.mu.Unlock()
			close(s.done)
		}()
	})
	return nil
}

// Done is closed after the subscription has fully stopped.
func (s *memorySubscription) Done() <-chan struct{} {
	return s.done
}

// Ping always succeeds while the queue is open.
func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	return nil
}

// Close stops every subscription and waits for in-flight handlers.
func (q *MemoryQueue) Close() error {
	return q.Shutdown(context.Background())
}

// Shutdown stops every subscription and waits for in-flight handlers until ctx is done.
func (q *MemoryQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	var subs []*memorySubscription
	for _, t := range q.topics {
		for s := range t.subs {
			subs = append(subs, s)
		}
	}
	q.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	for _, s := range subs {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func cloneMessage(m *Message) *Message {
	c := *m
	if m.Headers != nil {
		c.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}
