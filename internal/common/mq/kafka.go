package mq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"
	headerExpiration = "x-message-expiration-ms"
)

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	// Producer settings
	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	// Consumer settings
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	// Dialer settings
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaQueue implements MessageQueue using Kafka.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu            sync.Mutex
	subscriptions map[*kafkaSubscription]struct{}
	closed        bool
}

type kafkaSubscription struct {
	queue   *KafkaQueue
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	reader  *kafka.Reader

	// ctx drives fetching; handlerCtx keeps the caller's values without its cancellation
	ctx        context.Context
	cancel     context.CancelFunc
	handlerCtx context.Context

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewKafkaQueue creates a Kafka-backed message queue.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1 << 10
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = kafka.RequireOne
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  cfg.Compression,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}

	return &KafkaQueue{
		config:        cfg,
		writer:        writer,
		dialer:        dialer,
		subscriptions: make(map[*kafkaSubscription]struct{}),
	}, nil
}

// Publish publishes a message to a topic.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	msg := toKafkaMessage(topic, message)
	return k.writer.WriteMessages(ctx, msg)
}

// PublishBatch publishes multiple messages in a batch.
func (k *KafkaQueue) PublishBatch(ctx context.Context, topic string, messages []*Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if len(messages) == 0 {
		return errors.New("messages are required")
	}
	kmsgs := make([]kafka.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			return errors.New("message is nil")
		}
		kmsgs = append(kmsgs, toKafkaMessage(topic, msg))
	}
	return k.writer.WriteMessages(ctx, kmsgs...)
}

// Subscribe starts a consumer group reader for topic.
func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) (Subscription, error) {
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
		options.ConsumerGroup = fmt.Sprintf("vjudge-%s", topic)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, errors.New("message queue is closed")
	}

	sub := &kafkaSubscription{
		queue:   k,
		topic:   topic,
		handler: handler,
		opts:    options,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     k.config.Brokers,
			Topic:       topic,
			GroupID:     options.ConsumerGroup,
			Dialer:      k.dialer,
			MinBytes:    k.config.MinBytes,
			MaxBytes:    k.config.MaxBytes,
			MaxWait:     k.config.MaxWait,
			StartOffset: kafka.FirstOffset,
		}),
		handlerCtx: context.WithoutCancel(ctx),
		done:       make(chan struct{}),
	}
	sub.ctx, sub.cancel = context.WithCancel(ctx)
	k.subscriptions[sub] = struct{}{}
	sub.start()
	return sub, nil
}

func (s *kafkaSubscription) start() {
	msgCh := make(chan kafka.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(msgCh)
		for s.ctx.Err() == nil {
			msg, err := s.reader.FetchMessage(s.ctx)
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, io.EOF) {
					return
				}
				time.Sleep(100 * time.Millisecond)
				continue
			}
			select {
			case msgCh <- msg:
			case <-s.ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < s.opts.Concurrency; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for msg := range msgCh {
				if s.ctx.Err() != nil {
					// fetched but never started; the group redelivers it
					continue
				}
				s.handle(msg)
			}
		}()
	}
}

func (s *kafkaSubscription) handle(msg kafka.Message) {
	m := fromKafkaMessage(msg)
	if m.Expiration == 0 && s.opts.MessageTTL > 0 {
		m.Expiration = s.opts.MessageTTL
	}
	result := outcomeHandled
	if !m.expired(time.Now()) {
		result = deliver(s.handlerCtx, s.ctx.Done(), s.handler, m, s.opts)
	}

	commitCtx, cancel := context.WithTimeout(s.handlerCtx, 5*time.Second)
	defer cancel()
	switch result {
	case outcomeAbandoned:
		return
	case outcomeDeadLetter:
		_ = s.queue.Publish(commitCtx, s.opts.DeadLetterTopic, m)
	}
	_ = s.reader.CommitMessages(commitCtx, msg)
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}

// Close stops fetching. It returns at once; Done reports when the in-flight
// message has been committed and the reader released.
func (s *kafkaSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		go func() {
			s.wg.Wait()
			_ = s.reader.Close()
			s.queue.mu.Lock()
			delete(s.queue.subscriptions, s)
			s.queue.mu.Unlock()
			close(s.done)
		}()
	})
	return nil
}

// Done is closed after the subscription has fully stopped.
func (s *kafkaSubscription) Done() <-chan struct{} {
	return s.done
}

// Ping verifies the Kafka connection.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close closes the producer after every subscription has drained.
func (k *KafkaQueue) Close() error {
	return k.Shutdown(context.Background())
}

// Shutdown closes the producer after every subscription has drained or ctx is done.
func (k *KafkaQueue) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	subs := make([]*kafkaSubscription, 0, len(k.subscriptions))
	for sub := range k.subscriptions {
		subs = append(subs, sub)
	}
	k.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	var waitErr error
wait:
	for _, sub := range subs {
		select {
		case <-sub.Done():
		case <-ctx.Done():
			waitErr = ctx.Err()
			break wait
		}
	}
	if err := k.writer.Close(); err != nil {
		return err
	}
	return waitErr
}

func toKafkaMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+6)
	for k, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if message.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(message.ID)})
	}
	if !message.Timestamp.IsZero() {
		headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(message.Timestamp.Format(time.RFC3339Nano))})
	}
	if message.RetryCount != 0 {
		headers = append(headers, kafka.Header{Key: headerRetryCount, Value: []byte(strconv.Itoa(message.RetryCount))})
	}
	if message.MaxRetries != 0 {
		headers = append(headers, kafka.Header{Key: headerMaxRetries, Value: []byte(strconv.Itoa(message.MaxRetries))})
	}
	if message.Expiration > 0 {
		headers = append(headers, kafka.Header{Key: headerExpiration, Value: []byte(strconv.FormatInt(message.Expiration.Milliseconds(), 10))})
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(message.partitionKey()),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
	return msg
}

func fromKafkaMessage(msg kafka.Message) *Message {
	m := &Message{
		Body:      msg.Value,
		Headers:   make(map[string]string),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerID:
			m.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				m.Timestamp = ts
			}
		case headerRetryCount:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				m.RetryCount = v
			}
		case headerMaxRetries:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				m.MaxRetries = v
			}
		case headerExpiration:
			if v, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil && v > 0 {
				m.Expiration = time.Duration(v) * time.Millisecond
			}
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	m.Key = string(msg.Key)
	if m.ID == "" {
		m.ID = m.Key
	}
	return m
}
