package service

import (
	"context"
	"sync"
	"time"

	"vjudge/internal/vjudge/model"
	"vjudge/internal/vjudge/provider"

	"github.com/cenkalti/backoff/v4"
)

const (
	terminalPublishRetries  = 3
	terminalPublishInterval = 50 * time.Millisecond
)

// ResultSink receives the events of every record.
type ResultSink interface {
	Publish(ctx context.Context, ev model.RecordEvent) error
}

// resultStream is the Reporter of one task. It forwards events in order
// and refuses everything once End has been called.
type resultStream struct {
	mu    sync.Mutex
	sink  ResultSink
	rid   string
	seq   int
	ended bool
}

func newResultStream(sink ResultSink, rid string) *resultStream {
	return &resultStream{sink: sink, rid: rid}
}

func (s *resultStream) Next(ctx context.Context, p model.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return provider.ErrStreamClosed
	}
	s.seq++
	return s.sink.Publish(ctx, model.RecordEvent{RID: s.rid, Seq: s.seq, Progress: &p, At: time.Now()})
}

func (s *resultStream) End(ctx context.Context, f model.Final) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return provider.ErrStreamClosed
	}
	s.ended = true
	s.seq++
	ev := model.RecordEvent{RID: s.rid, Seq: s.seq, Terminal: true, Final: &f, At: time.Now()}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = terminalPublishInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, terminalPublishRetries), ctx)
	return backoff.Retry(func() error { return s.sink.Publish(ctx, ev) }, b)
}

// Ended reports whether the terminal event was emitted.
func (s *resultStream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

var _ provider.Reporter = (*resultStream)(nil)
