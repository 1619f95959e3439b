package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vjudge/internal/common/cache"
	"vjudge/internal/common/mq"
	"vjudge/internal/vjudge/model"
	"vjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// RecordTopic carries record events to the platform judge model.
	RecordTopic = "judge.record"

	recordSnapshotPrefix = "vjudge:record:"
	recordEventsPrefix   = "vjudge:record:events:"
	defaultRecordTTL     = 24 * time.Hour
	maxRecordEvents      = 256
)

// RecordSink forwards result events to the platform and caches the latest state of each record.
type RecordSink struct {
	producer mq.Producer
	cache    cache.Cache
	ttl      time.Duration
}

func NewRecordSink(producer mq.Producer, cacheClient cache.Cache, ttl time.Duration) *RecordSink {
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}
	return &RecordSink{producer: producer, cache: cacheClient, ttl: ttl}
}

// Publish caches ev and hands it to the platform. Events are keyed by record id so
// they stay ordered; the cached snapshot is written first and survives a failed publish.
func (s *RecordSink) Publish(ctx context.Context, ev model.RecordEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode record event failed: %w", err)
	}
	msg := mq.NewMessage(body)
	msg.ID = fmt.Sprintf("%s-%d", ev.RID, ev.Seq)
	msg.Key = ev.RID
	msg.SetHeader("rid", ev.RID)
	if ev.Terminal {
		msg.SetHeader("terminal", "true")
	}
	if s.cache != nil {
		if err := s.remember(ctx, ev, body); err != nil {
			logger.Warn(ctx, "cache record event failed", zap.String("rid", ev.RID), zap.Error(err))
		}
	}
	if err := s.producer.Publish(ctx, RecordTopic, msg); err != nil {
		return fmt.Errorf("publish record event failed: %w", err)
	}
	return nil
}

func (s *RecordSink) remember(ctx context.Context, ev model.RecordEvent, body []byte) error {
	snapshot, err := s.Get(ctx, ev.RID)
	if err != nil {
		return err
	}
	if snapshot == nil {
		snapshot = &model.RecordSnapshot{}
	}
	snapshot.Apply(ev)
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	ttl := cache.JitterTTL(s.ttl)
	if err := s.cache.Set(ctx, recordSnapshotPrefix+ev.RID, string(raw), ttl); err != nil {
		return err
	}
	return s.cache.RPushTrim(ctx, recordEventsPrefix+ev.RID, maxRecordEvents, ttl, string(body))
}

// Get returns the cached snapshot of rid, or nil when nothing is cached.
func (s *RecordSink) Get(ctx context.Context, rid string) (*model.RecordSnapshot, error) {
	if s.cache == nil {
		return nil, nil
	}
	raw, err := s.cache.Get(ctx, recordSnapshotPrefix+rid)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var snapshot model.RecordSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("decode record snapshot failed: %w", err)
	}
	return &snapshot, nil
}

// Events returns the cached events of rid in publish order.
func (s *RecordSink) Events(ctx context.Context, rid string) ([]model.RecordEvent, error) {
	if s.cache == nil {
		return nil, nil
	}
	items, err := s.cache.LRange(ctx, recordEventsPrefix+rid, 0, -1)
	if err != nil {
		return nil, err
	}
	events := make([]model.RecordEvent, 0, len(items))
	for _, item := range items {
		var ev model.RecordEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("decode record event failed: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
