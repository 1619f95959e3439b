package mq

import (
	"testing"
	"time"
)

func TestKafkaMessageRoundTripKeepsMetadata(t *testing.T) {
	in := NewMessage([]byte(`{"rid":"r1"}`))
	in.ID = "m-1"
	in.Key = "r1"
	in.SetHeader("type", "remotejudge")
	in.RetryCount = 1
	in.Expiration = 30 * time.Second

	km := toKafkaMessage("judge.record", in)
	if string(km.Key) != "r1" {
		t.Fatalf("partition key = %q", km.Key)
	}
	out := fromKafkaMessage(km)
	if out.ID != "m-1" || out.Key != "r1" {
		t.Fatalf("id/key = %q/%q", out.ID, out.Key)
	}
	if v, _ := out.GetHeader("type"); v != "remotejudge" {
		t.Fatalf("header type = %q", v)
	}
	if out.RetryCount != 1 || out.Expiration != 30*time.Second {
		t.Fatalf("retry=%d expiration=%s", out.RetryCount, out.Expiration)
	}
	if _, ok := out.GetHeader(headerID); ok {
		t.Fatalf("internal header leaked into Headers")
	}
}

func TestNewKafkaQueueRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatal("expected error without brokers")
	}
}
