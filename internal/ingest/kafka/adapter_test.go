package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mailroom/internal/record"

	"github.com/twmb/franz-go/pkg/kgo"
)

type stubPublisher struct {
	mu        sync.Mutex
	published []record.Record
	waitCh    chan struct{}
	err       error
}

func (s *stubPublisher) Publish(payload []byte, opts ...record.Option) (record.Record, error) {
	if s.waitCh != nil {
		<-s.waitCh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return record.Record{}, s.err
	}
	rec, err := record.New(payload, opts...)
	if err != nil {
		return record.Record{}, err
	}
	s.published = append(s.published, rec)
	return rec, nil
}

func (s *stubPublisher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Enabled: true, Brokers: []string{"127.0.0.1:9092"}, Topics: []string{"messages"}, GroupID: "g1"}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ParseMode != ParseModeEnvelope {
		t.Fatalf("default parse mode = %q", cfg.ParseMode)
	}
}

func TestConfigRejectsUnknownParseMode(t *testing.T) {
	cfg := Config{Enabled: true, Brokers: []string{"b"}, Topics: []string{"t"}, GroupID: "g", ParseMode: "protobuf"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected parse mode error")
	}
}

func TestParseEnvelope(t *testing.T) {
	a := &Adapter{cfg: Config{ParseMode: ParseModeEnvelope}}
	rec := &kgo.Record{Topic: "messages", Value: []byte(`{"payload":{"ok":true},"message_type":"type_a","priority":2}`)}
	payload, opts, err := a.parseRecord(rec)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	built, err := record.New(payload, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if built.MessageType != "type_a" {
		t.Fatalf("message type = %q", built.MessageType)
	}
	if built.Priority == nil || *built.Priority != 2 {
		t.Fatalf("priority = %v", built.Priority)
	}
	if string(built.Payload) != `{"ok":true}` {
		t.Fatalf("payload = %s", built.Payload)
	}
}

func TestParseEnvelopeOptionalFieldsAbsent(t *testing.T) {
	a := &Adapter{cfg: Config{ParseMode: ParseModeEnvelope}}
	payload, opts, err := a.parseRecord(&kgo.Record{Value: []byte(`{"payload":"hi"}`)})
	if err != nil {
		t.Fatal(err)
	}
	built, err := record.New(payload, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if built.MessageType != "" || built.Priority != nil {
		t.Fatalf("optional fields invented: %+v", built)
	}
}

func TestParseRawWithHeaders(t *testing.T) {
	a := &Adapter{cfg: Config{ParseMode: ParseModeRaw}}
	rec := &kgo.Record{Value: []byte("raw bytes"), Headers: []kgo.RecordHeader{
		{Key: "message_type", Value: []byte("type_b")},
		{Key: "priority", Value: []byte("7")},
	}}
	payload, opts, err := a.parseRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	built, err := record.New(payload, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if string(built.Payload) != "raw bytes" || built.MessageType != "type_b" || built.Priority == nil || *built.Priority != 7 {
		t.Fatalf("raw parse mismatch: %+v", built)
	}
}

func TestOffsetCommitOnlyAfterQueueAccept(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wait := make(chan struct{})
	pub := &stubPublisher{waitCh: wait}
	a := &Adapter{
		cfg:       Config{ParseMode: ParseModeEnvelope, Topics: []string{"messages"}},
		publisher: pub,
		records:   make(chan *kgo.Record, 1),
		acks:      make(chan recordAck, 1),
	}

	committed := make(chan struct{}, 1)
	a.markCommit = func(*kgo.Record) { committed <- struct{}{} }
	a.commitMarked = func(context.Context) error { return nil }
	a.pauseFetch = func(...string) {}
	a.resumeFetch = func(...string) {}

	go a.handleAcks(ctx)
	go a.runWorker()

	a.records <- &kgo.Record{Topic: "messages", Value: []byte(`{"payload":"m"}`)}

	select {
	case <-committed:
		t.Fatalf("offset committed before the queue accepted the message")
	case <-time.After(75 * time.Millisecond):
	}
	close(wait)
	select {
	case <-committed:
	case <-time.After(time.Second):
		t.Fatalf("expected commit after accept")
	}
}

func TestCommitSkipsOnPublishFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := &stubPublisher{err: errors.New("queue rejected")}
	a := &Adapter{
		cfg:       Config{ParseMode: ParseModeEnvelope},
		publisher: pub,
		records:   make(chan *kgo.Record, 1),
		acks:      make(chan recordAck, 1),
	}
	commits := 0
	a.markCommit = func(*kgo.Record) { commits++ }
	a.commitMarked = func(context.Context) error { return nil }
	a.pauseFetch = func(...string) {}
	a.resumeFetch = func(...string) {}
	go a.handleAcks(ctx)
	go a.runWorker()
	a.records <- &kgo.Record{Topic: "messages", Value: []byte(`{"payload":"m"}`)}
	time.Sleep(60 * time.Millisecond)
	if commits != 0 {
		t.Fatalf("expected no offset commit on publish failure")
	}
}

func TestBackpressurePauseAndResume(t *testing.T) {
	a := &Adapter{cfg: Config{Topics: []string{"messages"}}, records: make(chan *kgo.Record, 2)}
	paused := 0
	resumed := 0
	a.pauseFetch = func(...string) { paused++ }
	a.resumeFetch = func(...string) { resumed++ }

	a.records <- &kgo.Record{}
	a.records <- &kgo.Record{}
	a.maybePause()
	if paused != 1 {
		t.Fatalf("expected pause, got %d", paused)
	}
	<-a.records
	a.maybeResume()
	if resumed != 1 {
		t.Fatalf("expected resume, got %d", resumed)
	}
}
