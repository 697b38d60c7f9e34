package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"mailroom/internal/queue"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestKafkaContainerIntegration(t *testing.T) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker/container runtime unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "docker.redpanda.com/redpandadata/redpanda:v24.1.8",
		ExposedPorts: []string{"9092/tcp"},
		Cmd:          []string{"redpanda", "start", "--overprovisioned", "--smp", "1", "--memory", "512M", "--reserve-memory", "0M", "--check=false", "--node-id", "0", "--kafka-addr", "0.0.0.0:9092", "--advertise-kafka-addr", "127.0.0.1:9092"},
		WaitingFor:   wait.ForLog("Successfully started Redpanda"),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker/container runtime unavailable: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	host, _ := ctr.Host(ctx)
	port, _ := ctr.MappedPort(ctx, "9092")
	broker := fmt.Sprintf("%s:%s", host, port.Port())

	producer, err := kgo.NewClient(kgo.SeedBrokers(broker), kgo.DefaultProduceTopic("messages"))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer producer.Close()

	body, _ := json.Marshal(map[string]any{"payload": "bridged message", "message_type": "type_a", "priority": 1})
	if err := producer.ProduceSync(ctx, &kgo.Record{Topic: "messages", Value: body}).FirstErr(); err != nil {
		t.Fatalf("produce: %v", err)
	}

	q := queue.New()
	adapter, err := NewAdapter(Config{Enabled: true, Brokers: []string{broker}, Topics: []string{"messages"}, GroupID: "mailroom-it", ParseMode: ParseModeEnvelope}, queue.NewProducer(q))
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	consumeCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	go func() { _ = adapter.Start(consumeCtx) }()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-consumeCtx.Done():
			t.Fatalf("timed out waiting for bridged message")
		case <-ticker.C:
			if q.Len() == 0 {
				continue
			}
			rec, ok := q.TakeFirst()
			if !ok {
				continue
			}
			if string(rec.Payload) != `"bridged message"` || rec.MessageType != "type_a" {
				t.Fatalf("unexpected record: %+v", rec)
			}
			if rec.Priority == nil || *rec.Priority != 1 {
				t.Fatalf("priority lost: %+v", rec.Priority)
			}
			return
		}
	}
}
