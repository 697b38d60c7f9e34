package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mailroom/internal/record"

	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	// ParseModeEnvelope expects a JSON envelope carrying the payload
	// and the optional classification fields.
	ParseModeEnvelope = "json_envelope"
	// ParseModeRaw treats the whole record value as the payload;
	// message_type and priority may ride in record headers.
	ParseModeRaw = "raw_value"
)

// Publisher accepts bridged messages into the queue. *queue.Producer
// satisfies it.
type Publisher interface {
	Publish(payload []byte, opts ...record.Option) (record.Record, error)
}

type Config struct {
	Enabled        bool
	Brokers        []string
	Topics         []string
	GroupID        string
	ClientID       string
	WorkerCount    int
	MaxPollRecords int
	QueueCapacity  int
	ParseMode      string
	Auth           AuthConfig
	Fetch          FetchConfig
}

type AuthConfig struct {
	TLS TLSConfig
}

type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
}

type FetchConfig struct {
	MinBytes int32
	MaxBytes int32
	MaxWait  time.Duration
}

type jsonEnvelope struct {
	Payload     json.RawMessage `json:"payload"`
	MessageType string          `json:"message_type"`
	Priority    *int            `json:"priority"`
}

// Adapter consumes Kafka topics and publishes every accepted record
// into the queue. Offsets are committed only after the queue accepted
// the message, so nothing is lost between fetch and append.
type Adapter struct {
	cfg Config

	client  *kgo.Client
	records chan *kgo.Record
	acks    chan recordAck
	closed  atomic.Bool

	pauseMux sync.Mutex
	paused   bool

	publisher    Publisher
	markCommit   func(*kgo.Record)
	commitMarked func(context.Context) error
	pauseFetch   func(...string)
	resumeFetch  func(...string)
}

type recordAck struct {
	record *kgo.Record
	err    error
}

func NewAdapter(cfg Config, publisher Publisher, opts ...kgo.Opt) (*Adapter, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.FetchMaxWait(cfg.Fetch.MaxWait),
		kgo.FetchMinBytes(cfg.Fetch.MinBytes),
		kgo.FetchMaxBytes(cfg.Fetch.MaxBytes),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.Auth.TLS.Enabled {
		kopts = append(kopts, kgo.DialTLSConfig(&tls.Config{InsecureSkipVerify: cfg.Auth.TLS.InsecureSkipVerify}))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}

	a := &Adapter{
		cfg:       cfg,
		client:    cl,
		publisher: publisher,
		records:   make(chan *kgo.Record, cfg.QueueCapacity),
		acks:      make(chan recordAck, cfg.QueueCapacity),
	}
	a.markCommit = func(r *kgo.Record) { cl.MarkCommitRecords(r) }
	a.commitMarked = func(ctx context.Context) error { return cl.CommitMarkedOffsets(ctx) }
	a.pauseFetch = func(topics ...string) { _ = cl.PauseFetchTopics(topics...) }
	a.resumeFetch = func(topics ...string) { cl.ResumeFetchTopics(topics...) }
	return a, nil
}

func (c *Config) withDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
	if c.ParseMode == "" {
		c.ParseMode = ParseModeEnvelope
	}
	if c.Fetch.MaxWait <= 0 {
		c.Fetch.MaxWait = time.Second
	}
	if c.Fetch.MinBytes <= 0 {
		c.Fetch.MinBytes = 1
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 50 << 20
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if len(c.Topics) == 0 {
		return errors.New("kafka.topics is required")
	}
	if c.GroupID == "" {
		return errors.New("kafka.group_id is required")
	}
	if c.ParseMode != ParseModeEnvelope && c.ParseMode != ParseModeRaw {
		return fmt.Errorf("unsupported parse mode %q", c.ParseMode)
	}
	return nil
}

func (a *Adapter) Start(ctx context.Context) error {
	defer a.client.Close()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.handleAcks(ctx)
	}()

	for i := 0; i < a.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runWorker()
		}()
	}

	for {
		if ctx.Err() != nil || a.closed.Load() {
			close(a.records)
			wg.Wait()
			return ctx.Err()
		}
		fetches := a.client.PollRecords(ctx, a.cfg.MaxPollRecords)
		if errs := fetches.Errors(); len(errs) > 0 {
			return errs[0].Err
		}
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, rec := range p.Records {
				for sent := false; !sent; {
					select {
					case a.records <- rec:
						a.maybeResume()
						sent = true
					default:
						a.maybePause()
						time.Sleep(5 * time.Millisecond)
					}
				}
			}
		})
		a.client.AllowRebalance()
	}
}

// Close stops the poll loop once the current fetch is dispatched.
func (a *Adapter) Close() { a.closed.Store(true) }

func (a *Adapter) runWorker() {
	for rec := range a.records {
		payload, opts, err := a.parseRecord(rec)
		if err != nil {
			a.acks <- recordAck{record: rec, err: err}
			continue
		}
		_, err = a.publisher.Publish(payload, opts...)
		a.acks <- recordAck{record: rec, err: err}
	}
}

func (a *Adapter) handleAcks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack := <-a.acks:
			if ack.record == nil {
				continue
			}
			if ack.err != nil {
				continue
			}
			a.markCommit(ack.record)
			_ = a.commitMarked(ctx)
		}
	}
}

func (a *Adapter) parseRecord(rec *kgo.Record) ([]byte, []record.Option, error) {
	switch a.cfg.ParseMode {
	case ParseModeEnvelope:
		return parseEnvelope(rec.Value)
	case ParseModeRaw:
		return rec.Value, headerOptions(rec.Headers), nil
	default:
		return nil, nil, fmt.Errorf("unsupported parse mode %q", a.cfg.ParseMode)
	}
}

func parseEnvelope(value []byte) ([]byte, []record.Option, error) {
	var in jsonEnvelope
	if err := json.Unmarshal(value, &in); err != nil {
		return nil, nil, fmt.Errorf("parse json envelope: %w", err)
	}
	if len(in.Payload) == 0 {
		return nil, nil, errors.New("envelope payload is required")
	}
	var opts []record.Option
	if in.MessageType != "" {
		opts = append(opts, record.WithMessageType(in.MessageType))
	}
	if in.Priority != nil {
		opts = append(opts, record.WithPriority(*in.Priority))
	}
	return append([]byte(nil), in.Payload...), opts, nil
}

func headerOptions(headers []kgo.RecordHeader) []record.Option {
	var opts []record.Option
	for _, h := range headers {
		switch h.Key {
		case "message_type":
			if len(h.Value) > 0 {
				opts = append(opts, record.WithMessageType(string(h.Value)))
			}
		case "priority":
			if p, err := strconv.Atoi(string(h.Value)); err == nil {
				opts = append(opts, record.WithPriority(p))
			}
		}
	}
	return opts
}

func (a *Adapter) maybePause() {
	a.pauseMux.Lock()
	defer a.pauseMux.Unlock()
	if a.paused {
		return
	}
	if len(a.records) < cap(a.records) {
		return
	}
	a.pauseFetch(a.cfg.Topics...)
	a.paused = true
}

func (a *Adapter) maybeResume() {
	a.pauseMux.Lock()
	defer a.pauseMux.Unlock()
	if !a.paused {
		return
	}
	if len(a.records) > cap(a.records)/2 {
		return
	}
	a.resumeFetch(a.cfg.Topics...)
	a.paused = false
}
