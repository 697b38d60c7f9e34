package rabbitmq

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"mailroom/internal/record"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher accepts bridged messages into the queue. *queue.Producer
// satisfies it.
type Publisher interface {
	Publish(payload []byte, opts ...record.Option) (record.Record, error)
}

type Config struct {
	Enabled       bool
	URL           string
	Endpoints     []string
	Exchange      string
	Queue         string
	RoutingKeys   []string
	ConsumerTag   string
	PrefetchCount int
	TLS           TLSConfig
	Auth          AuthConfig
	Workers       int
	DeliveryQueue int
}

type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

type AuthConfig struct {
	Username string
	Password string
}

// Adapter consumes one AMQP queue and publishes each accepted delivery
// into the in-process queue. Deliveries are acked only after the queue
// accepted them; unparseable deliveries are dropped without requeue.
type Adapter struct {
	cfg       Config
	publisher Publisher
	conn      *amqp091.Connection
	ch        *amqp091.Channel
	deliver   <-chan amqp091.Delivery
	ops       chan deliveryTask
	closed    chan struct{}
	closeErr  atomic.Value
	wg        sync.WaitGroup
}

type deliveryTask struct {
	ctx      context.Context
	delivery amqp091.Delivery
}

type envelopePayload struct {
	Payload     json.RawMessage `json:"payload"`
	MessageType string          `json:"message_type"`
	Priority    *int            `json:"priority"`
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Queue == "" {
		return fmt.Errorf("rabbitmq queue is required")
	}
	if c.Exchange == "" {
		return fmt.Errorf("rabbitmq exchange is required")
	}
	if c.PrefetchCount < 1 {
		return fmt.Errorf("rabbitmq prefetch_count must be >= 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("rabbitmq workers must be >= 1")
	}
	if c.DeliveryQueue < 1 {
		return fmt.Errorf("rabbitmq delivery_queue must be >= 1")
	}
	if c.endpoint() == "" {
		return fmt.Errorf("rabbitmq url or endpoints is required")
	}
	return nil
}

func (c Config) endpoint() string {
	if strings.TrimSpace(c.URL) != "" {
		return strings.TrimSpace(c.URL)
	}
	for _, e := range c.Endpoints {
		if strings.TrimSpace(e) != "" {
			return strings.TrimSpace(e)
		}
	}
	return ""
}

func NewAdapter(cfg Config, publisher Publisher) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "mailroom-rabbitmq"
	}
	return &Adapter{cfg: cfg, publisher: publisher, closed: make(chan struct{}), ops: make(chan deliveryTask, cfg.DeliveryQueue)}, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	dialCfg := amqp091.Config{}
	if a.cfg.Auth.Username != "" {
		dialCfg.SASL = []amqp091.Authentication{&amqp091.PlainAuth{Username: a.cfg.Auth.Username, Password: a.cfg.Auth.Password}}
	}
	if tlsCfg, err := a.buildTLSConfig(); err != nil {
		return err
	} else if tlsCfg != nil {
		dialCfg.TLSClientConfig = tlsCfg
	}
	conn, err := amqp091.DialConfig(a.cfg.endpoint(), dialCfg)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.Qos(a.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}
	if err := ch.ExchangeDeclare(a.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(a.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	routingKeys := a.cfg.RoutingKeys
	if len(routingKeys) == 0 {
		routingKeys = []string{"#"}
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(a.cfg.Queue, key, a.cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("bind queue key=%s: %w", key, err)
		}
	}
	deliveries, err := ch.Consume(a.cfg.Queue, a.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("consume queue: %w", err)
	}
	a.conn, a.ch, a.deliver = conn, ch, deliveries

	a.wg.Add(1)
	go a.readLoop(ctx)
	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.workerLoop(ctx)
	}
	return nil
}

func (a *Adapter) Close() error {
	select {
	case <-a.closed:
		if v := a.closeErr.Load(); v != nil {
			return v.(error)
		}
		return nil
	default:
		close(a.closed)
	}
	if a.ch != nil {
		_ = a.ch.Cancel(a.cfg.ConsumerTag, false)
	}
	a.wg.Wait()
	var errs []error
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	a.closeErr.Store(err)
	return err
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			return
		case d, ok := <-a.deliver:
			if !ok {
				return
			}
			task := deliveryTask{ctx: ctx, delivery: d}
			select {
			case a.ops <- task:
			case <-ctx.Done():
				return
			case <-a.closed:
				return
			}
		}
	}
}

func (a *Adapter) workerLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			return
		case task, ok := <-a.ops:
			if !ok {
				return
			}
			a.processDelivery(task.delivery)
		}
	}
}

func (a *Adapter) processDelivery(d amqp091.Delivery) {
	payload, opts, err := parseDelivery(d)
	if err != nil {
		_ = d.Nack(false, false)
		return
	}
	if _, err := a.publisher.Publish(payload, opts...); err != nil {
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// parseDelivery accepts either the JSON envelope shape or an arbitrary
// body, in which case the whole body is the payload and the optional
// fields may ride in headers.
func parseDelivery(d amqp091.Delivery) ([]byte, []record.Option, error) {
	if len(d.Body) == 0 {
		return nil, nil, errors.New("empty delivery body")
	}
	var msg envelopePayload
	if err := json.Unmarshal(d.Body, &msg); err == nil && len(msg.Payload) > 0 {
		var opts []record.Option
		if msg.MessageType != "" {
			opts = append(opts, record.WithMessageType(msg.MessageType))
		}
		if msg.Priority != nil {
			opts = append(opts, record.WithPriority(*msg.Priority))
		}
		return append([]byte(nil), msg.Payload...), opts, nil
	}
	var opts []record.Option
	if mt := headerString(d.Headers, "message_type"); mt != "" {
		opts = append(opts, record.WithMessageType(mt))
	}
	if raw := headerString(d.Headers, "priority"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, record.WithPriority(p))
		}
	}
	return append([]byte(nil), d.Body...), opts, nil
}

func headerString(table amqp091.Table, key string) string {
	if table == nil {
		return ""
	}
	v, ok := table[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

func (a *Adapter) buildTLSConfig() (*tls.Config, error) {
	if !a.cfg.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: a.cfg.TLS.InsecureSkipVerify, ServerName: a.cfg.TLS.ServerName}
	if a.cfg.TLS.CAFile != "" {
		pemBytes, err := os.ReadFile(a.cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read rabbitmq ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("parse rabbitmq ca_file")
		}
		tlsCfg.RootCAs = pool
	}
	if a.cfg.TLS.CertFile != "" || a.cfg.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(a.cfg.TLS.CertFile, a.cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load rabbitmq cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
