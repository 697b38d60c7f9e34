package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"mailroom/internal/config"
	"mailroom/internal/ingest/kafka"
	"mailroom/internal/ingest/rabbitmq"
	"mailroom/internal/ingest/socket"
	"mailroom/internal/queue"
)

func main() {
	cfgPath := flag.String("config", "mailroom.yaml", "path to config file")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "mailroomd").Logger()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger = logger.With().Str("node", cfg.Server.NodeID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q := queue.New()
	producer := queue.NewProducer(q)

	errCh := make(chan error, 3)

	if cfg.Ingest.Socket.Enabled {
		srv := socket.NewServer(socket.Config{
			Network:        cfg.Ingest.Socket.Network,
			Address:        cfg.Ingest.Socket.Address,
			UnixSocketPath: cfg.Ingest.Socket.UnixSocketPath,
			AuthToken:      cfg.Ingest.Socket.AuthToken,
		}, socket.NewQueueEngine(q))
		go func() {
			logger.Info().Str("network", cfg.Ingest.Socket.Network).Msg("socket adapter starting")
			errCh <- srv.Start(ctx)
		}()
	}

	if cfg.Ingest.Kafka.Enabled {
		adapter, err := kafka.NewAdapter(kafka.Config{
			Enabled:  true,
			Brokers:  cfg.Ingest.Kafka.Brokers,
			Topics:   cfg.Ingest.Kafka.Topics,
			GroupID:  cfg.Ingest.Kafka.GroupID,
			ClientID: cfg.Ingest.Kafka.ClientID,
		}, producer)
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka adapter")
		}
		go func() {
			logger.Info().Strs("topics", cfg.Ingest.Kafka.Topics).Msg("kafka adapter starting")
			errCh <- adapter.Start(ctx)
		}()
	}

	if cfg.Ingest.RabbitMQ.Enabled {
		adapter, err := rabbitmq.NewAdapter(rabbitmq.Config{
			Enabled:       true,
			URL:           cfg.Ingest.RabbitMQ.URL,
			Exchange:      cfg.Ingest.RabbitMQ.Exchange,
			Queue:         cfg.Ingest.RabbitMQ.Queue,
			RoutingKeys:   cfg.Ingest.RabbitMQ.RoutingKeys,
			PrefetchCount: 16,
			Workers:       2,
			DeliveryQueue: 256,
		}, producer)
		if err != nil {
			logger.Fatal().Err(err).Msg("rabbitmq adapter")
		}
		if err := adapter.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("rabbitmq adapter start")
		}
		defer adapter.Close()
		logger.Info().Str("queue", cfg.Ingest.RabbitMQ.Queue).Msg("rabbitmq adapter started")
	}

	logger.Info().
		Bool("socket", cfg.Ingest.Socket.Enabled).
		Bool("kafka", cfg.Ingest.Kafka.Enabled).
		Bool("rabbitmq", cfg.Ingest.RabbitMQ.Enabled).
		Msg("mailroomd up")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("adapter failed")
		}
	}

	stats := q.Stats()
	logger.Info().Int("depth", stats.Depth).Uint64("appended", stats.Appended).Uint64("taken", stats.Taken).Msg("final queue state")
}
