package config

import (
	"fmt"
	"github.com/spf13/viper"
	"strings"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Feature FeatureConfig `mapstructure:"feature"`
}

type ServerConfig struct {
	NodeID string `mapstructure:"node_id"`
}

type IngestConfig struct {
	Socket   SocketConfig   `mapstructure:"socket"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type SocketConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Network        string `mapstructure:"network"`
	Address        string `mapstructure:"address"`
	UnixSocketPath string `mapstructure:"unix_socket_path"`
	AuthToken      string `mapstructure:"auth_token"`
}

type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topics   []string `mapstructure:"topics"`
	GroupID  string   `mapstructure:"group_id"`
	ClientID string   `mapstructure:"client_id"`
}

type RabbitMQConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	URL         string   `mapstructure:"url"`
	Exchange    string   `mapstructure:"exchange"`
	Queue       string   `mapstructure:"queue"`
	RoutingKeys []string `mapstructure:"routing_keys"`
}

type FeatureConfig struct {
	AllowMultipleAdapters bool `mapstructure:"allow_multiple_adapters"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("mailroom")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feature.allow_multiple_adapters", true)
	v.SetDefault("ingest.socket.network", "tcp")
}

func (c Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Ingest.Kafka.Enabled {
		if len(c.Ingest.Kafka.Brokers) == 0 {
			return fmt.Errorf("ingest.kafka.brokers is required")
		}
		if len(c.Ingest.Kafka.Topics) == 0 {
			return fmt.Errorf("ingest.kafka.topics is required")
		}
		if c.Ingest.Kafka.GroupID == "" {
			return fmt.Errorf("ingest.kafka.group_id is required")
		}
	}
	if c.Ingest.RabbitMQ.Enabled {
		if c.Ingest.RabbitMQ.URL == "" {
			return fmt.Errorf("ingest.rabbitmq.url is required")
		}
		if c.Ingest.RabbitMQ.Exchange == "" {
			return fmt.Errorf("ingest.rabbitmq.exchange is required")
		}
		if c.Ingest.RabbitMQ.Queue == "" {
			return fmt.Errorf("ingest.rabbitmq.queue is required")
		}
	}
	if c.Ingest.Socket.Enabled {
		if c.Ingest.Socket.Network == "unix" && c.Ingest.Socket.UnixSocketPath == "" {
			return fmt.Errorf("ingest.socket.unix_socket_path is required for network=unix")
		}
		if c.Ingest.Socket.Network != "unix" && c.Ingest.Socket.Address == "" {
			return fmt.Errorf("ingest.socket.address is required")
		}
	}
	if !c.Feature.AllowMultipleAdapters {
		enabled := 0
		if c.Ingest.Socket.Enabled {
			enabled++
		}
		if c.Ingest.Kafka.Enabled {
			enabled++
		}
		if c.Ingest.RabbitMQ.Enabled {
			enabled++
		}
		if enabled > 1 {
			return fmt.Errorf("multiple adapters enabled while feature.allow_multiple_adapters=false")
		}
	}
	return nil
}
