package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// RateLimitConfig caps inspection API requests per client IP. It needs
// Redis enabled to take effect.
type RateLimitConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	APIPerMinute int  `mapstructure:"api_per_minute"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type GatewayConfig struct {
	URL string `mapstructure:"url"`
	// ShardCount is the number of gateway connections to hold open. A
	// guild always maps to the same shard, which is what keeps one
	// guild's events in arrival order.
	ShardCount     int `mapstructure:"shard_count"`
	ReadTimeoutSec int `mapstructure:"read_timeout_sec"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// DLQTopic receives events that still fail after the consumer's
	// retries have been exhausted.
	DLQTopic string `mapstructure:"dlq_topic"`
	GroupID  string `mapstructure:"group_id"`

	Producer ProducerConfig `mapstructure:"producer"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type ConsumerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type RedisConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	PoolSize       int    `mapstructure:"pool_size"`
	MinIdleConns   int    `mapstructure:"min_idle_conns"`
	PresenceTTLSec int    `mapstructure:"presence_ttl_sec"`
}

type WorkerPoolConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	v.SetDefault("server.port", 8800)
	v.SetDefault("server.mode", "release")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("gateway.shard_count", 1)
	v.SetDefault("gateway.read_timeout_sec", 90)
	v.SetDefault("kafka.producer.max_retries", 3)
	v.SetDefault("kafka.producer.retry_backoff_ms", 100)
	v.SetDefault("kafka.consumer.max_retries", 3)
	v.SetDefault("kafka.consumer.retry_backoff_ms", 100)
	v.SetDefault("redis.presence_ttl_sec", 120)
	v.SetDefault("worker_pool.size", 8)
	v.SetDefault("worker_pool.queue_size", 1024)
	v.SetDefault("rate_limit.api_per_minute", 120)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}
