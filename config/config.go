package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	QueueDesk QueueDeskConfig `yaml:"queuedesk"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	QueueEventsTopicName string `yaml:"queue_events_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type QueueDeskConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	StatusCacheTTLSeconds int `yaml:"status_cache_ttl_seconds"`

	// Внешний предиктор приоритетов. Таймаут строгий: не успел — локальный fallback.
	PredictorBaseURL            string `yaml:"predictor_base_url"`
	PredictorTimeoutSeconds     int    `yaml:"predictor_timeout_seconds"`
	PredictorRateLimitPerMinute int    `yaml:"predictor_rate_limit_per_minute"`

	ArchiverQueueSize     int `yaml:"archiver_queue_size"`
	ArchiverRetryAttempts int `yaml:"archiver_retry_attempts"`

	NotifierHTTPAddr string `yaml:"notifier_http_addr"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
