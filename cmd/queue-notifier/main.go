package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/QueueDesk/config"
	"github.com/BearBump/QueueDesk/internal/broker/kafka"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	topic := cfg.Kafka.QueueEventsTopicName
	if topic == "" {
		topic = "queue.events"
	}
	consumerGroup := cfg.QueueDesk.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "queue-notifier"
	}
	httpAddr := cfg.QueueDesk.NotifierHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8082"
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := notifierHTTPOpts{
		httpAddr:      httpAddr,
		topic:         topic,
		consumerGroup: consumerGroup,
	}
	if err := runQueueNotifier(ctx, opts, consumer, newNotifier()); err != nil && err != context.Canceled {
		panic(err)
	}
}
