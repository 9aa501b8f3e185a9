package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/turbolytics/stockroom/internal/webhook"
)

// KafkaSink publishes terminal events to a Kafka topic. The sink is
// optional; when no broker is configured events only go out over webhooks.
type KafkaSink struct {
	config   kafka.ConfigMap
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
}

type KafkaSinkOption func(*KafkaSink)

func KafkaSinkWithLogger(l *zap.Logger) KafkaSinkOption {
	return func(s *KafkaSink) {
		s.logger = l
	}
}

// NewKafkaSink parses a kafka://broker:port/topic?param=value URI. Query
// parameters pass through to the producer config.
func NewKafkaSink(uri *url.URL, opts ...KafkaSinkOption) (*KafkaSink, error) {
	topic := strings.TrimPrefix(uri.Path, "/")
	if topic == "" {
		return nil, fmt.Errorf("topic must be specified in URL path")
	}

	brokers := uri.Host
	if uri.Port() != "" && !strings.Contains(brokers, ":") {
		brokers = fmt.Sprintf("%s:%s", uri.Hostname(), uri.Port())
	}

	config := kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "stockroom-events",

		"acks":             "1",
		"retries":          "3",
		"linger.ms":        "5",
		"compression.type": "snappy",

		"request.timeout.ms":  "5000",
		"delivery.timeout.ms": "10000",
	}
	for key, values := range uri.Query() {
		if len(values) > 0 {
			config[key] = values[0]
		}
	}

	s := &KafkaSink{
		topic:  topic,
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *KafkaSink) Connect(ctx context.Context) error {
	producer, err := kafka.NewProducer(&s.config)
	if err != nil {
		return err
	}
	s.producer = producer

	go func() {
		defer s.logger.Info("producer event loop closed")

		for e := range producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					s.logger.Error("delivery failed", zap.Error(ev.TopicPartition.Error))
				} else {
					s.logger.Debug("event delivered",
						zap.String("topic", *ev.TopicPartition.Topic),
						zap.Int32("partition", ev.TopicPartition.Partition),
						zap.Int64("offset", int64(ev.TopicPartition.Offset)))
				}
			case kafka.Error:
				s.logger.Error("producer error", zap.Error(ev))
			}
		}
	}()

	s.logger.Info("kafka sink connected",
		zap.String("topic", s.topic))

	return nil
}

// Publish enqueues the payload keyed by job id. Delivery is asynchronous;
// failures surface through the producer event loop.
func (s *KafkaSink) Publish(ctx context.Context, payload webhook.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(payload.JobID),
		Value: data,
	}
	return s.producer.Produce(message, nil)
}

func (s *KafkaSink) Close(ctx context.Context) error {
	if s.producer != nil {
		s.producer.Flush(5000)
		s.producer.Close()
	}
	return nil
}
