package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
)

// orderEventMessage is the JSON value written to the order events topic.
type orderEventMessage struct {
	OrderID    int64        `json:"order_id"`
	TableID    int64        `json:"table_id"`
	From       string       `json:"from,omitempty"`
	To         string       `json:"to"`
	Total      domain.Money `json:"total_amount"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// KafkaPublisher writes order lifecycle events keyed by order id, so every
// event of one order lands on the same partition in commit order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *logger.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start kafka producer: %w", err)
	}

	return NewKafkaPublisherWithProducer(producer, topic, log), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	value, err := json.Marshal(orderEventMessage{
		OrderID:    event.OrderID,
		TableID:    event.TableID,
		From:       string(event.From),
		To:         string(event.To),
		Total:      event.Total,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(event.OrderID, 10)),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send order event to %s: %w", p.topic, err)
	}

	p.log.Debug("publish_event", "order event sent", logger.RequestID(ctx), map[string]any{
		"order_id":  event.OrderID,
		"to":        event.To,
		"partition": partition,
		"offset":    offset,
	})
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher drops events; used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.OrderEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
