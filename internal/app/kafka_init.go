package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/messaging/kafka"
)

// kafkaPublishers: паблишеры outbox и DLQ поверх одного producer.
type kafkaPublishers struct {
	producer *kafka.Producer
	events   domain.OutboxPublisher
	dlq      domain.OutboxPublisher
}

// initKafkaProducer создаёт producer, если brokers не пуст.
// Без брокеров возвращает nil, nil: события копятся в outbox.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafkaPublishers, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return &kafkaPublishers{
		producer: producer,
		events:   kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		dlq:      kafka.NewDLQPublisher(producer, kafka.TopicOrderEvents),
	}, nil
}

// closeKafkaProducer закрывает producer, если он был создан.
func closeKafkaProducer(publishers *kafkaPublishers, logger *log.Entry) {
	if publishers == nil || publishers.producer == nil {
		return
	}

	if err := publishers.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
