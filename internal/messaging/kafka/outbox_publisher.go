package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Publish отправляет конверт с событием; ключ: идентификатор агрегата.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	data, err := json.Marshal(NewEnvelope(event, p.producer.now()))
	if err != nil {
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}

	return p.producer.Send(p.topic, key, data,
		Header{Key: HeaderEventType, Value: event.EventType},
		Header{Key: HeaderAggregateType, Value: event.AggregateType},
		Header{Key: HeaderOutboxID, Value: event.ID},
	)
}

// DLQPublisher отправляет в crm.dlq сообщения, которые не удалось опубликовать.
type DLQPublisher struct {
	producer    *Producer
	sourceTopic string
}

// NewDLQPublisher создаёт паблишер dead letter queue для sourceTopic.
func NewDLQPublisher(producer *Producer, sourceTopic string) *DLQPublisher {
	if sourceTopic == "" {
		sourceTopic = TopicOrderEvents
	}
	return &DLQPublisher{producer: producer, sourceTopic: sourceTopic}
}

// Publish кладёт сообщение в DLQ как есть; причину ошибки outbox-воркер
// уже записал в payload.
func (p *DLQPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.producer.Send(TopicDeadLetterQueue, key, event.Payload,
		Header{Key: HeaderEventType, Value: event.EventType},
		Header{Key: HeaderOutboxID, Value: event.ID},
		Header{Key: HeaderOriginalTopic, Value: p.sourceTopic},
		Header{Key: HeaderFailedAt, Value: p.producer.now().UTC().Format(time.RFC3339Nano)},
	)
}

var (
	_ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
	_ domain.OutboxPublisher = (*DLQPublisher)(nil)
)
