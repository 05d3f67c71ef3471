package stats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
)

// GameEvent is the envelope written to the events topic.
type GameEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	GameID    string                 `json:"gameId"`
	Data      map[string]interface{} `json:"data"`
}

// Event types
const (
	EventGameEnd = "game_end"
)

const DefaultTopic = "game-events"

// GameEndEvent builds the event published for a finished match.
func GameEndEvent(s Summary) GameEvent {
	return GameEvent{
		Type:   EventGameEnd,
		GameID: s.GameID,
		Data: map[string]interface{}{
			"gameType":    s.GameType,
			"finalStatus": s.FinalStatus,
			"country":     s.Country,
		},
	}
}

// KafkaSubmitter publishes summaries as game_end events.
type KafkaSubmitter struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

// NewKafkaSubmitter creates a sync producer for brokers.
func NewKafkaSubmitter(brokers []string, topic string) (*KafkaSubmitter, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewKafkaSubmitterWithProducer(producer, topic), nil
}

// NewKafkaSubmitterWithProducer wraps an existing producer.
func NewKafkaSubmitterWithProducer(producer sarama.SyncProducer, topic string) *KafkaSubmitter {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSubmitter{producer: producer, topic: topic, now: time.Now}
}

func (k *KafkaSubmitter) Submit(ctx context.Context, s Summary) error {
	if err := ctx.Err(); err != nil {
		return wrap("kafka", err)
	}
	event := GameEndEvent(s)
	event.Timestamp = k.now()

	payload, err := json.Marshal(event)
	if err == nil {
		_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(s.GameID),
			Value: sarama.ByteEncoder(payload),
		})
	}
	record("kafka", err)
	if err != nil {
		return wrap("kafka", err)
	}
	return nil
}

// Close closes the producer.
func (k *KafkaSubmitter) Close() error {
	return k.producer.Close()
}
