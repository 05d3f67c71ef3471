package statsd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/connect4/client/internal/logger"
	"github.com/connect4/client/internal/stats"
)

// Consumer stores game_end events read from the events topic.
type Consumer struct {
	group  sarama.ConsumerGroup
	server *Server
	store  *Store
	log    *logger.Logger
}

// NewConsumer joins groupID on brokers. Events are saved through server so
// the cached listing stays fresh.
func NewConsumer(brokers []string, groupID string, server *Server) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}
	return newConsumer(group, server), nil
}

func newConsumer(group sarama.ConsumerGroup, server *Server) *Consumer {
	return &Consumer{
		group:  group,
		server: server,
		store:  server.store,
		log:    logger.WithComponent("statsd-consumer"),
	}
}

// Start consumes topics until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, topics []string) error {
	for {
		if err := c.group.Consume(ctx, topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles messages one at a time. A message that cannot be
// stored is written to failed_events and still marked, so the partition
// keeps moving.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.process(session.Context(), msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) {
	err := c.handleMessage(ctx, msg)
	if err == nil {
		return
	}
	c.log.Error("Error processing message", err)
	if dbErr := c.store.RecordFailure(ctx, msg.Topic, msg.Partition, msg.Offset, string(msg.Value), err.Error()); dbErr != nil {
		c.log.Error("Error storing failed message", dbErr)
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event stats.GameEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("error unmarshaling event: %v", err)
	}
	if event.Type != stats.EventGameEnd {
		return nil
	}

	rec, err := recordFromEvent(event)
	if err != nil {
		return fmt.Errorf("error processing event: %v", err)
	}
	if _, err := c.server.Save(ctx, rec, "kafka"); err != nil {
		return fmt.Errorf("error processing event: %v", err)
	}
	return nil
}

func recordFromEvent(event stats.GameEvent) (Record, error) {
	if event.GameID == "" {
		return Record{}, errors.New("missing gameId")
	}
	gameType, ok := event.Data["gameType"].(string)
	if !ok || gameType == "" {
		return Record{}, errors.New("invalid gameType data")
	}
	status, ok := event.Data["finalStatus"].(string)
	if !ok || status == "" {
		return Record{}, errors.New("invalid finalStatus data")
	}
	country, _ := event.Data["country"].(string)
	if country == "" {
		country = "UNKNOWN"
	}

	date := event.Timestamp
	if date.IsZero() {
		date = time.Now()
	}
	return Record{
		GameID:   event.GameID,
		GameType: gameType,
		State:    status,
		Country:  country,
		Date:     date,
	}, nil
}

// Close leaves the group.
func (c *Consumer) Close() error {
	return c.group.Close()
}
