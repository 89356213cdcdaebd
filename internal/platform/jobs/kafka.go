package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog"
)

// KafkaQueue publishes jobs to a topic, keyed by job name.
type KafkaQueue struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_8_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	return cfg
}

func NewKafkaQueue(producer sarama.SyncProducer, topic string) *KafkaQueue {
	return &KafkaQueue{producer: producer, topic: topic}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, name string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j, err := NewJob(name, payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, _, err = q.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     q.topic,
		Key:       sarama.StringEncoder(j.Name),
		Value:     sarama.ByteEncoder(value),
		Timestamp: j.EnqueuedAt,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

func (q *KafkaQueue) Close() error {
	return q.producer.Close()
}

// ConsumerHandler is a sarama.ConsumerGroupHandler that runs each message
// through the registry. Failed jobs are logged and their offset committed;
// they are not redelivered.
type ConsumerHandler struct {
	registry *Registry
	logger   zerolog.Logger
	timeout  time.Duration
}

func NewConsumerHandler(registry *Registry, logger zerolog.Logger, timeout time.Duration) *ConsumerHandler {
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &ConsumerHandler{registry: registry, logger: logger.With().Str("queue", "kafka").Logger(), timeout: timeout}
}

func (h *ConsumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *ConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *ConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.HandleMessage(session.Context(), msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// HandleMessage decodes and runs one job. It returns the job error for tests;
// ConsumeClaim ignores it after logging.
func (h *ConsumerHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return nil
	}
	var j Job
	if err := json.Unmarshal(msg.Value, &j); err != nil {
		h.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("discarding undecodable job")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	log := h.logger.With().Str("job", j.Name).Str("job_id", j.ID).Logger()
	if err := h.registry.Run(ctx, j); err != nil {
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
		return err
	}
	log.Info().Dur("took", time.Since(start)).Msg("job done")
	return nil
}

// Consume joins the consumer group and blocks until ctx is cancelled.
func Consume(ctx context.Context, group sarama.ConsumerGroup, topic string, h *ConsumerHandler) error {
	for {
		if err := group.Consume(ctx, []string{topic}, h); err != nil {
			return fmt.Errorf("consume %s: %w", topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
