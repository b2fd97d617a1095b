package audit

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/kasuganosora/mmosocial/model"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink mirrors audit batches to a Kafka topic, one message per entry
// keyed by actor id so that a player's actions stay in one partition.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a synchronous producer for topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

func (k *KafkaSink) Write(ctx context.Context, batch []*model.AuditLog) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, rec := range batch {
		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(rec.ActorID, 10)),
			Value: value,
		})
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
