package eventbus

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"browserfleet/logger"
)

// KafkaSink mirrors bus events onto an external Kafka topic. It is
// subscribed like any other consumer ("*") and is therefore subject
// to the same bounded-mailbox, never-blocks-producers guarantee: if
// Kafka is slow or unreachable, events queued for this sink are
// dropped rather than stalling the bus.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink builds a sink writing to brokers/topic. Construction
// never dials; connection errors surface per-write.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Async:        true,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Run drains events off ch and writes them to Kafka until ch closes.
func (k *KafkaSink) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			k.write(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (k *KafkaSink) write(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("eventbus: kafka sink marshal failed", zap.Error(err))
		return
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Topic), Value: payload}); err != nil {
		logger.Warn("eventbus: kafka sink write failed", zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error { return k.writer.Close() }
