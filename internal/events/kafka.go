package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/creatorpad/settlement-engine/internal/metrics"
	"github.com/creatorpad/settlement-engine/internal/model"
)

// DefaultKafkaQueue bounds the events waiting to be written.
const DefaultKafkaQueue = 4096

// KafkaConfig holds Kafka connection configuration.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	QueueSize int
	BatchSize int
	Logger    *slog.Logger
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink streams events to off-chain indexers. Messages are keyed by
// token address so one token's events stay ordered within a partition.
// Publish never blocks: a full queue drops the event with a warning.
type KafkaSink struct {
	log       *slog.Logger
	writer    messageWriter
	queue     chan kafka.Message
	batchSize int
}

// NewKafkaSink creates a sink writing to cfg.Topic.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events: kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("events: kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaSink(w, cfg), nil
}

func newKafkaSink(w messageWriter, cfg KafkaConfig) *KafkaSink {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultKafkaQueue
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &KafkaSink{
		log:       cfg.Logger.With("sink", "kafka"),
		writer:    w,
		queue:     make(chan kafka.Message, cfg.QueueSize),
		batchSize: cfg.BatchSize,
	}
}

func (s *KafkaSink) Publish(_ context.Context, events []model.Event) {
	for _, ev := range events {
		data, err := Encode(ev)
		if err != nil {
			s.log.Error("encode event", "type", ev.Type, "error", err)
			continue
		}
		msg := kafka.Message{
			Key:   []byte(ev.Token.Hex()),
			Value: data,
			Time:  ev.Timestamp,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(ev.Type)},
			},
		}
		select {
		case s.queue <- msg:
		default:
			metrics.EventsDropped.WithLabelValues("kafka").Inc()
			s.log.Warn("kafka queue full, dropping event", "type", ev.Type, "token", ev.Token.Hex())
		}
	}
}

// Run writes queued events until ctx is done, then flushes what is left
// and closes the writer.
func (s *KafkaSink) Run(ctx context.Context) error {
	batch := make([]kafka.Message, 0, s.batchSize)
	for {
		select {
		case <-ctx.Done():
		flush:
			for {
				select {
				case msg := <-s.queue:
					batch = append(batch, msg)
				default:
					break flush
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.write(flushCtx, batch)
			cancel()
			return s.writer.Close()

		case msg := <-s.queue:
			batch = append(batch[:0], msg)
		drain:
			for len(batch) < s.batchSize {
				select {
				case m := <-s.queue:
					batch = append(batch, m)
				default:
					break drain
				}
			}
			s.write(ctx, batch)
			batch = batch[:0]
		}
	}
}

func (s *KafkaSink) write(ctx context.Context, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}
	if err := s.writer.WriteMessages(ctx, batch...); err != nil {
		metrics.EventsDropped.WithLabelValues("kafka").Add(float64(len(batch)))
		s.log.Error("kafka write failed", "messages", len(batch), "error", err)
	}
}
