package bus

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xzhHas/configflow/types"
)

func init() {
	Register("kafka",
		func(cfg types.BusConfig, logger *zap.Logger) (Publisher, error) {
			return NewKafkaPublisher(cfg, logger)
		},
		func(cfg types.BusConfig, logger *zap.Logger) (Consumer, error) {
			return NewKafkaConsumer(cfg, logger)
		})
}

// KafkaPublisher writes synchronously to one topic. The hash balancer sends a
// key to the same partition every time, which is what keeps per-entity order.
type KafkaPublisher struct {
	writer *kafka.Writer
	cfg    types.BusConfig
	logger *zap.Logger
}

func NewKafkaPublisher(cfg types.BusConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker address")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchSize:              1,
		WriteTimeout:           timeout(cfg),
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{
		writer: w,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "kafka-publisher"), zap.String("topic", cfg.Topic)),
	}, nil
}

// kafkaMessage is split out so the wire mapping can be checked without a broker.
func kafkaMessage(key uuid.UUID, env types.Envelope) kafka.Message {
	h := env.Headers()
	headers := make([]kafka.Header, 0, len(h))
	for _, kv := range h {
		headers = append(headers, kafka.Header{Key: kv[0], Value: []byte(kv[1])})
	}
	return kafka.Message{
		Key:     []byte(key.String()),
		Value:   env.Body,
		Headers: headers,
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, key uuid.UUID, env types.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, timeout(k.cfg))
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafkaMessage(key, env)); err != nil {
		return errors.Wrapf(err, "publish %s to %s", env.Type, k.cfg.Topic)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// KafkaConsumer reads the update topic as part of a consumer group.
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

func NewKafkaConsumer(cfg types.BusConfig, logger *zap.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer requires at least one broker address")
	}
	group := cfg.ConsumeGroup
	if group == "" {
		group = "configflow-tail"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: group,
		Topic:   cfg.Topic,
	})
	return &KafkaConsumer{reader: r, logger: logger.With(zap.String("component", "kafka-consumer"))}, nil
}

func kafkaDelivery(m kafka.Message) Delivery {
	get := func(name string) (string, bool) {
		// last header wins
		for i := len(m.Headers) - 1; i >= 0; i-- {
			if m.Headers[i].Key == name {
				return string(m.Headers[i].Value), true
			}
		}
		return "", false
	}
	return Delivery{Key: string(m.Key), Envelope: types.EnvelopeFromHeaders(get, m.Value)}
}

func (k *KafkaConsumer) Consume(ctx context.Context, handle func(Delivery) error) error {
	for {
		m, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch update")
		}
		if err := handle(kafkaDelivery(m)); err != nil {
			return err
		}
		if err := k.reader.CommitMessages(ctx, m); err != nil {
			k.logger.Warn("failed to commit offset", zap.Error(err), zap.Int64("offset", m.Offset))
		}
	}
}

func (k *KafkaConsumer) Close() error {
	return k.reader.Close()
}
