package bus

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xzhHas/configflow/types"
)

const natsKeyHeader = "key"

func init() {
	Register("nats",
		func(cfg types.BusConfig, logger *zap.Logger) (Publisher, error) {
			return NewNatsPublisher(cfg, logger)
		}, nil)
}

// NatsPublisher publishes to a JetStream subject named after the topic. A
// stream has a single sequence, so publish order is kept for every key.
type NatsPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	cfg     types.BusConfig
}

func NewNatsPublisher(cfg types.BusConfig, logger *zap.Logger) (*NatsPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats publisher requires a url")
	}
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect to nats")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "create jetstream context")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout(cfg))
	defer cancel()
	stream := streamName(cfg.Topic)
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{cfg.Topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	}); err != nil {
		nc.Close()
		return nil, errors.Wrapf(err, "ensure stream %s", stream)
	}
	logger.Info("nats stream ready", zap.String("component", "nats-publisher"), zap.String("stream", stream))
	return &NatsPublisher{nc: nc, js: js, subject: cfg.Topic, cfg: cfg}, nil
}

func natsMessage(subject string, key uuid.UUID, env types.Envelope) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = env.Body
	msg.Header.Set(natsKeyHeader, key.String())
	for _, kv := range env.Headers() {
		msg.Header.Set(kv[0], kv[1])
	}
	return msg
}

func (n *NatsPublisher) Publish(ctx context.Context, key uuid.UUID, env types.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, timeout(n.cfg))
	defer cancel()
	if _, err := n.js.PublishMsg(ctx, natsMessage(n.subject, key, env)); err != nil {
		return errors.Wrapf(err, "publish %s to %s", env.Type, n.subject)
	}
	return nil
}

func (n *NatsPublisher) Close() error {
	n.nc.Close()
	return nil
}

// streamName maps a subject to a valid stream name; streams cannot contain dots.
func streamName(topic string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(topic)
}
