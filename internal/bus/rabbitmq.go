package bus

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xzhHas/configflow/types"
)

func init() {
	Register("amqp",
		func(cfg types.BusConfig, logger *zap.Logger) (Publisher, error) {
			return NewRabbitMQ(cfg, logger)
		},
		func(cfg types.BusConfig, logger *zap.Logger) (Consumer, error) {
			return NewRabbitMQ(cfg, logger)
		})
}

// RabbitMQ publishes with publisher confirms on a single channel, so
// confirmed messages keep their publish order. Topic is used as the routing
// key when RoutingKey is empty.
type RabbitMQ struct {
	exchange string
	queue    string
	routing  string
	cfg      types.BusConfig
	conn     *amqp.Connection
	ch       *amqp.Channel
	logger   *zap.Logger
}

func NewRabbitMQ(cfg types.BusConfig, logger *zap.Logger) (*RabbitMQ, error) {
	routing := cfg.RoutingKey
	if routing == "" {
		routing = cfg.Topic
	}
	queue := cfg.Queue
	if queue == "" {
		queue = cfg.Topic
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open amqp channel")
	}
	fail := func(err error, what string) (*RabbitMQ, error) {
		ch.Close()
		conn.Close()
		return nil, errors.Wrap(err, what)
	}
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
			return fail(err, "declare exchange")
		}
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fail(err, "declare queue")
	}
	if cfg.Exchange != "" {
		if err := ch.QueueBind(queue, routing, cfg.Exchange, false, nil); err != nil {
			return fail(err, "bind queue")
		}
	}
	if err := ch.Confirm(false); err != nil {
		return fail(err, "enable publisher confirms")
	}
	return &RabbitMQ{
		exchange: cfg.Exchange,
		queue:    queue,
		routing:  routing,
		cfg:      cfg,
		conn:     conn,
		ch:       ch,
		logger:   logger.With(zap.String("component", "amqp"), zap.String("queue", queue)),
	}, nil
}

func amqpPublishing(key uuid.UUID, env types.Envelope) amqp.Publishing {
	headers := amqp.Table{}
	for _, kv := range env.Headers() {
		headers[kv[0]] = kv[1]
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key.String(),
		Type:         env.Type,
		Headers:      headers,
		Body:         env.Body,
	}
}

func (r *RabbitMQ) Publish(ctx context.Context, key uuid.UUID, env types.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, timeout(r.cfg))
	defer cancel()
	dc, err := r.ch.PublishWithDeferredConfirmWithContext(ctx, r.exchange, r.routing, false, false, amqpPublishing(key, env))
	if err != nil {
		return errors.Wrapf(err, "publish %s", env.Type)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "confirm %s", env.Type)
	}
	if !acked {
		return errors.Errorf("broker rejected %s", env.Type)
	}
	return nil
}

func amqpDelivery(d amqp.Delivery) Delivery {
	get := func(name string) (string, bool) {
		v, ok := d.Headers[name].(string)
		return v, ok
	}
	return Delivery{Key: d.MessageId, Envelope: types.EnvelopeFromHeaders(get, d.Body)}
}

func (r *RabbitMQ) Consume(ctx context.Context, handle func(Delivery) error) error {
	msgs, err := r.ch.ConsumeWithContext(ctx, r.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "consume")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			if err := handle(amqpDelivery(d)); err != nil {
				_ = d.Nack(false, true)
				return err
			}
			if err := d.Ack(false); err != nil {
				r.logger.Warn("failed to ack delivery", zap.Error(err))
			}
		}
	}
}

func (r *RabbitMQ) Close() error {
	r.ch.Close()
	return r.conn.Close()
}
