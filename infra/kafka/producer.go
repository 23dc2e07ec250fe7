package kafka

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"

	"localtrader/domain/orderbook"
	"localtrader/domain/wire"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// CommandProducer publishes wire commands for the engine's ingress. Messages
// are keyed by party, so one party's commands keep their order.
type CommandProducer struct {
	writer MessageWriter
}

func NewCommandProducer(w MessageWriter) *CommandProducer {
	return &CommandProducer{writer: w}
}

func (p *CommandProducer) PlaceOrder(ctx context.Context, o *orderbook.Order) error {
	return p.send(ctx, o.Party().Name(), wire.EncodeOrder(o))
}

func (p *CommandProducer) CancelOrder(ctx context.Context, party orderbook.Party, id orderbook.OrderID) error {
	return p.send(ctx, party.Name(), wire.EncodeCancel(id))
}

func (p *CommandProducer) send(ctx context.Context, key, msg string) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: []byte(msg)}); err != nil {
		return errors.Wrapf(err, "publish %q", msg)
	}
	return nil
}

func (p *CommandProducer) Close() error {
	return p.writer.Close()
}
