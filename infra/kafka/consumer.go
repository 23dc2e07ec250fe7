// Package kafka carries wire-encoded commands over Kafka topics.
package kafka

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"localtrader/domain/orderbook"
	"localtrader/domain/wire"
)

type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Engine is where consumed commands are applied.
type Engine interface {
	PlaceOrder(*orderbook.Order) (orderbook.OrderID, []*orderbook.Trade, error)
	CancelOrder(orderbook.OrderID) error
	RecordDecodeFailure(error)
}

func NewReader(cfg ReaderConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  250 * time.Millisecond,
		Dialer: &kafka.Dialer{
			ClientID:  "localtrader-" + uuid.NewString(),
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})
}

// Consumer applies order and cancel commands read from a topic. Offsets are
// committed after a command is applied, so a crash may apply a command twice.
type Consumer struct {
	reader MessageReader
	engine Engine
	log    *log.Entry
}

func NewConsumer(reader MessageReader, engine Engine, logger *log.Entry) *Consumer {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Consumer{
		reader: reader,
		engine: engine,
		log:    logger.WithField("component", "kafka-consumer"),
	}
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch")
		}

		c.handle(msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "commit offset %d", msg.Offset)
		}
	}
}

func (c *Consumer) handle(msg kafka.Message) {
	entry := c.log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	cmd, err := wire.ParseCommand(string(msg.Value))
	if err != nil {
		c.engine.RecordDecodeFailure(err)
		entry.WithError(err).Warn("dropping undecodable message")
		return
	}

	switch cmd.Kind {
	case wire.KindPlace:
		id, trades, err := c.engine.PlaceOrder(cmd.Order)
		if err != nil {
			entry.WithError(err).Warn("order rejected")
			return
		}
		entry.WithFields(log.Fields{"order": id, "trades": len(trades)}).Debug("order placed")
	case wire.KindCancel:
		if err := c.engine.CancelOrder(cmd.OrderID); err != nil {
			entry.WithError(err).Warn("cancel rejected")
		}
	default:
		entry.WithField("kind", cmd.Kind).Warn("queries are not served over kafka")
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
