package broadcaster

import (
	"context"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"localtrader/infra/metrics"
	exitwal "localtrader/infra/wal/exit"
)

type Config struct {
	Brokers  []string
	Topic    string
	Interval time.Duration
}

// Broadcaster publishes outbox trades to Kafka in sequence order. A trade is
// marked SENT before the send and ACKED after the broker confirms it, so a crash
// in between re-sends it: delivery is at least once.
type Broadcaster struct {
	exitWAL  *exitwal.ExitWAL
	producer sarama.SyncProducer
	topic    string
	interval time.Duration

	metrics *metrics.Metrics
	log     *log.Entry
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka producer")
	}
	return producer, nil
}

func New(
	exitWAL *exitwal.ExitWAL,
	producer sarama.SyncProducer,
	cfg Config,
	m *metrics.Metrics,
	logger *log.Entry,
) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Broadcaster{
		exitWAL:  exitWAL,
		producer: producer,
		topic:    cfg.Topic,
		interval: cfg.Interval,
		metrics:  m,
		log:      logger.WithField("component", "broadcaster"),
	}
}

// ------------------------------------------------
// START LOOP
// ------------------------------------------------

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.WithField("topic", b.topic).Info("started")

	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				if _, err := b.publishOnce(); err != nil {
					b.log.WithError(err).Warn("publish round stopped")
				}
			}
		}
	}()
}

// ------------------------------------------------
// PUBLISH LOGIC
// ------------------------------------------------

// publishOnce sends every pending trade, stopping at the first failure so later
// trades never overtake an earlier one. It returns how many were acknowledged.
func (b *Broadcaster) publishOnce() (int, error) {
	acked := 0
	err := b.exitWAL.ScanPending(func(rec *exitwal.ExitRecord) error {
		if err := b.exitWAL.MarkSent(rec.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(strconv.FormatUint(rec.Seq, 10)),
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.metrics.Published.WithLabelValues("failed").Inc()
			if markErr := b.exitWAL.MarkFailed(rec.Seq); markErr != nil {
				return errors.CombineErrors(err, markErr)
			}
			return errors.Wrapf(err, "publish trade %d (attempt %d)", rec.Seq, rec.Retries+1)
		}

		b.metrics.Published.WithLabelValues("acked").Inc()
		acked++
		return b.exitWAL.MarkAcked(rec.Seq)
	})

	if _, pruneErr := b.exitWAL.PruneAcked(); pruneErr != nil {
		err = errors.CombineErrors(err, pruneErr)
	}
	b.observe()
	return acked, err
}

func (b *Broadcaster) observe() {
	counts, err := b.exitWAL.Counts()
	if err != nil {
		return
	}
	for _, st := range []exitwal.ExitState{exitwal.StateNew, exitwal.StateSent, exitwal.StateAcked, exitwal.StateFailed} {
		b.metrics.Outbox.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
