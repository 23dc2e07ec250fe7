// Command trader sends a stream of generated orders to the engine, either over
// the websocket gateway or onto the Kafka orders topic.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"localtrader/domain/orderbook"
	"localtrader/domain/wire"
	"localtrader/infra/kafka"
)

const reconnectWait = 3 * time.Second

// sender delivers one order and returns the engine's reply, if any.
type sender interface {
	send(ctx context.Context, o *orderbook.Order) (string, error)
	close() error
}

func main() {
	mode := flag.String("strategy", "random", "order generator: random or scalper")
	transport := flag.String("transport", "ws", "ws or kafka")
	addr := flag.String("addr", "ws://localhost:8080/ws", "websocket gateway URL")
	brokers := flag.String("brokers", "localhost:9092", "comma separated kafka brokers")
	topic := flag.String("topic", "localtrader.orders", "kafka orders topic")
	instrument := flag.String("instrument", "ABC", "instrument to trade")
	party := flag.String("party", "", "party name (random when empty)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "seed for the order stream")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *party == "" {
		*party = "trader-" + uuid.NewString()[:8]
	}
	rng := rand.New(rand.NewSource(*seed))

	var strat strategy
	switch *mode {
	case "random":
		strat = newRandomWalk(rng, *instrument, *party)
	case "scalper":
		strat = newScalper(rng, *instrument, *party)
	default:
		log.Fatalf("unknown strategy %q", *mode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entry := log.WithFields(log.Fields{"party": *party, "strategy": *mode})
	for ctx.Err() == nil {
		var s sender
		switch *transport {
		case "ws":
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, *addr, nil)
			if err != nil {
				entry.WithError(err).Warnf("failed to connect to exchange, waiting %s", reconnectWait)
				sleep(ctx, reconnectWait)
				continue
			}
			s = &wsSender{conn: conn}
		case "kafka":
			s = &kafkaSender{producer: kafka.NewCommandProducer(kafka.NewWriter(strings.Split(*brokers, ","), *topic))}
		default:
			log.Fatalf("unknown transport %q", *transport)
		}

		err := run(ctx, strat, s, entry)
		_ = s.close()
		if err != nil && ctx.Err() == nil {
			entry.WithError(err).Warnf("connection lost, waiting %s", reconnectWait)
			sleep(ctx, reconnectWait)
		}
	}
}

func run(ctx context.Context, strat strategy, s sender, entry *log.Entry) error {
	for ctx.Err() == nil {
		o, err := strat.next()
		if err != nil {
			return errors.Wrap(err, "generate order")
		}
		reply, err := s.send(ctx, o)
		if err != nil {
			return err
		}
		entry.WithField("reply", reply).Info("> " + wire.EncodeOrder(o))
		sleep(ctx, strat.delay())
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type wsSender struct {
	conn *websocket.Conn
}

// send waits for the ACK or NACK, skipping trade broadcasts in between.
func (s *wsSender) send(_ context.Context, o *orderbook.Order) (string, error) {
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(wire.EncodeOrder(o))); err != nil {
		return "", err
	}
	for {
		_, reply, err := s.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		r := string(reply)
		if strings.HasPrefix(r, wire.TagAck) || strings.HasPrefix(r, wire.TagNack) {
			return r, nil
		}
	}
}

func (s *wsSender) close() error { return s.conn.Close() }

type kafkaSender struct {
	producer *kafka.CommandProducer
}

func (s *kafkaSender) send(ctx context.Context, o *orderbook.Order) (string, error) {
	return "", s.producer.PlaceOrder(ctx, o)
}

func (s *kafkaSender) close() error { return s.producer.Close() }
