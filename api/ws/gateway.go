// Package ws serves the text protocol over websockets. Each connection gets
// replies to its own commands and every trade the engine executes.
package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"localtrader/domain/orderbook"
	"localtrader/domain/wire"
	"localtrader/infra/metrics"
	"localtrader/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	replyBuffer    = 256
)

type Gateway struct {
	svc      *service.OrderService
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	log      *log.Entry
}

func NewGateway(svc *service.OrderService, m *metrics.Metrics, logger *log.Entry) *Gateway {
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Gateway{
		svc:      svc,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		metrics:  m,
		log:      logger.WithField("component", "ws"),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Warn("upgrade failed")
		return
	}

	s := &session{
		id:      uuid.NewString(),
		conn:    conn,
		replies: make(chan string, replyBuffer),
		trades:  g.svc.SubscribeTrades(),
		done:    make(chan struct{}),
	}
	s.log = g.log.WithFields(log.Fields{"session": s.id, "remote": r.RemoteAddr})

	g.metrics.Connections.Inc()
	s.log.Info("connected")

	go s.writeLoop()
	g.readLoop(s)

	close(s.done)
	g.svc.UnsubscribeTrades(s.trades)
	g.metrics.Connections.Dec()
	s.log.Info("disconnected")
}

type session struct {
	id      string
	conn    *websocket.Conn
	replies chan string
	trades  *service.Subscription[*orderbook.Trade]
	done    chan struct{}
	log     *log.Entry
}

func (g *Gateway) readLoop(s *session) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Warn("read failed")
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}

		select {
		case s.replies <- g.handle(s, string(msg)):
		default:
			s.log.Warn("reply buffer full, closing")
			return
		}
	}
}

// handle runs one command and returns the reply for the sender.
func (g *Gateway) handle(s *session, msg string) string {
	cmd, err := wire.ParseCommand(msg)
	if err != nil {
		g.svc.RecordDecodeFailure(err)
		s.log.WithError(err).Debug("undecodable message")
		return wire.Nack(err.Error())
	}

	switch cmd.Kind {
	case wire.KindPlace:
		id, _, err := g.svc.PlaceOrder(cmd.Order)
		if err != nil {
			return wire.Nack(err.Error())
		}
		return wire.Ack(id)

	case wire.KindCancel:
		if err := g.svc.CancelOrder(cmd.OrderID); err != nil {
			return wire.Nack(err.Error())
		}
		return wire.Ack(cmd.OrderID)

	case wire.KindBestBid:
		q := g.svc.Quote()
		return wire.EncodeBestBid(q.Bid, q.HasBid)

	case wire.KindBestOffer:
		q := g.svc.Quote()
		return wire.EncodeBestOffer(q.Offer, q.HasOffer)

	default:
		return wire.EncodeBBBO(g.svc.Quote())
	}
}

// writeLoop is the only writer on the connection.
func (s *session) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer s.conn.Close()

	for {
		var out string
		select {
		case <-s.done:
			return
		case out = <-s.replies:
		case t, ok := <-s.trades.C():
			if !ok {
				return
			}
			out = wire.EncodeTrade(t)
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, []byte(out)); err != nil {
			s.log.WithError(err).Debug("write failed")
			return
		}
	}
}
