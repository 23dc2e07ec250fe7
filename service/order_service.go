package service

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"localtrader/domain/orderbook"
	"localtrader/domain/wire"
	"localtrader/infra/metrics"
	"localtrader/infra/sequence"
	"localtrader/infra/wal"
	entrywal "localtrader/infra/wal/entry"
)

// Journal is where accepted commands are written before they are applied.
type Journal interface {
	Append(*entrywal.Record) error
	TruncateBefore(seq uint64) (int, error)
}

// Outbox records executed trades until they are published.
type Outbox interface {
	PutNew(seq uint64, payload []byte) (bool, error)
}

var ErrJournal = errors.New("journal write failed")

const tradeBuffer = 1024

/*
OrderService is the ONLY write entry point into the book.

Writes are serialized here so that journal order, sequence numbers and the
order in which the book applies commands always agree.
*/
type OrderService struct {
	mu sync.Mutex

	book     *orderbook.OrderBook
	seqGen   *sequence.Sequencer
	entryWAL Journal
	exitWAL  Outbox

	trades  *Hub[*orderbook.Trade]
	metrics *metrics.Metrics
	log     *log.Entry
}

// NewOrderService wires the book to its journal and outbox. Either may be nil,
// in which case commands are applied without durability.
func NewOrderService(
	book *orderbook.OrderBook,
	seqGen *sequence.Sequencer,
	entryWAL Journal,
	exitWAL Outbox,
	m *metrics.Metrics,
	logger *log.Entry,
) *OrderService {
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &OrderService{
		book:     book,
		seqGen:   seqGen,
		entryWAL: entryWAL,
		exitWAL:  exitWAL,
		trades:   NewHub[*orderbook.Trade](),
		metrics:  m,
		log:      logger.WithField("component", "service"),
	}
}

// ---- commands ----

// PlaceOrder journals and submits an order. It returns the handle the book
// assigned and the trades the order produced.
func (s *OrderService) PlaceOrder(o *orderbook.Order) (orderbook.OrderID, []*orderbook.Trade, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.book.Check(o); err != nil {
		s.reject(err)
		return 0, nil, err
	}

	seq := s.seqGen.Next()
	rec := entrywal.NewRecord(entrywal.RecordPlace, seq, wal.EncodePlace(o))
	if err := s.journal(rec); err != nil {
		s.reject(err)
		return 0, nil, err
	}

	// stamped with the record time so replay reproduces the same trades
	trades, err := s.book.SubmitAt(o, rec.At())
	if err != nil {
		// Check passed under the same lock, so the book and the journal now disagree.
		s.log.WithError(err).WithField("seq", seq).Error("journaled order rejected by book")
		return 0, nil, errors.NewAssertionErrorWithWrappedErrf(err, "submit after check")
	}

	s.metrics.OrdersReceived.WithLabelValues(o.Side().String()).Inc()
	s.settle(trades, true)
	s.metrics.SubmitLatency.Observe(time.Since(start).Seconds())

	s.log.WithFields(log.Fields{
		"seq":    seq,
		"order":  o.ID(),
		"side":   o.Side(),
		"price":  o.Price().StringFixed(4),
		"size":   o.OriginalSize(),
		"trades": len(trades),
	}).Debug("order placed")
	return o.ID(), trades, nil
}

// CancelOrder journals and applies a cancel. Unknown handles are rejected
// without touching the journal.
func (s *OrderService) CancelOrder(id orderbook.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.book.Lookup(id); !ok {
		err := errors.Wrapf(orderbook.ErrUnknownOrder, "order %d", id)
		s.reject(err)
		return err
	}

	seq := s.seqGen.Next()
	if err := s.journal(entrywal.NewRecord(entrywal.RecordCancel, seq, wal.EncodeCancel(id))); err != nil {
		s.reject(err)
		return err
	}
	if err := s.book.Cancel(id); err != nil {
		return err
	}

	s.metrics.Cancels.Inc()
	s.log.WithFields(log.Fields{"seq": seq, "order": id}).Debug("order cancelled")
	return nil
}

func (s *OrderService) journal(rec *entrywal.Record) error {
	if s.entryWAL == nil {
		return nil
	}
	if err := s.entryWAL.Append(rec); err != nil {
		s.log.WithError(err).WithField("seq", rec.Seq).Error("journal append failed")
		return errors.Mark(errors.Wrapf(err, "journal %s seq %d", rec.Type, rec.Seq), ErrJournal)
	}
	return nil
}

// settle records trades in the outbox and metrics. Live trades are also pushed
// to subscribers; replayed ones already were.
func (s *OrderService) settle(trades []*orderbook.Trade, live bool) {
	for _, t := range trades {
		if s.exitWAL != nil {
			if _, err := s.exitWAL.PutNew(t.Seq(), []byte(wire.EncodeTrade(t))); err != nil {
				// the trade already happened; it is still in the book's log and the
				// next snapshot, only its publication is lost
				s.log.WithError(err).WithField("trade", t.Seq()).Error("outbox write failed")
			}
		}
		s.metrics.Trades.Inc()
		s.metrics.TradedVolume.Add(float64(t.Size()))
		if live {
			if dropped := s.trades.Broadcast(t); dropped > 0 {
				s.log.WithField("dropped", dropped).Warn("slow trade subscribers")
			}
		}
	}
	s.updateResting()
}

func (s *OrderService) reject(err error) {
	s.metrics.OrdersRejected.WithLabelValues(reason(err)).Inc()
}

func (s *OrderService) updateResting() {
	bids, asks := s.book.Resting()
	s.metrics.Resting.WithLabelValues(orderbook.Buy.String()).Set(float64(bids))
	s.metrics.Resting.WithLabelValues(orderbook.Sell.String()).Set(float64(asks))
}

// reason maps an error to a short metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, orderbook.ErrInstrumentMismatch):
		return "instrument"
	case errors.Is(err, orderbook.ErrAlreadySubmitted):
		return "resubmitted"
	case errors.Is(err, orderbook.ErrOrderNotLive):
		return "not_live"
	case errors.Is(err, orderbook.ErrInvalidOrder):
		return "invalid"
	case errors.Is(err, orderbook.ErrUnknownOrder):
		return "unknown_order"
	case errors.Is(err, wire.ErrDecode):
		return "decode"
	case errors.Is(err, ErrJournal):
		return "journal"
	default:
		return "other"
	}
}

// RecordDecodeFailure counts a message a transport could not parse.
func (s *OrderService) RecordDecodeFailure(err error) {
	s.reject(err)
}

// ---- queries ----

func (s *OrderService) Instrument() string { return s.book.Instrument() }

// Quote returns the best bid and offer, stamped now.
func (s *OrderService) Quote() wire.Quote {
	top := s.book.Top()
	return wire.Quote{
		Bid:      top.Bid,
		HasBid:   top.HasBid,
		Offer:    top.Offer,
		HasOffer: top.HasOffer,
		At:       time.Now(),
	}
}

func (s *OrderService) Lookup(id orderbook.OrderID) (orderbook.OrderState, bool) {
	return s.book.Lookup(id)
}

func (s *OrderService) Depth(side orderbook.Side, n int) []orderbook.Level {
	return s.book.Depth(side, n)
}

func (s *OrderService) Trades() []*orderbook.Trade {
	return s.book.Trades()
}

// SubscribeTrades streams trades executed from now on.
func (s *OrderService) SubscribeTrades() *Subscription[*orderbook.Trade] {
	return s.trades.Subscribe(tradeBuffer)
}

func (s *OrderService) UnsubscribeTrades(sub *Subscription[*orderbook.Trade]) {
	s.trades.Unsubscribe(sub)
}

// Compact purges cancelled orders from the book.
func (s *OrderService) Compact() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.book.Compact()
	s.updateResting()
	return n
}
