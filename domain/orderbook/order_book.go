package orderbook

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

var (
	ErrInstrumentMismatch = errors.New("instrument mismatch")
	ErrUnknownOrder       = errors.New("unknown order")
)

// OrderBook holds the resting orders of one instrument and matches them under
// price/time priority. Mutations are serialized by the book; queries may run
// concurrently with each other.
//
// Each side is a B-tree keyed by MoreAggressiveThan, so the minimum is the best
// order. Cancelled orders stay in the trees until Compact and are skipped by
// every selection.
type OrderBook struct {
	mu sync.RWMutex

	instrument string
	bids       *btree.BTreeG[*Order]
	asks       *btree.BTreeG[*Order]
	orders     map[OrderID]*Order

	trades   []*Trade
	lastID   OrderID
	tradeSeq uint64

	now func() time.Time
}

type Option func(*OrderBook)

// WithClock overrides the clock used to stamp trades.
func WithClock(now func() time.Time) Option {
	return func(b *OrderBook) { b.now = now }
}

func NewOrderBook(instrument string, opts ...Option) *OrderBook {
	b := &OrderBook{
		instrument: instrument,
		bids:       newSide(),
		asks:       newSide(),
		orders:     make(map[OrderID]*Order),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func newSide() *btree.BTreeG[*Order] {
	// the book lock already serializes access
	return btree.NewBTreeGOptions(func(a, b *Order) bool {
		return a.MoreAggressiveThan(b)
	}, btree.Options{NoLocks: true})
}

func (b *OrderBook) Instrument() string { return b.instrument }

func (b *OrderBook) side(s Side) *btree.BTreeG[*Order] {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// ---- mutations ----

// Submit rests the order and matches the book to quiescence. It returns the
// trades this submission produced. A rejected submission leaves the book as it
// was.
func (b *OrderBook) Submit(o *Order) ([]*Trade, error) {
	return b.SubmitAt(o, time.Time{})
}

// SubmitAt is Submit with trades stamped at the given time. A zero time uses the
// book clock. Journal replay uses it to reproduce the original execution times.
func (b *OrderBook) SubmitAt(o *Order, at time.Time) ([]*Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(o); err != nil {
		return nil, err
	}

	b.lastID++
	o.id = b.lastID
	o.owner.Store(b)
	b.side(o.side).Set(o)
	b.orders[o.id] = o

	if at.IsZero() {
		at = b.now()
	}
	return b.match(o.side, at), nil
}

// Check reports whether Submit would accept the order, without changing anything.
func (b *OrderBook) Check(o *Order) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.check(o)
}

func (b *OrderBook) check(o *Order) error {
	switch {
	case o == nil:
		return errors.Wrap(ErrInvalidOrder, "nil order")
	case o.instrument != b.instrument:
		return errors.Wrapf(ErrInstrumentMismatch, "order for %q submitted to %q book", o.instrument, b.instrument)
	case o.id != 0:
		return errors.Wrapf(ErrAlreadySubmitted, "order %d", o.id)
	case !o.IsLive():
		return errors.Wrapf(ErrOrderNotLive, "order is %s", o.status)
	}
	return nil
}

// Cancel cancels a resting order by handle. Cancelling twice is a no-op.
func (b *OrderBook) Cancel(id OrderID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return errors.Wrapf(ErrUnknownOrder, "order %d", id)
	}
	o.cancel()
	return nil
}

// Compact drops cancelled orders from both sides and returns how many went.
func (b *OrderBook) Compact() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dead []*Order
	collect := func(o *Order) bool {
		if o.IsCancelled() {
			dead = append(dead, o)
		}
		return true
	}
	b.bids.Scan(collect)
	b.asks.Scan(collect)

	for _, o := range dead {
		b.side(o.side).Delete(o)
		delete(b.orders, o.id)
	}
	return len(dead)
}

// ---- matching ----

func (b *OrderBook) match(takerSide Side, at time.Time) []*Trade {
	var out []*Trade
	for {
		buy, sell := b.bestLive(b.bids), b.bestLive(b.asks)
		if buy == nil || sell == nil || buy.price.LessThan(sell.price) {
			return out
		}

		size := min(buy.remainingSize, sell.remainingSize)
		maker, taker := sell, buy
		if takerSide == Sell {
			maker, taker = buy, sell
		}

		for _, o := range [...]*Order{buy, sell} {
			if err := o.Fill(size); err != nil {
				panic(errors.NewAssertionErrorWithWrappedErrf(err, "matching %d against %d", buy.id, sell.id))
			}
		}

		b.tradeSeq++
		t := NewTrade(b.tradeSeq, maker, taker, size, at)
		b.trades = append(b.trades, t)
		out = append(out, t)

		for _, o := range [...]*Order{buy, sell} {
			if o.status == Filled {
				b.side(o.side).Delete(o)
				delete(b.orders, o.id)
			}
		}
	}
}

// bestLive returns the most aggressive order on a side that can still trade.
func (b *OrderBook) bestLive(side *btree.BTreeG[*Order]) *Order {
	var best *Order
	side.Scan(func(o *Order) bool {
		if o.IsLive() {
			best = o
			return false
		}
		return true
	})
	return best
}

// ---- queries ----

// BestBid returns the highest live buy price, or false when there is none.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	return b.bestPrice(Buy)
}

// BestOffer returns the lowest live sell price, or false when there is none.
func (b *OrderBook) BestOffer() (decimal.Decimal, bool) {
	return b.bestPrice(Sell)
}

func (b *OrderBook) bestPrice(s Side) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if o := b.bestLive(b.side(s)); o != nil {
		return o.price, true
	}
	return decimal.Decimal{}, false
}

// Top is the best live price on each side, read at one instant.
type Top struct {
	Bid      decimal.Decimal
	HasBid   bool
	Offer    decimal.Decimal
	HasOffer bool
}

func (b *OrderBook) Top() Top {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var t Top
	if o := b.bestLive(b.bids); o != nil {
		t.Bid, t.HasBid = o.price, true
	}
	if o := b.bestLive(b.asks); o != nil {
		t.Offer, t.HasOffer = o.price, true
	}
	return t
}

// BestBuyOrder returns the most aggressive live buy order, or nil.
func (b *OrderBook) BestBuyOrder() *Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestLive(b.bids)
}

// BestSellOrder returns the most aggressive live sell order, or nil.
func (b *OrderBook) BestSellOrder() *Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestLive(b.asks)
}

// IsCrossed reports whether the best live bid is at or above the best live offer.
// Outside of Submit this is always false.
func (b *OrderBook) IsCrossed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buy, sell := b.bestLive(b.bids), b.bestLive(b.asks)
	return buy != nil && sell != nil && buy.price.GreaterThanOrEqual(sell.price)
}

// Trades returns the trade log in execution order. The slice is a copy.
func (b *OrderBook) Trades() []*Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

func (b *OrderBook) LastTradeSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tradeSeq
}

// Lookup returns a copy of a resting order.
func (b *OrderBook) Lookup(id OrderID) (OrderState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return OrderState{}, false
	}
	return o.State(), true
}

// Resting counts the orders physically held on each side, cancelled ones included.
func (b *OrderBook) Resting() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len(), b.asks.Len()
}

// Depth aggregates live liquidity per price, best price first. n <= 0 returns
// every level.
func (b *OrderBook) Depth(s Side, n int) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var levels []Level
	b.side(s).Scan(func(o *Order) bool {
		if !o.IsLive() {
			return true
		}
		if len(levels) == 0 || !levels[len(levels)-1].Price.Equal(o.price) {
			if n > 0 && len(levels) == n {
				return false
			}
			levels = append(levels, Level{Price: o.price})
		}
		levels[len(levels)-1].add(o)
		return true
	})
	return levels
}

// ---- state ----

// State is a point-in-time copy of a book.
type State struct {
	Instrument string
	Orders     []OrderState
	Trades     []TradeState
	LastID     OrderID
	TradeSeq   uint64
}

func (b *OrderBook) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := State{
		Instrument: b.instrument,
		Orders:     make([]OrderState, 0, b.bids.Len()+b.asks.Len()),
		Trades:     make([]TradeState, 0, len(b.trades)),
		LastID:     b.lastID,
		TradeSeq:   b.tradeSeq,
	}
	collect := func(o *Order) bool {
		st.Orders = append(st.Orders, o.State())
		return true
	}
	b.bids.Scan(collect)
	b.asks.Scan(collect)
	for _, t := range b.trades {
		st.Trades = append(st.Trades, t.State())
	}
	return st
}

// Restore replaces the book contents with st. On error the book is unchanged.
func (b *OrderBook) Restore(st State) error {
	if st.Instrument != b.instrument {
		return errors.Wrapf(ErrInstrumentMismatch, "state for %q restored into %q book", st.Instrument, b.instrument)
	}

	bids, asks := newSide(), newSide()
	orders := make(map[OrderID]*Order, len(st.Orders))
	for _, rec := range st.Orders {
		o, err := FromState(rec)
		if err != nil {
			return errors.Wrapf(err, "restore order %d", rec.ID)
		}
		switch {
		case o.instrument != st.Instrument:
			return errors.Wrapf(ErrInstrumentMismatch, "restore order %d", rec.ID)
		case o.id == 0 || o.id > st.LastID:
			return errors.Wrapf(ErrInvalidOrder, "restore order %d: handle outside (0, %d]", rec.ID, st.LastID)
		case o.status == Filled:
			return errors.Wrapf(ErrInvalidOrder, "restore order %d: filled orders do not rest", rec.ID)
		}
		if _, dup := orders[o.id]; dup {
			return errors.Wrapf(ErrInvalidOrder, "restore order %d: duplicate handle", rec.ID)
		}
		orders[o.id] = o
		if o.side == Buy {
			bids.Set(o)
		} else {
			asks.Set(o)
		}
	}

	trades := make([]*Trade, 0, len(st.Trades))
	for _, ts := range st.Trades {
		trades = append(trades, TradeFromState(ts))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range orders {
		o.owner.Store(b)
	}
	b.bids, b.asks, b.orders = bids, asks, orders
	b.trades = trades
	b.lastID = st.LastID
	b.tradeSeq = st.TradeSeq
	return nil
}
