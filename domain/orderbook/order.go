package orderbook

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

type Side uint8
type Status uint8

// OrderID is the handle a book hands back on submission. Zero means unsubmitted.
type OrderID uint64

const (
	Buy Side = iota
	Sell
)

const (
	Unfilled Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrInvalidFillSize  = errors.New("invalid fill size")
	ErrOrderNotLive     = errors.New("order is not live")
	ErrAlreadySubmitted = errors.New("order already submitted")
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts exactly "BUY" or "SELL".
func ParseSide(v string) (Side, error) {
	switch v {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, errors.Newf("unknown side %q", v)
	}
}

func (s Status) String() string {
	switch s {
	case Unfilled:
		return "UNFILLED"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Party is the opaque owner of an order. Only its name is observable.
type Party struct {
	name string
}

func NewParty(name string) Party {
	return Party{name: name}
}

func (p Party) Name() string   { return p.name }
func (p Party) String() string { return p.name }

// constructed orders every order built in this process so that two orders
// stamped with the same clock reading still compare strictly.
var constructed atomic.Uint64

func nextSeq() uint64 {
	return constructed.Add(1)
}

// observeSeq keeps the construction counter ahead of restored orders.
func observeSeq(seq uint64) {
	for {
		cur := constructed.Load()
		if cur >= seq || constructed.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Order is a limit order. Price, side, instrument, party and submission time are
// fixed at construction; only the fill state and status change afterwards.
type Order struct {
	id         OrderID
	instrument string
	price      decimal.Decimal
	side       Side
	party      Party

	originalSize  int64
	remainingSize int64
	status        Status

	submittedAt time.Time
	seq         uint64

	// owner is the book the order was submitted to. Once set, status and
	// remaining size change only under its lock.
	owner atomic.Pointer[OrderBook]
}

// reservedChars are the wire field and message separators. Names carrying them
// could not be encoded.
const reservedChars = "|\r\n"

// NewOrder builds an unfilled order stamped with the current time.
func NewOrder(instrument string, price decimal.Decimal, size int64, side Side, party Party) (*Order, error) {
	return newOrderAt(instrument, price, size, side, party, time.Now(), nextSeq())
}

func newOrderAt(instrument string, price decimal.Decimal, size int64, side Side, party Party, at time.Time, seq uint64) (*Order, error) {
	switch {
	case strings.TrimSpace(instrument) == "":
		return nil, errors.Wrap(ErrInvalidOrder, "instrument is required")
	case strings.ContainsAny(instrument, reservedChars):
		return nil, errors.Wrapf(ErrInvalidOrder, "instrument %q contains a reserved character", instrument)
	case strings.ContainsAny(party.name, reservedChars):
		return nil, errors.Wrapf(ErrInvalidOrder, "party %q contains a reserved character", party.name)
	case size <= 0:
		return nil, errors.Wrapf(ErrInvalidOrder, "size must be positive, got %d", size)
	case price.IsNegative():
		return nil, errors.Wrapf(ErrInvalidOrder, "price must be non-negative, got %s", price)
	case side != Buy && side != Sell:
		return nil, errors.Wrapf(ErrInvalidOrder, "unknown side %d", side)
	}
	return &Order{
		instrument:    instrument,
		price:         price,
		side:          side,
		party:         party,
		originalSize:  size,
		remainingSize: size,
		status:        Unfilled,
		submittedAt:   at,
		seq:           seq,
	}, nil
}

func (o *Order) ID() OrderID            { return o.id }
func (o *Order) Instrument() string     { return o.instrument }
func (o *Order) Price() decimal.Decimal { return o.price }
func (o *Order) Side() Side             { return o.side }
func (o *Order) Party() Party           { return o.party }
func (o *Order) OriginalSize() int64    { return o.originalSize }
func (o *Order) SubmittedAt() time.Time { return o.submittedAt }

// readLocked runs fn under the owning book's read lock, if there is one.
func (o *Order) readLocked(fn func()) {
	if b := o.owner.Load(); b != nil {
		b.mu.RLock()
		defer b.mu.RUnlock()
	}
	fn()
}

func (o *Order) RemainingSize() (n int64) {
	o.readLocked(func() { n = o.remainingSize })
	return n
}

func (o *Order) FilledSize() (n int64) {
	o.readLocked(func() { n = o.originalSize - o.remainingSize })
	return n
}

func (o *Order) Status() (s Status) {
	o.readLocked(func() { s = o.status })
	return s
}

func (o *Order) IsBuy() bool       { return o.side == Buy }
func (o *Order) IsCancelled() bool { return o.status == Cancelled }

// IsLive reports whether the order can still trade.
func (o *Order) IsLive() bool {
	return o.status == Unfilled || o.status == PartiallyFilled
}

// Cancel marks the order cancelled. It is idempotent and leaves the remaining
// size untouched. Once the order has been submitted the flip takes the book's
// lock, so it lands between matching passes and never inside one.
func (o *Order) Cancel() {
	if b := o.owner.Load(); b != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
	}
	o.cancel()
}

func (o *Order) cancel() {
	o.status = Cancelled
}

// Fill consumes amount from the remaining size. Amounts outside
// (0, RemainingSize] are rejected, never clamped, and cancelled or filled orders
// cannot be filled at all.
func (o *Order) Fill(amount int64) error {
	if !o.IsLive() {
		return errors.Wrapf(ErrOrderNotLive, "order %d is %s", o.id, o.status)
	}
	if amount <= 0 || amount > o.remainingSize {
		return errors.Wrapf(ErrInvalidFillSize, "fill %d against remaining %d", amount, o.remainingSize)
	}
	o.remainingSize -= amount
	if o.remainingSize == 0 {
		o.status = Filled
	} else {
		o.status = PartiallyFilled
	}
	return nil
}

// MoreAggressiveThan orders two same-side orders by price/time priority: a better
// price wins, then the earlier submission. It is a strict ordering and safe as a
// sort key. Orders on opposite sides are never more aggressive than each other.
func (o *Order) MoreAggressiveThan(other *Order) bool {
	if o.side != other.side {
		return false
	}
	if c := o.price.Cmp(other.price); c != 0 {
		if o.side == Buy {
			return c > 0
		}
		return c < 0
	}
	if !o.submittedAt.Equal(other.submittedAt) {
		return o.submittedAt.Before(other.submittedAt)
	}
	return o.seq < other.seq
}

func (o *Order) String() string {
	return fmt.Sprintf("Order{id=%d %s %s %d/%d@%s %s party=%s}",
		o.id, o.instrument, o.side, o.remainingSize, o.originalSize,
		o.price.StringFixed(4), o.status, o.party)
}

// OrderState is a value copy of an order, used for queries, snapshots and
// journal replay.
type OrderState struct {
	ID            OrderID
	Instrument    string
	Price         decimal.Decimal
	Side          Side
	Party         string
	OriginalSize  int64
	RemainingSize int64
	Status        Status
	SubmittedAt   time.Time
	Seq           uint64
}

// State returns a value copy of the order.
func (o *Order) State() OrderState {
	return OrderState{
		ID:            o.id,
		Instrument:    o.instrument,
		Price:         o.price,
		Side:          o.side,
		Party:         o.party.name,
		OriginalSize:  o.originalSize,
		RemainingSize: o.remainingSize,
		Status:        o.status,
		SubmittedAt:   o.submittedAt,
		Seq:           o.seq,
	}
}

// FromState rebuilds an order, keeping its handle, fill state and original
// submission time.
func FromState(st OrderState) (*Order, error) {
	o, err := newOrderAt(st.Instrument, st.Price, st.OriginalSize, st.Side, NewParty(st.Party), st.SubmittedAt, st.Seq)
	if err != nil {
		return nil, err
	}
	if st.RemainingSize < 0 || st.RemainingSize > st.OriginalSize {
		return nil, errors.Wrapf(ErrInvalidOrder, "remaining %d outside [0, %d]", st.RemainingSize, st.OriginalSize)
	}
	if st.Status > Cancelled {
		return nil, errors.Wrapf(ErrInvalidOrder, "unknown status %d", st.Status)
	}
	o.id = st.ID
	o.remainingSize = st.RemainingSize
	o.status = st.Status
	if st.Seq == 0 {
		o.seq = nextSeq()
	} else {
		observeSeq(st.Seq)
	}
	return o, nil
}
