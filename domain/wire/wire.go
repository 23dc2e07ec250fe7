// Package wire is the pipe-delimited ASCII protocol spoken by the transports.
//
//	o|<instrument>|<price>|<size>|<BUY|SELL>|<party>          place an order
//	c|<order-id>                                              cancel an order
//	bb, bo, bbbo                                              quote requests
//	t|<instrument>|<price>|<size>|<side>|<maker>|<taker>|<ms> trade
//	bb|<price>  bo|<price>  bbbo|<bid>|<offer>|<ms>            quotes
//	ACK|<order-id>  NACK|<reason>                             replies
//
// Prices carry four decimals. A side without liquidity is quoted as "none".
package wire

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"localtrader/domain/orderbook"
)

const (
	sep = "|"

	TagOrder     = "o"
	TagCancel    = "c"
	TagTrade     = "t"
	TagBestBid   = "bb"
	TagBestOffer = "bo"
	TagBBBO      = "bbbo"
	TagAck       = "ACK"
	TagNack      = "NACK"

	// NoPrice quotes an empty side.
	NoPrice = "none"

	priceDecimals = 4
)

// ErrDecode marks every malformed-input error returned by this package.
var ErrDecode = errors.New("decode error")

func decodeErr(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrDecode)
}

// FormatPrice renders a price with four decimals.
func FormatPrice(p decimal.Decimal) string {
	return p.StringFixed(priceDecimals)
}

func formatQuote(p decimal.Decimal, ok bool) string {
	if !ok {
		return NoPrice
	}
	return FormatPrice(p)
}

func parseQuote(v string) (decimal.Decimal, bool, error) {
	if v == NoPrice {
		return decimal.Decimal{}, false, nil
	}
	p, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, false, decodeErr("bad price %q", v)
	}
	return p, true, nil
}

func epochMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ---- orders ----

func EncodeOrder(o *orderbook.Order) string {
	return strings.Join([]string{
		TagOrder,
		o.Instrument(),
		FormatPrice(o.Price()),
		strconv.FormatInt(o.OriginalSize(), 10),
		o.Side().String(),
		o.Party().Name(),
	}, sep)
}

// DecodeOrder parses an order message and builds a fresh, unsubmitted order.
// Nothing is constructed when any field is malformed.
func DecodeOrder(msg string) (*orderbook.Order, error) {
	f := strings.Split(msg, sep)
	if len(f) != 6 {
		return nil, decodeErr("order: want 6 fields, got %d", len(f))
	}
	if f[0] != TagOrder {
		return nil, decodeErr("order: unexpected tag %q", f[0])
	}
	price, err := decimal.NewFromString(f[2])
	if err != nil {
		return nil, decodeErr("order: bad price %q", f[2])
	}
	size, err := strconv.ParseInt(f[3], 10, 64)
	if err != nil {
		return nil, decodeErr("order: bad size %q", f[3])
	}
	side, err := orderbook.ParseSide(f[4])
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "order"), ErrDecode)
	}
	o, err := orderbook.NewOrder(f[1], price, size, side, orderbook.NewParty(f[5]))
	if err != nil {
		return nil, errors.Mark(err, ErrDecode)
	}
	return o, nil
}

// ---- trades ----

func EncodeTrade(t *orderbook.Trade) string {
	return strings.Join([]string{
		TagTrade,
		t.Instrument(),
		FormatPrice(t.Price()),
		strconv.FormatInt(t.Size(), 10),
		t.AggressorSide().String(),
		t.Maker().Name(),
		t.Taker().Name(),
		epochMillis(t.ExecutedAt()),
	}, sep)
}

// DecodeTrade parses a trade message. Order handles and the trade sequence are
// not carried on the wire and come back zero.
func DecodeTrade(msg string) (*orderbook.Trade, error) {
	f := strings.Split(msg, sep)
	if len(f) != 8 {
		return nil, decodeErr("trade: want 8 fields, got %d", len(f))
	}
	if f[0] != TagTrade {
		return nil, decodeErr("trade: unexpected tag %q", f[0])
	}
	price, err := decimal.NewFromString(f[2])
	if err != nil {
		return nil, decodeErr("trade: bad price %q", f[2])
	}
	size, err := strconv.ParseInt(f[3], 10, 64)
	if err != nil || size <= 0 {
		return nil, decodeErr("trade: bad size %q", f[3])
	}
	side, err := orderbook.ParseSide(f[4])
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "trade"), ErrDecode)
	}
	ms, err := strconv.ParseInt(f[7], 10, 64)
	if err != nil {
		return nil, decodeErr("trade: bad timestamp %q", f[7])
	}
	return orderbook.TradeFromState(orderbook.TradeState{
		Instrument: f[1],
		Price:      price,
		Size:       size,
		Aggressor:  side,
		Maker:      f[5],
		Taker:      f[6],
		ExecutedAt: time.UnixMilli(ms),
	}), nil
}

// ---- quotes ----

// Quote is a best bid / best offer snapshot. A side without liquidity has its
// flag unset.
type Quote struct {
	Bid      decimal.Decimal
	HasBid   bool
	Offer    decimal.Decimal
	HasOffer bool
	At       time.Time
}

func EncodeBestBid(p decimal.Decimal, ok bool) string {
	return TagBestBid + sep + formatQuote(p, ok)
}

func EncodeBestOffer(p decimal.Decimal, ok bool) string {
	return TagBestOffer + sep + formatQuote(p, ok)
}

func EncodeBBBO(q Quote) string {
	return strings.Join([]string{
		TagBBBO,
		formatQuote(q.Bid, q.HasBid),
		formatQuote(q.Offer, q.HasOffer),
		epochMillis(q.At),
	}, sep)
}

func DecodeBBBO(msg string) (Quote, error) {
	f := strings.Split(msg, sep)
	if len(f) != 4 || f[0] != TagBBBO {
		return Quote{}, decodeErr("bbbo: malformed %q", msg)
	}
	var (
		q   Quote
		err error
	)
	if q.Bid, q.HasBid, err = parseQuote(f[1]); err != nil {
		return Quote{}, err
	}
	if q.Offer, q.HasOffer, err = parseQuote(f[2]); err != nil {
		return Quote{}, err
	}
	ms, err := strconv.ParseInt(f[3], 10, 64)
	if err != nil {
		return Quote{}, decodeErr("bbbo: bad timestamp %q", f[3])
	}
	q.At = time.UnixMilli(ms)
	return q, nil
}

// ---- replies ----

func Ack(id orderbook.OrderID) string {
	return TagAck + sep + strconv.FormatUint(uint64(id), 10)
}

// Nack flattens reason onto one field.
func Nack(reason string) string {
	r := strings.NewReplacer(sep, "/", "\n", " ", "\r", " ")
	return TagNack + sep + r.Replace(reason)
}

func EncodeCancel(id orderbook.OrderID) string {
	return TagCancel + sep + strconv.FormatUint(uint64(id), 10)
}
