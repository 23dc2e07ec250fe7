package orderbook

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one execution. It is created once per match and never changes.
type Trade struct {
	seq        uint64
	instrument string
	price      decimal.Decimal
	size       int64
	aggressor  Side

	maker      Party
	taker      Party
	makerOrder OrderID
	takerOrder OrderID

	executedAt time.Time
}

// NewTrade records a match of size units between a resting maker and an
// incoming taker. The execution price is always the maker's limit.
func NewTrade(seq uint64, maker, taker *Order, size int64, at time.Time) *Trade {
	return &Trade{
		seq:        seq,
		instrument: maker.instrument,
		price:      maker.price,
		size:       size,
		aggressor:  taker.side,
		maker:      maker.party,
		taker:      taker.party,
		makerOrder: maker.id,
		takerOrder: taker.id,
		executedAt: at,
	}
}

func (t *Trade) Seq() uint64            { return t.seq }
func (t *Trade) Instrument() string     { return t.instrument }
func (t *Trade) Price() decimal.Decimal { return t.price }
func (t *Trade) Size() int64            { return t.size }
func (t *Trade) AggressorSide() Side    { return t.aggressor }
func (t *Trade) Maker() Party           { return t.maker }
func (t *Trade) Taker() Party           { return t.taker }
func (t *Trade) MakerOrderID() OrderID  { return t.makerOrder }
func (t *Trade) TakerOrderID() OrderID  { return t.takerOrder }
func (t *Trade) ExecutedAt() time.Time  { return t.executedAt }

func (t *Trade) String() string {
	return fmt.Sprintf("Trade{#%d %s %d@%s %s maker=%s taker=%s}",
		t.seq, t.instrument, t.size, t.price.StringFixed(4), t.aggressor, t.maker, t.taker)
}

// TradeState is the value form of a trade for snapshots and transport.
type TradeState struct {
	Seq        uint64
	Instrument string
	Price      decimal.Decimal
	Size       int64
	Aggressor  Side
	Maker      string
	Taker      string
	MakerOrder OrderID
	TakerOrder OrderID
	ExecutedAt time.Time
}

func (t *Trade) State() TradeState {
	return TradeState{
		Seq:        t.seq,
		Instrument: t.instrument,
		Price:      t.price,
		Size:       t.size,
		Aggressor:  t.aggressor,
		Maker:      t.maker.name,
		Taker:      t.taker.name,
		MakerOrder: t.makerOrder,
		TakerOrder: t.takerOrder,
		ExecutedAt: t.executedAt,
	}
}

// TradeFromState rebuilds a trade, for example on a client decoding the wire form.
func TradeFromState(st TradeState) *Trade {
	return &Trade{
		seq:        st.Seq,
		instrument: st.Instrument,
		price:      st.Price,
		size:       st.Size,
		aggressor:  st.Aggressor,
		maker:      NewParty(st.Maker),
		taker:      NewParty(st.Taker),
		makerOrder: st.MakerOrder,
		takerOrder: st.TakerOrder,
		executedAt: st.ExecutedAt,
	}
}
