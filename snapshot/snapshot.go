package snapshot

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"localtrader/domain/orderbook"
)

const fileName = "snapshot.msgpack"

type Snapshot struct {
	Seq        uint64       `msgpack:"seq"`
	Created    time.Time    `msgpack:"created"`
	Instrument string       `msgpack:"instrument"`
	LastID     uint64       `msgpack:"last_id"`
	TradeSeq   uint64       `msgpack:"trade_seq"`
	Orders     []OrderEntry `msgpack:"orders"`
	Trades     []TradeEntry `msgpack:"trades"`
}

type OrderEntry struct {
	ID        uint64 `msgpack:"id"`
	Price     string `msgpack:"price"`
	Side      uint8  `msgpack:"side"`
	Party     string `msgpack:"party"`
	Size      int64  `msgpack:"size"`
	Remaining int64  `msgpack:"remaining"`
	Status    uint8  `msgpack:"status"`
	Submitted int64  `msgpack:"submitted"`
	Seq       uint64 `msgpack:"seq"`
}

type TradeEntry struct {
	Seq        uint64 `msgpack:"seq"`
	Price      string `msgpack:"price"`
	Size       int64  `msgpack:"size"`
	Aggressor  uint8  `msgpack:"aggressor"`
	Maker      string `msgpack:"maker"`
	Taker      string `msgpack:"taker"`
	MakerOrder uint64 `msgpack:"maker_order"`
	TakerOrder uint64 `msgpack:"taker_order"`
	Executed   int64  `msgpack:"executed"`
}

// New captures st as covering the journal up to seq.
func New(seq uint64, st orderbook.State) *Snapshot {
	s := &Snapshot{
		Seq:        seq,
		Created:    time.Now(),
		Instrument: st.Instrument,
		LastID:     uint64(st.LastID),
		TradeSeq:   st.TradeSeq,
		Orders:     make([]OrderEntry, 0, len(st.Orders)),
		Trades:     make([]TradeEntry, 0, len(st.Trades)),
	}
	for _, o := range st.Orders {
		s.Orders = append(s.Orders, OrderEntry{
			ID:        uint64(o.ID),
			Price:     o.Price.String(),
			Side:      uint8(o.Side),
			Party:     o.Party,
			Size:      o.OriginalSize,
			Remaining: o.RemainingSize,
			Status:    uint8(o.Status),
			Submitted: o.SubmittedAt.UnixNano(),
			Seq:       o.Seq,
		})
	}
	for _, t := range st.Trades {
		s.Trades = append(s.Trades, TradeEntry{
			Seq:        t.Seq,
			Price:      t.Price.String(),
			Size:       t.Size,
			Aggressor:  uint8(t.Aggressor),
			Maker:      t.Maker,
			Taker:      t.Taker,
			MakerOrder: uint64(t.MakerOrder),
			TakerOrder: uint64(t.TakerOrder),
			Executed:   t.ExecutedAt.UnixNano(),
		})
	}
	return s
}

// State converts the snapshot back into book state.
func (s *Snapshot) State() (orderbook.State, error) {
	st := orderbook.State{
		Instrument: s.Instrument,
		LastID:     orderbook.OrderID(s.LastID),
		TradeSeq:   s.TradeSeq,
		Orders:     make([]orderbook.OrderState, 0, len(s.Orders)),
		Trades:     make([]orderbook.TradeState, 0, len(s.Trades)),
	}
	for _, e := range s.Orders {
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return orderbook.State{}, errors.Wrapf(err, "order %d price", e.ID)
		}
		st.Orders = append(st.Orders, orderbook.OrderState{
			ID:            orderbook.OrderID(e.ID),
			Instrument:    s.Instrument,
			Price:         price,
			Side:          orderbook.Side(e.Side),
			Party:         e.Party,
			OriginalSize:  e.Size,
			RemainingSize: e.Remaining,
			Status:        orderbook.Status(e.Status),
			SubmittedAt:   time.Unix(0, e.Submitted),
			Seq:           e.Seq,
		})
	}
	for _, e := range s.Trades {
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return orderbook.State{}, errors.Wrapf(err, "trade %d price", e.Seq)
		}
		st.Trades = append(st.Trades, orderbook.TradeState{
			Seq:        e.Seq,
			Instrument: s.Instrument,
			Price:      price,
			Size:       e.Size,
			Aggressor:  orderbook.Side(e.Aggressor),
			Maker:      e.Maker,
			Taker:      e.Taker,
			MakerOrder: orderbook.OrderID(e.MakerOrder),
			TakerOrder: orderbook.OrderID(e.TakerOrder),
			ExecutedAt: time.Unix(0, e.Executed),
		})
	}
	return st, nil
}

type Writer struct {
	Dir string
}

// Write stores the snapshot, replacing the previous one only once the new file
// is complete on disk.
func (w *Writer) Write(s *Snapshot) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	b, err := msgpack.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	tmp, err := os.CreateTemp(w.Dir, fileName+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(w.Dir, fileName))
}
