package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

type step struct {
	cancel int // index into submitted orders, or -1
	side   Side
	price  int64
	size   int64
}

func genStep(t *rapid.T, i int) step {
	if i > 0 && rapid.IntRange(0, 4).Draw(t, "cancel?") == 0 {
		return step{cancel: rapid.IntRange(0, i-1).Draw(t, "target")}
	}
	return step{
		cancel: -1,
		side:   rapid.SampledFrom([]Side{Buy, Sell}).Draw(t, "side"),
		price:  rapid.Int64Range(95, 105).Draw(t, "price"),
		size:   rapid.Int64Range(1, 20).Draw(t, "size"),
	}
}

func TestBookInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewOrderBook(inst)
		var all []*Order
		var cancelledAtCancel = map[*Order]int64{}

		n := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < n; i++ {
			s := genStep(t, len(all))
			if s.cancel >= 0 {
				o := all[s.cancel]
				if o.IsLive() {
					if err := b.Cancel(o.ID()); err != nil {
						t.Fatalf("cancel live order %d: %v", o.ID(), err)
					}
					cancelledAtCancel[o] = o.RemainingSize()
				}
				continue
			}

			o, err := NewOrder(inst, decimal.NewFromInt(s.price), s.size, s.side, NewParty("p"))
			if err != nil {
				t.Fatal(err)
			}
			before := len(b.Trades())
			trades, err := b.Submit(o)
			if err != nil {
				t.Fatal(err)
			}
			if len(b.Trades()) != before+len(trades) {
				t.Fatalf("trade log grew by %d, submission reported %d", len(b.Trades())-before, len(trades))
			}
			for _, tr := range trades {
				if tr.Size() <= 0 {
					t.Fatalf("non-positive trade size %d", tr.Size())
				}
				if tr.AggressorSide() != o.Side() {
					t.Fatalf("aggressor %s, submitted %s", tr.AggressorSide(), o.Side())
				}
				if tr.Taker() != o.Party() || tr.TakerOrderID() != o.ID() {
					t.Fatalf("taker is not the submitted order: %s", tr)
				}
				if o.Side() == Buy && tr.Price().GreaterThan(o.Price()) ||
					o.Side() == Sell && tr.Price().LessThan(o.Price()) {
					t.Fatalf("trade %s worse than limit %s", tr, o.Price())
				}
			}
			all = append(all, o)

			if b.IsCrossed() {
				t.Fatalf("book left crossed after %s", o)
			}
		}

		filled := map[OrderID]int64{}
		for _, tr := range b.Trades() {
			filled[tr.MakerOrderID()] += tr.Size()
			filled[tr.TakerOrderID()] += tr.Size()
		}
		for _, o := range all {
			if o.RemainingSize() < 0 || o.RemainingSize() > o.OriginalSize() {
				t.Fatalf("remaining out of range: %s", o)
			}
			if (o.Status() == Filled) != (o.RemainingSize() == 0 && !o.IsCancelled()) {
				t.Fatalf("filled status disagrees with remaining size: %s", o)
			}
			if filled[o.ID()] != o.FilledSize() {
				t.Fatalf("order %d filled %d, trades say %d", o.ID(), o.FilledSize(), filled[o.ID()])
			}
			if rem, ok := cancelledAtCancel[o]; ok && rem != o.RemainingSize() {
				t.Fatalf("cancelled order %d traded after cancel", o.ID())
			}
			_, resting := b.Lookup(o.ID())
			if resting == (o.Status() == Filled) {
				t.Fatalf("order %d resting=%v with status %s", o.ID(), resting, o.Status())
			}
		}
	})
}

func TestBestOrderIsMostAggressiveLive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		side := rapid.SampledFrom([]Side{Buy, Sell}).Draw(t, "side")
		b := NewOrderBook(inst)
		var live []*Order

		prices := rapid.SliceOfN(rapid.Int64Range(1, 10), 1, 30).Draw(t, "prices")
		for i, p := range prices {
			o, err := NewOrder(inst, decimal.NewFromInt(p), 1, side, NewParty("p"))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := b.Submit(o); err != nil {
				t.Fatal(err)
			}
			if rapid.Bool().Draw(t, "cancel") && i%2 == 0 {
				o.Cancel()
				continue
			}
			live = append(live, o)
		}

		var want *Order
		for _, o := range live {
			if want == nil || o.MoreAggressiveThan(want) {
				want = o
			}
		}
		got := b.BestBuyOrder()
		if side == Sell {
			got = b.BestSellOrder()
		}
		if got != want {
			t.Fatalf("best order %v, want %v", got, want)
		}
	})
}
