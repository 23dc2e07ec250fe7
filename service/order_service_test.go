package service

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localtrader/domain/orderbook"
	"localtrader/infra/metrics"
	"localtrader/infra/sequence"
	entrywal "localtrader/infra/wal/entry"
	exitwal "localtrader/infra/wal/exit"
	"localtrader/snapshot"
)

const inst = "ABC"

type env struct {
	closed  bool
	dir     string
	svc     *OrderService
	journal *entrywal.WAL
	outbox  *exitwal.ExitWAL
	metrics *metrics.Metrics
}

func (e *env) journalDir() string  { return e.dir + "/journal" }
func (e *env) snapshotDir() string { return e.dir + "/snapshots" }

func newEnv(t *testing.T, dir string) *env {
	t.Helper()
	e := &env{dir: dir, metrics: metrics.Discard()}

	var err error
	e.journal, err = entrywal.Open(entrywal.Config{Dir: e.journalDir(), SegmentSize: 256, SegmentDuration: time.Hour})
	require.NoError(t, err)
	e.outbox, err = exitwal.Open(dir + "/outbox")
	require.NoError(t, err)

	e.svc = NewOrderService(orderbook.NewOrderBook(inst), sequence.New(0), e.journal, e.outbox, e.metrics, nil)
	t.Cleanup(e.close)
	return e
}

func (e *env) close() {
	if e.closed {
		return
	}
	e.closed = true
	_ = e.journal.Close()
	_ = e.outbox.Close()
}

func order(t *testing.T, side orderbook.Side, price string, size int64, party string) *orderbook.Order {
	t.Helper()
	o, err := orderbook.NewOrder(inst, decimal.RequireFromString(price), size, side, orderbook.NewParty(party))
	require.NoError(t, err)
	return o
}

func place(t *testing.T, svc *OrderService, side orderbook.Side, price string, size int64, party string) (orderbook.OrderID, []*orderbook.Trade) {
	t.Helper()
	id, trades, err := svc.PlaceOrder(order(t, side, price, size, party))
	require.NoError(t, err)
	return id, trades
}

func TestPlaceOrderMatchesAndRecords(t *testing.T) {
	e := newEnv(t, t.TempDir())
	sub := e.svc.SubscribeTrades()
	defer e.svc.UnsubscribeTrades(sub)

	buyID, trades := place(t, e.svc, orderbook.Buy, "100", 10, "maker")
	assert.NotZero(t, buyID)
	assert.Empty(t, trades)

	_, trades = place(t, e.svc, orderbook.Sell, "99", 4, "taker")
	require.Len(t, trades, 1)
	assert.Equal(t, "100", trades[0].Price().String())

	select {
	case tr := <-sub.C():
		assert.Same(t, trades[0], tr)
	case <-time.After(time.Second):
		t.Fatal("trade was not broadcast")
	}

	rec, err := e.outbox.Get(trades[0].Seq())
	require.NoError(t, err)
	assert.Equal(t, exitwal.StateNew, rec.State)
	assert.Contains(t, string(rec.Payload), "t|ABC|100.0000|4|SELL|maker|taker|")

	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.OrdersReceived.WithLabelValues("BUY"))+
		testutil.ToFloat64(e.metrics.OrdersReceived.WithLabelValues("SELL")))
	assert.Equal(t, 4.0, testutil.ToFloat64(e.metrics.TradedVolume))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Resting.WithLabelValues("BUY")))

	st, ok := e.svc.Lookup(buyID)
	require.True(t, ok)
	assert.EqualValues(t, 6, st.RemainingSize)
}

func TestRejectionsAreNotJournaled(t *testing.T) {
	e := newEnv(t, t.TempDir())

	other, err := orderbook.NewOrder("XYZ", decimal.NewFromInt(1), 1, orderbook.Buy, orderbook.NewParty("p"))
	require.NoError(t, err)
	_, _, err = e.svc.PlaceOrder(other)
	assert.True(t, errors.Is(err, orderbook.ErrInstrumentMismatch))

	err = e.svc.CancelOrder(77)
	assert.True(t, errors.Is(err, orderbook.ErrUnknownOrder))

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.OrdersRejected.WithLabelValues("instrument")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.OrdersRejected.WithLabelValues("unknown_order")))

	n := 0
	_, err = entrywal.Replay(e.journalDir(), 0, func(*entrywal.Record) error { n++; return nil })
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingJournal struct{}

func (failingJournal) Append(*entrywal.Record) error      { return errors.New("disk full") }
func (failingJournal) TruncateBefore(uint64) (int, error) { return 0, nil }

func TestJournalFailureLeavesBookUntouched(t *testing.T) {
	book := orderbook.NewOrderBook(inst)
	m := metrics.Discard()
	svc := NewOrderService(book, sequence.New(0), failingJournal{}, nil, m, nil)

	o := order(t, orderbook.Buy, "1", 1, "p")
	_, _, err := svc.PlaceOrder(o)
	assert.True(t, errors.Is(err, ErrJournal))
	assert.Zero(t, o.ID())
	bids, _ := book.Resting()
	assert.Zero(t, bids)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersRejected.WithLabelValues("journal")))
}

func TestCancelThenCompact(t *testing.T) {
	e := newEnv(t, t.TempDir())
	id, _ := place(t, e.svc, orderbook.Sell, "101", 5, "a")
	require.NoError(t, e.svc.CancelOrder(id))
	require.NoError(t, e.svc.CancelOrder(id))

	q := e.svc.Quote()
	assert.False(t, q.HasOffer)

	assert.Equal(t, 1, e.svc.Compact())
	_, ok := e.svc.Lookup(id)
	assert.False(t, ok)
	assert.True(t, errors.Is(e.svc.CancelOrder(id), orderbook.ErrUnknownOrder))
}

func TestRecoverFromJournal(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir)
	place(t, e.svc, orderbook.Buy, "100", 10, "a")
	cancelID, _ := place(t, e.svc, orderbook.Buy, "99", 3, "b")
	require.NoError(t, e.svc.CancelOrder(cancelID))
	_, trades := place(t, e.svc, orderbook.Sell, "98", 4, "c")
	require.Len(t, trades, 1)
	want := e.svc.book.State()
	e.close()

	r := newEnv(t, dir)
	last, err := r.svc.Recover(r.snapshotDir(), r.journalDir())
	require.NoError(t, err)
	assert.EqualValues(t, 4, last)

	got := r.svc.book.State()
	assert.Equal(t, want.LastID, got.LastID)
	assert.Equal(t, want.TradeSeq, got.TradeSeq)
	require.Len(t, got.Orders, len(want.Orders))
	for i := range want.Orders {
		assert.Equal(t, want.Orders[i].ID, got.Orders[i].ID)
		assert.Equal(t, want.Orders[i].RemainingSize, got.Orders[i].RemainingSize)
		assert.Equal(t, want.Orders[i].Status, got.Orders[i].Status)
	}
	require.Len(t, got.Trades, 1)
	assert.True(t, want.Trades[0].ExecutedAt.Equal(got.Trades[0].ExecutedAt),
		"replayed trade at %s, originally %s", got.Trades[0].ExecutedAt, want.Trades[0].ExecutedAt)

	// the outbox entry from the first run is kept, not duplicated
	counts, err := r.outbox.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[exitwal.StateNew])

	// new commands continue the sequence
	place(t, r.svc, orderbook.Sell, "200", 1, "d")
	assert.EqualValues(t, 5, r.svc.seqGen.Current())
}

func TestRecoverFromSnapshotAndTail(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir)
	for i := 0; i < 6; i++ {
		place(t, e.svc, orderbook.Buy, "100", 1, "a")
	}
	w := &snapshot.Writer{Dir: e.snapshotDir()}
	require.NoError(t, e.svc.TakeSnapshot(w))

	_, trades := place(t, e.svc, orderbook.Sell, "100", 2, "b")
	require.Len(t, trades, 2)
	e.close()

	r := newEnv(t, dir)
	last, err := r.svc.Recover(r.snapshotDir(), r.journalDir())
	require.NoError(t, err)
	assert.EqualValues(t, 7, last)

	bids, asks := r.svc.book.Resting()
	assert.Equal(t, 4, bids)
	assert.Zero(t, asks)
	assert.Len(t, r.svc.Trades(), 2)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := NewHub[int]()
	fast := h.Subscribe(2)
	slow := h.Subscribe(0)

	assert.Equal(t, 1, h.Broadcast(1))
	assert.Equal(t, 1, <-fast.C())

	h.Unsubscribe(slow)
	h.Unsubscribe(slow)
	_, open := <-slow.C()
	assert.False(t, open)
	assert.Equal(t, 1, h.Len())
}
