package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localtrader/domain/orderbook"
)

func seedBook(t *testing.T) *orderbook.OrderBook {
	t.Helper()
	b := orderbook.NewOrderBook("ABC")
	place := func(side orderbook.Side, price string, size int64, party string) *orderbook.Order {
		o, err := orderbook.NewOrder("ABC", decimal.RequireFromString(price), size, side, orderbook.NewParty(party))
		require.NoError(t, err)
		_, err = b.Submit(o)
		require.NoError(t, err)
		return o
	}
	place(orderbook.Buy, "100.25", 10, "a")
	place(orderbook.Sell, "100.25", 4, "b")
	c := place(orderbook.Sell, "101", 2, "c")
	require.NoError(t, b.Cancel(c.ID()))
	return b
}

func TestWriteLoad(t *testing.T) {
	dir := t.TempDir()
	src := seedBook(t)

	w := &Writer{Dir: dir}
	require.NoError(t, w.Write(New(42, src.State())))

	dst := orderbook.NewOrderBook("ABC")
	seq, err := Load(dir, dst)
	require.NoError(t, err)
	assert.EqualValues(t, 42, seq)

	want, got := src.State(), dst.State()
	assert.Equal(t, want.LastID, got.LastID)
	assert.Equal(t, want.TradeSeq, got.TradeSeq)
	require.Len(t, got.Orders, len(want.Orders))
	for i := range want.Orders {
		assert.Equal(t, want.Orders[i].ID, got.Orders[i].ID)
		assert.True(t, want.Orders[i].Price.Equal(got.Orders[i].Price))
		assert.Equal(t, want.Orders[i].RemainingSize, got.Orders[i].RemainingSize)
		assert.Equal(t, want.Orders[i].Status, got.Orders[i].Status)
		assert.True(t, want.Orders[i].SubmittedAt.Equal(got.Orders[i].SubmittedAt))
	}
	require.Len(t, got.Trades, 1)
	assert.Equal(t, "a", got.Trades[0].Maker)
	assert.Equal(t, "b", got.Trades[0].Taker)

	bid, ok := dst.BestBid()
	require.True(t, ok)
	assert.Equal(t, "100.25", bid.String())
	_, ok = dst.BestOffer()
	assert.False(t, ok)
}

func TestLoadWithoutSnapshot(t *testing.T) {
	b := orderbook.NewOrderBook("ABC")
	seq, err := Load(t.TempDir(), b)
	require.NoError(t, err)
	assert.Zero(t, seq)
}

func TestWriteReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}
	require.NoError(t, w.Write(New(1, orderbook.NewOrderBook("ABC").State())))
	require.NoError(t, w.Write(New(2, seedBook(t).State())))

	s, err := Read(dir)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.EqualValues(t, 2, s.Seq)

	// no temp files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte{0xc1}, 0o644))
	_, err := Load(dir, orderbook.NewOrderBook("ABC"))
	assert.Error(t, err)
}

func TestLoadRejectsOtherInstrument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, (&Writer{Dir: dir}).Write(New(1, seedBook(t).State())))
	_, err := Load(dir, orderbook.NewOrderBook("XYZ"))
	assert.ErrorIs(t, err, orderbook.ErrInstrumentMismatch)
}
