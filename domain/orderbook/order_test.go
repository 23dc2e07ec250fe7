package orderbook

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inst = "ABC"

func px(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func mustOrder(t *testing.T, side Side, price string, size int64, party string) *Order {
	t.Helper()
	o, err := NewOrder(inst, px(price), size, side, NewParty(party))
	require.NoError(t, err)
	return o
}

func TestNewOrderRejectsBadInput(t *testing.T) {
	cases := []struct {
		name       string
		instrument string
		price      string
		size       int64
		party      string
	}{
		{"empty instrument", " ", "1", 1, "p"},
		{"zero size", inst, "1", 0, "p"},
		{"negative size", inst, "1", -3, "p"},
		{"negative price", inst, "-0.01", 1, "p"},
		{"pipe in instrument", "A|B", "1", 1, "p"},
		{"newline in instrument", "AB\n", "1", 1, "p"},
		{"pipe in party", inst, "1", 1, "a|b"},
		{"carriage return in party", inst, "1", 1, "a\rb"},
		{"newline in party", inst, "1", 1, "a\nb"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewOrder(tc.instrument, px(tc.price), tc.size, Buy, NewParty(tc.party))
			assert.True(t, errors.Is(err, ErrInvalidOrder), "got %v", err)
		})
	}
}

func TestFillTransitions(t *testing.T) {
	o := mustOrder(t, Buy, "100", 10, "alice")
	assert.Equal(t, Unfilled, o.Status())

	require.NoError(t, o.Fill(4))
	assert.Equal(t, PartiallyFilled, o.Status())
	assert.EqualValues(t, 6, o.RemainingSize())
	assert.EqualValues(t, 4, o.FilledSize())

	require.NoError(t, o.Fill(6))
	assert.Equal(t, Filled, o.Status())
	assert.Zero(t, o.RemainingSize())

	assert.True(t, errors.Is(o.Fill(1), ErrOrderNotLive))
}

func TestFillRejectsOutOfRangeAmounts(t *testing.T) {
	o := mustOrder(t, Sell, "100", 5, "bob")
	for _, amount := range []int64{0, -1, 6} {
		err := o.Fill(amount)
		assert.True(t, errors.Is(err, ErrInvalidFillSize), "amount %d: %v", amount, err)
	}
	assert.EqualValues(t, 5, o.RemainingSize())
	assert.Equal(t, Unfilled, o.Status())
}

func TestFillOnCancelledOrderIsRejected(t *testing.T) {
	o := mustOrder(t, Buy, "100", 5, "alice")
	o.Cancel()
	assert.True(t, errors.Is(o.Fill(1), ErrOrderNotLive))
	assert.EqualValues(t, 5, o.RemainingSize())
}

func TestCancelIsIdempotent(t *testing.T) {
	o := mustOrder(t, Buy, "100", 5, "alice")
	require.NoError(t, o.Fill(2))
	o.Cancel()
	o.Cancel()
	assert.Equal(t, Cancelled, o.Status())
	assert.EqualValues(t, 3, o.RemainingSize())
}

func TestMoreAggressiveThan(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	mk := func(side Side, price string, at time.Time, seq uint64) *Order {
		o, err := newOrderAt(inst, px(price), 1, side, NewParty("p"), at, seq)
		require.NoError(t, err)
		return o
	}

	t.Run("buy prefers higher price", func(t *testing.T) {
		a, b := mk(Buy, "101", t0.Add(time.Second), 2), mk(Buy, "100", t0, 1)
		assert.True(t, a.MoreAggressiveThan(b))
		assert.False(t, b.MoreAggressiveThan(a))
	})
	t.Run("sell prefers lower price", func(t *testing.T) {
		a, b := mk(Sell, "99", t0.Add(time.Second), 2), mk(Sell, "100", t0, 1)
		assert.True(t, a.MoreAggressiveThan(b))
		assert.False(t, b.MoreAggressiveThan(a))
	})
	t.Run("earlier wins at equal price", func(t *testing.T) {
		a, b := mk(Sell, "100", t0, 5), mk(Sell, "100.0000", t0.Add(time.Millisecond), 1)
		assert.True(t, a.MoreAggressiveThan(b))
		assert.False(t, b.MoreAggressiveThan(a))
	})
	t.Run("construction order breaks clock ties", func(t *testing.T) {
		a, b := mk(Buy, "100", t0, 1), mk(Buy, "100", t0, 2)
		assert.True(t, a.MoreAggressiveThan(b))
		assert.False(t, b.MoreAggressiveThan(a))
	})
	t.Run("irreflexive", func(t *testing.T) {
		a := mk(Buy, "100", t0, 1)
		assert.False(t, a.MoreAggressiveThan(a))
	})
	t.Run("opposite sides never compare", func(t *testing.T) {
		a, b := mk(Buy, "100", t0, 1), mk(Sell, "90", t0, 2)
		assert.False(t, a.MoreAggressiveThan(b))
		assert.False(t, b.MoreAggressiveThan(a))
	})
}

func TestOrderStateRoundTrip(t *testing.T) {
	o := mustOrder(t, Sell, "12.5", 8, "carol")
	require.NoError(t, o.Fill(3))

	back, err := FromState(o.State())
	require.NoError(t, err)
	assert.Equal(t, o.State(), back.State())
	assert.False(t, o.MoreAggressiveThan(back) || back.MoreAggressiveThan(o))
}

func TestFromStateRejectsInconsistentSizes(t *testing.T) {
	st := mustOrder(t, Buy, "1", 4, "p").State()
	st.RemainingSize = 5
	_, err := FromState(st)
	assert.True(t, errors.Is(err, ErrInvalidOrder))
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("SELL")
	require.NoError(t, err)
	assert.Equal(t, Sell, s)

	for _, bad := range []string{"buy", "B", "", "SELL "} {
		_, err := ParseSide(bad)
		assert.Error(t, err, bad)
	}
}
