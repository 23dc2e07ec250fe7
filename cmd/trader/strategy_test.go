package main

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localtrader/domain/orderbook"
	"localtrader/domain/wire"
)

func TestRandomWalkOrdersAreValid(t *testing.T) {
	w := newRandomWalk(rand.New(rand.NewSource(1)), "ABC", "p1")
	for i := 0; i < 1000; i++ {
		o, err := w.next()
		require.NoError(t, err)
		assert.Equal(t, "ABC", o.Instrument())
		assert.Equal(t, "p1", o.Party().Name())
		assert.True(t, o.OriginalSize() >= 1 && o.OriginalSize() <= walkMaxSize)
		assert.True(t, o.Price().GreaterThan(decimal.Zero))
		assert.True(t, o.Price().Equal(o.Price().Round(2)))

		// every generated order survives the wire
		_, err = wire.DecodeOrder(wire.EncodeOrder(o))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int64(w.delay()), int64(0))
	}
}

func TestScalperQuotesBothSides(t *testing.T) {
	s := newScalper(rand.New(rand.NewSource(7)), "ABC", "mm")
	sides := map[orderbook.Side]int{}
	for i := 0; i < 500; i++ {
		o, err := s.next()
		require.NoError(t, err)
		sides[o.Side()]++
		assert.GreaterOrEqual(t, o.OriginalSize(), int64(1))

		if o.IsBuy() {
			assert.True(t, o.Price().LessThan(decimal.NewFromInt(101)), o.Price().String())
		} else {
			assert.True(t, o.Price().GreaterThan(decimal.NewFromInt(99)), o.Price().String())
		}
	}
	assert.NotZero(t, sides[orderbook.Buy])
	assert.NotZero(t, sides[orderbook.Sell])
}

func TestRoundPriceClampsToMinimum(t *testing.T) {
	assert.True(t, roundPrice(-3).Equal(minPrice))
	assert.Equal(t, "99.13", roundPrice(99.126).String())
}
