package main

import (
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"localtrader/domain/orderbook"
)

// strategy produces the next order to send and how long to wait after it.
type strategy interface {
	next() (*orderbook.Order, error)
	delay() time.Duration
}

var minPrice = decimal.New(1, -2)

func roundPrice(p float64) decimal.Decimal {
	d := decimal.NewFromFloat(p).Round(2)
	if d.LessThan(minPrice) {
		return minPrice
	}
	return d
}

// micros converts a normally distributed wait in microseconds, clamped at zero.
func micros(rng *rand.Rand, mean, sd float64) time.Duration {
	us := rng.NormFloat64()*sd + mean
	if us < 0 {
		return 0
	}
	return time.Duration(us * float64(time.Microsecond))
}

// randomWalk sends orders on either side around a drifting mean price.
type randomWalk struct {
	rng        *rand.Rand
	instrument string
	party      orderbook.Party
	mean       float64
}

const (
	walkPriceSD = 2
	walkStep    = 0.1
	walkMaxSize = 25
	walkWaitUS  = 15
	walkWaitSD  = 75
)

func newRandomWalk(rng *rand.Rand, instrument, party string) *randomWalk {
	return &randomWalk{rng: rng, instrument: instrument, party: orderbook.NewParty(party), mean: 100}
}

func (w *randomWalk) next() (*orderbook.Order, error) {
	price := roundPrice(w.rng.NormFloat64()*walkPriceSD + w.mean)
	w.mean += (w.rng.Float64() - 0.5) * walkStep

	size := max(int64(1), int64(walkMaxSize*w.rng.Float64()))
	side := orderbook.Sell
	if w.rng.Float64() > 0.5 {
		side = orderbook.Buy
	}
	return orderbook.NewOrder(w.instrument, price, size, side, w.party)
}

func (w *randomWalk) delay() time.Duration { return micros(w.rng, walkWaitUS, walkWaitSD) }

// scalper quotes both sides of a fixed spread.
type scalper struct {
	rng        *rand.Rand
	instrument string
	party      orderbook.Party
}

const (
	scalpBid    = 99.0
	scalpOffer  = 101.0
	scalpSD     = 0.25
	scalpSize   = 5
	scalpSizeSD = 2
	scalpWaitUS = 150
	scalpWaitSD = 75
)

func newScalper(rng *rand.Rand, instrument, party string) *scalper {
	return &scalper{rng: rng, instrument: instrument, party: orderbook.NewParty(party)}
}

func (s *scalper) next() (*orderbook.Order, error) {
	size := max(int64(1), int64(s.rng.NormFloat64()*scalpSizeSD+scalpSize))
	if s.rng.Float64() > 0.5 {
		return orderbook.NewOrder(s.instrument, roundPrice(s.rng.NormFloat64()*scalpSD+scalpBid), size, orderbook.Buy, s.party)
	}
	return orderbook.NewOrder(s.instrument, roundPrice(s.rng.NormFloat64()*scalpSD+scalpOffer), size, orderbook.Sell, s.party)
}

func (s *scalper) delay() time.Duration { return micros(s.rng, scalpWaitUS, scalpWaitSD) }
