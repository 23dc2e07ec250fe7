// Package wal holds the payload encodings of journaled commands. Payloads use
// the protobuf wire format so fields can be added without breaking old journals.
package wal

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"localtrader/domain/orderbook"
)

// place fields
const (
	placeInstrument protowire.Number = 1
	placePrice      protowire.Number = 2
	placeSize       protowire.Number = 3
	placeSide       protowire.Number = 4
	placeParty      protowire.Number = 5
	placeSubmitted  protowire.Number = 6
	placeSeq        protowire.Number = 7
)

// cancel fields
const (
	cancelOrderID protowire.Number = 1
)

var ErrBadPayload = errors.New("bad journal payload")

// EncodePlace encodes an order as submitted, before any fill.
func EncodePlace(o *orderbook.Order) []byte {
	st := o.State()
	var b []byte
	b = protowire.AppendTag(b, placeInstrument, protowire.BytesType)
	b = protowire.AppendString(b, st.Instrument)
	b = protowire.AppendTag(b, placePrice, protowire.BytesType)
	b = protowire.AppendString(b, st.Price.String())
	b = protowire.AppendTag(b, placeSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(st.OriginalSize))
	b = protowire.AppendTag(b, placeSide, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(st.Side))
	b = protowire.AppendTag(b, placeParty, protowire.BytesType)
	b = protowire.AppendString(b, st.Party)
	b = protowire.AppendTag(b, placeSubmitted, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(st.SubmittedAt.UnixNano()))
	b = protowire.AppendTag(b, placeSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, st.Seq)
	return b
}

// DecodePlace rebuilds the unsubmitted order carried by a place payload.
func DecodePlace(b []byte) (*orderbook.Order, error) {
	var st orderbook.OrderState
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == placeInstrument && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			st.Instrument = v
			return n, nil
		case num == placePrice && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, nil
			}
			p, err := decimal.NewFromString(v)
			if err != nil {
				return 0, errors.Wrapf(ErrBadPayload, "price %q", v)
			}
			st.Price = p
			return n, nil
		case num == placeSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			st.OriginalSize = int64(v)
			return n, nil
		case num == placeSide && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			st.Side = orderbook.Side(v)
			return n, nil
		case num == placeParty && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			st.Party = v
			return n, nil
		case num == placeSubmitted && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			st.SubmittedAt = time.Unix(0, protowire.DecodeZigZag(v))
			return n, nil
		case num == placeSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			st.Seq = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}

	st.RemainingSize = st.OriginalSize
	st.Status = orderbook.Unfilled
	o, err := orderbook.FromState(st)
	if err != nil {
		return nil, errors.Mark(err, ErrBadPayload)
	}
	return o, nil
}

func EncodeCancel(id orderbook.OrderID) []byte {
	b := protowire.AppendTag(nil, cancelOrderID, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(id))
}

func DecodeCancel(b []byte) (orderbook.OrderID, error) {
	var id orderbook.OrderID
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == cancelOrderID && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			id = orderbook.OrderID(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.Wrap(ErrBadPayload, "cancel without order id")
	}
	return id, nil
}

// walk calls fn for each field; fn consumes the value and returns its length.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrBadPayload, protowire.ParseError(n).Error())
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return errors.Wrap(ErrBadPayload, protowire.ParseError(n).Error())
		}
		b = b[n:]
	}
	return nil
}
