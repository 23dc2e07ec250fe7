package wire

import (
	"strconv"
	"strings"

	"localtrader/domain/orderbook"
)

type Kind uint8

const (
	KindPlace Kind = iota + 1
	KindCancel
	KindBestBid
	KindBestOffer
	KindBBBO
)

func (k Kind) String() string {
	switch k {
	case KindPlace:
		return "place"
	case KindCancel:
		return "cancel"
	case KindBestBid:
		return "bb"
	case KindBestOffer:
		return "bo"
	case KindBBBO:
		return "bbbo"
	default:
		return "unknown"
	}
}

// Command is one inbound client message.
type Command struct {
	Kind    Kind
	Order   *orderbook.Order  // KindPlace
	OrderID orderbook.OrderID // KindCancel
}

// ParseCommand dispatches on the leading tag.
func ParseCommand(msg string) (Command, error) {
	msg = strings.TrimRight(msg, "\r\n")
	tag, rest, _ := strings.Cut(msg, sep)

	switch tag {
	case TagOrder:
		o, err := DecodeOrder(msg)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindPlace, Order: o}, nil
	case TagCancel:
		id, err := strconv.ParseUint(rest, 10, 64)
		if err != nil || id == 0 {
			return Command{}, decodeErr("cancel: bad order id %q", rest)
		}
		return Command{Kind: KindCancel, OrderID: orderbook.OrderID(id)}, nil
	case TagBestBid, TagBestOffer, TagBBBO:
		if msg != tag {
			return Command{}, decodeErr("%s: unexpected arguments", tag)
		}
		return Command{Kind: map[string]Kind{
			TagBestBid:   KindBestBid,
			TagBestOffer: KindBestOffer,
			TagBBBO:      KindBBBO,
		}[tag]}, nil
	default:
		return Command{}, decodeErr("unknown message tag %q", tag)
	}
}

// ParseAck returns the order id of an ACK reply, or the reason of a NACK as an
// error.
func ParseAck(msg string) (orderbook.OrderID, error) {
	tag, rest, _ := strings.Cut(msg, sep)
	switch tag {
	case TagAck:
		id, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return 0, decodeErr("ack: bad order id %q", rest)
		}
		return orderbook.OrderID(id), nil
	case TagNack:
		return 0, &RejectedError{Reason: rest}
	default:
		return 0, decodeErr("unexpected reply %q", msg)
	}
}

// RejectedError is a NACK received from the engine.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "rejected: " + e.Reason }
