package grpcserver

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"localtrader/domain/orderbook"
	"localtrader/domain/wire"
)

// Client is a typed caller for the Exchange service.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Submit sends an order and returns the handle the engine assigned.
func (c *Client) Submit(ctx context.Context, o *orderbook.Order) (orderbook.OrderID, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, methodSubmit, wrapperspb.String(wire.EncodeOrder(o)), out); err != nil {
		return 0, err
	}
	return wire.ParseAck(out.GetValue())
}

func (c *Client) Cancel(ctx context.Context, id orderbook.OrderID) error {
	return c.conn.Invoke(ctx, methodCancel, wrapperspb.UInt64(uint64(id)), new(emptypb.Empty))
}

func (c *Client) Quote(ctx context.Context) (wire.Quote, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, methodQuote, new(emptypb.Empty), out); err != nil {
		return wire.Quote{}, err
	}
	return wire.DecodeBBBO(out.GetValue())
}

// StreamTrades calls fn for each trade until the stream ends or fn fails.
func (c *Client) StreamTrades(ctx context.Context, fn func(*orderbook.Trade) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], methodStreamTrades)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(new(emptypb.Empty)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(wrapperspb.StringValue)
		if err := stream.RecvMsg(msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		t, err := wire.DecodeTrade(msg.GetValue())
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
}
