package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The Exchange service carries the text protocol inside protobuf well-known
// types, so no generated code is needed:
//
//	Submit(StringValue "o|...")      -> StringValue "ACK|<id>"
//	Cancel(UInt64Value id)           -> Empty
//	Quote(Empty)                     -> StringValue "bbbo|..."
//	StreamTrades(Empty)              -> stream StringValue "t|..."
const serviceName = "localtrader.Exchange"

const (
	methodSubmit       = "/" + serviceName + "/Submit"
	methodCancel       = "/" + serviceName + "/Cancel"
	methodQuote        = "/" + serviceName + "/Quote"
	methodStreamTrades = "/" + serviceName + "/StreamTrades"
)

type ExchangeServer interface {
	Submit(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Cancel(context.Context, *wrapperspb.UInt64Value) (*emptypb.Empty, error)
	Quote(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	StreamTrades(*emptypb.Empty, grpc.ServerStream) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler: unary(methodSubmit, func(s ExchangeServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
				return s.Submit(ctx, in)
			}),
		},
		{
			MethodName: "Cancel",
			Handler: unary(methodCancel, func(s ExchangeServer, ctx context.Context, in *wrapperspb.UInt64Value) (any, error) {
				return s.Cancel(ctx, in)
			}),
		},
		{
			MethodName: "Quote",
			Handler: unary(methodQuote, func(s ExchangeServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.Quote(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamTrades",
			Handler:       streamTradesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "localtrader/exchange",
}

func RegisterExchangeServer(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds a method handler for a request type T.
func unary[T any, PT interface{ *T }](
	fullMethod string,
	call func(ExchangeServer, context.Context, PT) (any, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PT(new(T))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ExchangeServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ExchangeServer), ctx, req.(PT))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamTradesHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ExchangeServer).StreamTrades(in, stream)
}
