package grpcserver

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"localtrader/domain/orderbook"
	"localtrader/domain/wire"
	"localtrader/service"
)

// Server adapts OrderService to gRPC.
type Server struct {
	svc *service.OrderService
	log *log.Entry
}

func NewServer(svc *service.OrderService, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Server{svc: svc, log: logger.WithField("component", "grpc")}
}

// New builds a grpc.Server with the Exchange service and call logging.
func New(svc *service.OrderService, logger *log.Entry, opts ...grpc.ServerOption) *grpc.Server {
	srv := NewServer(svc, logger)
	opts = append(opts, grpc.ChainUnaryInterceptor(srv.logCalls))
	g := grpc.NewServer(opts...)
	RegisterExchangeServer(g, srv)
	return g
}

// -------------------- Commands --------------------

func (s *Server) Submit(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	o, err := wire.DecodeOrder(req.GetValue())
	if err != nil {
		s.svc.RecordDecodeFailure(err)
		return nil, toStatus(err)
	}
	id, _, err := s.svc.PlaceOrder(o)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(wire.Ack(id)), nil
}

func (s *Server) Cancel(ctx context.Context, req *wrapperspb.UInt64Value) (*emptypb.Empty, error) {
	if err := s.svc.CancelOrder(orderbook.OrderID(req.GetValue())); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// -------------------- Queries --------------------

func (s *Server) Quote(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(wire.EncodeBBBO(s.svc.Quote())), nil
}

// StreamTrades sends every trade executed after the call starts until the
// client goes away.
func (s *Server) StreamTrades(_ *emptypb.Empty, stream grpc.ServerStream) error {
	sub := s.svc.SubscribeTrades()
	defer s.svc.UnsubscribeTrades(sub)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := stream.SendMsg(wrapperspb.String(wire.EncodeTrade(t))); err != nil {
				return err
			}
		}
	}
}

// -------------------- Helpers --------------------

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	entry := s.log.WithFields(log.Fields{
		"method":   info.FullMethod,
		"code":     status.Code(err).String(),
		"duration": time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Info("call failed")
	} else {
		entry.Debug("call")
	}
	return resp, err
}

func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, wire.ErrDecode),
		errors.Is(err, orderbook.ErrInvalidOrder),
		errors.Is(err, orderbook.ErrInstrumentMismatch):
		code = codes.InvalidArgument
	case errors.Is(err, orderbook.ErrAlreadySubmitted),
		errors.Is(err, orderbook.ErrOrderNotLive):
		code = codes.FailedPrecondition
	case errors.Is(err, orderbook.ErrUnknownOrder):
		code = codes.NotFound
	case errors.Is(err, service.ErrJournal):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
