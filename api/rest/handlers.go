// Package rest exposes the engine over JSON/HTTP.
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"localtrader/domain/orderbook"
	"localtrader/domain/wire"
	"localtrader/service"
)

const (
	defaultDepth  = 10
	defaultTrades = 100
)

// Server holds the router and the service it fronts
type Server struct {
	svc       *service.OrderService
	router    *mux.Router
	startTime time.Time
	log       *log.Entry
}

// NewServer builds the router. A nil gatherer leaves /metrics unregistered.
func NewServer(svc *service.OrderService, gatherer prometheus.Gatherer, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	s := &Server{
		svc:       svc,
		router:    mux.NewRouter(),
		startTime: time.Now(),
		log:       logger.WithField("component", "http"),
	}
	s.registerRoutes(gatherer)
	return s
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.logRequests)

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{order_id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{order_id}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/book", s.handleGetBook).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handleGetTrades).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Handle mounts another handler, such as the websocket gateway, on the router.
func (s *Server) Handle(path string, h http.Handler) {
	s.router.Handle(path, h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(log.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"elapsed": time.Since(start),
		}).Debug("request")
	})
}

// ---- payloads ----

// SubmitOrderRequest is the body of POST /api/v1/orders. Instrument defaults to
// the book's.
type SubmitOrderRequest struct {
	Instrument string          `json:"instrument,omitempty"`
	Side       string          `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Size       int64           `json:"size"`
	Party      string          `json:"party"`
}

type OrderResponse struct {
	OrderID       orderbook.OrderID `json:"order_id"`
	Instrument    string            `json:"instrument"`
	Side          string            `json:"side"`
	Price         string            `json:"price"`
	Party         string            `json:"party"`
	OriginalSize  int64             `json:"original_size"`
	RemainingSize int64             `json:"remaining_size"`
	Status        string            `json:"status"`
	SubmittedAt   time.Time         `json:"submitted_at"`
}

type SubmitOrderResponse struct {
	OrderID orderbook.OrderID `json:"order_id"`
	Status  string            `json:"status"`
	Trades  []TradeResponse   `json:"trades"`
}

type TradeResponse struct {
	Seq          uint64            `json:"seq"`
	Price        string            `json:"price"`
	Size         int64             `json:"size"`
	Aggressor    string            `json:"aggressor"`
	Maker        string            `json:"maker"`
	Taker        string            `json:"taker"`
	MakerOrderID orderbook.OrderID `json:"maker_order_id"`
	TakerOrderID orderbook.OrderID `json:"taker_order_id"`
	ExecutedAt   time.Time         `json:"executed_at"`
}

type LevelResponse struct {
	Price  string `json:"price"`
	Size   int64  `json:"size"`
	Orders int    `json:"orders"`
}

type BookResponse struct {
	Instrument string          `json:"instrument"`
	BestBid    *string         `json:"best_bid"`
	BestOffer  *string         `json:"best_offer"`
	Bids       []LevelResponse `json:"bids"`
	Asks       []LevelResponse `json:"asks"`
}

func toOrderResponse(st orderbook.OrderState) OrderResponse {
	return OrderResponse{
		OrderID:       st.ID,
		Instrument:    st.Instrument,
		Side:          st.Side.String(),
		Price:         wire.FormatPrice(st.Price),
		Party:         st.Party,
		OriginalSize:  st.OriginalSize,
		RemainingSize: st.RemainingSize,
		Status:        st.Status.String(),
		SubmittedAt:   st.SubmittedAt,
	}
}

func toTradeResponse(t *orderbook.Trade) TradeResponse {
	return TradeResponse{
		Seq:          t.Seq(),
		Price:        wire.FormatPrice(t.Price()),
		Size:         t.Size(),
		Aggressor:    t.AggressorSide().String(),
		Maker:        t.Maker().Name(),
		Taker:        t.Taker().Name(),
		MakerOrderID: t.MakerOrderID(),
		TakerOrderID: t.TakerOrderID(),
		ExecutedAt:   t.ExecutedAt(),
	}
}

func toLevels(levels []orderbook.Level) []LevelResponse {
	out := make([]LevelResponse, 0, len(levels))
	for _, l := range levels {
		out = append(out, LevelResponse{Price: wire.FormatPrice(l.Price), Size: l.TotalQty, Orders: l.OrderCount})
	}
	return out
}

// ---- handlers ----

// handleSubmitOrder handles POST /api/v1/orders
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.svc.RecordDecodeFailure(errors.Mark(err, wire.ErrDecode))
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Instrument == "" {
		req.Instrument = s.svc.Instrument()
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		s.svc.RecordDecodeFailure(errors.Mark(err, wire.ErrDecode))
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := orderbook.NewOrder(req.Instrument, req.Price, req.Size, side, orderbook.NewParty(req.Party))
	if err != nil {
		s.svc.RecordDecodeFailure(err)
		respondError(w, statusFor(err), err.Error())
		return
	}

	id, trades, err := s.svc.PlaceOrder(o)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	resp := SubmitOrderResponse{OrderID: id, Status: orderbook.Filled.String(), Trades: make([]TradeResponse, 0, len(trades))}
	if st, ok := s.svc.Lookup(id); ok {
		resp.Status = st.Status.String()
	}
	for _, t := range trades {
		resp.Trades = append(resp.Trades, toTradeResponse(t))
	}
	respondJSON(w, http.StatusCreated, resp)
}

// handleGetOrder handles GET /api/v1/orders/{order_id}
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	st, found := s.svc.Lookup(id)
	if !found {
		respondError(w, http.StatusNotFound, "order not resting")
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(st))
}

// handleCancelOrder handles DELETE /api/v1/orders/{order_id}
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := s.svc.CancelOrder(id); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": id,
		"status":   orderbook.Cancelled.String(),
	})
}

// handleGetBook handles GET /api/v1/book?depth=N
func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	depth := defaultDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "depth must be a positive integer")
			return
		}
		depth = d
	}

	q := s.svc.Quote()
	resp := BookResponse{
		Instrument: s.svc.Instrument(),
		Bids:       toLevels(s.svc.Depth(orderbook.Buy, depth)),
		Asks:       toLevels(s.svc.Depth(orderbook.Sell, depth)),
	}
	if q.HasBid {
		p := wire.FormatPrice(q.Bid)
		resp.BestBid = &p
	}
	if q.HasOffer {
		p := wire.FormatPrice(q.Offer)
		resp.BestOffer = &p
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetTrades handles GET /api/v1/trades?limit=N, newest last
func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTrades
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	trades := s.svc.Trades()
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	out := make([]TradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"instrument":     s.svc.Instrument(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// Helper functions

func orderID(w http.ResponseWriter, r *http.Request) (orderbook.OrderID, bool) {
	raw := mux.Vars(r)["order_id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		respondError(w, http.StatusBadRequest, "order_id must be a positive integer")
		return 0, false
	}
	return orderbook.OrderID(id), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orderbook.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, orderbook.ErrAlreadySubmitted), errors.Is(err, orderbook.ErrOrderNotLive):
		return http.StatusConflict
	case errors.Is(err, service.ErrJournal):
		return http.StatusServiceUnavailable
	case errors.Is(err, orderbook.ErrInvalidOrder), errors.Is(err, orderbook.ErrInstrumentMismatch), errors.Is(err, wire.ErrDecode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
