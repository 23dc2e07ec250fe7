package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localtrader/domain/orderbook"
	"localtrader/infra/metrics"
	"localtrader/infra/sequence"
	"localtrader/service"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := service.NewOrderService(orderbook.NewOrderBook("ABC"), sequence.New(0), nil, nil, m, nil)
	return NewServer(svc, reg, nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSubmitAndGetOrder(t *testing.T) {
	s := newServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/orders", `{"side":"BUY","price":"99.5","size":10,"party":"alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[SubmitOrderResponse](t, rec)
	assert.EqualValues(t, 1, resp.OrderID)
	assert.Equal(t, "UNFILLED", resp.Status)
	assert.Empty(t, resp.Trades)

	rec = do(t, s, http.MethodGet, "/api/v1/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	o := decode[OrderResponse](t, rec)
	assert.Equal(t, "ABC", o.Instrument)
	assert.Equal(t, "BUY", o.Side)
	assert.Equal(t, "99.5000", o.Price)
	assert.Equal(t, "alice", o.Party)
	assert.EqualValues(t, 10, o.RemainingSize)
}

func TestSubmitCrossingOrderReturnsTrades(t *testing.T) {
	s := newServer(t)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/v1/orders",
		`{"side":"SELL","price":"100","size":4,"party":"maker"}`).Code)

	rec := do(t, s, http.MethodPost, "/api/v1/orders", `{"side":"BUY","price":101,"size":10,"party":"taker"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[SubmitOrderResponse](t, rec)
	assert.Equal(t, "PARTIALLY_FILLED", resp.Status)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "100.0000", resp.Trades[0].Price)
	assert.EqualValues(t, 4, resp.Trades[0].Size)
	assert.Equal(t, "BUY", resp.Trades[0].Aggressor)
	assert.Equal(t, "maker", resp.Trades[0].Maker)
	assert.Equal(t, "taker", resp.Trades[0].Taker)

	rec = do(t, s, http.MethodGet, "/api/v1/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TradeResponse](t, rec), 1)
}

func TestSubmitRejections(t *testing.T) {
	s := newServer(t)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad side", `{"side":"HOLD","price":"1","size":1}`, http.StatusBadRequest},
		{"zero size", `{"side":"BUY","price":"1","size":0}`, http.StatusBadRequest},
		{"negative price", `{"side":"BUY","price":"-1","size":1}`, http.StatusBadRequest},
		{"other instrument", `{"instrument":"XYZ","side":"BUY","price":"1","size":1}`, http.StatusBadRequest},
		{"separator in party", `{"side":"BUY","price":"1","size":1,"party":"a|b"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/v1/orders", tc.body)
			assert.Equal(t, tc.code, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestCancelOrder(t *testing.T) {
	s := newServer(t)
	do(t, s, http.MethodPost, "/api/v1/orders", `{"side":"SELL","price":"100","size":4,"party":"maker"}`)

	rec := do(t, s, http.MethodDelete, "/api/v1/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode[OrderResponse](t, rec).Status)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/v1/orders/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/api/v1/orders/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/orders/9", "").Code)
}

func TestBookDepth(t *testing.T) {
	s := newServer(t)
	for _, body := range []string{
		`{"side":"BUY","price":"99","size":1,"party":"a"}`,
		`{"side":"BUY","price":"99","size":2,"party":"b"}`,
		`{"side":"BUY","price":"98","size":5,"party":"c"}`,
		`{"side":"SELL","price":"101","size":3,"party":"d"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/v1/orders", body).Code)
	}

	rec := do(t, s, http.MethodGet, "/api/v1/book?depth=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	book := decode[BookResponse](t, rec)
	require.NotNil(t, book.BestBid)
	require.NotNil(t, book.BestOffer)
	assert.Equal(t, "99.0000", *book.BestBid)
	assert.Equal(t, "101.0000", *book.BestOffer)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, LevelResponse{Price: "99.0000", Size: 3, Orders: 2}, book.Bids[0])
	require.Len(t, book.Asks, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/book?depth=x", "").Code)
}

func TestEmptyBookHasNoBestPrices(t *testing.T) {
	s := newServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/book", "")
	require.Equal(t, http.StatusOK, rec.Code)
	book := decode[BookResponse](t, rec)
	assert.Nil(t, book.BestBid)
	assert.Nil(t, book.BestOffer)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)
	do(t, s, http.MethodPost, "/api/v1/orders", `{"side":"BUY","price":"1","size":1,"party":"a"}`)

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]interface{}](t, rec)["status"])

	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `localtrader_orders_received_total{side="BUY"} 1`)
}
