package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podmesh/config"
	"podmesh/exchange/okx"
	"podmesh/schema"
)

func newTestOKXBroker(t *testing.T, mux *http.ServeMux) *OKXBroker {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := okx.NewClient("k", "s", "p", okx.Options{BaseURL: srv.URL, Timeout: time.Second, Simulated: true})
	r := NewRetrier(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, nil)
	r.sleep = func(context.Context, time.Duration) error { return nil }

	pods := []config.PodConfig{
		{ID: "core", Instruments: []string{"BTC-USDT-SWAP"}},
		{ID: "spec", Instruments: []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}},
	}
	return NewOKXBroker(client, r, "cross", PodResolverFromConfig(pods))
}

func TestOKXBrokerPlaceOrderMapsState(t *testing.T) {
	mux := http.NewServeMux()
	var placed map[string]interface{}
	mux.HandleFunc("/api/v5/trade/order", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, &placed)
			io.WriteString(w, `{"code":"0","data":[{"ordId":"9","clOrdId":"CORE-1","sCode":"0"}]}`)
			return
		}
		assert.Equal(t, "CORE-1", r.URL.Query().Get("clOrdId"))
		io.WriteString(w, `{"code":"0","data":[{"ordId":"9","clOrdId":"CORE-1","tag":"core","instId":"BTC-USDT-SWAP","side":"buy","sz":"0.5","px":"","accFillSz":"0.5","avgPx":"60000.5","state":"filled","uTime":"1700000000000"}]}`)
	})
	b := newTestOKXBroker(t, mux)

	o, err := b.PlaceOrder(context.Background(), OrderRequest{
		ClientOrderID: "CORE-1", PodID: "core", Symbol: "BTC-USDT-SWAP", Side: schema.SideBuy, Quantity: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "0.5", placed["sz"])
	assert.Equal(t, "market", placed["ordType"])
	assert.Equal(t, "core", placed["tag"])
	assert.Equal(t, "cross", placed["tdMode"])

	assert.Equal(t, OrderStatusFilled, o.Status)
	assert.Equal(t, "core", o.PodID)
	assert.Equal(t, schema.SideBuy, o.Side)
	assert.Equal(t, 0.5, o.FilledQuantity)
	assert.Equal(t, 60000.5, o.AveragePrice)
	assert.Equal(t, int64(1700000000000), o.Timestamp.UnixMilli())
}

func TestOKXBrokerRejectionIsClassified(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/trade/order", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"1","msg":"All operations failed","data":[{"clOrdId":"X","sCode":"51008","sMsg":"Insufficient balance"}]}`)
	})
	b := newTestOKXBroker(t, mux)

	_, err := b.PlaceOrder(context.Background(), OrderRequest{ClientOrderID: "X", Symbol: "BTC-USDT-SWAP", Side: schema.SideBuy, Quantity: 1})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CategoryInsufficientBalance, apiErr.Category)
	assert.Equal(t, "51008", apiErr.Code)
}

func TestOKXBrokerRetriesServerErrors(t *testing.T) {
	mux := http.NewServeMux()
	var calls atomic.Int32
	mux.HandleFunc("/api/v5/trade/orders-pending", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"code":"50001","msg":"Service temporarily unavailable"}`)
			return
		}
		io.WriteString(w, `{"code":"0","data":[{"clOrdId":"A","tag":"spec","instId":"ETH-USDT-SWAP","side":"sell","sz":"2","px":"3000","accFillSz":"0","state":"live"}]}`)
	})
	b := newTestOKXBroker(t, mux)

	orders, err := b.FetchOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, orders, 1)
	assert.Equal(t, OrderStatusNew, orders[0].Status)
	assert.Equal(t, "spec", orders[0].PodID)
	assert.Equal(t, schema.SideSell, orders[0].Side)
}

func TestOKXBrokerPositionsAttributedByInstrument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/account/positions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"0","data":[
			{"instId":"BTC-USDT-SWAP","pos":"1","avgPx":"60000","posSide":"net"},
			{"instId":"ETH-USDT-SWAP","pos":"3","avgPx":"3000","posSide":"short"},
			{"instId":"SOL-USDT-SWAP","pos":"0","avgPx":"","posSide":"net"},
			{"instId":"DOGE-USDT-SWAP","pos":"-10","avgPx":"0.1","posSide":"net"}
		]}`)
	})
	b := newTestOKXBroker(t, mux)

	positions, err := b.FetchPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 3)
	assert.Equal(t, Position{PodID: "", Symbol: "BTC-USDT-SWAP", Quantity: 1, AveragePrice: 60000}, positions[0], "core 与 spec 共用的合约不归属")
	assert.Equal(t, Position{PodID: "spec", Symbol: "ETH-USDT-SWAP", Quantity: -3, AveragePrice: 3000}, positions[1])
	assert.Equal(t, "", positions[2].PodID, "无归属的合约 podId 为空")
}

func TestPodResolverRequiresSingleOwner(t *testing.T) {
	resolve := PodResolverFromConfig([]config.PodConfig{
		{ID: "core", Instruments: []string{"BTC-USDT-SWAP"}},
		{ID: "spec", Instruments: []string{"btc-usdt-swap", "ETH-USDT-SWAP"}},
	})

	assert.Equal(t, "", resolve("BTC-USDT-SWAP"))
	assert.Equal(t, "spec", resolve("ETH-USDT-SWAP"))
	assert.Equal(t, "", resolve("SOL-USDT-SWAP"))

	cfg := &config.Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "", PodResolverFromConfig(cfg.Pods)(cfg.App.Symbol), "默认配置下所有 pod 共用 app.symbol")
}

func TestOKXBrokerBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/account/balance", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"0","data":[{"totalEq":"1500.5","details":[{"ccy":"BTC","availBal":"0.1"},{"ccy":"USDT","availBal":"1200.25"}]}]}`)
	})
	b := newTestOKXBroker(t, mux)

	bal, err := b.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Balance{Total: 1500.5, Available: 1200.25}, bal)
}

func TestOKXBrokerCancelMissingOrderReturnsNil(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/trade/orders-pending", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"0","data":[{"clOrdId":"A","instId":"BTC-USDT-SWAP","side":"buy","sz":"1","state":"live"}]}`)
	})
	mux.HandleFunc("/api/v5/trade/cancel-order", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"0","data":[{"clOrdId":"A","sCode":"0"}]}`)
	})
	b := newTestOKXBroker(t, mux)

	o, err := b.CancelOrder(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, o)

	o, err = b.CancelOrder(context.Background(), "A")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, OrderStatusCanceled, o.Status)
}
