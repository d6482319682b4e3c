package explorer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, func()) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, "test-key"), srv.Close
}

func TestRouterTxList(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "account", q.Get("module"))
		assert.Equal(t, "txlist", q.Get("action"))
		assert.Equal(t, "0xrouter", q.Get("address"))
		assert.Equal(t, "100", q.Get("startblock"))
		assert.Equal(t, "test-key", q.Get("apikey"))
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[
			{"hash":"0x1","blockNumber":"101","to":"0xrouter",
			 "input":"0xF305D719aabbcc","isError":"0"},
			{"hash":"0x2","blockNumber":"102","to":"0xrouter",
			 "input":"0xe8e33700","isError":"1"}]}`)
	})
	defer done()

	txs, err := c.RouterTxList(context.Background(), "0xrouter", 100, 200)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "0xf305d719", txs[0].MethodID())
	assert.False(t, txs[0].Failed())
	assert.True(t, txs[1].Failed())
}

func TestRouterTxListEmptyWindow(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
	})
	defer done()

	txs, err := c.RouterTxList(context.Background(), "0xrouter", 100, 200)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestExplorerErrorSurfaces(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"Max rate limit reached","result":null}`)
	})
	defer done()

	_, err := c.RouterTxList(context.Background(), "0xrouter", 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Max rate limit reached")
}

func TestTokenTransferCountSaturates(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "tokentx", q.Get("action"))
		assert.Equal(t, "101", q.Get("offset"))
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[
			{"hash":"0x1"},{"hash":"0x2"},{"hash":"0x3"}]}`)
	})
	defer done()

	n, err := c.TokenTransferCount(context.Background(), "0xtok", 101)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestTokenInfo(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"1","message":"OK","result":[
			{"contractAddress":"0xtok","tokenName":"Shiny","symbol":"SHN","divisor":"18"}]}`)
	})
	defer done()

	info, err := c.TokenInfo(context.Background(), "0xtok")
	require.NoError(t, err)
	assert.Equal(t, "Shiny", info.TokenName)
	assert.Equal(t, "SHN", info.Symbol)
	assert.Equal(t, "18", info.Divisor)
}

func TestTxReceiptProxyEnvelope(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "proxy", q.Get("module"))
		assert.Equal(t, "eth_getTransactionReceipt", q.Get("action"))
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"status":"0x1","logs":[
			{"address":"0xpool","topics":["0xddf252ad"],"data":"0x00"}]}}`)
	})
	defer done()

	rcpt, err := c.TxReceipt(context.Background(), "0xhash")
	require.NoError(t, err)
	require.Len(t, rcpt.Logs, 1)
	assert.Equal(t, "0xpool", rcpt.Logs[0].Address)
}

func TestNativePriceUSD(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"1","message":"OK","result":{"ethbtc":"0.01","ethusd":"612.34"}}`)
	})
	defer done()

	price, err := c.NativePriceUSD(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(612.34)), "price = %s", price)
}
