package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-trading/meridian/internal/store"
)

func TestBroadcastHitsEveryChat(t *testing.T) {
	var mu sync.Mutex
	var got []sendMessageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		json.NewEncoder(w).Encode(sendMessageResponse{OK: true})
	}))
	defer srv.Close()

	tg := NewTelegram("test-token", []string{"111", "222"}, zerolog.Nop()).WithBaseURL(srv.URL)
	tg.Broadcast(context.Background(), "hello")

	require.Len(t, got, 2)
	assert.Equal(t, "111", got[0].ChatID)
	assert.Equal(t, "222", got[1].ChatID)
	assert.Equal(t, "hello", got[0].Text)
}

func TestBroadcastContinuesPastFailures(t *testing.T) {
	var mu sync.Mutex
	var chats []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		chats = append(chats, req.ChatID)
		mu.Unlock()
		if req.ChatID == "bad" {
			json.NewEncoder(w).Encode(sendMessageResponse{OK: false, Description: "chat not found"})
			return
		}
		json.NewEncoder(w).Encode(sendMessageResponse{OK: true})
	}))
	defer srv.Close()

	tg := NewTelegram("tok", []string{"bad", "good"}, zerolog.Nop()).WithBaseURL(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tg.Broadcast(ctx, "x")

	// The failing chat must not block the next one.
	assert.Equal(t, []string{"bad", "good"}, chats)
}

func TestSendTargetsSingleChat(t *testing.T) {
	var mu sync.Mutex
	var got []sendMessageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		json.NewEncoder(w).Encode(sendMessageResponse{OK: true})
	}))
	defer srv.Close()

	tg := NewTelegram("tok", []string{"111", "222"}, zerolog.Nop()).WithBaseURL(srv.URL)
	require.NoError(t, tg.Send(context.Background(), "333", "direct reply"))

	// Only the addressed chat hears a direct reply, not the roster.
	require.Len(t, got, 1)
	assert.Equal(t, "333", got[0].ChatID)
	assert.Equal(t, "direct reply", got[0].Text)
}

func TestPotentialTradeMessageChecklist(t *testing.T) {
	tok := &store.Token{
		Name: "Shiny", Symbol: "SHN", Address: "0xabc",
		PoolAddress: "0xpool", PairedSymbol: "WBNB",
		LiquidityUSD: decimal.NewFromInt(15000),
	}
	msg := PotentialTradeMessage(tok, []Check{
		{Name: "Not a honeypot", OK: true},
		{Name: "Buy tax", OK: false, Detail: "12%"},
	})

	assert.Contains(t, msg, "Shiny (SHN)")
	assert.Contains(t, msg, "$15000.00")
	assert.Contains(t, msg, "✅ Not a honeypot")
	assert.Contains(t, msg, "❌ Buy tax (12%)")
}

func TestSellMessagePnL(t *testing.T) {
	tok := &store.Token{Symbol: "SHN"}
	tr := &store.Trade{
		BuyAmount:     decimal.NewFromInt(30),
		ExitValue:     decimal.NewFromInt(90),
		ProfitLoss:    decimal.NewFromInt(60),
		ProfitLossPct: decimal.NewFromInt(200),
		SellReason:    store.SellProfitTarget,
		SellTxHash:    "0xsell",
	}
	msg := SellMessage(tok, tr)

	assert.Contains(t, msg, "PROFIT_TARGET")
	assert.Contains(t, msg, "60.0000")
	assert.Contains(t, msg, "200.00%")
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Broadcast(context.Background(), "a")
	r.Broadcast(context.Background(), "b")
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
}
