package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// pairCreatedTopic is keccak256("PairCreated(address,address,address,uint256)").
const pairCreatedTopic = "0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9"

// PairEvent is a factory pair-creation notification.
type PairEvent struct {
	Token0 string
	Token1 string
	Pair   string
	TxHash string
}

// PairWatch streams factory PairCreated events over a websocket
// subscription. It complements the polling scanner with low-latency
// discovery; the scanner remains the source of truth since a dropped socket
// loses events.
type PairWatch struct {
	wsURL   string
	factory string
	logger  zerolog.Logger
}

func NewPairWatch(wsURL, factory string, logger zerolog.Logger) *PairWatch {
	return &PairWatch{
		wsURL:   wsURL,
		factory: factory,
		logger:  logger.With().Str("component", "pairwatch").Logger(),
	}
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Address         string   `json:"address"`
			Topics          []string `json:"topics"`
			Data            string   `json:"data"`
			TransactionHash string   `json:"transactionHash"`
		} `json:"result"`
	} `json:"params"`
}

// Run connects, subscribes and forwards events until ctx is cancelled,
// reconnecting with a fixed backoff after any socket failure.
func (w *PairWatch) Run(ctx context.Context, out chan<- PairEvent) {
	for {
		if err := w.stream(ctx, out); err != nil && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("pair watch disconnected, retrying")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (w *PairWatch) stream(ctx context.Context, out chan<- PairEvent) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	sub := wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params: []any{"logs", map[string]any{
			"address": w.factory,
			"topics":  []string{pairCreatedTopic},
		}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var note wsNotification
		if err := json.Unmarshal(msg, &note); err != nil || note.Method != "eth_subscription" {
			continue
		}

		ev, ok := decodePairEvent(note)
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// topicAddress extracts the address from a 32-byte log topic.
func topicAddress(topic string) (string, bool) {
	t := strings.TrimPrefix(topic, "0x")
	if len(t) != 64 {
		return "", false
	}
	return "0x" + t[24:], true
}

func decodePairEvent(note wsNotification) (PairEvent, bool) {
	r := note.Params.Result
	if len(r.Topics) < 3 || !strings.EqualFold(r.Topics[0], pairCreatedTopic) {
		return PairEvent{}, false
	}
	token0, ok0 := topicAddress(r.Topics[1])
	token1, ok1 := topicAddress(r.Topics[2])
	if !ok0 || !ok1 {
		return PairEvent{}, false
	}

	// data is [pair address (32 bytes), pair index (32 bytes)]
	data := strings.TrimPrefix(r.Data, "0x")
	if len(data) < 64 {
		return PairEvent{}, false
	}
	pair := "0x" + data[24:64]

	return PairEvent{
		Token0: token0,
		Token1: token1,
		Pair:   pair,
		TxHash: r.TransactionHash,
	}, true
}
