// Package cex executes trades on a centralized exchange as the secondary
// execution backend. Orders are market orders quoted in the spend currency,
// normalized to the same result shape the on-chain gateway produces.
package cex

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/trading"
)

// Client talks to a Binance-compatible spot REST API.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string

	// QuoteAsset is the spend currency side of every traded symbol.
	quoteAsset string

	httpClient *http.Client
	now        func() time.Time
	logger     zerolog.Logger
}

var _ trading.Executor = (*Client)(nil)

func New(baseURL, apiKey, apiSecret, quoteAsset string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		quoteAsset: strings.ToUpper(quoteAsset),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
		logger:     logger.With().Str("component", "cex").Logger(),
	}
}

// symbolFor maps a token ticker to the venue symbol against the quote asset.
func (c *Client) symbolFor(tokenSymbol string) string {
	return strings.ToUpper(tokenSymbol) + c.quoteAsset
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

type orderFill struct {
	Price      string `json:"price"`
	Qty        string `json:"qty"`
	Commission string `json:"commission"`
}

type orderResponse struct {
	OrderID            int64       `json:"orderId"`
	Status             string      `json:"status"`
	ExecutedQty        string      `json:"executedQty"`
	CummulativeQuoteQty string     `json:"cummulativeQuoteQty"`
	Fills              []orderFill `json:"fills"`
	Code               int         `json:"code"`
	Msg                string      `json:"msg"`
}

func (c *Client) placeOrder(ctx context.Context, params url.Values) (*orderResponse, error) {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + c.sign(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v3/order?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read order response: %w", err)
	}

	var parsed orderResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse order response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Code != 0 && parsed.Msg != "" {
		if parsed.Code == -2010 {
			return nil, fmt.Errorf("%w: %s", trading.ErrInsufficientBalance, parsed.Msg)
		}
		return nil, fmt.Errorf("venue error %d: %s", parsed.Code, parsed.Msg)
	}
	return &parsed, nil
}

func (c *Client) toResult(ord *orderResponse) (*trading.ExecResult, error) {
	qty, err := decimal.NewFromString(ord.ExecutedQty)
	if err != nil {
		return nil, fmt.Errorf("parse executed qty %q: %w", ord.ExecutedQty, err)
	}
	quote, err := decimal.NewFromString(ord.CummulativeQuoteQty)
	if err != nil {
		return nil, fmt.Errorf("parse quote qty %q: %w", ord.CummulativeQuoteQty, err)
	}

	fee := decimal.Zero
	for _, f := range ord.Fills {
		commission, err := decimal.NewFromString(f.Commission)
		if err != nil {
			continue
		}
		fee = fee.Add(commission)
	}

	res := &trading.ExecResult{
		OrderID:  strconv.FormatInt(ord.OrderID, 10),
		Status:   trading.ExecFilled,
		Quantity: qty,
		Spent:    quote,
		Fee:      fee,
	}
	if ord.Status != "FILLED" {
		res.Status = trading.ExecFailed
	}
	if !qty.IsZero() {
		res.Price = quote.Div(qty)
	}
	return res, nil
}

// Buy places a market buy sized in the spend currency.
func (c *Client) Buy(ctx context.Context, ord trading.BuyOrder) (*trading.ExecResult, error) {
	params := url.Values{
		"symbol":        {c.symbolFor(ord.TokenSymbol)},
		"side":          {"BUY"},
		"type":          {"MARKET"},
		"quoteOrderQty": {ord.Amount.String()},
	}
	resp, err := c.placeOrder(ctx, params)
	if err != nil {
		return nil, err
	}
	return c.toResult(resp)
}

// Sell places a market sell for a base quantity.
func (c *Client) Sell(ctx context.Context, ord trading.SellOrder) (*trading.ExecResult, error) {
	params := url.Values{
		"symbol":   {c.symbolFor(ord.TokenSymbol)},
		"side":     {"SELL"},
		"type":     {"MARKET"},
		"quantity": {ord.Quantity.String()},
	}
	resp, err := c.placeOrder(ctx, params)
	if err != nil {
		return nil, err
	}
	return c.toResult(resp)
}

type balanceResponse struct {
	Balances []struct {
		Asset string `json:"asset"`
		Free  string `json:"free"`
	} `json:"balances"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// FreeBalance returns the available balance of an asset.
func (c *Client) FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	params := url.Values{
		"timestamp": {strconv.FormatInt(c.now().UnixMilli(), 10)},
	}
	query := params.Encode()
	query += "&signature=" + c.sign(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v3/account?"+query, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build account request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch account: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("read account response: %w", err)
	}

	var parsed balanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("parse account response: %w", err)
	}
	if parsed.Code != 0 && parsed.Msg != "" {
		return decimal.Zero, fmt.Errorf("venue error %d: %s", parsed.Code, parsed.Msg)
	}

	for _, b := range parsed.Balances {
		if strings.EqualFold(b.Asset, asset) {
			free, err := decimal.NewFromString(b.Free)
			if err != nil {
				return decimal.Zero, fmt.Errorf("parse balance %q: %w", b.Free, err)
			}
			return free, nil
		}
	}
	return decimal.Zero, nil
}
