// Package explorer wraps a BscScan-compatible block explorer API. It is the
// scan path's view of history: router transactions, token transfer logs and
// token metadata.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoResult means the explorer answered but had nothing for the query.
var ErrNoResult = errors.New("explorer: no result")

// Tx is a normal transaction row from the txlist action.
type Tx struct {
	Hash        string `json:"hash"`
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	From        string `json:"from"`
	To          string `json:"to"`
	Input       string `json:"input"`
	IsError     string `json:"isError"`
	Value       string `json:"value"`
}

// Failed reports whether the transaction reverted.
func (t Tx) Failed() bool { return t.IsError == "1" }

// MethodID returns the 4-byte selector prefix of the calldata, 0x included.
func (t Tx) MethodID() string {
	if len(t.Input) < 10 {
		return ""
	}
	return strings.ToLower(t.Input[:10])
}

// TokenTransfer is a row from the tokentx action.
type TokenTransfer struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Value           string `json:"value"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}

// TokenInfo is the metadata row from the tokeninfo action.
type TokenInfo struct {
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	Symbol          string `json:"symbol"`
	Divisor         string `json:"divisor"`
	TotalSupply     string `json:"totalSupply"`
}

// ReceiptLog is one event log from a transaction receipt.
type ReceiptLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// Receipt is the proxy-module transaction receipt.
type Receipt struct {
	Status string       `json:"status"`
	Logs   []ReceiptLog `json:"logs"`
}

// Client talks to a BscScan-compatible API.
type Client struct {
	apiURL string
	apiKey string
	client *http.Client
}

func NewClient(apiURL, apiKey string) *Client {
	return &Client{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	params.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("query explorer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read explorer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("explorer status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parse explorer response: %w", err)
	}

	// The proxy module answers with a plain JSON-RPC envelope instead.
	if env.Status == "" && env.Result != nil {
		return json.Unmarshal(env.Result, out)
	}

	if env.Status != "1" {
		// "No transactions found" comes back as status 0, distinguish it
		// from a real failure.
		if strings.HasPrefix(env.Message, "No ") {
			return ErrNoResult
		}
		return fmt.Errorf("explorer error: %s", env.Message)
	}
	return json.Unmarshal(env.Result, out)
}

// RouterTxList returns the router's normal transactions for a block window,
// most recent last.
func (c *Client) RouterTxList(ctx context.Context, router string, startBlock, endBlock int64) ([]Tx, error) {
	params := url.Values{
		"module":     {"account"},
		"action":     {"txlist"},
		"address":    {router},
		"startblock": {strconv.FormatInt(startBlock, 10)},
		"endblock":   {strconv.FormatInt(endBlock, 10)},
		"sort":       {"asc"},
	}
	var txs []Tx
	if err := c.get(ctx, params, &txs); err != nil {
		if errors.Is(err, ErrNoResult) {
			return nil, nil
		}
		return nil, err
	}
	return txs, nil
}

// TokenTransfers returns ERC-20 transfer rows for a token contract.
func (c *Client) TokenTransfers(ctx context.Context, token string, page, pageSize int) ([]TokenTransfer, error) {
	params := url.Values{
		"module":          {"account"},
		"action":          {"tokentx"},
		"contractaddress": {token},
		"page":            {strconv.Itoa(page)},
		"offset":          {strconv.Itoa(pageSize)},
		"sort":            {"asc"},
	}
	var rows []TokenTransfer
	if err := c.get(ctx, params, &rows); err != nil {
		if errors.Is(err, ErrNoResult) {
			return nil, nil
		}
		return nil, err
	}
	return rows, nil
}

// TokenTransferCount counts transfer rows up to max. The count saturates: a
// return of max means "max or more".
func (c *Client) TokenTransferCount(ctx context.Context, token string, max int) (int, error) {
	rows, err := c.TokenTransfers(ctx, token, 1, max)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// TokenInfo returns explorer metadata for a token contract.
func (c *Client) TokenInfo(ctx context.Context, token string) (*TokenInfo, error) {
	params := url.Values{
		"module":          {"token"},
		"action":          {"tokeninfo"},
		"contractaddress": {token},
	}
	var rows []TokenInfo
	if err := c.get(ctx, params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoResult
	}
	return &rows[0], nil
}

// TxReceipt fetches a transaction receipt through the proxy module.
func (c *Client) TxReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	params := url.Values{
		"module": {"proxy"},
		"action": {"eth_getTransactionReceipt"},
		"txhash": {txHash},
	}
	var rcpt Receipt
	if err := c.get(ctx, params, &rcpt); err != nil {
		return nil, err
	}
	if len(rcpt.Logs) == 0 && rcpt.Status == "" {
		return nil, ErrNoResult
	}
	return &rcpt, nil
}

// NativePriceUSD returns the explorer's USD quote for the chain's native
// coin.
func (c *Client) NativePriceUSD(ctx context.Context) (decimal.Decimal, error) {
	params := url.Values{
		"module": {"stats"},
		"action": {"bnbprice"},
	}
	var quote struct {
		EthUSD string `json:"ethusd"`
	}
	if err := c.get(ctx, params, &quote); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(quote.EthUSD)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse native price %q: %w", quote.EthUSD, err)
	}
	return price, nil
}
