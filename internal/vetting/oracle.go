// Package vetting decides whether a freshly listed token is safe enough to
// trade. The decision is fail-closed: when the risk oracle cannot be
// reached, or returns no data for the token, the token is not accepted.
package vetting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Report is the normalized security profile of a token.
type Report struct {
	TokenName   string
	TokenSymbol string

	BuyTaxPct  decimal.Decimal
	SellTaxPct decimal.Decimal

	IsHoneypot          bool
	CannotBuy           bool
	CannotSellAll       bool
	IsOpenSource        bool
	IsProxy             bool
	IsMintable          bool
	HiddenOwner         bool
	CanTakeOwnership    bool
	OwnerChangeBalance  bool
	SelfDestruct        bool
	ExternalCall        bool
	TransferPausable    bool
	TradingCooldown     bool
	SlippageModifiable  bool
	PersonalSlippageMod bool
	IsBlacklisted       bool
	IsWhitelisted       bool
	IsAntiWhale         bool
	AntiWhaleModifiable bool
}

// Oracle fetches security reports.
type Oracle interface {
	TokenReport(ctx context.Context, address string) (*Report, error)
}

// GoPlusClient queries the GoPlus token_security endpoint.
type GoPlusClient struct {
	baseURL string
	chainID string
	client  *http.Client
}

var _ Oracle = (*GoPlusClient)(nil)

func NewGoPlusClient(baseURL, chainID string) *GoPlusClient {
	return &GoPlusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		chainID: chainID,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type goPlusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  map[string]struct {
		TokenName           string `json:"token_name"`
		TokenSymbol         string `json:"token_symbol"`
		BuyTax              string `json:"buy_tax"`
		SellTax             string `json:"sell_tax"`
		IsHoneypot          string `json:"is_honeypot"`
		CannotBuy           string `json:"cannot_buy"`
		CannotSellAll       string `json:"cannot_sell_all"`
		IsOpenSource        string `json:"is_open_source"`
		IsProxy             string `json:"is_proxy"`
		IsMintable          string `json:"is_mintable"`
		HiddenOwner         string `json:"hidden_owner"`
		CanTakeBackOwner    string `json:"can_take_back_ownership"`
		OwnerChangeBalance  string `json:"owner_change_balance"`
		SelfDestruct        string `json:"selfdestruct"`
		ExternalCall        string `json:"external_call"`
		TransferPausable    string `json:"transfer_pausable"`
		TradingCooldown     string `json:"trading_cooldown"`
		SlippageModifiable  string `json:"slippage_modifiable"`
		PersonalSlippageMod string `json:"personal_slippage_modifiable"`
		IsBlacklisted       string `json:"is_blacklisted"`
		IsWhitelisted       string `json:"is_whitelisted"`
		IsAntiWhale         string `json:"is_anti_whale"`
		AntiWhaleModifiable string `json:"anti_whale_modifiable"`
	} `json:"result"`
}

func flag(s string) bool { return s == "1" }

// taxPct parses a GoPlus tax fraction ("0.05") into a percentage.
func taxPct(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("tax not reported")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse tax %q: %w", s, err)
	}
	return decimal.NewFromFloat(f).Mul(decimal.NewFromInt(100)), nil
}

func (g *GoPlusClient) TokenReport(ctx context.Context, address string) (*Report, error) {
	url := fmt.Sprintf("%s/api/v1/token_security/%s?contract_addresses=%s",
		g.baseURL, g.chainID, strings.ToLower(address))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query risk oracle: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read oracle response: %w", err)
	}

	var parsed goPlusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse oracle response: %w", err)
	}
	if parsed.Code != 1 {
		return nil, fmt.Errorf("oracle error: %s", parsed.Message)
	}

	data, ok := parsed.Result[strings.ToLower(address)]
	if !ok {
		return nil, fmt.Errorf("oracle has no data for %s", address)
	}

	buyTax, err := taxPct(data.BuyTax)
	if err != nil {
		return nil, err
	}
	sellTax, err := taxPct(data.SellTax)
	if err != nil {
		return nil, err
	}

	return &Report{
		TokenName:           data.TokenName,
		TokenSymbol:         data.TokenSymbol,
		BuyTaxPct:           buyTax,
		SellTaxPct:          sellTax,
		IsHoneypot:          flag(data.IsHoneypot),
		CannotBuy:           flag(data.CannotBuy),
		CannotSellAll:       flag(data.CannotSellAll),
		IsOpenSource:        flag(data.IsOpenSource),
		IsProxy:             flag(data.IsProxy),
		IsMintable:          flag(data.IsMintable),
		HiddenOwner:         flag(data.HiddenOwner),
		CanTakeOwnership:    flag(data.CanTakeBackOwner),
		OwnerChangeBalance:  flag(data.OwnerChangeBalance),
		SelfDestruct:        flag(data.SelfDestruct),
		ExternalCall:        flag(data.ExternalCall),
		TransferPausable:    flag(data.TransferPausable),
		TradingCooldown:     flag(data.TradingCooldown),
		SlippageModifiable:  flag(data.SlippageModifiable),
		PersonalSlippageMod: flag(data.PersonalSlippageMod),
		IsBlacklisted:       flag(data.IsBlacklisted),
		IsWhitelisted:       flag(data.IsWhitelisted),
		IsAntiWhale:         flag(data.IsAntiWhale),
		AntiWhaleModifiable: flag(data.AntiWhaleModifiable),
	}, nil
}
