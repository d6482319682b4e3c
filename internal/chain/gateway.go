// Package chain is the on-chain execution gateway: contract reads, swap
// submission and receipt tracking over a failover ring of RPC endpoints.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/amm"
	"github.com/meridian-trading/meridian/internal/trading"
)

// ErrNoPair means the factory has no pool for the requested token pair.
var ErrNoPair = errors.New("chain: no pair for token")

var zeroAddress = common.Address{}

const swapDeadline = 5 * time.Minute

// ---------------------------------------------------------------------------
// Gateway
// ---------------------------------------------------------------------------

// Config wires a Gateway.
type Config struct {
	Endpoints     []string
	ChainID       int64
	Router        string
	Factory       string
	SpendToken    string
	SpendDecimals int32
	PrivateKey    string // hex, 0x prefix optional
	GasLimit      uint64
	ReceiptPoll   time.Duration
	Dial          Dialer // defaults to DialEthclient
}

// Gateway executes swaps and reads pool state. It implements the trading
// Executor and Quoter backends.
type Gateway struct {
	ring *Endpoints
	dial Dialer

	nodesMu sync.Mutex
	nodes   map[string]Node

	chainID       *big.Int
	signer        types.Signer
	router        common.Address
	factory       common.Address
	spendToken    common.Address
	spendDecimals int32
	gasLimit      uint64
	receiptPoll   time.Duration

	key    *ecdsa.PrivateKey
	sender common.Address

	// Serializes nonce acquisition and submission for the wallet. This is
	// the only mutual exclusion between concurrent sells.
	walletMu sync.Mutex

	logger zerolog.Logger
}

var (
	_ trading.Executor = (*Gateway)(nil)
	_ trading.Quoter   = (*Gateway)(nil)
)

func NewGateway(cfg Config, logger zerolog.Logger) (*Gateway, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("chain: no endpoints configured")
	}
	if cfg.Dial == nil {
		cfg.Dial = DialEthclient
	}
	if cfg.ReceiptPoll == 0 {
		cfg.ReceiptPoll = 3 * time.Second
	}

	g := &Gateway{
		ring:          NewEndpoints(cfg.Endpoints),
		dial:          cfg.Dial,
		nodes:         make(map[string]Node),
		chainID:       big.NewInt(cfg.ChainID),
		router:        common.HexToAddress(cfg.Router),
		factory:       common.HexToAddress(cfg.Factory),
		spendToken:    common.HexToAddress(cfg.SpendToken),
		spendDecimals: cfg.SpendDecimals,
		gasLimit:      cfg.GasLimit,
		receiptPoll:   cfg.ReceiptPoll,
		logger:        logger.With().Str("component", "chain").Logger(),
	}
	g.signer = types.LatestSignerForChainID(g.chainID)

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		g.key = key
		g.sender = crypto.PubkeyToAddress(key.PublicKey)
	}
	return g, nil
}

// Sender returns the wallet address derived from the signing key.
func (g *Gateway) Sender() string { return g.sender.Hex() }

func (g *Gateway) node(ctx context.Context, url string) (Node, error) {
	g.nodesMu.Lock()
	defer g.nodesMu.Unlock()
	if n, ok := g.nodes[url]; ok {
		return n, nil
	}
	n, err := g.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	g.nodes[url] = n
	return n, nil
}

// withNode runs fn against the current endpoint, rotating through the ring
// on failure. One full lap without success is a hard failure.
func (g *Gateway) withNode(ctx context.Context, fn func(Node) error) error {
	var lastErr error
	for attempt := 0; attempt < g.ring.Len(); attempt++ {
		url := g.ring.Current()
		node, err := g.node(ctx, url)
		if err == nil {
			err = fn(node)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		next := g.ring.Advance()
		g.logger.Warn().Err(err).Str("endpoint", url).Str("next", next).
			Msg("endpoint failed, rotating")
	}
	return fmt.Errorf("%w: %v", ErrEndpointsExhausted, lastErr)
}

// ---------------------------------------------------------------------------
// Contract reads
// ---------------------------------------------------------------------------

func (g *Gateway) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := g.withNode(ctx, func(n Node) error {
		res, err := n.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// TokenMetadata reads name, symbol and decimals from a token contract.
func (g *Gateway) TokenMetadata(ctx context.Context, token string) (name, symbol string, decimals int32, err error) {
	addr := common.HexToAddress(token)

	read := func(method string, out any) error {
		data, err := erc20ABI.Pack(method)
		if err != nil {
			return err
		}
		raw, err := g.call(ctx, addr, data)
		if err != nil {
			return err
		}
		return erc20ABI.UnpackIntoInterface(out, method, raw)
	}

	if err = read("name", &name); err != nil {
		return "", "", 0, fmt.Errorf("read name: %w", err)
	}
	if err = read("symbol", &symbol); err != nil {
		return "", "", 0, fmt.Errorf("read symbol: %w", err)
	}
	var dec uint8
	if err = read("decimals", &dec); err != nil {
		return "", "", 0, fmt.Errorf("read decimals: %w", err)
	}
	return name, symbol, int32(dec), nil
}

// PairFor asks the factory for the pool of (tokenA, tokenB). A zero address
// answer maps to ErrNoPair.
func (g *Gateway) PairFor(ctx context.Context, tokenA, tokenB string) (string, error) {
	data, err := factoryABI.Pack("getPair", common.HexToAddress(tokenA), common.HexToAddress(tokenB))
	if err != nil {
		return "", err
	}
	raw, err := g.call(ctx, g.factory, data)
	if err != nil {
		return "", err
	}
	var pair common.Address
	if err := factoryABI.UnpackIntoInterface(&pair, "getPair", raw); err != nil {
		return "", fmt.Errorf("unpack getPair: %w", err)
	}
	if pair == zeroAddress {
		return "", ErrNoPair
	}
	return pair.Hex(), nil
}

// Reserves is a pool state snapshot, ordered as the pool orders its tokens.
type Reserves struct {
	Token0   string
	Token1   string
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Oriented returns the reserves as (in, out) for a swap from tokenIn.
func (r *Reserves) Oriented(tokenIn string) (reserveIn, reserveOut *big.Int, err error) {
	switch {
	case strings.EqualFold(r.Token0, tokenIn):
		return r.Reserve0, r.Reserve1, nil
	case strings.EqualFold(r.Token1, tokenIn):
		return r.Reserve1, r.Reserve0, nil
	default:
		return nil, nil, fmt.Errorf("chain: token %s not in pool", tokenIn)
	}
}

// PoolReserves reads token0, token1 and the current reserves of a pool.
func (g *Gateway) PoolReserves(ctx context.Context, pool string) (*Reserves, error) {
	addr := common.HexToAddress(pool)

	readAddr := func(method string) (common.Address, error) {
		data, err := pairABI.Pack(method)
		if err != nil {
			return zeroAddress, err
		}
		raw, err := g.call(ctx, addr, data)
		if err != nil {
			return zeroAddress, err
		}
		var out common.Address
		err = pairABI.UnpackIntoInterface(&out, method, raw)
		return out, err
	}

	token0, err := readAddr("token0")
	if err != nil {
		return nil, fmt.Errorf("read token0: %w", err)
	}
	token1, err := readAddr("token1")
	if err != nil {
		return nil, fmt.Errorf("read token1: %w", err)
	}

	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, err
	}
	raw, err := g.call(ctx, addr, data)
	if err != nil {
		return nil, fmt.Errorf("read reserves: %w", err)
	}
	vals, err := pairABI.Unpack("getReserves", raw)
	if err != nil || len(vals) < 2 {
		return nil, fmt.Errorf("unpack reserves: %w", err)
	}
	r0, ok0 := vals[0].(*big.Int)
	r1, ok1 := vals[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, fmt.Errorf("unpack reserves: unexpected types")
	}

	return &Reserves{
		Token0:   token0.Hex(),
		Token1:   token1.Hex(),
		Reserve0: r0,
		Reserve1: r1,
	}, nil
}

// LatestBlock returns the current head block number.
func (g *Gateway) LatestBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := g.withNode(ctx, func(n Node) error {
		h, err := n.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = h
		return nil
	})
	return head, err
}

// BalanceOf reads the raw token balance of an owner.
func (g *Gateway) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	raw, err := g.call(ctx, common.HexToAddress(token), data)
	if err != nil {
		return nil, err
	}
	out := new(big.Int)
	if err := erc20ABI.UnpackIntoInterface(&out, "balanceOf", raw); err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	return out, nil
}

// NativeBalance reads the native coin balance of an owner at the head block.
func (g *Gateway) NativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	var bal *big.Int
	err := g.withNode(ctx, func(n Node) error {
		b, err := n.BalanceAt(ctx, common.HexToAddress(owner), nil)
		if err != nil {
			return err
		}
		bal = b
		return nil
	})
	return bal, err
}

// ---------------------------------------------------------------------------
// Quoting
// ---------------------------------------------------------------------------

// quoteSwap computes the constant-product output of selling amountIn of
// tokenIn for tokenOut at current reserves.
func (g *Gateway) quoteSwap(ctx context.Context, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	pool, err := g.PairFor(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	reserves, err := g.PoolReserves(ctx, pool)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, err := reserves.Oriented(tokenIn)
	if err != nil {
		return nil, err
	}
	return amm.SwapOutput(reserveIn, reserveOut, amountIn)
}

// QuoteSell values quantity of token in the spend currency at current
// reserves, net of the swap fee.
func (g *Gateway) QuoteSell(ctx context.Context, token string, quantity decimal.Decimal) (decimal.Decimal, error) {
	_, _, tokenDecimals, err := g.TokenMetadata(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := g.quoteSwap(ctx, token, g.spendToken.Hex(), amm.ToRaw(quantity, tokenDecimals))
	if err != nil {
		return decimal.Zero, err
	}
	return amm.Adjust(out, g.spendDecimals), nil
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func (g *Gateway) signAndSend(ctx context.Context, nonce uint64, to common.Address, value, gasPrice *big.Int, data []byte) (common.Hash, error) {
	tx, err := types.SignNewTx(g.key, g.signer, &types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      g.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	err = g.withNode(ctx, func(n Node) error {
		return n.SendTransaction(ctx, tx)
	})
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// WaitReceipt polls until the transaction is mined. There is no internal
// timeout: cancellation comes from ctx. A pending transaction answers
// ethereum.NotFound, which is not an endpoint fault and must not rotate
// the ring.
func (g *Gateway) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(g.receiptPoll)
	defer ticker.Stop()

	for {
		var rcpt *types.Receipt
		err := g.withNode(ctx, func(n Node) error {
			r, err := n.TransactionReceipt(ctx, hash)
			if errors.Is(err, ethereum.NotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			rcpt = r
			return nil
		})
		if err == nil && rcpt != nil {
			return rcpt, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func swapDeadlineArg() *big.Int {
	return big.NewInt(time.Now().Add(swapDeadline).Unix())
}

// Buy spends ord.Amount of the native coin on ord.Token through the router.
// The swap is submitted as swapExactETHForTokens with the amount attached as
// transaction value, so no approval is needed: the router wraps the coin into
// the spend token internally via path[0]. The minimum acceptable output comes
// from the configured slippage against the quoted constant-product output.
func (g *Gateway) Buy(ctx context.Context, ord trading.BuyOrder) (*trading.ExecResult, error) {
	if g.key == nil {
		return nil, fmt.Errorf("chain: no signing key configured")
	}
	token := common.HexToAddress(ord.Token)
	amountIn := amm.ToRaw(ord.Amount, g.spendDecimals)

	balance, err := g.NativeBalance(ctx, g.sender.Hex())
	if err != nil {
		return nil, fmt.Errorf("read native balance: %w", err)
	}
	if balance.Cmp(amountIn) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s",
			trading.ErrInsufficientBalance, balance, amountIn)
	}

	_, _, tokenDecimals, err := g.TokenMetadata(ctx, ord.Token)
	if err != nil {
		return nil, fmt.Errorf("read token metadata: %w", err)
	}

	expected, err := g.quoteSwap(ctx, g.spendToken.Hex(), ord.Token, amountIn)
	if err != nil {
		return nil, fmt.Errorf("quote buy: %w", err)
	}
	minOut := amm.MinOutput(expected, ord.SlippagePct)

	heldBefore, err := g.BalanceOf(ctx, ord.Token, g.sender.Hex())
	if err != nil {
		return nil, fmt.Errorf("read token balance: %w", err)
	}

	data, err := routerABI.Pack("swapExactETHForTokens",
		minOut, []common.Address{g.spendToken, token}, g.sender, swapDeadlineArg())
	if err != nil {
		return nil, fmt.Errorf("pack swap: %w", err)
	}

	g.walletMu.Lock()
	var nonce uint64
	err = g.withNode(ctx, func(n Node) error {
		var err error
		nonce, err = n.PendingNonceAt(ctx, g.sender)
		return err
	})
	if err != nil {
		g.walletMu.Unlock()
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	gasPrice, err := g.suggestGasPrice(ctx)
	if err != nil {
		g.walletMu.Unlock()
		return nil, err
	}
	hash, err := g.signAndSend(ctx, nonce, g.router, amountIn, gasPrice, data)
	g.walletMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send buy: %w", err)
	}

	rcpt, err := g.WaitReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("wait buy receipt: %w", err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		g.logRevert(ctx, hash)
		return &trading.ExecResult{
			OrderID: hash.Hex(),
			Status:  trading.ExecFailed,
			GasUsed: rcpt.GasUsed,
		}, fmt.Errorf("chain: buy tx %s reverted", hash.Hex())
	}

	heldAfter, err := g.BalanceOf(ctx, ord.Token, g.sender.Hex())
	if err != nil {
		return nil, fmt.Errorf("read token balance: %w", err)
	}
	quantity := amm.Adjust(new(big.Int).Sub(heldAfter, heldBefore), tokenDecimals)

	res := &trading.ExecResult{
		OrderID:  hash.Hex(),
		Status:   trading.ExecFilled,
		Quantity: quantity,
		Spent:    ord.Amount,
		GasUsed:  rcpt.GasUsed,
	}
	if !quantity.IsZero() {
		res.Price = ord.Amount.Div(quantity)
	}
	return res, nil
}

// Sell liquidates ord.Quantity of ord.Token into the spend currency. The
// approval is submitted first and must mine successfully before the swap
// goes out at the next nonce, both nonces computed once under the wallet
// lock. The lock is held across the approve wait so no other submission
// can claim nonce+1 in between.
func (g *Gateway) Sell(ctx context.Context, ord trading.SellOrder) (*trading.ExecResult, error) {
	if g.key == nil {
		return nil, fmt.Errorf("chain: no signing key configured")
	}
	token := common.HexToAddress(ord.Token)

	_, _, tokenDecimals, err := g.TokenMetadata(ctx, ord.Token)
	if err != nil {
		return nil, fmt.Errorf("read token metadata: %w", err)
	}
	held, err := g.BalanceOf(ctx, ord.Token, g.sender.Hex())
	if err != nil {
		return nil, fmt.Errorf("read token balance: %w", err)
	}

	// A zero quantity means the full on-chain balance.
	quantityRaw := amm.ToRaw(ord.Quantity, tokenDecimals)
	if ord.Quantity.IsZero() {
		quantityRaw = new(big.Int).Set(held)
	}
	if quantityRaw.Sign() == 0 {
		return nil, fmt.Errorf("%w: nothing to sell", trading.ErrInsufficientBalance)
	}
	if held.Cmp(quantityRaw) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s",
			trading.ErrInsufficientBalance, held, quantityRaw)
	}

	expected, err := g.quoteSwap(ctx, ord.Token, g.spendToken.Hex(), quantityRaw)
	if err != nil {
		return nil, fmt.Errorf("quote sell: %w", err)
	}
	minOut := amm.MinOutput(expected, ord.SlippagePct)

	spendBefore, err := g.BalanceOf(ctx, g.spendToken.Hex(), g.sender.Hex())
	if err != nil {
		return nil, fmt.Errorf("read spend balance: %w", err)
	}

	approveData, err := erc20ABI.Pack("approve", g.router, quantityRaw)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	swapData, err := routerABI.Pack("swapExactTokensForTokensSupportingFeeOnTransferTokens",
		quantityRaw, minOut, []common.Address{token, g.spendToken}, g.sender, swapDeadlineArg())
	if err != nil {
		return nil, fmt.Errorf("pack swap: %w", err)
	}

	g.walletMu.Lock()
	var nonce uint64
	err = g.withNode(ctx, func(n Node) error {
		var err error
		nonce, err = n.PendingNonceAt(ctx, g.sender)
		return err
	})
	if err != nil {
		g.walletMu.Unlock()
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	gasPrice, err := g.suggestGasPrice(ctx)
	if err != nil {
		g.walletMu.Unlock()
		return nil, err
	}

	// approve at nonce, swap at nonce+1 once the approval is mined
	approveHash, err := g.signAndSend(ctx, nonce, token, big.NewInt(0), gasPrice, approveData)
	if err != nil {
		g.walletMu.Unlock()
		return nil, fmt.Errorf("send approve: %w", err)
	}
	approveRcpt, err := g.WaitReceipt(ctx, approveHash)
	if err != nil {
		g.walletMu.Unlock()
		return nil, fmt.Errorf("wait approve receipt: %w", err)
	}
	if approveRcpt.Status != types.ReceiptStatusSuccessful {
		g.walletMu.Unlock()
		g.logRevert(ctx, approveHash)
		return nil, fmt.Errorf("chain: approve tx %s reverted", approveHash.Hex())
	}
	swapHash, err := g.signAndSend(ctx, nonce+1, g.router, big.NewInt(0), gasPrice, swapData)
	g.walletMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send sell: %w", err)
	}

	rcpt, err := g.WaitReceipt(ctx, swapHash)
	if err != nil {
		return nil, fmt.Errorf("wait sell receipt: %w", err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		g.logRevert(ctx, swapHash)
		return &trading.ExecResult{
			OrderID: swapHash.Hex(),
			Status:  trading.ExecFailed,
			GasUsed: rcpt.GasUsed,
		}, fmt.Errorf("chain: sell tx %s reverted", swapHash.Hex())
	}

	spendAfter, err := g.BalanceOf(ctx, g.spendToken.Hex(), g.sender.Hex())
	if err != nil {
		return nil, fmt.Errorf("read spend balance: %w", err)
	}
	received := amm.Adjust(new(big.Int).Sub(spendAfter, spendBefore), g.spendDecimals)

	res := &trading.ExecResult{
		OrderID:  swapHash.Hex(),
		Status:   trading.ExecFilled,
		Quantity: ord.Quantity,
		Spent:    received,
		GasUsed:  rcpt.GasUsed,
	}
	if !ord.Quantity.IsZero() {
		res.Price = received.Div(ord.Quantity)
	}
	return res, nil
}

func (g *Gateway) suggestGasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int
	err := g.withNode(ctx, func(n Node) error {
		p, err := n.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		gasPrice = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return gasPrice, nil
}
