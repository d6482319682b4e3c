package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Diagnosis is a post-mortem of a submitted transaction, used when a swap
// does not behave as expected.
type Diagnosis struct {
	Hash            string
	Pending         bool
	Method          string
	Path            []string
	AmountIn        *big.Int
	MinOut          *big.Int
	Deadline        *big.Int
	Succeeded       bool
	GasUsed         uint64
	GasLimit        uint64
	GasExhaust      bool
	DeadlineExpired bool
	ShortOfFunds    bool
	RevertReason    string
	BlockNumber     uint64
}

// Summary renders the diagnosis as a one-line operator string.
func (d *Diagnosis) Summary() string {
	if d.Pending {
		return fmt.Sprintf("tx %s still pending", d.Hash)
	}
	state := "succeeded"
	if !d.Succeeded {
		state = "reverted"
		switch {
		case d.GasExhaust:
			state = "reverted (out of gas)"
		case d.DeadlineExpired:
			state = "reverted (deadline expired)"
		case d.ShortOfFunds:
			state = "reverted (insufficient sender funds)"
		}
	}
	s := fmt.Sprintf("tx %s %s: method=%s gas=%d/%d block=%d",
		d.Hash, state, d.Method, d.GasUsed, d.GasLimit, d.BlockNumber)
	if d.RevertReason != "" {
		s += fmt.Sprintf(" reason=%q", d.RevertReason)
	}
	return s
}

// logRevert runs a best-effort post-mortem on a reverted swap.
func (g *Gateway) logRevert(ctx context.Context, hash common.Hash) {
	d, err := g.AnalyzeTx(ctx, hash.Hex())
	if err != nil {
		g.logger.Warn().Err(err).Str("tx", hash.Hex()).Msg("revert diagnosis failed")
		return
	}
	g.logger.Warn().Str("tx", hash.Hex()).Msg(d.Summary())
}

// AnalyzeTx inspects a transaction and its receipt to explain what happened
// to it. For a reverted transaction it additionally replays the call at the
// parent block of the one that mined it, surfacing the revert reason the
// node reports, and checks whether the deadline had already passed or the
// sender could not cover value plus gas.
func (g *Gateway) AnalyzeTx(ctx context.Context, hash string) (*Diagnosis, error) {
	h := common.HexToHash(hash)
	d := &Diagnosis{Hash: hash}

	var tx *types.Transaction
	var pending bool
	err := g.withNode(ctx, func(n Node) error {
		var err error
		tx, pending, err = n.TransactionByHash(ctx, h)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch tx: %w", err)
	}

	d.GasLimit = tx.Gas()
	d.decodeCalldata(tx.Data())

	if pending {
		d.Pending = true
		return d, nil
	}

	var rcpt *types.Receipt
	err = g.withNode(ctx, func(n Node) error {
		var err error
		rcpt, err = n.TransactionReceipt(ctx, h)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}

	d.Succeeded = rcpt.Status == types.ReceiptStatusSuccessful
	d.GasUsed = rcpt.GasUsed
	d.GasExhaust = !d.Succeeded && rcpt.GasUsed == tx.Gas()
	if rcpt.BlockNumber != nil {
		d.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	if !d.Succeeded && rcpt.BlockNumber != nil {
		g.explainRevert(ctx, d, tx, rcpt)
	}
	return d, nil
}

// explainRevert fills in the failure causes the receipt alone cannot show.
// Everything here is best effort: a node that cannot answer leaves the
// corresponding field at its zero value.
func (g *Gateway) explainRevert(ctx context.Context, d *Diagnosis, tx *types.Transaction, rcpt *types.Receipt) {
	sender, err := types.Sender(g.signer, tx)
	if err != nil {
		return
	}
	prior := new(big.Int).Sub(rcpt.BlockNumber, big.NewInt(1))

	// Replay the exact call against the parent block state. The node's
	// error string carries the require() message when there is one.
	msg := ethereum.CallMsg{
		From:     sender,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	_ = g.withNode(ctx, func(n Node) error {
		if _, callErr := n.CallContract(ctx, msg, prior); callErr != nil {
			d.RevertReason = callErr.Error()
		}
		return nil
	})

	if d.Deadline != nil {
		_ = g.withNode(ctx, func(n Node) error {
			header, err := n.HeaderByNumber(ctx, rcpt.BlockNumber)
			if err != nil {
				return err
			}
			d.DeadlineExpired = d.Deadline.IsUint64() && d.Deadline.Uint64() < header.Time
			return nil
		})
	}

	_ = g.withNode(ctx, func(n Node) error {
		balance, err := n.BalanceAt(ctx, sender, prior)
		if err != nil {
			return err
		}
		cost := new(big.Int).Mul(tx.GasPrice(), new(big.Int).SetUint64(tx.Gas()))
		cost.Add(cost, tx.Value())
		d.ShortOfFunds = balance.Cmp(cost) < 0
		return nil
	})
}

func (d *Diagnosis) decodeCalldata(data []byte) {
	if len(data) < 4 {
		d.Method = "transfer"
		return
	}
	method, err := routerABI.MethodById(data[:4])
	if err != nil {
		method2, err2 := erc20ABI.MethodById(data[:4])
		if err2 != nil {
			d.Method = fmt.Sprintf("unknown(%x)", data[:4])
			return
		}
		d.Method = method2.Name
		return
	}
	d.Method = method.Name

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return
	}

	// swapExactETHForTokens carries the input amount as tx value, so its
	// argument layout is shifted by one against the token-in swaps.
	var minIdx, pathIdx, deadlineIdx int
	if method.Name == "swapExactETHForTokens" {
		minIdx, pathIdx, deadlineIdx = 0, 1, 3
	} else {
		minIdx, pathIdx, deadlineIdx = 1, 2, 4
		if len(args) > 0 {
			if in, ok := args[0].(*big.Int); ok {
				d.AmountIn = in
			}
		}
	}
	if len(args) > minIdx {
		if min, ok := args[minIdx].(*big.Int); ok {
			d.MinOut = min
		}
	}
	if len(args) > pathIdx {
		if path, ok := args[pathIdx].([]common.Address); ok {
			for _, a := range path {
				d.Path = append(d.Path, strings.ToLower(a.Hex()))
			}
		}
	}
	if len(args) > deadlineIdx {
		if dl, ok := args[deadlineIdx].(*big.Int); ok {
			d.Deadline = dl
		}
	}
}
