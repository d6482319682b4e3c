package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI fragments for the contracts the gateway touches.
const (
	erc20ABIJSON = `[
		{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	pairABIJSON = `[
		{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[
			{"name":"reserve0","type":"uint112"},
			{"name":"reserve1","type":"uint112"},
			{"name":"blockTimestampLast","type":"uint32"}]}
	]`

	factoryABIJSON = `[
		{"name":"getPair","type":"function","stateMutability":"view","inputs":[
			{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],
			"outputs":[{"name":"pair","type":"address"}]}
	]`

	routerABIJSON = `[
		{"name":"swapExactETHForTokens","type":"function","stateMutability":"payable","inputs":[
			{"name":"amountOutMin","type":"uint256"},
			{"name":"path","type":"address[]"},
			{"name":"to","type":"address"},
			{"name":"deadline","type":"uint256"}],
			"outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[
			{"name":"amountIn","type":"uint256"},
			{"name":"amountOutMin","type":"uint256"},
			{"name":"path","type":"address[]"},
			{"name":"to","type":"address"},
			{"name":"deadline","type":"uint256"}],
			"outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"name":"swapExactTokensForTokensSupportingFeeOnTransferTokens","type":"function","stateMutability":"nonpayable","inputs":[
			{"name":"amountIn","type":"uint256"},
			{"name":"amountOutMin","type":"uint256"},
			{"name":"path","type":"address[]"},
			{"name":"to","type":"address"},
			{"name":"deadline","type":"uint256"}],
			"outputs":[]}
	]`
)

var (
	erc20ABI   abi.ABI
	pairABI    abi.ABI
	factoryABI abi.ABI
	routerABI  abi.ABI
)

func init() {
	mustParse := func(s string) abi.ABI {
		parsed, err := abi.JSON(strings.NewReader(s))
		if err != nil {
			panic(err)
		}
		return parsed
	}
	erc20ABI = mustParse(erc20ABIJSON)
	pairABI = mustParse(pairABIJSON)
	factoryABI = mustParse(factoryABIJSON)
	routerABI = mustParse(routerABIJSON)
}
