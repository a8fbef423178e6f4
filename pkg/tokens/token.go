package tokens

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"swapfuzz/pkg/simulator"
)

// ErrInfeasibleTrade 本次交易在当前状态下不可行（池深不足、余额不足、无路由）。
// 属于预期内结果，调用方丢弃该 trade 即可。
var ErrInfeasibleTrade = errors.New("infeasible trade")

// ErrInvalidRoute 路由构造本身非法（WETH 跳出现在错误位置、未知跳类型）。
// 属于不可恢复的建模错误，调用方应终止而非继续。
var ErrInvalidRoute = errors.New("invalid route construction")

// ErrWethTransform 路由中段的 WETH 包装/解包执行失败。
// 与 ErrInfeasibleTrade 不同：中段包装理应必然成功，失败说明建模不一致。
var ErrWethTransform = errors.New("weth transform failed")

// PathContext 一条 token → 原生币的完整路由（卖出方向排列）
type PathContext struct {
	Route []PairContext
}

// TokenContext 单个目标 token 的全部可用路由
type TokenContext struct {
	Token common.Address
	Swaps []PathContext
	// IsWeth 为 true 时该 token 就是 WETH 本身：买卖退化为 deposit/withdraw，
	// 永远不走 Swaps
	IsWeth bool
	Weth   common.Address
}

// selectPath 由种子首字节对路由数取模选路
func (t *TokenContext) selectPath(seed []byte) *PathContext {
	return &t.Swaps[int(seedByte(seed))%len(t.Swaps)]
}

// SelectedRouteIndex 报告给定种子会选中的路由下标；WETH token 或无路由时返回 -1
func (t *TokenContext) SelectedRouteIndex(seed []byte) int {
	if t.IsWeth || len(t.Swaps) == 0 {
		return -1
	}
	return int(seedByte(seed)) % len(t.Swaps)
}

// Buy 花费 amountIn 原生币买入目标 token，最终 token 落在 to 名下。
// 返回 ErrInfeasibleTrade 表示放弃该 trade，返回 ErrInvalidRoute 表示路由建模有误。
func (t *TokenContext) Buy(st *simulator.ChainState, amountIn *big.Int, to common.Address, seed []byte) error {
	if t.IsWeth {
		w := &WethContext{Weth: t.Weth}
		if _, _, ok := w.Transform(to, to, amountIn, st, true); !ok {
			return ErrInfeasibleTrade
		}
		return nil
	}
	if len(t.Swaps) == 0 {
		return ErrInfeasibleTrade
	}
	return t.selectPath(seed).buy(st, amountIn, to)
}

// Sell 把 from 名下的 amountIn 目标 token 卖回原生币
func (t *TokenContext) Sell(st *simulator.ChainState, amountIn *big.Int, from common.Address, seed []byte) error {
	if t.IsWeth {
		w := &WethContext{Weth: t.Weth}
		if _, _, ok := w.Transform(from, common.Address{}, amountIn, st, false); !ok {
			return ErrInfeasibleTrade
		}
		return nil
	}
	if len(t.Swaps) == 0 {
		return ErrInfeasibleTrade
	}
	return t.selectPath(seed).sell(st, amountIn, from, seed)
}

// buy 反向遍历路由：原生币端先执行，产出逐跳向目标 token 端推进。
// 路由按卖出方向存储，故买入从尾部向头部走。
// 非末跳的收款人是上一跳（下一个要执行的）交易对，末跳收款人是 to。
// WETH 包装只允许出现在路由尾部（买入的第 0 个执行跳），
// 且 deposit 金额始终取原始 amountIn。
func (p *PathContext) buy(st *simulator.ChainState, amountIn *big.Int, to common.Address) error {
	amount := new(big.Int).Set(amountIn)
	sender := to
	last := len(p.Route) - 1

	for nth := 0; nth <= last; nth++ {
		hopIdx := last - nth
		hop := p.Route[hopIdx]

		next := to
		if hopIdx > 0 {
			next = p.Route[hopIdx-1].Address()
		}

		switch h := hop.(type) {
		case *WethContext:
			if nth != 0 {
				return fmt.Errorf("%w: 买入路由第 %d 跳为 WETH 包装", ErrInvalidRoute, hopIdx)
			}
			receiver, out, ok := h.Transform(to, to, amountIn, st, true)
			if !ok {
				return fmt.Errorf("%w: 买入路由的 deposit 未成功", ErrWethTransform)
			}
			sender, amount = receiver, out
		case *UniswapPairContext:
			receiver, out, ok := h.Transform(sender, next, amount, st, true)
			if !ok {
				return ErrInfeasibleTrade
			}
			sender, amount = receiver, out
		default:
			return fmt.Errorf("%w: 未知跳类型 %T", ErrInvalidRoute, hop)
		}
	}
	return nil
}

// sell 正向遍历路由：目标 token 端先执行。首个 AMM 跳前做一次 InitialTransfer
// 预转入（失败不致命，Transform 会改走拉取路径）。每跳收款人是下一跳交易对；
// 下一跳是 WETH 解包时改发给随机调用者，末跳发零地址哨兵表示最终原生币产出。
func (p *PathContext) sell(st *simulator.ChainState, amountIn *big.Int, from common.Address, seed []byte) error {
	amount := new(big.Int).Set(amountIn)
	sender := from
	last := len(p.Route) - 1

	for nth := 0; nth <= last; nth++ {
		hop := p.Route[nth]

		var next common.Address
		if nth < last {
			if _, isWrap := p.Route[nth+1].(*WethContext); isWrap {
				next = st.RandCaller(seed)
			} else {
				next = p.Route[nth+1].Address()
			}
		}

		switch h := hop.(type) {
		case *UniswapPairContext:
			if nth == 0 {
				_ = h.InitialTransfer(sender, amount, st)
			}
			receiver, out, ok := h.Transform(sender, next, amount, st, false)
			if !ok {
				return ErrInfeasibleTrade
			}
			sender, amount = receiver, out
		case *WethContext:
			receiver, out, ok := h.Transform(sender, next, amount, st, false)
			if !ok {
				return fmt.Errorf("%w: 卖出路由的 withdraw 未成功", ErrWethTransform)
			}
			sender, amount = receiver, out
		default:
			return fmt.Errorf("%w: 未知跳类型 %T", ErrInvalidRoute, hop)
		}
	}
	return nil
}

// seedByte 取种子首字节，空种子视为 0
func seedByte(seed []byte) byte {
	if len(seed) == 0 {
		return 0
	}
	return seed[0]
}
