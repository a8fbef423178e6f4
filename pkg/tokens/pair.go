package tokens

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"swapfuzz/pkg/simulator"
)

// PairContext 单跳变换的公共能力，恰好两个实现：
// UniswapPairContext（AMM 交易对）与 WethContext（包装/解包伪交易对）。
// Transform 失败时不得留下任何账本变更，引擎将失败视为硬停止而非重试。
type PairContext interface {
	// Address 返回该跳的链上地址（交易对地址或 WETH 合约地址）
	Address() common.Address
	// Transform 执行一跳：从 src 吃入 amountIn，产出付给 next；
	// reverse=true 为买入方向。返回 (实际收款人, 产出量, 是否成功)。
	Transform(src, next common.Address, amountIn *big.Int, st *simulator.ChainState, reverse bool) (common.Address, *big.Int, bool)
}

// UniswapPairContext 一跳恒定乘积交易对
// InToken/OutToken 按卖出方向（目标 token → 原生币）排列，买入方向执行时互换
type UniswapPairContext struct {
	Pair     common.Address
	InToken  common.Address
	OutToken common.Address
	Info     *UniswapInfo
	// 发现时刻的储备快照，仅用于诊断；执行读取账本实时储备
	InitialReserves [2]*big.Int
}

// Address 返回交易对地址
func (p *UniswapPairContext) Address() common.Address {
	return p.Pair
}

// Transform 模拟一次 V2 swap：
// 实际入量按 balanceOf(pair) - reserveIn 计算（对 fee-on-transfer token 成立），
// 池中无预转入时先从 src 拉取 amountIn；产出直接推给 next；完成后同步储备。
// 任一步失败即整体回滚，账本保持调用前状态。
func (p *UniswapPairContext) Transform(src, next common.Address, amountIn *big.Int, st *simulator.ChainState, reverse bool) (common.Address, *big.Int, bool) {
	tokenIn, tokenOut := p.InToken, p.OutToken
	if reverse {
		tokenIn, tokenOut = tokenOut, tokenIn
	}

	snap := st.Snapshot()
	fail := func() (common.Address, *big.Int, bool) {
		_ = st.RevertToSnapshot(snap)
		return common.Address{}, nil, false
	}

	pair, ok := st.Pair(p.Pair)
	if !ok {
		return fail()
	}
	var reserveIn, reserveOut *uint256.Int
	switch tokenIn {
	case pair.Token0:
		reserveIn, reserveOut = pair.Reserve0, pair.Reserve1
	case pair.Token1:
		reserveIn, reserveOut = pair.Reserve1, pair.Reserve0
	default:
		return fail()
	}

	// 实际到账量 = 池内余额 - 储备
	poolBal := st.BalanceOf(tokenIn, p.Pair)
	if poolBal.Lt(reserveIn) {
		return fail()
	}
	actualIn := new(uint256.Int).Sub(poolBal, reserveIn)
	if actualIn.IsZero() {
		// 无预转入：直接从 src 拉取本跳输入
		amt, okConv := uintFromBig(amountIn)
		if !okConv || amt.IsZero() {
			return fail()
		}
		if err := st.TransferToken(tokenIn, src, p.Pair, amt); err != nil {
			return fail()
		}
		actualIn = amt
	}

	out := p.Info.AmountOut(actualIn.ToBig(), reserveIn.ToBig(), reserveOut.ToBig())
	outU, okConv := uintFromBig(out)
	if out.Sign() <= 0 || !okConv || !outU.Lt(reserveOut) {
		return fail()
	}

	if err := st.TransferToken(tokenOut, p.Pair, next, outU); err != nil {
		return fail()
	}

	// 储备同步到交换后的余额
	newIn := new(uint256.Int).Add(reserveIn, actualIn)
	newOut := new(uint256.Int).Sub(reserveOut, outU)
	r0, r1 := newIn, newOut
	if tokenIn != pair.Token0 {
		r0, r1 = newOut, newIn
	}
	if err := st.SyncReserves(p.Pair, r0, r1); err != nil {
		return fail()
	}

	return next, out, true
}

// InitialTransfer 卖出遍历开始前把输入 token 预先转入交易对（pull-before-push：
// V2 的 swap 假定输入已经躺在池子余额里）。只在 AMM 跳上存在。
func (p *UniswapPairContext) InitialTransfer(src common.Address, amountIn *big.Int, st *simulator.ChainState) bool {
	amt, ok := uintFromBig(amountIn)
	if !ok {
		return false
	}
	return st.TransferToken(p.InToken, src, p.Pair, amt) == nil
}

// WethContext WETH 包装/解包伪交易对
type WethContext struct {
	Weth common.Address
}

// Address 返回 WETH 合约地址
func (w *WethContext) Address() common.Address {
	return w.Weth
}

// Transform reverse=true 为 deposit（原生币 → WETH），false 为 withdraw（WETH → 原生币）。
// deposit 时 src 原生币不足的部分由执行环境垫付并计入闪电贷欠款；
// withdraw 收款人为零地址哨兵时原生币回到 src 并计入闪电贷收益。
func (w *WethContext) Transform(src, next common.Address, amountIn *big.Int, st *simulator.ChainState, reverse bool) (common.Address, *big.Int, bool) {
	amt, ok := uintFromBig(amountIn)
	if !ok {
		return common.Address{}, nil, false
	}

	if reverse {
		// deposit：垫付缺口 → 扣原生币 → 铸 WETH 给 next
		bal := st.NativeBalance(src)
		if bal.Lt(amt) {
			shortfall := new(uint256.Int).Sub(amt, bal)
			st.AddNative(src, shortfall)
			st.AddOwed(shortfall.ToBig())
		}
		if err := st.SubNative(src, amt); err != nil {
			return common.Address{}, nil, false
		}
		st.MintToken(w.Weth, next, amt)
		return next, new(big.Int).Set(amountIn), true
	}

	// withdraw：销毁 WETH → 原生币付给收款人
	if err := st.BurnToken(w.Weth, src, amt); err != nil {
		return common.Address{}, nil, false
	}
	recipient := next
	if recipient == (common.Address{}) {
		recipient = src
		st.AddEarned(amt.ToBig())
	}
	st.AddNative(recipient, amt)
	return recipient, new(big.Int).Set(amountIn), true
}

// uintFromBig big.Int → uint256 转换；nil、负数或越界视为失败
func uintFromBig(v *big.Int) (*uint256.Int, bool) {
	if v == nil || v.Sign() < 0 {
		return nil, false
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, false
	}
	return u, true
}
