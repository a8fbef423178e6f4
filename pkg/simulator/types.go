// Package simulator 提供交易路径执行所需的链状态账本：
// 原生币/ERC20 余额、交易对储备、闪电贷记账、快照与回滚。
package simulator

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// 错误定义
var (
	// ErrInsufficientBalance 余额不足
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidSnapshot 无效的快照ID
	ErrInvalidSnapshot = errors.New("invalid snapshot id")
	// ErrUnknownPair 未登记的交易对
	ErrUnknownPair = errors.New("unknown pair")
	// ErrNoCallers 调用者地址池为空
	ErrNoCallers = errors.New("caller pool is empty")
)

// AccountState 账户状态：原生币余额与各 token 的 ERC20 余额
type AccountState struct {
	Native *uint256.Int                    // 原生币余额
	Nonce  uint64                          // Nonce
	Tokens map[common.Address]*uint256.Int // token地址 → 余额
}

// NewAccountState 创建新的账户状态
func NewAccountState() *AccountState {
	return &AccountState{
		Native: uint256.NewInt(0),
		Tokens: make(map[common.Address]*uint256.Int),
	}
}

// Clone 深拷贝账户状态
func (a *AccountState) Clone() *AccountState {
	clone := &AccountState{
		Native: new(uint256.Int).Set(a.Native),
		Nonce:  a.Nonce,
		Tokens: make(map[common.Address]*uint256.Int, len(a.Tokens)),
	}
	for token, bal := range a.Tokens {
		clone.Tokens[token] = new(uint256.Int).Set(bal)
	}
	return clone
}

// PairState 交易对状态：两侧 token 与储备
// Token0/Token1 按地址升序排列，与链上 CREATE2 排序一致
type PairState struct {
	Token0   common.Address
	Token1   common.Address
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
}

// Clone 深拷贝交易对状态
func (p *PairState) Clone() *PairState {
	return &PairState{
		Token0:   p.Token0,
		Token1:   p.Token1,
		Reserve0: new(uint256.Int).Set(p.Reserve0),
		Reserve1: new(uint256.Int).Set(p.Reserve1),
	}
}

// FlashloanData 闪电贷记账：自动垫付的原生币(Owed)与卖出收回的原生币(Earned)
// 买入时余额不足的部分由执行环境垫付并计入 Owed；
// 卖出解包回原生币时计入 Earned；Earned > Owed 即存在可提取利润。
type FlashloanData struct {
	Owed   *big.Int
	Earned *big.Int
}

// NewFlashloanData 创建零值记账
func NewFlashloanData() *FlashloanData {
	return &FlashloanData{
		Owed:   big.NewInt(0),
		Earned: big.NewInt(0),
	}
}

// Clone 深拷贝记账数据
func (f *FlashloanData) Clone() *FlashloanData {
	return &FlashloanData{
		Owed:   new(big.Int).Set(f.Owed),
		Earned: new(big.Int).Set(f.Earned),
	}
}

// Profit 返回 Earned - Owed（可能为负）
func (f *FlashloanData) Profit() *big.Int {
	return new(big.Int).Sub(f.Earned, f.Owed)
}

// StateChange 单个账本条目的前后状态（十六进制金额）
type StateChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}
