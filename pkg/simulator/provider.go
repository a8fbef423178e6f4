package simulator

import (
	"github.com/ethereum/go-ethereum/common"
)

// StateProvider 在账本首次访问某地址时提供其初始状态
// 为 nil 时视为空链（所有账户/交易对从零开始）
type StateProvider interface {
	AccountAt(addr common.Address) (*AccountState, bool)
	PairAt(addr common.Address) (*PairState, bool)
}

// GenesisProvider 基于静态创世配置的 StateProvider 实现
// 创世数据在 campaign 启动前写入，之后只读，可被多个 ChainState 共享
type GenesisProvider struct {
	accounts map[common.Address]*AccountState
	pairs    map[common.Address]*PairState
}

// NewGenesisProvider 创建空的创世状态提供者
func NewGenesisProvider() *GenesisProvider {
	return &GenesisProvider{
		accounts: make(map[common.Address]*AccountState),
		pairs:    make(map[common.Address]*PairState),
	}
}

// SetAccount 写入一个创世账户（覆盖同地址的旧值）
func (p *GenesisProvider) SetAccount(addr common.Address, state *AccountState) {
	p.accounts[addr] = state
}

// SetPair 写入一个创世交易对
func (p *GenesisProvider) SetPair(addr common.Address, state *PairState) {
	p.pairs[addr] = state
}

// AccountAt 返回创世账户状态的深拷贝，避免共享底层 map
func (p *GenesisProvider) AccountAt(addr common.Address) (*AccountState, bool) {
	state, ok := p.accounts[addr]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// PairAt 返回创世交易对状态的深拷贝
func (p *GenesisProvider) PairAt(addr common.Address) (*PairState, bool) {
	state, ok := p.pairs[addr]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// Pairs 遍历创世交易对（构建路由索引用）
func (p *GenesisProvider) Pairs() map[common.Address]*PairState {
	out := make(map[common.Address]*PairState, len(p.pairs))
	for addr, state := range p.pairs {
		out[addr] = state.Clone()
	}
	return out
}
