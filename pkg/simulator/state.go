package simulator

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ChainState 一次交易执行所依赖的完整链状态账本
// 包含原生币余额、ERC20 余额、交易对储备、调用者地址池与闪电贷记账；
// 支持快照/回滚（单跳失败时恢复原子性）与状态变更差异收集。
// 每个 fuzzing worker 持有自己的 ChainState 克隆，跨 worker 不共享。
type ChainState struct {
	mu sync.RWMutex

	accounts map[common.Address]*AccountState
	pairs    map[common.Address]*PairState

	// 惰性初始状态来源（创世配置），可为 nil
	provider StateProvider

	// 候选调用者地址池（解包收款人等场景按种子选取）
	callers []common.Address

	// 闪电贷记账
	flashloan *FlashloanData

	// 快照管理
	snapshots  map[int]*ledgerSnapshot
	nextSnapID int

	// 状态变更记录（首次写入时捕获 before）
	changes map[string]*StateChange
}

// ledgerSnapshot 某一时刻账本的深拷贝
type ledgerSnapshot struct {
	accounts  map[common.Address]*AccountState
	pairs     map[common.Address]*PairState
	flashloan *FlashloanData
	changes   map[string]*StateChange
}

// NewChainState 创建空账本；provider 可为 nil
func NewChainState(provider StateProvider) *ChainState {
	return &ChainState{
		accounts:  make(map[common.Address]*AccountState),
		pairs:     make(map[common.Address]*PairState),
		provider:  provider,
		flashloan: NewFlashloanData(),
		snapshots: make(map[int]*ledgerSnapshot),
		changes:   make(map[string]*StateChange),
	}
}

// Clone 深拷贝账本，供 worker 隔离使用
// 快照与变更记录不随克隆携带（新 worker 从干净的差异基线开始）
func (s *ChainState) Clone() *ChainState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := NewChainState(s.provider)
	for addr, account := range s.accounts {
		clone.accounts[addr] = account.Clone()
	}
	for addr, pair := range s.pairs {
		clone.pairs[addr] = pair.Clone()
	}
	clone.callers = append([]common.Address{}, s.callers...)
	clone.flashloan = s.flashloan.Clone()
	return clone
}

// ============ 账户与原生币 ============

// getAccountLocked 按需创建账户（先查创世配置）；调用方需持有写锁
func (s *ChainState) getAccountLocked(addr common.Address) *AccountState {
	if account, ok := s.accounts[addr]; ok {
		return account
	}
	if s.provider != nil {
		if account, ok := s.provider.AccountAt(addr); ok {
			s.accounts[addr] = account
			return account
		}
	}
	account := NewAccountState()
	s.accounts[addr] = account
	return account
}

// NativeBalance 返回原生币余额的拷贝
func (s *ChainState) NativeBalance(addr common.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(uint256.Int).Set(s.getAccountLocked(addr).Native)
}

// AddNative 增加原生币余额
func (s *ChainState) AddNative(addr common.Address, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.getAccountLocked(addr)
	before := account.Native.Hex()
	account.Native = new(uint256.Int).Add(account.Native, amount)
	s.recordChangeLocked(nativeKey(addr), before, account.Native.Hex())
}

// SubNative 减少原生币余额；余额不足返回错误且不做任何修改
func (s *ChainState) SubNative(addr common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.getAccountLocked(addr)
	if account.Native.Lt(amount) {
		return fmt.Errorf("%w: %s 原生币余额 %s < %s",
			ErrInsufficientBalance, addr.Hex(), account.Native.Dec(), amount.Dec())
	}
	before := account.Native.Hex()
	account.Native = new(uint256.Int).Sub(account.Native, amount)
	s.recordChangeLocked(nativeKey(addr), before, account.Native.Hex())
	return nil
}

// TransferNative 原生币转账，余额不足时整体失败
func (s *ChainState) TransferNative(from, to common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender := s.getAccountLocked(from)
	if sender.Native.Lt(amount) {
		return fmt.Errorf("%w: %s 原生币余额 %s < %s",
			ErrInsufficientBalance, from.Hex(), sender.Native.Dec(), amount.Dec())
	}
	receiver := s.getAccountLocked(to)

	beforeFrom := sender.Native.Hex()
	beforeTo := receiver.Native.Hex()
	sender.Native = new(uint256.Int).Sub(sender.Native, amount)
	receiver.Native = new(uint256.Int).Add(receiver.Native, amount)
	s.recordChangeLocked(nativeKey(from), beforeFrom, sender.Native.Hex())
	s.recordChangeLocked(nativeKey(to), beforeTo, receiver.Native.Hex())
	return nil
}

// ============ ERC20 账本 ============

// tokenBalanceLocked 返回可写的余额槽位；调用方需持有写锁
func (s *ChainState) tokenBalanceLocked(token, holder common.Address) *uint256.Int {
	account := s.getAccountLocked(holder)
	if bal, ok := account.Tokens[token]; ok {
		return bal
	}
	bal := uint256.NewInt(0)
	account.Tokens[token] = bal
	return bal
}

// BalanceOf 返回 holder 持有的 token 余额拷贝
func (s *ChainState) BalanceOf(token, holder common.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(uint256.Int).Set(s.tokenBalanceLocked(token, holder))
}

// MintToken 凭空铸造 token 到 holder（WETH 包装、创世发币）
func (s *ChainState) MintToken(token, holder common.Address, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.tokenBalanceLocked(token, holder)
	before := bal.Hex()
	next := new(uint256.Int).Add(bal, amount)
	s.getAccountLocked(holder).Tokens[token] = next
	s.recordChangeLocked(tokenKey(token, holder), before, next.Hex())
}

// BurnToken 销毁 holder 持有的 token；余额不足返回错误
func (s *ChainState) BurnToken(token, holder common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.tokenBalanceLocked(token, holder)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s 持有 token %s 余额 %s < %s",
			ErrInsufficientBalance, holder.Hex(), token.Hex(), bal.Dec(), amount.Dec())
	}
	before := bal.Hex()
	next := new(uint256.Int).Sub(bal, amount)
	s.getAccountLocked(holder).Tokens[token] = next
	s.recordChangeLocked(tokenKey(token, holder), before, next.Hex())
	return nil
}

// TransferToken ERC20 转账，余额不足时整体失败
func (s *ChainState) TransferToken(token, from, to common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fromBal := s.tokenBalanceLocked(token, from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s 持有 token %s 余额 %s < %s",
			ErrInsufficientBalance, from.Hex(), token.Hex(), fromBal.Dec(), amount.Dec())
	}
	// 自转账在余额检查通过后不产生净变化
	if from == to {
		return nil
	}
	toBal := s.tokenBalanceLocked(token, to)

	beforeFrom := fromBal.Hex()
	beforeTo := toBal.Hex()
	nextFrom := new(uint256.Int).Sub(fromBal, amount)
	nextTo := new(uint256.Int).Add(toBal, amount)
	s.getAccountLocked(from).Tokens[token] = nextFrom
	s.getAccountLocked(to).Tokens[token] = nextTo
	s.recordChangeLocked(tokenKey(token, from), beforeFrom, nextFrom.Hex())
	s.recordChangeLocked(tokenKey(token, to), beforeTo, nextTo.Hex())
	return nil
}

// ============ 交易对储备 ============

// Pair 返回交易对状态的拷贝；未登记且创世中不存在时返回 false
func (s *ChainState) Pair(addr common.Address) (*PairState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairLocked(addr)
	if !ok {
		return nil, false
	}
	return pair.Clone(), true
}

func (s *ChainState) pairLocked(addr common.Address) (*PairState, bool) {
	if pair, ok := s.pairs[addr]; ok {
		return pair, true
	}
	if s.provider != nil {
		if pair, ok := s.provider.PairAt(addr); ok {
			s.pairs[addr] = pair
			return pair, true
		}
	}
	return nil, false
}

// SetPair 登记/覆盖一个交易对
func (s *ChainState) SetPair(addr common.Address, pair *PairState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[addr] = pair.Clone()
}

// PairAddresses 返回已物化的交易对地址（按字节序），供检查器遍历
func (s *ChainState) PairAddresses() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]common.Address, 0, len(s.pairs))
	for addr := range s.pairs {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	return addrs
}

// SyncReserves 交换完成后同步储备到新的余额
func (s *ChainState) SyncReserves(addr common.Address, reserve0, reserve1 *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pairLocked(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPair, addr.Hex())
	}
	before := reservesHex(pair.Reserve0, pair.Reserve1)
	pair.Reserve0 = new(uint256.Int).Set(reserve0)
	pair.Reserve1 = new(uint256.Int).Set(reserve1)
	s.recordChangeLocked(pairKey(addr), before, reservesHex(pair.Reserve0, pair.Reserve1))
	return nil
}

// ============ 调用者地址池 ============

// AddCaller 向地址池追加候选调用者
func (s *ChainState) AddCaller(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callers = append(s.callers, addr)
}

// Callers 返回地址池拷贝
func (s *ChainState) Callers() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Address{}, s.callers...)
}

// RandCaller 由种子确定性地选取一个调用者地址
// 地址池为空时返回零地址（解包收款退化为原生币哨兵语义）
func (s *ChainState) RandCaller(seed []byte) common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.callers) == 0 {
		return common.Address{}
	}
	idx := 0
	for _, b := range seed {
		idx = (idx*31 + int(b)) % len(s.callers)
	}
	return s.callers[idx]
}

// ============ 闪电贷记账 ============

// AddOwed 记录执行环境垫付的原生币
func (s *ChainState) AddOwed(amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flashloan.Owed = new(big.Int).Add(s.flashloan.Owed, amount)
}

// AddEarned 记录卖出收回的原生币
func (s *ChainState) AddEarned(amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flashloan.Earned = new(big.Int).Add(s.flashloan.Earned, amount)
}

// Flashloan 返回闪电贷记账拷贝
func (s *ChainState) Flashloan() *FlashloanData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flashloan.Clone()
}

// ============ 快照机制 ============

// Snapshot 创建当前账本快照并返回快照ID
func (s *ChainState) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSnapID
	s.nextSnapID++

	// 深拷贝当前状态
	snapshot := &ledgerSnapshot{
		accounts:  make(map[common.Address]*AccountState, len(s.accounts)),
		pairs:     make(map[common.Address]*PairState, len(s.pairs)),
		flashloan: s.flashloan.Clone(),
		changes:   make(map[string]*StateChange, len(s.changes)),
	}
	for addr, account := range s.accounts {
		snapshot.accounts[addr] = account.Clone()
	}
	for addr, pair := range s.pairs {
		snapshot.pairs[addr] = pair.Clone()
	}
	for key, change := range s.changes {
		c := *change
		snapshot.changes[key] = &c
	}
	s.snapshots[id] = snapshot

	return id
}

// RevertToSnapshot 回滚到指定快照，并丢弃该ID及之后的所有快照
func (s *ChainState) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.snapshots[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSnapshot, id)
	}
	s.accounts = snapshot.accounts
	s.pairs = snapshot.pairs
	s.flashloan = snapshot.flashloan
	s.changes = snapshot.changes

	// 删除此ID之后的所有快照
	for snapID := range s.snapshots {
		if snapID >= id {
			delete(s.snapshots, snapID)
		}
	}
	return nil
}

// ============ 状态变更与摘要 ============

func (s *ChainState) recordChangeLocked(key, before, after string) {
	if change, ok := s.changes[key]; ok {
		change.After = after
		return
	}
	s.changes[key] = &StateChange{Before: before, After: after}
}

// StateChanges 返回自创建（或上次回滚点）以来的账本变更
func (s *ChainState) StateChanges() map[string]StateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]StateChange, len(s.changes))
	for key, change := range s.changes {
		result[key] = *change
	}
	return result
}

// StateHash 返回账本内容的确定性摘要，用于重放结果比对
// 零余额条目不参与计算，读操作产生的空账户不影响摘要
func (s *ChainState) StateHash() common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var buf bytes.Buffer

	addrs := make([]common.Address, 0, len(s.accounts))
	for addr := range s.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	for _, addr := range addrs {
		account := s.accounts[addr]
		tokens := make([]common.Address, 0, len(account.Tokens))
		for token, bal := range account.Tokens {
			if !bal.IsZero() {
				tokens = append(tokens, token)
			}
		}
		if account.Native.IsZero() && account.Nonce == 0 && len(tokens) == 0 {
			continue
		}
		sort.Slice(tokens, func(i, j int) bool {
			return bytes.Compare(tokens[i][:], tokens[j][:]) < 0
		})
		buf.Write(addr[:])
		native := account.Native.Bytes32()
		buf.Write(native[:])
		for _, token := range tokens {
			bal := account.Tokens[token].Bytes32()
			buf.Write(token[:])
			buf.Write(bal[:])
		}
	}

	pairAddrs := make([]common.Address, 0, len(s.pairs))
	for addr := range s.pairs {
		pairAddrs = append(pairAddrs, addr)
	}
	sort.Slice(pairAddrs, func(i, j int) bool {
		return bytes.Compare(pairAddrs[i][:], pairAddrs[j][:]) < 0
	})
	for _, addr := range pairAddrs {
		pair := s.pairs[addr]
		buf.Write(addr[:])
		r0 := pair.Reserve0.Bytes32()
		r1 := pair.Reserve1.Bytes32()
		buf.Write(r0[:])
		buf.Write(r1[:])
	}

	buf.WriteString(s.flashloan.Owed.Text(16))
	buf.WriteString("|")
	buf.WriteString(s.flashloan.Earned.Text(16))

	return crypto.Keccak256Hash(buf.Bytes())
}

// ============ 辅助函数 ============

func nativeKey(addr common.Address) string {
	return "native:" + strings.ToLower(addr.Hex())
}

func tokenKey(token, holder common.Address) string {
	return "token:" + strings.ToLower(token.Hex()) + ":" + strings.ToLower(holder.Hex())
}

func pairKey(addr common.Address) string {
	return "pair:" + strings.ToLower(addr.Hex())
}

func reservesHex(r0, r1 *uint256.Int) string {
	return r0.Hex() + "|" + r1.Hex()
}
