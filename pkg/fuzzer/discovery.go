package fuzzer

import (
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"swapfuzz/pkg/simulator"
	"swapfuzz/pkg/tokens"
)

// Universe 由配置构造的完整执行宇宙：创世状态 + 协议参数 + 已发现的路由。
// 构建完成后只读，所有 worker 共享。
type Universe struct {
	Chain    tokens.Chain
	Provider tokens.UniswapProvider
	Info     *tokens.UniswapInfo
	Weth     common.Address
	Callers  []common.Address
	Genesis  *simulator.GenesisProvider
	Pools    map[common.Address]*simulator.PairState
	Tokens   []common.Address
	Contexts map[common.Address]*tokens.TokenContext
}

// BuildUniverse 校验配置，注册创世账户与交易对，并完成全部 token 的路由发现
func BuildUniverse(cfg *Config) (*Universe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, _ := tokens.UniswapProviderFromStr(cfg.Protocol)
	chain, _ := tokens.ChainFromStr(cfg.Chain)
	info, err := tokens.GetUniswapInfo(provider, chain)
	if err != nil {
		return nil, err
	}
	weth := common.HexToAddress(cfg.Weth)

	genesis := simulator.NewGenesisProvider()

	for _, account := range cfg.Accounts {
		addr := common.HexToAddress(account.Address)
		state := simulator.NewAccountState()
		native, err := u256FromConfig(account.Native.BigInt(), "账户原生币余额")
		if err != nil {
			return nil, err
		}
		state.Native = native
		for tokenAddr, balance := range account.Tokens {
			bal, err := u256FromConfig(balance.BigInt(), "账户 token 余额")
			if err != nil {
				return nil, err
			}
			state.Tokens[common.HexToAddress(tokenAddr)] = bal
		}
		genesis.SetAccount(addr, state)
	}

	// 交易对：地址缺省时按 CREATE2 推导；token0/token1 按地址排序规范化，
	// 储备随排序换位。池子的 ERC20 余额与储备保持一致，转出才有对应余额。
	pools := make(map[common.Address]*simulator.PairState, len(cfg.Pools))
	poolOrder := make([]common.Address, 0, len(cfg.Pools))
	for i, pool := range cfg.Pools {
		cfgToken0 := common.HexToAddress(pool.Token0)
		cfgToken1 := common.HexToAddress(pool.Token1)
		token0, token1 := tokens.SortTokens(cfgToken0, cfgToken1)

		r0, err := u256FromConfig(pool.Reserve0.BigInt(), "交易对储备")
		if err != nil {
			return nil, err
		}
		r1, err := u256FromConfig(pool.Reserve1.BigInt(), "交易对储备")
		if err != nil {
			return nil, err
		}
		if cfgToken0 != token0 {
			r0, r1 = r1, r0
		}

		addr := info.PairAddress(token0, token1)
		if pool.Address != "" {
			addr = common.HexToAddress(pool.Address)
		}
		if _, dup := pools[addr]; dup {
			return nil, fmt.Errorf("pools[%d] 地址重复: %s", i, addr.Hex())
		}

		state := &simulator.PairState{Token0: token0, Token1: token1, Reserve0: r0, Reserve1: r1}
		genesis.SetPair(addr, state)
		pools[addr] = state.Clone()
		poolOrder = append(poolOrder, addr)

		pairAccount := simulator.NewAccountState()
		pairAccount.Tokens[token0] = new(uint256.Int).Set(r0)
		pairAccount.Tokens[token1] = new(uint256.Int).Set(r1)
		genesis.SetAccount(addr, pairAccount)
	}

	callers := make([]common.Address, len(cfg.Callers))
	for i, caller := range cfg.Callers {
		callers[i] = common.HexToAddress(caller)
	}

	px := newPoolIndex(poolOrder, pools)
	contexts := make(map[common.Address]*tokens.TokenContext, len(cfg.Tokens))
	tokenAddrs := make([]common.Address, 0, len(cfg.Tokens))
	for _, tokenCfg := range cfg.Tokens {
		addr := common.HexToAddress(tokenCfg.Address)
		data := BuildSwapData(addr, tokenCfg.Calldata)
		ctx := buildTokenContext(addr, weth, info, px, data)
		contexts[addr] = ctx
		tokenAddrs = append(tokenAddrs, addr)
		log.Printf("[Discovery] token %s: %d routes (isWeth=%v)", addr.Hex(), len(ctx.Swaps), ctx.IsWeth)
	}

	return &Universe{
		Chain:    chain,
		Provider: provider,
		Info:     info,
		Weth:     weth,
		Callers:  callers,
		Genesis:  genesis,
		Pools:    pools,
		Tokens:   tokenAddrs,
		Contexts: contexts,
	}, nil
}

// NewChainState 从创世宇宙起一个带调用者池的新账本
func (u *Universe) NewChainState() *simulator.ChainState {
	st := simulator.NewChainState(u.Genesis)
	for _, caller := range u.Callers {
		st.AddCaller(caller)
	}
	return st
}

// BuildSwapData 解码一个目标的观测语料；非法条目直接忽略
func BuildSwapData(target common.Address, calldata []string) *tokens.SwapData {
	data := tokens.NewSwapData()
	for _, entry := range calldata {
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(entry), "0x"))
		if err != nil {
			continue
		}
		data.Push(target, raw)
	}
	return data
}

// poolIndex 创世交易对的双向索引；candidates 按配置顺序返回，
// 路由下标因而与配置中池子的排列一致
type poolIndex struct {
	byAddr   map[common.Address]*simulator.PairState
	byTokens map[[2]common.Address][]common.Address
}

func newPoolIndex(order []common.Address, pools map[common.Address]*simulator.PairState) *poolIndex {
	px := &poolIndex{
		byAddr:   pools,
		byTokens: make(map[[2]common.Address][]common.Address),
	}
	for _, addr := range order {
		state := pools[addr]
		key := [2]common.Address{state.Token0, state.Token1}
		px.byTokens[key] = append(px.byTokens[key], addr)
	}
	return px
}

// candidates 返回能承载 a↔b 一跳的全部池地址
func (px *poolIndex) candidates(a, b common.Address) []common.Address {
	token0, token1 := tokens.SortTokens(a, b)
	return px.byTokens[[2]common.Address{token0, token1}]
}

// buildTokenContext 把观测语料合并出的路径落成可执行路由。
// 卖出观测直接使用，买入观测反转后使用；找不到包含目标 token 的
// 段落或任一跳无候选池时丢弃整条；无任何可用路由时回退到 token↔weth 直接池。
func buildTokenContext(token, weth common.Address, info *tokens.UniswapInfo, px *poolIndex, data *tokens.SwapData) *tokens.TokenContext {
	ctx := &tokens.TokenContext{Token: token, Weth: weth}
	if token == weth {
		ctx.IsWeth = true
		return ctx
	}

	seen := make(map[string]struct{})
	addRoute := func(route []tokens.PairContext) {
		key := routeKey(route)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		ctx.Swaps = append(ctx.Swaps, tokens.PathContext{Route: route})
	}

	for _, ty := range []tokens.SwapType{tokens.SwapSell, tokens.SwapBuy} {
		swapInfo, ok := data.Inner[ty]
		if !ok {
			continue
		}
		path := addrPath(swapInfo.Path)
		if ty == tokens.SwapBuy {
			path = reversePath(path)
		}
		path = suffixFromToken(path, token)
		for _, route := range expandRoutes(path, weth, info, px) {
			addRoute(route)
		}
	}

	if len(ctx.Swaps) == 0 {
		for _, route := range expandRoutes([]common.Address{token, weth}, weth, info, px) {
			addRoute(route)
		}
	}
	return ctx
}

// expandRoutes 把 token 地址路径展开成路由集合。
// 终点必须是 weth（随后接解包跳）；同一 token 对有多个候选池时
// 产生笛卡尔积，任一跳无候选即整体为空。
func expandRoutes(path []common.Address, weth common.Address, info *tokens.UniswapInfo, px *poolIndex) [][]tokens.PairContext {
	if len(path) < 2 || path[len(path)-1] != weth {
		return nil
	}
	routes := [][]tokens.PairContext{{}}
	for i := 0; i+1 < len(path); i++ {
		candidates := px.candidates(path[i], path[i+1])
		if len(candidates) == 0 {
			return nil
		}
		var next [][]tokens.PairContext
		for _, route := range routes {
			for _, pairAddr := range candidates {
				pool := px.byAddr[pairAddr]
				hop := &tokens.UniswapPairContext{
					Pair:     pairAddr,
					InToken:  path[i],
					OutToken: path[i+1],
					Info:     info,
					InitialReserves: [2]*big.Int{
						pool.Reserve0.ToBig(),
						pool.Reserve1.ToBig(),
					},
				}
				extended := append(append([]tokens.PairContext{}, route...), hop)
				next = append(next, extended)
			}
		}
		routes = next
	}
	for i := range routes {
		routes[i] = append(routes[i], &tokens.WethContext{Weth: weth})
	}
	return routes
}

// addrPath 字符串路径转地址；任何一项非法则整条作废
func addrPath(path []string) []common.Address {
	addrs := make([]common.Address, 0, len(path))
	for _, s := range path {
		if !common.IsHexAddress(s) {
			return nil
		}
		addrs = append(addrs, common.HexToAddress(s))
	}
	return addrs
}

// suffixFromToken 截取从目标 token 首次出现处开始的后缀
func suffixFromToken(path []common.Address, token common.Address) []common.Address {
	for i, addr := range path {
		if addr == token {
			return path[i:]
		}
	}
	return nil
}

func reversePath(path []common.Address) []common.Address {
	out := make([]common.Address, len(path))
	for i, addr := range path {
		out[len(path)-1-i] = addr
	}
	return out
}

// routeKey 路由的规范化键：各跳地址顺序拼接
func routeKey(route []tokens.PairContext) string {
	var sb strings.Builder
	for _, hop := range route {
		sb.WriteString(hop.Address().Hex())
		sb.WriteString(">")
	}
	return sb.String()
}

// u256FromConfig 配置金额转 uint256；负数或越界报错
func u256FromConfig(v *big.Int, what string) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s不能为负: %s", what, v.String())
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%s超出 uint256 范围: %s", what, v.String())
	}
	return u, nil
}
