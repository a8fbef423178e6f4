package fuzzer

import (
	"context"
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapfuzz/pkg/simulator"
	"swapfuzz/pkg/tokens"
	"swapfuzz/pkg/types"
)

const (
	fuzzToken  = "0x1111000000000000000000000000000000000000"
	fuzzMid    = "0x2222000000000000000000000000000000000000"
	fuzzWeth   = "0x3333000000000000000000000000000000000000"
	fuzzOther  = "0x4444000000000000000000000000000000000000"
	fuzzPoolTM = "0xaa01000000000000000000000000000000000000"
	fuzzPoolMW = "0xbb02000000000000000000000000000000000000"
	fuzzPoolTW = "0xcc03000000000000000000000000000000000000"
	fuzzPoolT2 = "0xdd04000000000000000000000000000000000000"
	fuzzCaller = "0x00000000000000000000000000000000000000c1"
)

// testConfig token↔weth 单直接池的最小可运行配置
func testConfig() *Config {
	return &Config{
		Chain:    "eth",
		Protocol: "uniswapv2",
		Weth:     fuzzWeth,
		Callers:  []string{fuzzCaller},
		Pools: []PoolConfig{
			{
				Address:  fuzzPoolTW,
				Token0:   fuzzToken,
				Token1:   fuzzWeth,
				Reserve0: types.NewFlexibleBigInt(big.NewInt(1_000_000)),
				Reserve1: types.NewFlexibleBigInt(big.NewInt(1_000_000)),
			},
		},
		Tokens: []TokenConfig{{Address: fuzzToken}},
		Campaign: CampaignConfig{
			Iterations: 20,
			Workers:    2,
			BaseAmount: types.NewFlexibleBigInt(big.NewInt(1000)),
			Seed:       1,
		},
	}
}

// twoHopConfig token↔mid 与 mid↔weth 两池、无直接池的配置
func twoHopConfig(calldata ...string) *Config {
	cfg := testConfig()
	cfg.Pools = []PoolConfig{
		{
			Address:  fuzzPoolTM,
			Token0:   fuzzToken,
			Token1:   fuzzMid,
			Reserve0: types.NewFlexibleBigInt(big.NewInt(1_000_000)),
			Reserve1: types.NewFlexibleBigInt(big.NewInt(1_000_000)),
		},
		{
			Address:  fuzzPoolMW,
			Token0:   fuzzMid,
			Token1:   fuzzWeth,
			Reserve0: types.NewFlexibleBigInt(big.NewInt(1_000_000)),
			Reserve1: types.NewFlexibleBigInt(big.NewInt(1_000_000)),
		},
	}
	cfg.Tokens = []TokenConfig{{Address: fuzzToken, Calldata: calldata}}
	return cfg
}

func mustABIType(t *testing.T, s string) abi.Type {
	t.Helper()
	typ, err := abi.NewType(s, "", nil)
	require.NoError(t, err)
	return typ
}

func toAddrs(hexes []string) []common.Address {
	out := make([]common.Address, len(hexes))
	for i, h := range hexes {
		out[i] = common.HexToAddress(h)
	}
	return out
}

// sellObservation 构造一条 sell 方向的 router 调用观测（hex 字符串）
func sellObservation(t *testing.T, path ...string) string {
	t.Helper()
	args := abi.Arguments{
		{Type: mustABIType(t, "uint256")},
		{Type: mustABIType(t, "uint256")},
		{Type: mustABIType(t, "address[]")},
		{Type: mustABIType(t, "address")},
		{Type: mustABIType(t, "uint256")},
	}
	packed, err := args.Pack(big.NewInt(1000), big.NewInt(0), toAddrs(path), common.HexToAddress(fuzzCaller), big.NewInt(1_700_000_000))
	require.NoError(t, err)
	return "0x791ac947" + hex.EncodeToString(packed)
}

// buyObservation 构造一条 buy 方向的 router 调用观测（hex 字符串）
func buyObservation(t *testing.T, path ...string) string {
	t.Helper()
	args := abi.Arguments{
		{Type: mustABIType(t, "uint256")},
		{Type: mustABIType(t, "address[]")},
		{Type: mustABIType(t, "address")},
		{Type: mustABIType(t, "uint256")},
	}
	packed, err := args.Pack(big.NewInt(0), toAddrs(path), common.HexToAddress(fuzzCaller), big.NewInt(1_700_000_000))
	require.NoError(t, err)
	return "0xb6f9de95" + hex.EncodeToString(packed)
}

// routeAddrs 路由各跳地址的 hex 序列
func routeAddrs(route []tokens.PairContext) []string {
	out := make([]string, len(route))
	for i, hop := range route {
		out[i] = hop.Address().Hex()
	}
	return out
}

// TestConfigValidate 测试配置校验
func TestConfigValidate(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		assert.NoError(t, testConfig().Validate())
	})

	t.Run("BadChain", func(t *testing.T) {
		cfg := testConfig()
		cfg.Chain = "solana"
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadProtocol", func(t *testing.T) {
		cfg := testConfig()
		cfg.Protocol = "sushiswap"
		assert.Error(t, cfg.Validate())
	})

	t.Run("UnsupportedCombination", func(t *testing.T) {
		// biswap 只部署在 BSC，参数表错误应在启动前暴露
		cfg := testConfig()
		cfg.Protocol = "biswap"
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadWeth", func(t *testing.T) {
		cfg := testConfig()
		cfg.Weth = "not-an-address"
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadCaller", func(t *testing.T) {
		cfg := testConfig()
		cfg.Callers = []string{"0x123"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadAccount", func(t *testing.T) {
		cfg := testConfig()
		cfg.Accounts = []AccountConfig{{Address: "bogus"}}
		assert.Error(t, cfg.Validate())

		cfg = testConfig()
		cfg.Accounts = []AccountConfig{{
			Address: fuzzCaller,
			Tokens:  map[string]types.FlexibleBigInt{"bogus": types.NewFlexibleBigInt(big.NewInt(1))},
		}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadPool", func(t *testing.T) {
		cfg := testConfig()
		cfg.Pools[0].Address = "0xzz"
		assert.Error(t, cfg.Validate())

		cfg = testConfig()
		cfg.Pools[0].Token0 = "nope"
		assert.Error(t, cfg.Validate())

		cfg = testConfig()
		cfg.Pools[0].Reserve0 = types.NewFlexibleBigInt(big.NewInt(0))
		assert.Error(t, cfg.Validate(), "Zero reserves should be rejected")
	})

	t.Run("NoTokens", func(t *testing.T) {
		cfg := testConfig()
		cfg.Tokens = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadTokenAddress", func(t *testing.T) {
		cfg := testConfig()
		cfg.Tokens[0].Address = "0x12"
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadCampaignParams", func(t *testing.T) {
		cfg := testConfig()
		cfg.Campaign.Iterations = -1
		assert.Error(t, cfg.Validate())

		cfg = testConfig()
		cfg.Campaign.Workers = -2
		assert.Error(t, cfg.Validate())

		cfg = testConfig()
		cfg.Campaign.BaseAmount = types.NewFlexibleBigInt(big.NewInt(-5))
		assert.Error(t, cfg.Validate())

		cfg = testConfig()
		cfg.Campaign.Formats = []string{"xml"}
		assert.Error(t, cfg.Validate())
	})
}

// TestBuildUniverse 测试宇宙构建：创世状态、交易对规范化与路由发现
func TestBuildUniverse(t *testing.T) {
	t.Run("DirectRouteFallback", func(t *testing.T) {
		// 无任何观测语料时回退到 token↔weth 直接池
		universe, err := BuildUniverse(testConfig())
		require.NoError(t, err)

		ctx := universe.Contexts[common.HexToAddress(fuzzToken)]
		require.NotNil(t, ctx)
		assert.False(t, ctx.IsWeth)
		require.Len(t, ctx.Swaps, 1)
		assert.Equal(t, []string{
			common.HexToAddress(fuzzPoolTW).Hex(),
			common.HexToAddress(fuzzWeth).Hex(),
		}, routeAddrs(ctx.Swaps[0].Route))
	})

	t.Run("ReservesFollowTokenOrder", func(t *testing.T) {
		// 配置按 weth/token 顺序给出，规范化后储备必须跟着换位
		cfg := testConfig()
		cfg.Pools[0].Token0 = fuzzWeth
		cfg.Pools[0].Token1 = fuzzToken
		cfg.Pools[0].Reserve0 = types.NewFlexibleBigInt(big.NewInt(111)) // weth 侧
		cfg.Pools[0].Reserve1 = types.NewFlexibleBigInt(big.NewInt(222)) // token 侧

		universe, err := BuildUniverse(cfg)
		require.NoError(t, err)

		pool := universe.Pools[common.HexToAddress(fuzzPoolTW)]
		require.NotNil(t, pool)
		assert.Equal(t, common.HexToAddress(fuzzToken), pool.Token0)
		assert.Equal(t, common.HexToAddress(fuzzWeth), pool.Token1)
		assert.Equal(t, uint64(222), pool.Reserve0.Uint64())
		assert.Equal(t, uint64(111), pool.Reserve1.Uint64())
	})

	t.Run("PairHoldsItsReserves", func(t *testing.T) {
		universe, err := BuildUniverse(testConfig())
		require.NoError(t, err)

		st := universe.NewChainState()
		pair := common.HexToAddress(fuzzPoolTW)
		assert.Equal(t, uint64(1_000_000), st.BalanceOf(common.HexToAddress(fuzzToken), pair).Uint64())
		assert.Equal(t, uint64(1_000_000), st.BalanceOf(common.HexToAddress(fuzzWeth), pair).Uint64())
	})

	t.Run("CallersWired", func(t *testing.T) {
		universe, err := BuildUniverse(testConfig())
		require.NoError(t, err)

		st := universe.NewChainState()
		assert.Equal(t, []common.Address{common.HexToAddress(fuzzCaller)}, st.Callers())
	})

	t.Run("GenesisAccountsFunded", func(t *testing.T) {
		cfg := testConfig()
		cfg.Accounts = []AccountConfig{{
			Address: fuzzCaller,
			Native:  types.NewFlexibleBigInt(big.NewInt(5000)),
			Tokens:  map[string]types.FlexibleBigInt{fuzzToken: types.NewFlexibleBigInt(big.NewInt(77))},
		}}

		universe, err := BuildUniverse(cfg)
		require.NoError(t, err)

		st := universe.NewChainState()
		caller := common.HexToAddress(fuzzCaller)
		assert.Equal(t, uint64(5000), st.NativeBalance(caller).Uint64())
		assert.Equal(t, uint64(77), st.BalanceOf(common.HexToAddress(fuzzToken), caller).Uint64())
	})

	t.Run("NegativeAccountBalanceRejected", func(t *testing.T) {
		cfg := testConfig()
		cfg.Accounts = []AccountConfig{{
			Address: fuzzCaller,
			Native:  types.NewFlexibleBigInt(big.NewInt(-1)),
		}}
		_, err := BuildUniverse(cfg)
		assert.Error(t, err)
	})

	t.Run("WethTargetShortCircuits", func(t *testing.T) {
		cfg := testConfig()
		cfg.Tokens = append(cfg.Tokens, TokenConfig{Address: fuzzWeth})

		universe, err := BuildUniverse(cfg)
		require.NoError(t, err)

		ctx := universe.Contexts[common.HexToAddress(fuzzWeth)]
		require.NotNil(t, ctx)
		assert.True(t, ctx.IsWeth)
		assert.Empty(t, ctx.Swaps, "Weth itself needs no AMM routes")
	})

	t.Run("DuplicatePoolAddress", func(t *testing.T) {
		cfg := testConfig()
		cfg.Pools = append(cfg.Pools, cfg.Pools[0])
		_, err := BuildUniverse(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pools[1]")
	})

	t.Run("TokenWithoutPool", func(t *testing.T) {
		// 无池可达 weth 的 token 留空路由，campaign 会把它的 trade 记为 infeasible
		cfg := testConfig()
		cfg.Tokens = append(cfg.Tokens, TokenConfig{Address: fuzzMid})

		universe, err := BuildUniverse(cfg)
		require.NoError(t, err)
		assert.Empty(t, universe.Contexts[common.HexToAddress(fuzzMid)].Swaps)
	})

	t.Run("InvalidConfigRejected", func(t *testing.T) {
		cfg := testConfig()
		cfg.Tokens = nil
		_, err := BuildUniverse(cfg)
		assert.Error(t, err)
	})
}

// TestDefaultConfig 测试内置演示配置可直接构建，地址缺省时按 CREATE2 推导
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	universe, err := BuildUniverse(cfg)
	require.NoError(t, err)

	pairAddr := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	_, ok := universe.Pools[pairAddr]
	assert.True(t, ok, "Default pool should land on the canonical USDC/WETH pair address")

	ctx := universe.Contexts[common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")]
	require.NotNil(t, ctx)
	require.Len(t, ctx.Swaps, 1)
	assert.Equal(t, pairAddr.Hex(), routeAddrs(ctx.Swaps[0].Route)[0])
}

// TestDiscoveryFromCalldata 测试由观测语料展开路由
func TestDiscoveryFromCalldata(t *testing.T) {
	tokenAddr := common.HexToAddress(fuzzToken)
	twoHopRoute := []string{
		common.HexToAddress(fuzzPoolTM).Hex(),
		common.HexToAddress(fuzzPoolMW).Hex(),
		common.HexToAddress(fuzzWeth).Hex(),
	}

	t.Run("SellObservationExpands", func(t *testing.T) {
		cfg := twoHopConfig(sellObservation(t, fuzzToken, fuzzMid, fuzzWeth))
		universe, err := BuildUniverse(cfg)
		require.NoError(t, err)

		ctx := universe.Contexts[tokenAddr]
		require.Len(t, ctx.Swaps, 1)
		route := ctx.Swaps[0].Route
		assert.Equal(t, twoHopRoute, routeAddrs(route))

		hop0, ok := route[0].(*tokens.UniswapPairContext)
		require.True(t, ok)
		assert.Equal(t, tokenAddr, hop0.InToken)
		assert.Equal(t, common.HexToAddress(fuzzMid), hop0.OutToken)

		hop1, ok := route[1].(*tokens.UniswapPairContext)
		require.True(t, ok)
		assert.Equal(t, common.HexToAddress(fuzzMid), hop1.InToken)
		assert.Equal(t, common.HexToAddress(fuzzWeth), hop1.OutToken)
	})

	t.Run("BuyObservationReversed", func(t *testing.T) {
		// 买入路径以 weth 开头，反转后与卖出视角一致
		cfg := twoHopConfig(buyObservation(t, fuzzWeth, fuzzMid, fuzzToken))
		universe, err := BuildUniverse(cfg)
		require.NoError(t, err)

		ctx := universe.Contexts[tokenAddr]
		require.Len(t, ctx.Swaps, 1)
		assert.Equal(t, twoHopRoute, routeAddrs(ctx.Swaps[0].Route))
	})

	t.Run("BuyAndSellDeduped", func(t *testing.T) {
		cfg := twoHopConfig(
			sellObservation(t, fuzzToken, fuzzMid, fuzzWeth),
			buyObservation(t, fuzzWeth, fuzzMid, fuzzToken),
		)
		universe, err := BuildUniverse(cfg)
		require.NoError(t, err)
		assert.Len(t, universe.Contexts[tokenAddr].Swaps, 1, "Identical routes from both directions should collapse")
	})

	t.Run("LeadingHopsTrimmed", func(t *testing.T) {
		// 路径里目标 token 之前的跳与本目标无关，截掉后不需要对应池
		cfg := twoHopConfig(sellObservation(t, fuzzOther, fuzzToken, fuzzMid, fuzzWeth))
		universe, err := BuildUniverse(cfg)
		require.NoError(t, err)

		ctx := universe.Contexts[tokenAddr]
		require.Len(t, ctx.Swaps, 1)
		assert.Equal(t, twoHopRoute, routeAddrs(ctx.Swaps[0].Route))
	})

	t.Run("PathNotEndingAtWethDropped", func(t *testing.T) {
		// 观测路径不通向 weth，且无直接池可回退
		cfg := twoHopConfig(sellObservation(t, fuzzToken, fuzzMid))
		universe, err := BuildUniverse(cfg)
		require.NoError(t, err)
		assert.Empty(t, universe.Contexts[tokenAddr].Swaps)
	})

	t.Run("MultiplePoolsFanOut", func(t *testing.T) {
		// 同一 token 对有两个池时按配置顺序展开成两条路由
		cfg := testConfig()
		second := cfg.Pools[0]
		second.Address = fuzzPoolT2
		cfg.Pools = append(cfg.Pools, second)
		cfg.Tokens[0].Calldata = []string{sellObservation(t, fuzzToken, fuzzWeth)}

		universe, err := BuildUniverse(cfg)
		require.NoError(t, err)

		ctx := universe.Contexts[tokenAddr]
		require.Len(t, ctx.Swaps, 2)
		assert.Equal(t, common.HexToAddress(fuzzPoolTW).Hex(), routeAddrs(ctx.Swaps[0].Route)[0])
		assert.Equal(t, common.HexToAddress(fuzzPoolT2).Hex(), routeAddrs(ctx.Swaps[1].Route)[0])
	})
}

// TestBuildSwapData 测试观测语料解码：合法条目入账，垃圾条目忽略
func TestBuildSwapData(t *testing.T) {
	target := common.HexToAddress(fuzzToken)
	data := BuildSwapData(target, []string{
		"0xd0e30db0",     // 带 0x 前缀
		"2e1a7d4d",       // 裸 hex
		"zz-not-hex",     // 非法 hex
		"0x791ac947dead", // 选择子合法但参数截断
	})

	assert.Len(t, data.Inner, 2)
	assert.Contains(t, data.Inner, tokens.SwapDeposit)
	assert.Contains(t, data.Inner, tokens.SwapWithdraw)
	assert.NotContains(t, data.Inner, tokens.SwapSell, "Truncated sell calldata should be ignored")
}

// TestCampaignRun 测试 campaign 端到端执行
func TestCampaignRun(t *testing.T) {
	t.Run("DeterministicAggregate", func(t *testing.T) {
		runOnce := func() (*CampaignReport, *Campaign) {
			campaign, err := NewCampaign(testConfig())
			require.NoError(t, err)
			report, err := campaign.Run(context.Background())
			require.NoError(t, err)
			return report, campaign
		}

		report, campaign := runOnce()
		assert.Equal(t, "eth", report.Chain)
		assert.Equal(t, "uniswapv2", report.Protocol)
		assert.Equal(t, 20, report.Iterations)
		assert.Equal(t, 0, report.FatalTrades, "Modeling errors should never occur in a well-formed universe")
		assert.Equal(t, 20, report.FeasibleTrades+report.InfeasibleTrades)
		assert.Len(t, campaign.Results(), 20)

		stat := report.TokenStats[common.HexToAddress(fuzzToken).Hex()]
		require.NotNil(t, stat)
		assert.Equal(t, 1, stat.Routes)
		assert.Equal(t, 20, stat.Trades)
		assert.Equal(t, report.FeasibleTrades, stat.Feasible)

		// 单一对称池上的 roundtrip 恒定亏手续费，不会有任何命中
		assert.Empty(t, report.Findings)

		// 相同种子的两次 campaign 汇总一致
		report2, _ := runOnce()
		assert.Equal(t, report.FeasibleTrades, report2.FeasibleTrades)
		assert.Equal(t, report.InfeasibleTrades, report2.InfeasibleTrades)
	})

	t.Run("CancelledContextStopsEarly", func(t *testing.T) {
		campaign, err := NewCampaign(testConfig())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		report, err := campaign.Run(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, report.Iterations, 20)
	})

	t.Run("NoCallersRejected", func(t *testing.T) {
		cfg := testConfig()
		cfg.Callers = nil
		_, err := NewCampaign(cfg)
		assert.ErrorIs(t, err, simulator.ErrNoCallers)
	})

	t.Run("InvalidConfigRejected", func(t *testing.T) {
		cfg := testConfig()
		cfg.Tokens = nil
		_, err := NewCampaign(cfg)
		assert.Error(t, err)
	})
}

// TestLoadConfig 测试 YAML 配置解析
func TestLoadConfig(t *testing.T) {
	t.Run("ParsesYAML", func(t *testing.T) {
		raw := `
chain: eth
protocol: uniswapv2
weth: "0x3333000000000000000000000000000000000000"
callers:
  - "0x00000000000000000000000000000000000000c1"
accounts:
  - address: "0x00000000000000000000000000000000000000c1"
    native: "0x5f5e100"
pools:
  - address: "0xcc03000000000000000000000000000000000000"
    token0: "0x1111000000000000000000000000000000000000"
    token1: "0x3333000000000000000000000000000000000000"
    reserve0: "1000000"
    reserve1: 1000000
tokens:
  - address: "0x1111000000000000000000000000000000000000"
    calldata:
      - "0xd0e30db0"
campaign:
  iterations: 10
  workers: 2
  base_amount: "1000000000000000000"
  seed: 7
  output_dir: "./out"
  formats: [json, csv]
  progress_every: 5
  save_traces: true
  weights:
    seed_based: 0.5
    random: 0.3
    boundary: 0.2
`
		path := filepath.Join(t.TempDir(), "swapfuzz.yaml")
		require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "eth", cfg.Chain)
		assert.Equal(t, "uniswapv2", cfg.Protocol)
		assert.Equal(t, "100000000", cfg.Accounts[0].Native.String(), "Hex amounts should parse")
		require.Len(t, cfg.Pools, 1)
		assert.Equal(t, "1000000", cfg.Pools[0].Reserve0.String())
		assert.Equal(t, "1000000", cfg.Pools[0].Reserve1.String())
		assert.Equal(t, []string{"0xd0e30db0"}, cfg.Tokens[0].Calldata)
		assert.Equal(t, 10, cfg.Campaign.Iterations)
		assert.Equal(t, "1000000000000000000", cfg.Campaign.BaseAmount.String())
		assert.Equal(t, int64(7), cfg.Campaign.Seed)
		assert.Equal(t, []string{"json", "csv"}, cfg.Campaign.Formats)
		assert.Equal(t, 5, cfg.Campaign.ProgressEvery)
		assert.True(t, cfg.Campaign.SaveTraces)
		require.NotNil(t, cfg.Campaign.Weights)
		assert.Equal(t, 0.5, cfg.Campaign.Weights.SeedBased)

		assert.NoError(t, cfg.Validate())
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pools: ["), 0o644))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}
