package fuzzer

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"swapfuzz/pkg/oracle"
	"swapfuzz/pkg/tokens"
	"swapfuzz/pkg/types"
)

// Config campaign 的 YAML 配置
type Config struct {
	// 链与协议
	Chain    string `yaml:"chain"`    // eth / bsc
	Protocol string `yaml:"protocol"` // uniswapv2 / pancakeswap / biswap
	Weth     string `yaml:"weth"`     // 包装原生币地址

	// 宇宙构成
	Callers  []string        `yaml:"callers"`  // 候选调用者地址池
	Accounts []AccountConfig `yaml:"accounts"` // 创世账户
	Pools    []PoolConfig    `yaml:"pools"`    // 创世交易对
	Tokens   []TokenConfig   `yaml:"tokens"`   // 目标 token 列表

	// 执行参数
	Campaign CampaignConfig `yaml:"campaign"`
}

// AccountConfig 创世账户的初始余额
type AccountConfig struct {
	Address string                          `yaml:"address"`
	Native  types.FlexibleBigInt            `yaml:"native"`
	Tokens  map[string]types.FlexibleBigInt `yaml:"tokens"` // token 地址 → 余额
}

// PoolConfig 创世交易对；Address 省略时按 CREATE2 推导
type PoolConfig struct {
	Address  string               `yaml:"address"`
	Token0   string               `yaml:"token0"`
	Token1   string               `yaml:"token1"`
	Reserve0 types.FlexibleBigInt `yaml:"reserve0"`
	Reserve1 types.FlexibleBigInt `yaml:"reserve1"`
}

// TokenConfig 目标 token；Calldata 是针对它观测到的 router 调用语料（hex）
type TokenConfig struct {
	Address  string   `yaml:"address"`
	Calldata []string `yaml:"calldata"`
}

// CampaignConfig campaign 执行参数
type CampaignConfig struct {
	Iterations    int                  `yaml:"iterations"`
	Workers       int                  `yaml:"workers"`
	BaseAmount    types.FlexibleBigInt `yaml:"base_amount"` // 买入基准量 (wei)
	Seed          int64                `yaml:"seed"`        // 随机源种子，0 表示取当前时间
	OutputDir     string               `yaml:"output_dir"`
	Formats       []string             `yaml:"formats"` // json / text / csv
	ProgressEvery int                  `yaml:"progress_every"`
	Weights       *SeedWeightConfig    `yaml:"weights"` // 变异权重，缺省 0.7/0.2/0.1
	SaveTraces    bool                 `yaml:"save_traces"`
}

// SeedWeightConfig 金额变异权重配置
type SeedWeightConfig struct {
	SeedBased float64 `yaml:"seed_based" json:"seed_based"` // 围绕基准量按百分比缩放
	Random    float64 `yaml:"random" json:"random"`         // 随机探索
	Boundary  float64 `yaml:"boundary" json:"boundary"`     // 边界值
}

// Validate 配置合法性检查；campaign 启动前调用，确保协议表错误不会晚于交易暴露
func (c *Config) Validate() error {
	if _, err := tokens.ChainFromStr(c.Chain); err != nil {
		return fmt.Errorf("chain 配置无效: %w", err)
	}
	if _, err := tokens.UniswapProviderFromStr(c.Protocol); err != nil {
		return fmt.Errorf("protocol 配置无效: %w", err)
	}
	provider, _ := tokens.UniswapProviderFromStr(c.Protocol)
	chain, _ := tokens.ChainFromStr(c.Chain)
	if _, err := tokens.GetUniswapInfo(provider, chain); err != nil {
		return fmt.Errorf("协议参数表: %w", err)
	}
	if !common.IsHexAddress(c.Weth) {
		return fmt.Errorf("weth 地址无效: %q", c.Weth)
	}
	for i, caller := range c.Callers {
		if !common.IsHexAddress(caller) {
			return fmt.Errorf("callers[%d] 地址无效: %q", i, caller)
		}
	}
	for i, account := range c.Accounts {
		if !common.IsHexAddress(account.Address) {
			return fmt.Errorf("accounts[%d] 地址无效: %q", i, account.Address)
		}
		for tokenAddr := range account.Tokens {
			if !common.IsHexAddress(tokenAddr) {
				return fmt.Errorf("accounts[%d] 的 token 地址无效: %q", i, tokenAddr)
			}
		}
	}
	for i, pool := range c.Pools {
		if pool.Address != "" && !common.IsHexAddress(pool.Address) {
			return fmt.Errorf("pools[%d] 地址无效: %q", i, pool.Address)
		}
		if !common.IsHexAddress(pool.Token0) || !common.IsHexAddress(pool.Token1) {
			return fmt.Errorf("pools[%d] 的 token 地址无效", i)
		}
		if pool.Reserve0.Sign() <= 0 || pool.Reserve1.Sign() <= 0 {
			return fmt.Errorf("pools[%d] 储备必须为正", i)
		}
	}
	if len(c.Tokens) == 0 {
		return fmt.Errorf("至少需要一个目标 token")
	}
	for i, token := range c.Tokens {
		if !common.IsHexAddress(token.Address) {
			return fmt.Errorf("tokens[%d] 地址无效: %q", i, token.Address)
		}
	}
	if c.Campaign.Iterations < 0 {
		return fmt.Errorf("iterations 不能为负")
	}
	if c.Campaign.Workers < 0 {
		return fmt.Errorf("workers 不能为负")
	}
	if c.Campaign.BaseAmount.Sign() < 0 {
		return fmt.Errorf("base_amount 不能为负")
	}
	for _, format := range c.Campaign.Formats {
		switch format {
		case "json", "text", "csv":
		default:
			return fmt.Errorf("不支持的报告格式: %q", format)
		}
	}
	return nil
}

// TradeKind trade 的种类
type TradeKind string

const (
	// TradeBuy 只买入
	TradeBuy TradeKind = "buy"
	// TradeRoundtrip 买入后把获得的全部余额卖回
	TradeRoundtrip TradeKind = "roundtrip"
)

// TradeInput 一次 trade 的全部输入，完全决定执行结果
type TradeInput struct {
	Iteration int
	TokenIdx  int
	Kind      TradeKind
	Amount    *big.Int // 买入投入的原生币量
	Seed      []byte   // 买入路由选择种子
	SellSeed  []byte   // roundtrip 卖出路由选择种子
}

// TradeResult 单次 trade 的执行结果
type TradeResult struct {
	Iteration int               `json:"iteration"`
	Token     string            `json:"token"`
	Kind      string            `json:"kind"`
	Amount    string            `json:"amount"`
	BuyRoute  int               `json:"buy_route"`  // 选中的买入路由下标，-1 表示未选路
	SellRoute int               `json:"sell_route"` // 选中的卖出路由下标，-1 表示无卖出
	Feasible  bool              `json:"feasible"`
	Fatal     string            `json:"fatal,omitempty"` // 建模错误信息
	Findings  []*oracle.Finding `json:"findings,omitempty"`
	Owed      string            `json:"owed"`
	Earned    string            `json:"earned"`
	TracePath string            `json:"trace_path,omitempty"`
}

// FindingRecord 归并后的单条命中记录
type FindingRecord struct {
	Iteration int            `json:"iteration"`
	Token     string         `json:"token"`
	Kind      string         `json:"kind"`
	Amount    string         `json:"amount"`
	BuyRoute  int            `json:"buy_route"`
	SellRoute int            `json:"sell_route"`
	Finding   oracle.Finding `json:"finding"`
	TracePath string         `json:"trace_path,omitempty"`
}

// TokenStat 单个目标 token 的统计
type TokenStat struct {
	Routes   int `json:"routes"`
	Trades   int `json:"trades"`
	Feasible int `json:"feasible"`
	Findings int `json:"findings"`
}

// CampaignReport campaign 汇总报告
type CampaignReport struct {
	Chain            string                `json:"chain"`
	Protocol         string                `json:"protocol"`
	StartedAt        time.Time             `json:"started_at"`
	FinishedAt       time.Time             `json:"finished_at"`
	Iterations       int                   `json:"iterations"`
	FeasibleTrades   int                   `json:"feasible_trades"`
	InfeasibleTrades int                   `json:"infeasible_trades"`
	FatalTrades      int                   `json:"fatal_trades"`
	Findings         []FindingRecord       `json:"findings"`
	TokenStats       map[string]*TokenStat `json:"token_stats"`
}
