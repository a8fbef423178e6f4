package fuzzer

import (
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v2"

	"swapfuzz/pkg/types"
)

// LoadConfig 从 YAML 文件读取 campaign 配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig 默认配置：主网 USDC/WETH 池构成的演示宇宙
func DefaultConfig() *Config {
	usdcReserve := new(big.Int).Mul(big.NewInt(30_000_000), big.NewInt(1_000_000))
	wethReserve, _ := new(big.Int).SetString("15000000000000000000000", 10)
	baseAmount, _ := new(big.Int).SetString("1000000000000000000", 10)

	return &Config{
		Chain:    "eth",
		Protocol: "uniswapv2",
		Weth:     "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		Callers:  []string{"0xc0ffee254729296a45a3885639AC7E10F9d54979"},
		Pools: []PoolConfig{
			{
				Token0:   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				Token1:   "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
				Reserve0: types.NewFlexibleBigInt(usdcReserve),
				Reserve1: types.NewFlexibleBigInt(wethReserve),
			},
		},
		Tokens: []TokenConfig{
			{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
		},
		Campaign: CampaignConfig{
			Iterations: defaultIterations,
			Workers:    defaultWorkers,
			BaseAmount: types.NewFlexibleBigInt(baseAmount),
			OutputDir:  defaultOutputDir,
			Formats:    []string{"json"},
			SaveTraces: true,
		},
	}
}
