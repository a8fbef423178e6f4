package fuzzer

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSeedGeneratorDeterminism 测试同种子序列完全可复现
func TestSeedGeneratorDeterminism(t *testing.T) {
	base := big.NewInt(1000)
	gen1 := NewSeedGenerator(42, base, 3, nil)
	gen2 := NewSeedGenerator(42, base, 3, nil)

	for i := 0; i < 50; i++ {
		in1 := gen1.NextTrade(i)
		in2 := gen2.NextTrade(i)
		assert.Equal(t, in1.dedupeKey(), in2.dedupeKey(), "Trade %d should match", i)
		assert.Equal(t, i, in1.Iteration)
	}

	t.Run("DifferentSeedsDiverge", func(t *testing.T) {
		a := NewSeedGenerator(1, base, 3, nil)
		b := NewSeedGenerator(2, base, 3, nil)
		diverged := false
		for i := 0; i < 20; i++ {
			if a.NextTrade(i).dedupeKey() != b.NextTrade(i).dedupeKey() {
				diverged = true
				break
			}
		}
		assert.True(t, diverged)
	})
}

// TestSeedGeneratorShape 测试产出输入的结构约束
func TestSeedGeneratorShape(t *testing.T) {
	gen := NewSeedGenerator(7, big.NewInt(1000), 4, nil)

	sawBuy, sawRoundtrip := false, false
	for i := 0; i < 200; i++ {
		in := gen.NextTrade(i)

		assert.GreaterOrEqual(t, in.TokenIdx, 0)
		assert.Less(t, in.TokenIdx, 4)
		assert.True(t, in.Amount.Sign() > 0, "Amounts are always positive")
		assert.NotEmpty(t, in.Seed)

		switch in.Kind {
		case TradeBuy:
			sawBuy = true
			assert.Nil(t, in.SellSeed, "Buy-only trades carry no sell seed")
		case TradeRoundtrip:
			sawRoundtrip = true
			assert.NotEmpty(t, in.SellSeed)
		default:
			t.Fatalf("unexpected trade kind %q", in.Kind)
		}
	}
	assert.True(t, sawBuy)
	assert.True(t, sawRoundtrip)
}

// TestRouteCursorCycles 测试路由种子首字节循环推进
func TestRouteCursorCycles(t *testing.T) {
	gen := NewSeedGenerator(9, big.NewInt(1000), 2, nil)

	// 直接驱动 generate，收集所有路由种子的首字节
	var seq []byte
	for i := 0; len(seq) < 300; i++ {
		in := gen.generate(i)
		seq = append(seq, in.Seed[0])
		if in.SellSeed != nil {
			seq = append(seq, in.SellSeed[0])
		}
	}

	for i, b := range seq {
		require.Equal(t, byte(i), b, "Cursor byte %d should advance sequentially and wrap", i)
	}
}

// TestAmountMutation 测试三种金额变异策略
func TestAmountMutation(t *testing.T) {
	base := big.NewInt(1000)

	t.Run("SeedBasedOnly", func(t *testing.T) {
		gen := NewSeedGenerator(3, base, 1, &SeedWeightConfig{SeedBased: 1})
		allowed := map[string]bool{}
		for _, p := range amountScalePercents {
			v := new(big.Int).Mul(base, big.NewInt(int64(p)))
			allowed[v.Div(v, big.NewInt(100)).String()] = true
		}
		for i := 0; i < 100; i++ {
			in := gen.NextTrade(i)
			assert.True(t, allowed[in.Amount.String()], "Amount %s should be a base percentage", in.Amount)
		}
	})

	t.Run("BoundaryOnly", func(t *testing.T) {
		gen := NewSeedGenerator(3, base, 1, &SeedWeightConfig{Boundary: 1})
		allowed := map[string]bool{
			"1":       true,
			"100000":  true, // base*100
			"1000000": true, // base*1000
		}
		for i := 0; i < 60; i++ {
			in := gen.NextTrade(i)
			assert.True(t, allowed[in.Amount.String()], "Amount %s should be a boundary value", in.Amount)
		}
	})

	t.Run("RandomOnly", func(t *testing.T) {
		gen := NewSeedGenerator(3, base, 1, &SeedWeightConfig{Random: 1})
		upper := new(big.Int).Mul(base, big.NewInt(10))
		for i := 0; i < 60; i++ {
			in := gen.NextTrade(i)
			assert.True(t, in.Amount.Sign() > 0)
			assert.True(t, in.Amount.Cmp(upper) <= 0)
		}
	})
}

// TestSeedGeneratorDefaults 测试缺省参数
func TestSeedGeneratorDefaults(t *testing.T) {
	t.Run("NilWeightsAndBase", func(t *testing.T) {
		gen := NewSeedGenerator(1, nil, 1, nil)
		assert.Equal(t, "1000000000000000000", gen.base.String(), "Default base is 1 ether")
		assert.Equal(t, SeedWeightConfig{SeedBased: 0.7, Random: 0.2, Boundary: 0.1}, gen.weights)
	})

	t.Run("ZeroSumWeightsFallBack", func(t *testing.T) {
		gen := NewSeedGenerator(1, big.NewInt(5), 1, &SeedWeightConfig{})
		assert.Equal(t, 0.7, gen.weights.SeedBased)
	})

	t.Run("NonPositiveBaseFallsBack", func(t *testing.T) {
		gen := NewSeedGenerator(1, big.NewInt(-10), 1, nil)
		assert.Equal(t, "1000000000000000000", gen.base.String())
	})
}

// TestDedupe 测试输入去重
func TestDedupe(t *testing.T) {
	gen := NewSeedGenerator(11, big.NewInt(1000), 2, nil)

	seen := make(map[string]int)
	for i := 0; i < 80; i++ {
		key := gen.NextTrade(i).dedupeKey()
		seen[key]++
	}
	// 去重空间远未耗尽时不应出现重复
	for key, count := range seen {
		assert.Equal(t, 1, count, "Input %s should appear once", key)
	}
	assert.Len(t, gen.seen, len(seen))
}
