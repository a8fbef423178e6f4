package fuzzer

import (
	"fmt"
	"log"
	"math/big"
	"math/rand"
)

// SeedGenerator 确定性地产出 trade 输入序列。
// 同一配置种子产出完全相同的序列，campaign 因此可整体复现。
// 非并发安全：由 campaign 的单一生产者 goroutine 调用。
type SeedGenerator struct {
	rng        *rand.Rand
	base       *big.Int
	tokenCount int
	weights    SeedWeightConfig

	// 路由种子首字节循环推进，保证所有路由下标被轮询覆盖
	routeCursor uint8

	seen map[string]struct{}
}

// NewSeedGenerator 创建生成器；weights 为 nil 或全零时使用缺省权重
func NewSeedGenerator(seed int64, base *big.Int, tokenCount int, weights *SeedWeightConfig) *SeedGenerator {
	w := SeedWeightConfig{SeedBased: 0.7, Random: 0.2, Boundary: 0.1}
	if weights != nil && weights.SeedBased+weights.Random+weights.Boundary > 0 {
		w = *weights
	}
	b := new(big.Int)
	if base != nil && base.Sign() > 0 {
		b.Set(base)
	} else {
		// 缺省基准量 1 ether
		b.SetString("1000000000000000000", 10)
	}
	log.Printf("[SeedGen] seed=%d base=%s tokens=%d weights=%.2f/%.2f/%.2f",
		seed, b.String(), tokenCount, w.SeedBased, w.Random, w.Boundary)
	return &SeedGenerator{
		rng:        rand.New(rand.NewSource(seed)),
		base:       b,
		tokenCount: tokenCount,
		weights:    w,
		seen:       make(map[string]struct{}),
	}
}

// NextTrade 产出下一个 trade 输入，带去重；去重空间耗尽时接受重复
func (sg *SeedGenerator) NextTrade(iteration int) *TradeInput {
	for attempt := 0; attempt < maxDedupeAttempts; attempt++ {
		in := sg.generate(iteration)
		key := in.dedupeKey()
		if _, dup := sg.seen[key]; dup {
			continue
		}
		sg.seen[key] = struct{}{}
		return in
	}
	return sg.generate(iteration)
}

func (sg *SeedGenerator) generate(iteration int) *TradeInput {
	in := &TradeInput{
		Iteration: iteration,
		TokenIdx:  sg.rng.Intn(sg.tokenCount),
		Kind:      TradeBuy,
		Amount:    sg.mutateAmount(),
		Seed:      sg.routeSeed(),
	}
	if sg.rng.Float64() < roundtripProbability {
		in.Kind = TradeRoundtrip
		in.SellSeed = sg.routeSeed()
	}
	return in
}

// mutateAmount 按权重三选一：基准量百分比缩放 / 随机探索 / 边界值
func (sg *SeedGenerator) mutateAmount() *big.Int {
	r := sg.rng.Float64()
	switch {
	case r < sg.weights.SeedBased:
		percent := amountScalePercents[sg.rng.Intn(len(amountScalePercents))]
		amount := new(big.Int).Mul(sg.base, big.NewInt(int64(percent)))
		return amount.Div(amount, big.NewInt(100))
	case r < sg.weights.SeedBased+sg.weights.Random:
		upper := new(big.Int).Mul(sg.base, big.NewInt(10))
		amount := new(big.Int).Rand(sg.rng, upper)
		return amount.Add(amount, big.NewInt(1))
	default:
		return sg.boundaryAmount()
	}
}

// boundaryAmount 边界值：1 wei、百倍与千倍基准量
func (sg *SeedGenerator) boundaryAmount() *big.Int {
	switch sg.rng.Intn(3) {
	case 0:
		return big.NewInt(1)
	case 1:
		return new(big.Int).Mul(sg.base, big.NewInt(100))
	default:
		return new(big.Int).Mul(sg.base, big.NewInt(1000))
	}
}

// routeSeed 产出路由选择种子：首字节循环推进，
// 随机追加第二字节供收款人选取引入变化
func (sg *SeedGenerator) routeSeed() []byte {
	b := sg.routeCursor
	sg.routeCursor++
	if sg.rng.Intn(2) == 0 {
		return []byte{b}
	}
	return []byte{b, byte(sg.rng.Intn(256))}
}

// dedupeKey 输入的规范化键，amount 与两个种子完全一致才视为重复
func (in *TradeInput) dedupeKey() string {
	return fmt.Sprintf("%d|%s|%s|%x|%x", in.TokenIdx, in.Kind, in.Amount.String(), in.Seed, in.SellSeed)
}
