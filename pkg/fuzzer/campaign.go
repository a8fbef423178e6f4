package fuzzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"swapfuzz/pkg/oracle"
	"swapfuzz/pkg/simulator"
	"swapfuzz/pkg/tokens"
	"swapfuzz/pkg/tracer"
	"swapfuzz/pkg/types"
)

// Campaign 驱动一轮完整的 fuzzing：构建宇宙、生成输入、并行执行、归并报告
type Campaign struct {
	cfg      *Config
	universe *Universe
	registry *oracle.Registry
	seedGen  *SeedGenerator

	iterations    int
	workers       int
	progressEvery int
	outputDir     string

	mu      sync.Mutex
	results []*TradeResult
}

// NewCampaign 校验配置并准备执行环境；种子为 0 时取当前时间
func NewCampaign(cfg *Config) (*Campaign, error) {
	universe, err := BuildUniverse(cfg)
	if err != nil {
		return nil, err
	}
	if len(universe.Callers) == 0 {
		return nil, fmt.Errorf("%w: 至少需要一个调用者地址", simulator.ErrNoCallers)
	}

	iterations := cfg.Campaign.Iterations
	if iterations == 0 {
		iterations = defaultIterations
	}
	workers := cfg.Campaign.Workers
	if workers == 0 {
		workers = defaultWorkers
	}
	progressEvery := cfg.Campaign.ProgressEvery
	if progressEvery == 0 {
		progressEvery = defaultProgressEvery
	}
	outputDir := cfg.Campaign.OutputDir
	if outputDir == "" {
		outputDir = defaultOutputDir
	}

	seed := cfg.Campaign.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
		log.Printf("[Campaign] no seed configured, using %d", seed)
	}

	return &Campaign{
		cfg:           cfg,
		universe:      universe,
		registry:      oracle.DefaultRegistry(),
		seedGen:       NewSeedGenerator(seed, cfg.Campaign.BaseAmount.BigInt(), len(universe.Tokens), cfg.Campaign.Weights),
		iterations:    iterations,
		workers:       workers,
		progressEvery: progressEvery,
		outputDir:     outputDir,
	}, nil
}

// Universe 返回构建好的执行宇宙（重放与测试用）
func (c *Campaign) Universe() *Universe {
	return c.universe
}

// Results 返回已执行 trade 的结果快照
func (c *Campaign) Results() []*TradeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*TradeResult{}, c.results...)
}

// Run 执行 campaign 直至迭代耗尽或 ctx 取消，返回汇总报告
func (c *Campaign) Run(ctx context.Context) (*CampaignReport, error) {
	start := time.Now()
	log.Printf("[Campaign] starting: %d iterations, %d workers, %d tokens, %d pools",
		c.iterations, c.workers, len(c.universe.Tokens), len(c.universe.Pools))

	var wg sync.WaitGroup
	tradeChan := make(chan *TradeInput, c.workers*2)
	var executed int64

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.worker(ctx, workerID, tradeChan, &executed)
		}(i)
	}

	// 种子生成器非并发安全，由单一生产者推进
	go func() {
		defer close(tradeChan)
		for iter := 0; iter < c.iterations; iter++ {
			in := c.seedGen.NextTrade(iter)
			select {
			case tradeChan <- in:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	report := NewResultMerger().Merge(c.Results(), c.universe, c.cfg, start, time.Now())
	log.Printf("[Campaign] finished: %d feasible, %d infeasible, %d fatal, %d findings in %v",
		report.FeasibleTrades, report.InfeasibleTrades, report.FatalTrades,
		len(report.Findings), time.Since(start))
	return report, nil
}

// worker 消费 trade 输入直到通道关闭或 ctx 取消
func (c *Campaign) worker(ctx context.Context, workerID int, trades <-chan *TradeInput, executed *int64) {
	for in := range trades {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result := c.executeTrade(in)
		c.mu.Lock()
		c.results = append(c.results, result)
		c.mu.Unlock()

		if len(result.Findings) > 0 {
			log.Printf("[Worker %d] 🎯 iteration %d: %s %s amount=%s triggered %d finding(s)",
				workerID, in.Iteration, result.Kind, result.Token, result.Amount, len(result.Findings))
		}

		n := atomic.AddInt64(executed, 1)
		if c.progressEvery > 0 && n%int64(c.progressEvery) == 0 {
			log.Printf("[Campaign] progress: %d/%d trades", n, c.iterations)
		}
	}
}

// executeTrade 在隔离的账本上执行一次 trade 并跑全部检查器。
// roundtrip 只卖出本次买入新获得的余额，创世配置发放的存量不参与，
// 保证 earned/owed 比较反映的是这一轮交易本身。
func (c *Campaign) executeTrade(in *TradeInput) *TradeResult {
	token := c.universe.Tokens[in.TokenIdx]
	tokenCtx := c.universe.Contexts[token]
	st := c.universe.NewChainState()
	caller := st.RandCaller(in.Seed)

	result := &TradeResult{
		Iteration: in.Iteration,
		Token:     token.Hex(),
		Kind:      string(in.Kind),
		Amount:    in.Amount.String(),
		BuyRoute:  tokenCtx.SelectedRouteIndex(in.Seed),
		SellRoute: -1,
	}

	iterIdx := in.Iteration
	trace := tracer.NewTxnTrace()
	trace.FromIdx = &iterIdx

	balanceBefore := st.BalanceOf(token, caller)

	err := tokenCtx.Buy(st, in.Amount, caller, in.Seed)
	trace.Add(tracer.BasicTxn{
		Caller:    caller,
		Contract:  token,
		Direction: tracer.DirectionBuy,
		Value:     types.NewFlexibleBigInt(in.Amount),
		Seed:      append([]byte{}, in.Seed...),
		Flashloan: true,
		Layer:     0,
	})
	if err != nil {
		return c.finishTrade(result, st, trace, err)
	}
	result.Feasible = true

	if in.Kind == TradeRoundtrip {
		balanceAfter := st.BalanceOf(token, caller)
		acquired := new(uint256.Int).Sub(balanceAfter, balanceBefore)
		if !acquired.IsZero() {
			sellAmount := acquired.ToBig()
			result.SellRoute = tokenCtx.SelectedRouteIndex(in.SellSeed)
			err = tokenCtx.Sell(st, sellAmount, caller, in.SellSeed)
			trace.Add(tracer.BasicTxn{
				Caller:    caller,
				Contract:  token,
				Direction: tracer.DirectionSell,
				Value:     types.NewFlexibleBigInt(sellAmount),
				Seed:      append([]byte{}, in.SellSeed...),
				Flashloan: true,
				Layer:     1,
			})
			if err != nil {
				result.Feasible = false
				return c.finishTrade(result, st, trace, err)
			}
		}
	}

	return c.finishTrade(result, st, trace, nil)
}

// finishTrade 记账收尾：闪电贷汇总、检查器、轨迹落盘
func (c *Campaign) finishTrade(result *TradeResult, st *simulator.ChainState, trace *tracer.TxnTrace, err error) *TradeResult {
	if err != nil {
		if errors.Is(err, tokens.ErrInfeasibleTrade) {
			result.Feasible = false
		} else {
			result.Fatal = err.Error()
		}
	}

	fl := st.Flashloan()
	result.Owed = fl.Owed.String()
	result.Earned = fl.Earned.String()

	if result.Fatal == "" && result.Feasible {
		result.Findings = c.registry.RunAll(st)
	}

	if len(result.Findings) > 0 && c.cfg.Campaign.SaveTraces {
		path := filepath.Join(c.outputDir, "traces", fmt.Sprintf("trade_%06d.json", result.Iteration))
		if saveErr := trace.SaveJSON(path); saveErr != nil {
			log.Printf("[Campaign] failed to save trace: %v", saveErr)
		} else {
			result.TracePath = path
		}
	}
	return result
}
