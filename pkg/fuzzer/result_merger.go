package fuzzer

import (
	"fmt"
	"sort"
	"time"
)

// ResultMerger 把乱序到达的 trade 结果归并成 campaign 报告
type ResultMerger struct{}

// NewResultMerger 创建结果合并器
func NewResultMerger() *ResultMerger {
	return &ResultMerger{}
}

// Merge 汇总全部结果：按迭代排序、聚合统计、按 (token, 种类, 金额, 路由, 检查器) 去重命中
func (m *ResultMerger) Merge(results []*TradeResult, universe *Universe, cfg *Config, start, end time.Time) *CampaignReport {
	report := &CampaignReport{
		Chain:      cfg.Chain,
		Protocol:   cfg.Protocol,
		StartedAt:  start,
		FinishedAt: end,
		Iterations: len(results),
		TokenStats: make(map[string]*TokenStat),
	}
	for _, addr := range universe.Tokens {
		report.TokenStats[addr.Hex()] = &TokenStat{
			Routes: len(universe.Contexts[addr].Swaps),
		}
	}

	sorted := append([]*TradeResult{}, results...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Iteration < sorted[j].Iteration
	})

	seen := make(map[string]struct{})
	for _, r := range sorted {
		stat, ok := report.TokenStats[r.Token]
		if !ok {
			stat = &TokenStat{}
			report.TokenStats[r.Token] = stat
		}
		stat.Trades++

		switch {
		case r.Fatal != "":
			report.FatalTrades++
		case r.Feasible:
			report.FeasibleTrades++
			stat.Feasible++
		default:
			report.InfeasibleTrades++
		}

		for _, f := range r.Findings {
			stat.Findings++
			key := fmt.Sprintf("%s|%s|%s|%d|%d|%s", r.Token, r.Kind, r.Amount, r.BuyRoute, r.SellRoute, f.Oracle)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			report.Findings = append(report.Findings, FindingRecord{
				Iteration: r.Iteration,
				Token:     r.Token,
				Kind:      r.Kind,
				Amount:    r.Amount,
				BuyRoute:  r.BuyRoute,
				SellRoute: r.SellRoute,
				Finding:   *f,
				TracePath: r.TracePath,
			})
		}
	}
	return report
}
