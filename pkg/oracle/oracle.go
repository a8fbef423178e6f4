// Package oracle 交易后不变量检查。
// 每笔模拟交易结束后由注册中心统一运行全部检查器，命中即产出 Finding。
package oracle

import (
	"fmt"
	"sync"

	"swapfuzz/pkg/simulator"
)

// Oracle 单个不变量检查器；Check 返回 nil 表示未触发
type Oracle interface {
	Name() string
	Check(st *simulator.ChainState) *Finding
}

// Finding 一次不变量命中
type Finding struct {
	Oracle   string            `json:"oracle"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Registry 检查器注册中心
type Registry struct {
	mu      sync.RWMutex
	oracles []Oracle
}

// NewRegistry 创建空注册中心
func NewRegistry() *Registry {
	return &Registry{}
}

// Register 注册一个检查器；同名重复注册以后者为准
func (r *Registry) Register(o Oracle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.oracles {
		if existing.Name() == o.Name() {
			r.oracles[i] = o
			return
		}
	}
	r.oracles = append(r.oracles, o)
}

// RunAll 依注册顺序运行全部检查器，返回所有命中
func (r *Registry) RunAll(st *simulator.ChainState) []*Finding {
	r.mu.RLock()
	oracles := append([]Oracle{}, r.oracles...)
	r.mu.RUnlock()

	var findings []*Finding
	for _, o := range oracles {
		if f := o.Check(st); f != nil {
			findings = append(findings, f)
		}
	}
	return findings
}

// DefaultRegistry 返回带全部内置检查器的注册中心
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&FlashloanOracle{})
	r.Register(&ReserveOracle{})
	return r
}

// FlashloanOracle 闪电贷获利检查：卖出收回的原生币超过垫付的原生币即命中。
// 调用者以零原生币起步，买入成本全部计入欠款，因此 earned > owed
// 等价于整轮交易空手套利成功。
type FlashloanOracle struct{}

// Name 返回检查器标识
func (o *FlashloanOracle) Name() string {
	return "flashloan_profit"
}

// Check earned 与 owed 比较，获利时返回包含差额的 Finding
func (o *FlashloanOracle) Check(st *simulator.ChainState) *Finding {
	fl := st.Flashloan()
	profit := fl.Profit()
	if profit.Sign() <= 0 {
		return nil
	}
	return &Finding{
		Oracle:  o.Name(),
		Message: fmt.Sprintf("flashloan profit of %s wei (earned %s, owed %s)", profit.String(), fl.Earned.String(), fl.Owed.String()),
		Metadata: map[string]string{
			"owed":   fl.Owed.String(),
			"earned": fl.Earned.String(),
			"profit": profit.String(),
		},
	}
}

// ReserveOracle 储备一致性检查：任一交易对的账面储备超过其实际 token 余额
// 即说明账本脱钩（储备只应在交换后同步为余额，永远不该高于余额）
type ReserveOracle struct{}

// Name 返回检查器标识
func (o *ReserveOracle) Name() string {
	return "reserve_desync"
}

// Check 遍历全部已物化交易对，发现第一处脱钩即返回
func (o *ReserveOracle) Check(st *simulator.ChainState) *Finding {
	for _, addr := range st.PairAddresses() {
		pair, ok := st.Pair(addr)
		if !ok {
			continue
		}
		bal0 := st.BalanceOf(pair.Token0, addr)
		bal1 := st.BalanceOf(pair.Token1, addr)
		if bal0.Lt(pair.Reserve0) || bal1.Lt(pair.Reserve1) {
			return &Finding{
				Oracle: o.Name(),
				Message: fmt.Sprintf("pair %s reserves exceed balances (r0=%s b0=%s, r1=%s b1=%s)",
					addr.Hex(), pair.Reserve0.Dec(), bal0.Dec(), pair.Reserve1.Dec(), bal1.Dec()),
				Metadata: map[string]string{
					"pair":     addr.Hex(),
					"reserve0": pair.Reserve0.Dec(),
					"balance0": bal0.Dec(),
					"reserve1": pair.Reserve1.Dec(),
					"balance1": bal1.Dec(),
				},
			}
		}
	}
	return nil
}
