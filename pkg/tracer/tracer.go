// Package tracer 可重放的交易轨迹：记录 campaign 中每笔 trade 的完整输入，
// 命中后可离线复现同一状态。
package tracer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"swapfuzz/pkg/simulator"
	"swapfuzz/pkg/tokens"
	"swapfuzz/pkg/types"
)

// 交易方向
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// ErrUnknownContract 轨迹引用的目标 token 不在当前上下文中
var ErrUnknownContract = errors.New("unknown trace contract")

// ErrUnknownDirection 轨迹中出现未知方向
var ErrUnknownDirection = errors.New("unknown trade direction")

// BasicTxn 轨迹中的一笔交易
type BasicTxn struct {
	Caller         common.Address       `json:"caller"`                    // 发起地址
	Contract       common.Address       `json:"contract"`                  // 目标 token
	Direction      string               `json:"direction"`                 // buy / sell
	Value          types.FlexibleBigInt `json:"value"`                     // 输入量 (wei)
	Seed           hexutil.Bytes        `json:"seed"`                      // 路由选择种子
	Flashloan      bool                 `json:"flashloan"`                 // 是否闪电贷语义
	Layer          int                  `json:"layer"`                     // 同一 trade 内的序号
	AdditionalInfo string               `json:"additional_info,omitempty"` // 补充说明
}

// TxnTrace 一次 trade 的完整轨迹
type TxnTrace struct {
	Transactions []BasicTxn `json:"transactions"`
	FromIdx      *int       `json:"from_idx,omitempty"` // 产生该轨迹的迭代序号
}

// NewTxnTrace 创建空轨迹
func NewTxnTrace() *TxnTrace {
	return &TxnTrace{}
}

// Add 追加一笔交易
func (t *TxnTrace) Add(txn BasicTxn) {
	t.Transactions = append(t.Transactions, txn)
}

// String 人类可读形式，逐笔列出重放所需的全部输入
func (t *TxnTrace) String() string {
	var sb strings.Builder
	for i, txn := range t.Transactions {
		fmt.Fprintf(&sb, "=== Txn %d ===\n", i)
		fmt.Fprintf(&sb, "[Sender] %s\n", txn.Caller.Hex())
		fmt.Fprintf(&sb, "[Contract] %s\n", txn.Contract.Hex())
		fmt.Fprintf(&sb, "[Direction] %s\n", txn.Direction)
		fmt.Fprintf(&sb, "[Value] %s\n", txn.Value.String())
		fmt.Fprintf(&sb, "[Seed] %s\n", txn.Seed.String())
		if txn.Flashloan {
			sb.WriteString("[Flashloan] true\n")
		}
		if txn.AdditionalInfo != "" {
			fmt.Fprintf(&sb, "[Info] %s\n", txn.AdditionalInfo)
		}
	}
	return sb.String()
}

// SaveJSON 将轨迹写为 JSON 文件，父目录不存在时自动创建
func (t *TxnTrace) SaveJSON(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create trace dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	return nil
}

// LoadTrace 从 JSON 文件读取轨迹
func LoadTrace(path string) (*TxnTrace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	var trace TxnTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace: %w", err)
	}
	return &trace, nil
}

// ReplayOutcome 重放中单笔交易的结果
type ReplayOutcome struct {
	Index    int    `json:"index"`
	Feasible bool   `json:"feasible"`
	Error    string `json:"error,omitempty"`
}

// Replay 在给定账本上按序重放轨迹。
// 不可行的 trade 记入结果后继续；建模错误与未知目标立即终止并返回错误。
// 重放与原始执行共用同一引擎，账本摘要一致即说明复现成功。
func Replay(trace *TxnTrace, st *simulator.ChainState, contexts map[common.Address]*tokens.TokenContext) ([]ReplayOutcome, error) {
	outcomes := make([]ReplayOutcome, 0, len(trace.Transactions))
	for i, txn := range trace.Transactions {
		tc, ok := contexts[txn.Contract]
		if !ok {
			return outcomes, fmt.Errorf("%w: %s", ErrUnknownContract, txn.Contract.Hex())
		}

		var err error
		switch txn.Direction {
		case DirectionBuy:
			err = tc.Buy(st, txn.Value.BigInt(), txn.Caller, txn.Seed)
		case DirectionSell:
			err = tc.Sell(st, txn.Value.BigInt(), txn.Caller, txn.Seed)
		default:
			return outcomes, fmt.Errorf("%w: %q", ErrUnknownDirection, txn.Direction)
		}

		outcome := ReplayOutcome{Index: i, Feasible: err == nil}
		if err != nil {
			outcome.Error = err.Error()
			if !errors.Is(err, tokens.ErrInfeasibleTrade) {
				outcomes = append(outcomes, outcome)
				return outcomes, err
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
