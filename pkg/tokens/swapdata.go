package tokens

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SwapType 观测到的 swap 调用类别
type SwapType int

const (
	// SwapDeposit WETH deposit()
	SwapDeposit SwapType = iota
	// SwapBuy 路由器原生币买入（fee-on-transfer 变体）
	SwapBuy
	// SwapWithdraw WETH withdraw(uint256)
	SwapWithdraw
	// SwapSell 路由器卖回原生币（fee-on-transfer 变体）
	SwapSell
)

// String 返回小写类别名，作为泛化映射的键
func (t SwapType) String() string {
	switch t {
	case SwapDeposit:
		return "deposit"
	case SwapBuy:
		return "buy"
	case SwapWithdraw:
		return "withdraw"
	case SwapSell:
		return "sell"
	default:
		return "unknown"
	}
}

// swapSignatures 四类调用的标准签名，选择子在 init 中由 Keccak 计算
var swapSignatures = map[SwapType]string{
	SwapDeposit:  "deposit()",
	SwapBuy:      "swapExactETHForTokensSupportingFeeOnTransferTokens(uint256,address[],address,uint256)",
	SwapWithdraw: "withdraw(uint256)",
	SwapSell:     "swapExactTokensForETHSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)",
}

var swapSelectors = map[[4]byte]SwapType{}

// swapPathArgIndex path 参数在 ABI 参数表中的下标；deposit/withdraw 无 path
var swapPathArgIndex = map[SwapType]int{
	SwapBuy:  1,
	SwapSell: 2,
}

var (
	buyArgs  abi.Arguments
	sellArgs abi.Arguments
)

func init() {
	for ty, sig := range swapSignatures {
		var sel [4]byte
		copy(sel[:], crypto.Keccak256([]byte(sig))[:4])
		swapSelectors[sel] = ty
	}

	uint256Ty, _ := abi.NewType("uint256", "", nil)
	addressTy, _ := abi.NewType("address", "", nil)
	addressSliceTy, _ := abi.NewType("address[]", "", nil)

	// swapExactETHForTokensSupportingFeeOnTransferTokens(amountOutMin, path, to, deadline)
	buyArgs = abi.Arguments{
		{Name: "amountOutMin", Type: uint256Ty},
		{Name: "path", Type: addressSliceTy},
		{Name: "to", Type: addressTy},
		{Name: "deadline", Type: uint256Ty},
	}
	// swapExactTokensForETH...(amountIn, amountOutMin, path, to, deadline)
	sellArgs = abi.Arguments{
		{Name: "amountIn", Type: uint256Ty},
		{Name: "amountOutMin", Type: uint256Ty},
		{Name: "path", Type: addressSliceTy},
		{Name: "to", Type: addressTy},
		{Name: "deadline", Type: uint256Ty},
	}
}

// ClassifySwap 按前 4 字节选择子识别调用类别
func ClassifySwap(input []byte) (SwapType, bool) {
	if len(input) < 4 {
		return 0, false
	}
	var sel [4]byte
	copy(sel[:], input[:4])
	ty, ok := swapSelectors[sel]
	return ty, ok
}

// decodeSwapPath 解出调用中的 token 路径。无 path 参数的类别返回 (nil, true)，
// 解码失败返回 (nil, false)。
func decodeSwapPath(ty SwapType, input []byte) ([]string, bool) {
	idx, hasPath := swapPathArgIndex[ty]
	if !hasPath {
		return nil, true
	}

	var args abi.Arguments
	if ty == SwapBuy {
		args = buyArgs
	} else {
		args = sellArgs
	}
	vals, err := args.Unpack(input[4:])
	if err != nil || idx >= len(vals) {
		return nil, false
	}
	addrs, ok := vals[idx].([]common.Address)
	if !ok {
		return nil, false
	}
	path := make([]string, len(addrs))
	for i, a := range addrs {
		path[i] = a.Hex()
	}
	return path, true
}

// SwapInfo 某一类别下合并后的 token 路径
type SwapInfo struct {
	Ty     SwapType `json:"type"`
	Target string   `json:"target"`
	Path   []string `json:"path"`
}

// ConcatPath 把新观测到的路径并入已有路径：从尾部向前找第一个等于
// newPath 首元素的位置，截断后整体接上 newPath；找不到则纯追加。
// 空 newPath 不产生任何变化。
func (s *SwapInfo) ConcatPath(newPath []string) {
	if len(newPath) == 0 {
		return
	}
	cut := len(s.Path)
	for i := len(s.Path) - 1; i >= 0; i-- {
		if s.Path[i] == newPath[0] {
			cut = i
			break
		}
	}
	np := make([]string, len(newPath))
	copy(np, newPath)
	s.Path = append(s.Path[:cut], np...)
}

// SwapData 单个目标合约累积的 swap 观测，每类别一条合并路径
type SwapData struct {
	Inner map[SwapType]*SwapInfo
}

// NewSwapData 创建空观测集
func NewSwapData() *SwapData {
	return &SwapData{Inner: map[SwapType]*SwapInfo{}}
}

// Push 摄入一条观测到的调用。无法识别或解码失败的输入直接忽略
func (s *SwapData) Push(target common.Address, input []byte) {
	ty, ok := ClassifySwap(input)
	if !ok {
		return
	}
	path, ok := decodeSwapPath(ty, input)
	if !ok {
		return
	}
	info, exists := s.Inner[ty]
	if !exists {
		info = &SwapInfo{Ty: ty, Target: target.Hex(), Path: []string{}}
		s.Inner[ty] = info
	}
	info.ConcatPath(path)
}

// ToGeneric 导出为以类别名为键的快照，供报告序列化
func (s *SwapData) ToGeneric() map[string]SwapInfo {
	out := make(map[string]SwapInfo, len(s.Inner))
	for ty, info := range s.Inner {
		out[ty.String()] = *info
	}
	return out
}
