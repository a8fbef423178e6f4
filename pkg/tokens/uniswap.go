// Package tokens 实现交易路径的核心数据模型与遍历引擎：
// 单跳抽象（AMM 交易对 / WETH 包装）、路由模型、路径合并与买卖遍历。
package tokens

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UniswapProvider 支持的 Uniswap V2 系协议
type UniswapProvider int

const (
	ProviderUniswapV2 UniswapProvider = iota
	ProviderPancakeSwap
	ProviderBiswap
)

// UniswapProviderFromStr 解析协议名（大小写不敏感）
func UniswapProviderFromStr(name string) (UniswapProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "uniswapv2", "uniswap_v2", "uniswap":
		return ProviderUniswapV2, nil
	case "pancakeswap", "pancake":
		return ProviderPancakeSwap, nil
	case "biswap":
		return ProviderBiswap, nil
	default:
		return 0, fmt.Errorf("未知的协议名: %q", name)
	}
}

// String 返回协议名
func (p UniswapProvider) String() string {
	switch p {
	case ProviderUniswapV2:
		return "uniswapv2"
	case ProviderPancakeSwap:
		return "pancakeswap"
	case ProviderBiswap:
		return "biswap"
	default:
		return "unknown"
	}
}

// Chain 目标链标识
type Chain string

const (
	ChainETH Chain = "eth"
	ChainBSC Chain = "bsc"
)

// ChainFromStr 解析链名
func ChainFromStr(name string) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "eth", "ethereum", "mainnet":
		return ChainETH, nil
	case "bsc", "binance":
		return ChainBSC, nil
	default:
		return "", fmt.Errorf("未知的链名: %q", name)
	}
}

// UniswapInfo 协议静态参数：手续费（万分比）、路由器、工厂与 CREATE2 init code hash
type UniswapInfo struct {
	PoolFee      int
	Router       common.Address
	Factory      common.Address
	InitCodeHash common.Hash
}

// GetUniswapInfo 按 (协议, 链) 查静态参数表；未知组合返回错误
func GetUniswapInfo(provider UniswapProvider, chain Chain) (*UniswapInfo, error) {
	switch {
	case provider == ProviderPancakeSwap && chain == ChainBSC:
		return &UniswapInfo{
			PoolFee:      25,
			Router:       common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E"),
			Factory:      common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"),
			InitCodeHash: common.HexToHash("0x00fb7f630766e6a796048ea87d01acd3068e8ff67d078148a3fa3f4a84f69bd5"),
		}, nil
	case provider == ProviderUniswapV2 && chain == ChainETH:
		return &UniswapInfo{
			PoolFee:      30,
			Router:       common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
			Factory:      common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"),
			InitCodeHash: common.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f"),
		}, nil
	case provider == ProviderBiswap && chain == ChainBSC:
		return &UniswapInfo{
			PoolFee:      10,
			Router:       common.HexToAddress("0x3a6d8cA21D1CF76F653A67577FA0D27453350dD8"),
			Factory:      common.HexToAddress("0x858E3312ed3A876947EA49d572A7C42DE08af7EE"),
			InitCodeHash: common.HexToHash("0xfea293c909d87cd4153593f077b76bb7e94340200f4ee84211ae8e4f9bd7ffdf"),
		}, nil
	default:
		return nil, fmt.Errorf("不支持的协议组合: %s @ %s", provider, chain)
	}
}

// SortTokens 按地址升序排列，与链上 pair 的 token0/token1 规则一致
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}

// PairAddress 按 CREATE2 规则推导交易对地址:
// keccak256(0xff ++ factory ++ keccak256(token0 ++ token1) ++ initCodeHash)[12:]
func (u *UniswapInfo) PairAddress(tokenA, tokenB common.Address) common.Address {
	token0, token1 := SortTokens(tokenA, tokenB)
	salt := crypto.Keccak256(append(token0.Bytes(), token1.Bytes()...))

	data := make([]byte, 0, 85)
	data = append(data, 0xff)
	data = append(data, u.Factory.Bytes()...)
	data = append(data, salt...)
	data = append(data, u.InitCodeHash.Bytes()...)
	return common.BytesToAddress(crypto.Keccak256(data)[12:])
}

// AmountOut 恒定乘积输出量（手续费按万分比扣除）:
// out = in·(10000-fee)·reserveOut / (reserveIn·10000 + in·(10000-fee))
func (u *UniswapInfo) AmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 ||
		reserveIn == nil || reserveIn.Sign() <= 0 ||
		reserveOut == nil || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	feeMul := big.NewInt(int64(10000 - u.PoolFee))
	amountInWithFee := new(big.Int).Mul(amountIn, feeMul)
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(10000)),
		amountInWithFee,
	)
	return new(big.Int).Div(numerator, denominator)
}
