package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// FlexibleBigInt 是一个可以从多种 JSON/YAML 格式解析的 256 位整数类型
// 支持的格式:
// - 数字: 100000000
// - 十六进制字符串: "0x5f5e100"
// - 十进制字符串: "100000000"
// 金额（wei）经常超出 uint64 范围，因此底层统一使用 *big.Int
type FlexibleBigInt struct {
	value *big.Int
}

// NewFlexibleBigInt 创建一个新的 FlexibleBigInt（nil 视为 0）
func NewFlexibleBigInt(val *big.Int) FlexibleBigInt {
	if val == nil {
		return FlexibleBigInt{}
	}
	return FlexibleBigInt{value: new(big.Int).Set(val)}
}

// BigInt 返回底层 *big.Int 的拷贝（零值返回 0，永不为 nil）
func (f FlexibleBigInt) BigInt() *big.Int {
	if f.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(f.value)
}

// UnmarshalJSON 实现 json.Unmarshaler 接口
func (f *FlexibleBigInt) UnmarshalJSON(data []byte) error {
	// 尝试作为数字解析
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		return f.setFromString(num.String())
	}

	// 尝试作为字符串解析
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("既不是数字也不是字符串: %v", err)
	}
	return f.setFromString(str)
}

// MarshalJSON 实现 json.Marshaler 接口
// 序列化为十六进制字符串格式 (与以太坊标准一致)
func (f FlexibleBigInt) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("\"0x%x\"", f.BigInt())), nil
}

// UnmarshalYAML 实现 yaml.Unmarshaler 接口，供配置文件直接写大额金额
func (f *FlexibleBigInt) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		return f.setFromString(v)
	case int:
		f.value = big.NewInt(int64(v))
		return nil
	case int64:
		f.value = big.NewInt(v)
		return nil
	case uint64:
		f.value = new(big.Int).SetUint64(v)
		return nil
	case float64:
		// yaml 对科学计数法会给出 float64，按整数截断
		bf := new(big.Float).SetFloat64(v)
		f.value, _ = bf.Int(nil)
		return nil
	case nil:
		f.value = nil
		return nil
	default:
		return fmt.Errorf("无法解析的金额类型: %T", raw)
	}
}

// MarshalYAML 实现 yaml.Marshaler 接口，配置回写时使用十进制字符串
func (f FlexibleBigInt) MarshalYAML() (interface{}, error) {
	return f.BigInt().String(), nil
}

// setFromString 解析十进制或 0x 前缀的十六进制字符串
func (f *FlexibleBigInt) setFromString(str string) error {
	str = strings.TrimSpace(str)
	// 空字符串视为 0
	if str == "" || str == "0x" {
		f.value = new(big.Int)
		return nil
	}

	base := 10
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		str = str[2:]
		base = 16
	}

	v := new(big.Int)
	if _, ok := v.SetString(str, base); !ok {
		return fmt.Errorf("无效的整数字符串: %s", str)
	}
	f.value = v
	return nil
}

// String 返回十进制字符串表示
func (f FlexibleBigInt) String() string {
	return f.BigInt().String()
}

// IsZero 检查值是否为 0
func (f FlexibleBigInt) IsZero() bool {
	return f.value == nil || f.value.Sign() == 0
}

// Sign 返回符号（-1/0/1）
func (f FlexibleBigInt) Sign() int {
	if f.value == nil {
		return 0
	}
	return f.value.Sign()
}
