package memo

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Length 是 MEMO 码的固定位数。
// 充值对账完全依赖这个码, 所以它一经分配永不变更、永不复用。
const Length = 6

var space = big.NewInt(1_000_000) // 10^Length

// New 生成一个 6 位数字的 MEMO 码 (允许前导零)。
// 唯一性由调用方保证: 生成后需查重, 冲突则重新生成。
func New() (string, error) {
	n, err := rand.Int(rand.Reader, space)
	if err != nil {
		return "", fmt.Errorf("生成随机 MEMO 失败: %w", err)
	}
	return fmt.Sprintf("%0*d", Length, n), nil
}

// Valid 校验一个观察到的 memo 是否符合固定格式。
// 格式错误的 memo 不可能匹配到账户, 直接进入 unmatched 队列。
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
