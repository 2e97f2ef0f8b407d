package crypto_util

import (
	"testing"
)

func TestHashes(t *testing.T) {
	input := []byte("hello world")

	// SHA256
	sha256Hash := CalculateSHA256(input)
	if len(sha256Hash) != 64 { // 32 bytes * 2 hex chars
		t.Errorf("SHA256 哈希长度不匹配: 得到 %d, 期望 64", len(sha256Hash))
	}
	t.Logf("SHA256: %s", sha256Hash)

	// Keccak256
	keccakHash := CalculateKeccak256(input)
	if len(keccakHash) != 64 {
		t.Errorf("Keccak256 哈希长度不匹配: 得到 %d, 期望 64", len(keccakHash))
	}
	t.Logf("Keccak256: %s", keccakHash)

	// Blake3
	blake3Hash := CalculateBlake3(input)
	if len(blake3Hash) != 64 {
		t.Errorf("Blake3 哈希长度不匹配: 得到 %d, 期望 64", len(blake3Hash))
	}
	t.Logf("Blake3: %s", blake3Hash)
}

// 同一输入哈希稳定, 不同输入哈希不同 (锁 key 的基本要求)。
func TestBlake3Deterministic(t *testing.T) {
	a := CalculateBlake3([]byte("tx-1"))
	b := CalculateBlake3([]byte("tx-1"))
	c := CalculateBlake3([]byte("tx-2"))

	if a != b {
		t.Errorf("同一输入应得到相同哈希: %s != %s", a, b)
	}
	if a == c {
		t.Errorf("不同输入不应碰撞: %s", a)
	}
}
