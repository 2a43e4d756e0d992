package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

const PubkeySize = 32

type Pubkey [PubkeySize]byte

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) Bytes() []byte {
	return p[:]
}

// TryPubkeyFromBase58 解析 base58 字符串为 Pubkey，失败时返回 error（用于不信任输入路径）
func TryPubkeyFromBase58(s string) (Pubkey, error) {
	data, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("failed to decode base58 pubkey %q: %w", s, err)
	}
	if len(data) != PubkeySize {
		return Pubkey{}, fmt.Errorf("invalid pubkey length: got %d, want %d, input=%q", len(data), PubkeySize, s)
	}
	var p Pubkey
	copy(p[:], data)
	return p, nil
}

// PubkeyFromBase58 仅用于常量等可信输入，解析失败直接 panic
func PubkeyFromBase58(s string) Pubkey {
	p, err := TryPubkeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PubkeyFromBytes 从原始字节构造 Pubkey，长度必须为 32
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	if len(b) != PubkeySize {
		return Pubkey{}, fmt.Errorf("invalid pubkey length: got %d, want %d", len(b), PubkeySize)
	}
	var p Pubkey
	copy(p[:], b)
	return p, nil
}

// PubkeysToBytes 将 Pubkey 列表转换为 [][]byte，保持原始顺序
func PubkeysToBytes(keys []Pubkey) [][]byte {
	out := make([][]byte, len(keys))
	for i := range keys {
		out[i] = append([]byte(nil), keys[i][:]...)
	}
	return out
}
