package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Signature 交易签名（ed25519，64 字节），第一个签名即交易 ID
type Signature [64]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func SignatureFromBase58(str string) (Signature, error) {
	var s Signature
	data, err := base58.Decode(str)
	if err != nil {
		return s, fmt.Errorf("failed to decode base58 signature %q: %w", str, err)
	}
	if len(data) != len(s) {
		return s, fmt.Errorf("invalid signature length: got %d, want %d", len(data), len(s))
	}
	copy(s[:], data)
	return s, nil
}

func SignatureFromBytes(b []byte) (Signature, error) {
	var s Signature
	if len(b) != len(s) {
		return s, fmt.Errorf("invalid signature length: got %d, want %d", len(b), len(s))
	}
	copy(s[:], b)
	return s, nil
}
