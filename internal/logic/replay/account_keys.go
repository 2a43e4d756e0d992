package replay

import (
	"fmt"

	"dmlog-tracer-sol/internal/pkg/types"
)

// buildFullAccountKeys 拼接 message.accountKeys 与 Address Lookup Table 中的 writable / readonly 地址，
// 指令中的账户下标基于这份完整列表
func buildFullAccountKeys(accountKeys, loadedWritable, loadedReadonly [][]byte) ([]types.Pubkey, error) {
	pubkeys := make([]types.Pubkey, 0, len(accountKeys)+len(loadedWritable)+len(loadedReadonly))
	for _, part := range [][][]byte{accountKeys, loadedWritable, loadedReadonly} {
		for _, b := range part {
			key, err := types.PubkeyFromBytes(b)
			if err != nil {
				return nil, fmt.Errorf("invalid pubkey at index %d: %w", len(pubkeys), err)
			}
			pubkeys = append(pubkeys, key)
		}
	}
	return pubkeys, nil
}

func buildSignatures(raw [][]byte) ([]types.Signature, error) {
	sigs := make([]types.Signature, 0, len(raw))
	for i, b := range raw {
		sig, err := types.SignatureFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("invalid signature at index %d: %w", i, err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func resolveAccounts(accountKeys []types.Pubkey, indexes []byte) ([]types.Pubkey, error) {
	accounts := make([]types.Pubkey, 0, len(indexes))
	for _, idx := range indexes {
		if int(idx) >= len(accountKeys) {
			return nil, fmt.Errorf("account index %d out of range (%d keys)", idx, len(accountKeys))
		}
		accounts = append(accounts, accountKeys[idx])
	}
	return accounts, nil
}
