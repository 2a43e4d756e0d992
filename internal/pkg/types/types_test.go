package types

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const systemProgramStr = "11111111111111111111111111111111"

func TestPubkeyBase58RoundTrip(t *testing.T) {
	p, err := TryPubkeyFromBase58(systemProgramStr)
	require.NoError(t, err)
	assert.Equal(t, Pubkey{}, p, "System Program 地址应为全零")
	assert.Equal(t, systemProgramStr, p.String())

	_, err = TryPubkeyFromBase58("abc")
	assert.Error(t, err, "长度不足应报错")

	assert.Panics(t, func() { PubkeyFromBase58("0OIl") })
}

func TestPubkeyFromBytes(t *testing.T) {
	_, err := PubkeyFromBytes(make([]byte, 31))
	assert.Error(t, err)

	raw := make([]byte, 32)
	raw[0] = 7
	p, err := PubkeyFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(7), p[0])

	out := PubkeysToBytes([]Pubkey{p})
	out[0][0] = 9
	assert.Equal(t, byte(7), p[0], "转换结果不能与原 Pubkey 共享内存")
}

func TestSignatureAndHash(t *testing.T) {
	raw := make([]byte, 64)
	for i := range raw {
		raw[i] = byte(i)
	}
	sig, err := SignatureFromBytes(raw)
	require.NoError(t, err)

	parsed, err := SignatureFromBase58(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)

	_, err = SignatureFromBytes(raw[:32])
	assert.Error(t, err)

	h, err := HashFromBase58(base58.Encode(raw[:32]))
	require.NoError(t, err)
	assert.Equal(t, raw[:32], h[:])

	_, err = HashFromBytes(raw)
	assert.Error(t, err)
}
