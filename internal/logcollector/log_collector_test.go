package logcollector

import (
	"bytes"
	"strings"
	"testing"

	"dmlog-tracer-sol/internal/deepmind"
	"dmlog-tracer-sol/internal/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	logs []string
}

func (s *recordingSink) AddInstructionLog(message string) {
	s.logs = append(s.logs, message)
}

func TestBytesLimit(t *testing.T) {
	c := New(nil)
	for i := 0; i < DefaultBytesLimit*2; i++ {
		c.Log("x")
	}

	logs := c.Messages()
	require.Len(t, logs, DefaultBytesLimit)
	for _, l := range logs[:DefaultBytesLimit-1] {
		assert.Equal(t, "x", l)
	}
	assert.Equal(t, TruncatedMessage, logs[len(logs)-1])
	assert.True(t, c.Truncated())
	assert.Equal(t, DefaultBytesLimit-1, c.BytesWritten())
}

func TestCustomLimit(t *testing.T) {
	c := New(nil, WithBytesLimit(5))
	c.Log("ab")
	c.Log("abc") // 2+3 >= 5
	c.Log("a")
	c.Log("b")

	assert.Equal(t, []string{"ab", TruncatedMessage}, c.Messages())
	assert.Equal(t, 2, c.BytesWritten())
}

func TestSinkSeesEveryMessage(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, WithBytesLimit(3))
	for _, m := range []string{"a", "bb", "ccc", "d"} {
		c.Log(m)
	}

	assert.Equal(t, []string{"a", "bb", "ccc", "d"}, sink.logs, "trace 不受截断影响")
	assert.Equal(t, []string{"a", TruncatedMessage}, c.Messages())
}

func TestFullFidelity(t *testing.T) {
	c := New(nil, WithBytesLimit(2), WithFullFidelity())
	c.Log("hello")
	c.Log("world")

	assert.Equal(t, []string{TruncatedMessage}, c.Messages())
	assert.Equal(t, []string{"hello", "world"}, c.FullMessages())

	c.ClearFull()
	assert.Empty(t, c.FullMessages())
	assert.Nil(t, New(nil).FullMessages())
}

func TestMirrorsIntoActiveInstruction(t *testing.T) {
	var out bytes.Buffer
	tracer, err := deepmind.NewTracer(
		deepmind.Options{Enabled: true, BasePath: t.TempDir()},
		deepmind.WithHandoffWriter(&out),
	)
	require.NoError(t, err)

	rec := tracer.NewBatch(1)
	require.NoError(t, rec.StartTransaction([]types.Signature{{1}}, 1, 0, 0, nil, types.Hash{}))
	rec.StartInstruction(types.Pubkey{2}, nil, nil)

	c := New(rec, WithBytesLimit(4))
	c.Log("Program log: " + strings.Repeat("x", 8))
	rec.EndInstruction()

	assert.Equal(t, []string{TruncatedMessage}, c.Messages())
	_, err = rec.Flush()
	require.NoError(t, err)
	assert.Equal(t, "DMLOG BATCH_FILE dmlog-1-1\n", out.String())
}
