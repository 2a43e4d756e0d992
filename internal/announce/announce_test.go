package announce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchKey(t *testing.T) {
	assert.Equal(t, "dmlog:batch:42", BatchKey(42))
}

// 只实现 Set/Get 的 redis.Cmdable 替身
type fakeRedis struct {
	redis.Cmdable
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	v, ok := f.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func TestRedisAnnouncer(t *testing.T) {
	rdb := newFakeRedis()
	a := NewRedisAnnouncer(rdb, 0)
	assert.Equal(t, "redis", a.Name())

	ctx := context.Background()
	require.NoError(t, a.Announce(ctx, 7, "dmlog-3-7"))
	assert.Equal(t, "dmlog-3-7", rdb.values["dmlog:batch:7"])
	assert.Equal(t, defaultKeyTTL, rdb.ttls["dmlog:batch:7"])

	got, err := a.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "dmlog-3-7", got)

	got, err = a.Lookup(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisAnnouncerError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")

	err := NewRedisAnnouncer(rdb, time.Minute).Announce(context.Background(), 1, "dmlog-1-1")
	assert.ErrorContains(t, err, "connection refused")
}

func TestKafkaAnnouncerJob(t *testing.T) {
	a := NewKafkaAnnouncer(nil, "dmlog_batches", 8)
	assert.Equal(t, "kafka", a.Name())
	assert.NoError(t, a.Validate())

	job := a.buildJob(301, "dmlog-5-301")
	assert.Equal(t, "dmlog_batches", job.Topic)
	assert.Equal(t, []byte("301"), job.Key)
	assert.Equal(t, []byte("dmlog-5-301"), job.Value)
	assert.Equal(t, int32(301&7), job.Partition)

	job = NewKafkaAnnouncer(nil, "t", 0).buildJob(1, "f")
	assert.Equal(t, kafka.PartitionAny, job.Partition)

	assert.Error(t, NewKafkaAnnouncer(nil, "", 1).Validate())
}

func TestTimeUntil(t *testing.T) {
	assert.Equal(t, minPerMessageTimeout, timeUntil(time.Now().Add(-time.Second)))
	assert.Greater(t, timeUntil(time.Now().Add(time.Minute)), 50*time.Second)
}
