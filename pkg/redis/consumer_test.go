package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pakloong/iroha/pkg/redis"
)

type MockStream struct {
	mock.Mock
}

func (m *MockStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	args := m.Called(ctx, stream, group, start)
	return args.Error(0)
}

func (m *MockStream) XReadGroup(ctx context.Context, group, consumer, stream, id string, count int64, block time.Duration) ([]goredis.XStream, error) {
	args := m.Called(ctx, group, consumer, stream, id, count, block)
	streams, _ := args.Get(0).([]goredis.XStream)
	return streams, args.Error(1)
}

func (m *MockStream) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	args := m.Called(ctx, stream, group, ids)
	return int64(args.Int(0)), args.Error(1)
}

func entries(ids ...string) []goredis.XStream {
	msgs := make([]goredis.XMessage, len(ids))
	for i, id := range ids {
		msgs[i] = goredis.XMessage{ID: id, Values: map[string]any{"height": id[:1]}}
	}
	return []goredis.XStream{{Stream: "blocks", Messages: msgs}}
}

func newConsumer(t *testing.T, stream redis.GroupStream) *redis.StreamConsumer {
	t.Helper()
	c, err := redis.NewStreamConsumer(stream, redis.StreamConsumerConfig{
		Stream:        "blocks",
		Group:         "indexer",
		Consumer:      "c1",
		Count:         10,
		Block:         time.Second,
		RetryInterval: time.Millisecond,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c
}

func TestStreamConsumerDrainsPendingThenReadsNew(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &MockStream{}
	m.On("XGroupCreateMkStream", mock.Anything, "blocks", "indexer", "0").Return(nil)
	m.On("XReadGroup", mock.Anything, "indexer", "c1", "blocks", "0", int64(10), time.Duration(-1)).Return(entries("1-0"), nil).Once()
	m.On("XReadGroup", mock.Anything, "indexer", "c1", "blocks", "1-0", int64(10), time.Duration(-1)).Return(entries(), nil).Once()
	m.On("XReadGroup", mock.Anything, "indexer", "c1", "blocks", ">", int64(10), time.Second).Return(entries("2-0", "3-0"), nil).Once()
	m.On("XReadGroup", mock.Anything, "indexer", "c1", "blocks", ">", int64(10), time.Second).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()
	m.On("XAck", mock.Anything, "blocks", "indexer", []string{"1-0"}).Return(1, nil).Once()
	m.On("XAck", mock.Anything, "blocks", "indexer", []string{"2-0"}).Return(1, nil).Once()

	var seen []string
	err := newConsumer(t, m).Run(ctx, func(_ context.Context, msg redis.Message) error {
		seen = append(seen, msg.ID)
		if msg.ID == "3-0" {
			return errors.New("not yet")
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, seen)
	m.AssertExpectations(t)
	m.AssertNotCalled(t, "XAck", mock.Anything, "blocks", "indexer", []string{"3-0"})
}

func TestStreamConsumerRetriesReadErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &MockStream{}
	m.On("XGroupCreateMkStream", mock.Anything, "blocks", "indexer", "0").Return(nil)
	m.On("XReadGroup", mock.Anything, "indexer", "c1", "blocks", "0", int64(10), time.Duration(-1)).Return(nil, errors.New("connection reset")).Once()
	m.On("XReadGroup", mock.Anything, "indexer", "c1", "blocks", "0", int64(10), time.Duration(-1)).Return(nil, goredis.Nil).Once()
	m.On("XReadGroup", mock.Anything, "indexer", "c1", "blocks", "0", int64(10), time.Duration(-1)).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()

	err := newConsumer(t, m).Run(ctx, func(context.Context, redis.Message) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	m.AssertExpectations(t)
}

func TestStreamConsumerGroupCreateFailure(t *testing.T) {
	m := &MockStream{}
	m.On("XGroupCreateMkStream", mock.Anything, "blocks", "indexer", "0").Return(errors.New("WRONGTYPE"))

	err := newConsumer(t, m).Run(context.Background(), func(context.Context, redis.Message) error { return nil })
	assert.ErrorContains(t, err, "WRONGTYPE")
}

func TestNewStreamConsumerValidates(t *testing.T) {
	m := &MockStream{}
	_, err := redis.NewStreamConsumer(nil, redis.StreamConsumerConfig{Stream: "s", Group: "g", Consumer: "c"})
	assert.Error(t, err)
	_, err = redis.NewStreamConsumer(m, redis.StreamConsumerConfig{Group: "g", Consumer: "c"})
	assert.Error(t, err)
	_, err = redis.NewStreamConsumer(m, redis.StreamConsumerConfig{Stream: "s", Group: "g"})
	assert.Error(t, err)
}

func TestMessageFields(t *testing.T) {
	msg := redis.Message{Values: map[string]any{"height": "42", "data": "\x01\x02"}}
	h, ok := msg.Height()
	assert.True(t, ok)
	assert.Equal(t, uint64(42), h)
	assert.Equal(t, []byte{1, 2}, msg.Data())

	empty := redis.Message{Values: map[string]any{"height": "x"}}
	_, ok = empty.Height()
	assert.False(t, ok)
	assert.Nil(t, empty.Data())
}

func TestIsBusyGroup(t *testing.T) {
	assert.True(t, redis.IsBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, redis.IsBusyGroup(errors.New("ERR")))
	assert.False(t, redis.IsBusyGroup(nil))
}
