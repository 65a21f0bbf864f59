package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/hash/sha256"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd {
	args := m.Called(ctx, key, value, expiration)
	return goredis.NewBoolResult(args.Bool(0), args.Error(1))
}

func (m *mockClient) Get(ctx context.Context, key string) *goredis.StringCmd {
	args := m.Called(ctx, key)
	return goredis.NewStringResult(args.String(0), args.Error(1))
}

type fixedIDs string

func (f fixedIDs) NewID() (string, error) { return string(f), nil }

func TestResolveClaimsNewKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &mockClient{}
	client.On("SetNX", ctx, mock.MatchedBy(func(k string) bool {
		return len(k) == len("listing:identity:")+64
	}), "new-id", time.Duration(0)).Return(true, nil)

	r := NewWithClient(client, "", sha256.New(), fixedIDs("new-id"))
	id, created, err := r.Resolve(ctx, "https://cars.example/a", "")
	require.NoError(t, err)
	assert.Equal(t, "new-id", id)
	assert.True(t, created)
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestResolveReadsExistingKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &mockClient{}
	client.On("SetNX", ctx, mock.Anything, "candidate", time.Duration(0)).Return(false, nil)
	client.On("Get", ctx, mock.Anything).Return("first-id", nil)

	r := NewWithClient(client, "test:", sha256.New(), fixedIDs("candidate"))
	id, created, err := r.Resolve(ctx, "https://cars.example/a", "4T1C11AK5RU123456")
	require.NoError(t, err)
	assert.Equal(t, "first-id", id)
	assert.False(t, created)
	client.AssertExpectations(t)
}

func TestResolveRedisError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &mockClient{}
	client.On("SetNX", ctx, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis connection failed"))

	r := NewWithClient(client, "", sha256.New(), fixedIDs("candidate"))
	_, _, err := r.Resolve(ctx, "https://cars.example/a", "")
	var pe *listing.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, listing.PersistIdentity, pe.Kind)
	assert.Contains(t, err.Error(), "redis connection failed")
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, _, err := New(context.Background(), Config{}, sha256.New(), fixedIDs("x"))
	require.Error(t, err)
}
