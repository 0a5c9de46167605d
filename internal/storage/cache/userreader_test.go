package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-fanout-service/internal/storage/cache"
	"github.com/tinywideclouds/go-fanout-service/pkg/store"
)

// --- Mocks ---

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest any) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.User), args.Error(1)
}
func (m *MockRealStore) ClearPushToken(ctx context.Context, token string) ([]string, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockRealStore) ClearWebSubscription(ctx context.Context, endpoint string) ([]string, error) {
	args := m.Called(ctx, endpoint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func TestCachedUserReader_GetUser(t *testing.T) {
	ctx := context.Background()
	user := &store.User{ID: "user-1", DisplayName: "Maya", PushToken: "token-1"}
	key := "fanout:user:user-1"

	t.Run("Cache miss falls through and refills", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		reader := cache.NewCachedUserReader(mockDB, mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, key, mock.Anything).Return(assert.AnError) // miss
		mockDB.On("GetUser", ctx, "user-1").Return(user, nil)
		mockCache.On("Set", ctx, key, user, time.Hour).Return(nil)

		got, err := reader.GetUser(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, "token-1", got.PushToken)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Cache hit skips the store", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		reader := cache.NewCachedUserReader(mockDB, mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, key, mock.Anything).Run(func(args mock.Arguments) {
			*args.Get(2).(*store.User) = *user
		}).Return(nil)

		got, err := reader.GetUser(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, "Maya", got.DisplayName)
		mockDB.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything)
	})

	t.Run("Absent user is not negatively cached", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		reader := cache.NewCachedUserReader(mockDB, mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, key, mock.Anything).Return(assert.AnError)
		mockDB.On("GetUser", ctx, "user-1").Return(nil, store.ErrNotFound)

		_, err := reader.GetUser(ctx, "user-1")

		require.ErrorIs(t, err, store.ErrNotFound)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Cache fill failure does not surface", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		reader := cache.NewCachedUserReader(mockDB, mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, key, mock.Anything).Return(assert.AnError)
		mockDB.On("GetUser", ctx, "user-1").Return(user, nil)
		mockCache.On("Set", ctx, key, user, time.Hour).Return(errors.New("redis down"))

		got, err := reader.GetUser(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, user, got)
	})
}

func TestCachedUserReader_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("Clearing a token drops every affected cache entry", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		reader := cache.NewCachedUserReader(mockDB, mockDB, mockCache, time.Hour)

		// Two user docs carried the same dead token.
		mockDB.On("ClearPushToken", ctx, "dead-token").Return([]string{"user-1", "user-2"}, nil)
		mockCache.On("Del", ctx, "fanout:user:user-1").Return(nil)
		mockCache.On("Del", ctx, "fanout:user:user-2").Return(nil)

		cleared, err := reader.ClearPushToken(ctx, "dead-token")

		require.NoError(t, err)
		assert.Equal(t, []string{"user-1", "user-2"}, cleared)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Clearing a web subscription invalidates too", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		reader := cache.NewCachedUserReader(mockDB, mockDB, mockCache, time.Hour)

		mockDB.On("ClearWebSubscription", ctx, "https://push.example/dead").Return([]string{"user-1"}, nil)
		mockCache.On("Del", ctx, "fanout:user:user-1").Return(nil)

		cleared, err := reader.ClearWebSubscription(ctx, "https://push.example/dead")

		require.NoError(t, err)
		assert.Equal(t, []string{"user-1"}, cleared)
		mockCache.AssertExpectations(t)
	})
}
