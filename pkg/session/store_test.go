// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

func storesUnderTest(t *testing.T) map[string]core.SessionStore {
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })

	return map[string]core.SessionStore{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func TestStoreUpdateStatusCreatesRecord(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "S1")
			assert.True(t, errors.Is(err, core.ErrSessionNotFound))

			s, err := store.UpdateStatus(ctx, "S1", core.StatusConnecting, "")
			require.NoError(t, err)
			assert.Equal(t, core.StatusConnecting, s.Status)
			assert.False(t, s.LastUpdated.IsZero())

			got, err := store.Get(ctx, "S1")
			require.NoError(t, err)
			assert.Equal(t, core.StatusConnecting, got.Status)
		})
	}
}

func TestStoreUpdateStatusRefreshesTimestamp(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := store.UpdateStatus(ctx, "S1", core.StatusConnecting, "")
			require.NoError(t, err)
			second, err := store.UpdateStatus(ctx, "S1", core.StatusDisconnected, "logged out")
			require.NoError(t, err)

			assert.Equal(t, "logged out", second.LastError)
			assert.False(t, second.LastUpdated.Before(first.LastUpdated))
			assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				_, err := store.UpdateStatus(ctx, id, core.StatusConnected, "")
				require.NoError(t, err)
			}

			list, err := store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 3)

			require.NoError(t, store.Delete(ctx, "b"))
			list, err = store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 2)
			for _, s := range list {
				assert.NotEqual(t, "b", s.ID)
			}
		})
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.UpdateStatus(context.Background(), "S1", core.StatusConnected, "")
	assert.True(t, errors.Is(err, core.ErrStoreClosed))
}

func TestNewStoreUnknownType(t *testing.T) {
	_, err := NewStore(Config{Type: "mongo"})
	assert.Error(t, err)
}

func TestNewStoreRedisNeedsAddr(t *testing.T) {
	_, err := NewStore(Config{Type: StoreTypeRedis})
	assert.ErrorContains(t, err, "redis.addr")
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	store, err := NewStore(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
}
