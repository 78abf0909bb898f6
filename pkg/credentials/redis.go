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

package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// RedisStore keeps each key category in its own hash, so concurrent
// writers touching different key ids merge field by field on the server.
//
// Layout for session S with prefix P:
//
//	P S :creds            string, creds blob
//	P S :categories       set of category names
//	P S :keys:<category>  hash, key id -> material
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "wa:auth:"
	}

	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

func (r *RedisStore) credsKey(id string) string      { return r.keyPrefix + id + ":creds" }
func (r *RedisStore) categoriesKey(id string) string { return r.keyPrefix + id + ":categories" }
func (r *RedisStore) categoryKey(id, category string) string {
	return r.keyPrefix + id + ":keys:" + category
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*core.CredentialRecord, error) {
	// SETNX makes the empty record durable on first access.
	if err := r.client.SetNX(ctx, r.credsKey(sessionID), "", 0).Err(); err != nil {
		return nil, persistenceError("load", sessionID, err)
	}

	rec := core.NewCredentialRecord()
	creds, err := r.client.Get(ctx, r.credsKey(sessionID)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, persistenceError("load", sessionID, err)
	}
	if len(creds) > 0 {
		rec.Creds = creds
	}

	categories, err := r.client.SMembers(ctx, r.categoriesKey(sessionID)).Result()
	if err != nil {
		return nil, persistenceError("load", sessionID, err)
	}
	for _, category := range categories {
		entries, err := r.client.HGetAll(ctx, r.categoryKey(sessionID, category)).Result()
		if err != nil {
			return nil, persistenceError("load", sessionID, err)
		}
		if len(entries) == 0 {
			continue
		}
		bucket := make(map[string][]byte, len(entries))
		for id, material := range entries {
			bucket[id] = []byte(material)
		}
		rec.Keys[category] = bucket
	}
	return rec, nil
}

func (r *RedisStore) GetKeys(ctx context.Context, sessionID, category string, ids []string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if len(ids) == 0 {
		return out, nil
	}
	values, err := r.client.HMGet(ctx, r.categoryKey(sessionID, category), ids...).Result()
	if err != nil {
		return nil, persistenceError("get keys", sessionID, err)
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[ids[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *RedisStore) SetKeys(ctx context.Context, sessionID string, update core.KeyUpdate) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for category, entries := range update {
			key := r.categoryKey(sessionID, category)
			var sets []interface{}
			var dels []string
			for id, material := range entries {
				if material == nil {
					dels = append(dels, id)
					continue
				}
				sets = append(sets, id, material)
			}
			if len(sets) > 0 {
				pipe.HSet(ctx, key, sets...)
				pipe.SAdd(ctx, r.categoriesKey(sessionID), category)
			}
			if len(dels) > 0 {
				pipe.HDel(ctx, key, dels...)
			}
		}
		return nil
	})
	if err != nil {
		return persistenceError("set keys", sessionID, err)
	}
	return nil
}

func (r *RedisStore) SaveCreds(ctx context.Context, sessionID string, creds []byte) error {
	if err := r.client.Set(ctx, r.credsKey(sessionID), creds, 0).Err(); err != nil {
		return persistenceError("save creds", sessionID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	categories, err := r.client.SMembers(ctx, r.categoriesKey(sessionID)).Result()
	if err != nil {
		return persistenceError("delete", sessionID, err)
	}
	keys := []string{r.credsKey(sessionID), r.categoriesKey(sessionID)}
	for _, category := range categories {
		keys = append(keys, r.categoryKey(sessionID, category))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return persistenceError("delete", sessionID, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
