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
	"fmt"
	"strings"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// Config selects where session status records live. Credentials are
// configured separately; the two may share a redis instance with different
// key prefixes.
type Config struct {
	Type  StoreType   `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

// NewStore returns the status store named by cfg.Type, memory when unset.
func NewStore(cfg Config) (core.SessionStore, error) {
	switch StoreType(strings.ToLower(string(cfg.Type))) {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("session store %q: redis.addr is required", cfg.Type)
		}
		return NewRedisStore(cfg.Redis)
	}
	return nil, fmt.Errorf("session store %q: unsupported type", cfg.Type)
}
