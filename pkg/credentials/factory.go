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
	"fmt"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

// StoreType identifies the credential store backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeFile   StoreType = "file"
)

// Config holds credential store configuration
type Config struct {
	Type  StoreType   `yaml:"type"`
	File  FileConfig  `yaml:"file"`
	Redis RedisConfig `yaml:"redis"`
}

// NewStore creates a CredentialStore based on configuration
func NewStore(cfg Config) (core.CredentialStore, error) {
	switch cfg.Type {
	case StoreTypeFile, "":
		return NewFileStore(cfg.File)
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown credential store type: %s", cfg.Type)
	}
}
