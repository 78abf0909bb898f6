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
	"sync"
	"sync/atomic"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type partition struct {
	mu     sync.Mutex
	record *core.CredentialRecord
}

// MemoryStore keeps credential records in process. Each session id has its
// own lock so sessions never contend with each other.
type MemoryStore struct {
	partitions sync.Map // session id -> *partition
	closed     atomic.Bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) partition(sessionID string) (*partition, error) {
	if m.closed.Load() {
		return nil, core.ErrStoreClosed
	}
	p, _ := m.partitions.LoadOrStore(sessionID, &partition{record: core.NewCredentialRecord()})
	return p.(*partition), nil
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*core.CredentialRecord, error) {
	p, err := m.partition(sessionID)
	if err != nil {
		return nil, persistenceError("load", sessionID, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record.Clone(), nil
}

func (m *MemoryStore) GetKeys(ctx context.Context, sessionID, category string, ids []string) (map[string][]byte, error) {
	p, err := m.partition(sessionID)
	if err != nil {
		return nil, persistenceError("get keys", sessionID, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record.Lookup(category, ids), nil
}

func (m *MemoryStore) SetKeys(ctx context.Context, sessionID string, update core.KeyUpdate) error {
	p, err := m.partition(sessionID)
	if err != nil {
		return persistenceError("set keys", sessionID, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record.Merge(update)
	return nil
}

func (m *MemoryStore) SaveCreds(ctx context.Context, sessionID string, creds []byte) error {
	p, err := m.partition(sessionID)
	if err != nil {
		return persistenceError("save creds", sessionID, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record.Creds = append([]byte(nil), creds...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if m.closed.Load() {
		return persistenceError("delete", sessionID, core.ErrStoreClosed)
	}
	m.partitions.Delete(sessionID)
	return nil
}

func (m *MemoryStore) Close() error {
	m.closed.Store(true)
	return nil
}
