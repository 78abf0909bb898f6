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
	"fmt"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type boundKeys struct {
	store     core.CredentialStore
	sessionID string
}

// Bind returns the key view of one session that is handed to the protocol
// layer when a connection is opened.
func Bind(store core.CredentialStore, sessionID string) core.KeyStore {
	return boundKeys{store: store, sessionID: sessionID}
}

func (b boundKeys) Get(ctx context.Context, category string, ids []string) (map[string][]byte, error) {
	return b.store.GetKeys(ctx, b.sessionID, category, ids)
}

func (b boundKeys) Set(ctx context.Context, update core.KeyUpdate) error {
	return b.store.SetKeys(ctx, b.sessionID, update)
}

func persistenceError(op, sessionID string, err error) error {
	return fmt.Errorf("%w: %s session=%s: %w", core.ErrCredentialPersistence, op, sessionID, err)
}
