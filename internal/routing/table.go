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

package routing

import (
	"sync"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type Table struct {
	routes sync.Map
}

func NewTable() *Table {
	return &Table{}
}

// Add binds route.SessionID to route.Requester. An empty requester is
// ignored so that a later anonymous start does not unbind the owner.
func (t *Table) Add(route *core.Route) {
	if route.Requester == "" {
		return
	}
	t.routes.Store(route.SessionID, route)
}

func (t *Table) Remove(sessionID string) {
	t.routes.Delete(sessionID)
}

func (t *Table) Lookup(sessionID string) (*core.Route, bool) {
	v, ok := t.routes.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*core.Route), true
}

// Requester returns the requester bound to sessionID, or "" for broadcast.
func (t *Table) Requester(sessionID string) string {
	if r, ok := t.Lookup(sessionID); ok {
		return r.Requester
	}
	return ""
}
