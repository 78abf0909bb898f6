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

package wsbridge

import "github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"

// Frame types sent by the protocol sidecar.
const (
	frameQR      = "qr"
	frameOpen    = "open"
	frameClose   = "close"
	frameCreds   = "creds"
	frameMessage = "message"
	frameKeysGet = "keys.get"
	frameResult  = "result"
)

// Frame types sent to the protocol sidecar.
const (
	frameHello      = "hello"
	frameProbe      = "probe"
	frameSend       = "send"
	frameCheck      = "check"
	frameLogout     = "logout"
	frameAck        = "ack"
	frameKeysResult = "keys.result"
)

// frame is the single JSON envelope of the sidecar protocol. Byte slices
// travel base64 encoded. RequestID correlates requests with their result or
// ack in either direction.
type frame struct {
	Type      string               `json:"type"`
	RequestID string               `json:"requestId,omitempty"`
	SessionID string               `json:"sessionId,omitempty"`
	Creds     []byte               `json:"creds,omitempty"`
	Category  string               `json:"category,omitempty"`
	IDs       []string             `json:"ids,omitempty"`
	Keys      core.KeyUpdate       `json:"keys,omitempty"`
	Found     map[string][]byte    `json:"found,omitempty"`
	QR        string               `json:"qr,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	LoggedOut bool                 `json:"loggedOut,omitempty"`
	Message   *core.InboundMessage `json:"message,omitempty"`
	To        string               `json:"to,omitempty"`
	Body      string               `json:"body,omitempty"`
	MessageID string               `json:"messageId,omitempty"`
	Exists    bool                 `json:"exists,omitempty"`
	Error     string               `json:"error,omitempty"`
}
