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

package core

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrStoreClosed      = errors.New("store closed")
	ErrUnknownAction    = errors.New("unknown session action")
	ErrSupervisorClosed = errors.New("supervisor closed")
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrSessionNotConnected is returned when an operation needs a
	// connected session.
	ErrSessionNotConnected = errors.New("session not connected")

	// ErrReauthenticationRequired means the credentials were revoked and a
	// new QR pairing is needed. Never retried automatically.
	ErrReauthenticationRequired = errors.New("re-authentication required")

	// ErrRecipientUnreachable means the target is not registered on WhatsApp.
	ErrRecipientUnreachable = errors.New("recipient not on whatsapp")

	// ErrSendFailed wraps a recipient lookup or send that the connection
	// rejected or could not complete.
	ErrSendFailed = errors.New("message send failed")

	// ErrCredentialPersistence wraps any credential store write failure.
	ErrCredentialPersistence = errors.New("credential persistence failure")

	// ErrHeartbeatExhausted is internal to the supervisor and is turned into
	// a forced reconnect.
	ErrHeartbeatExhausted = errors.New("heartbeat exhausted")

	ErrConnect = errors.New("connection failed")
	ErrProbe   = errors.New("probe failed")
	ErrClosed  = errors.New("connection closed")
)
