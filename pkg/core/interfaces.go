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

import "context"

// Connector opens protocol connections. The protocol implementation lives
// outside this module.
type Connector interface {
	Open(ctx context.Context, sessionID string, auth AuthState) (Conn, error)
}

// Conn is one live protocol connection.
type Conn interface {
	// Events is closed once the connection is fully torn down.
	Events() <-chan Event
	Probe(ctx context.Context) error
	Send(ctx context.Context, to, body string) (string, error)
	CheckRecipient(ctx context.Context, to string) (bool, error)
	Logout(ctx context.Context) error
	Close() error
}

// KeyStore is the session-bound key view handed to the protocol layer.
type KeyStore interface {
	Get(ctx context.Context, category string, ids []string) (map[string][]byte, error)
	Set(ctx context.Context, update KeyUpdate) error
}

type AuthState struct {
	Creds []byte
	Keys  KeyStore
}

type CredentialStore interface {
	// Load returns the stored record, creating an empty durable one for
	// unseen ids.
	Load(ctx context.Context, sessionID string) (*CredentialRecord, error)
	GetKeys(ctx context.Context, sessionID, category string, ids []string) (map[string][]byte, error)
	SetKeys(ctx context.Context, sessionID string, update KeyUpdate) error
	SaveCreds(ctx context.Context, sessionID string, creds []byte) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	// UpdateStatus creates the record when missing.
	UpdateStatus(ctx context.Context, id string, status Status, lastErr string) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Session, error)
	Close() error
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Sink is a named notification target managed by the plugin registry.
type Sink interface {
	Notifier
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// SessionController is the control surface the adapters call into.
type SessionController interface {
	StartSession(ctx context.Context, id, requester string) error
	SessionAction(ctx context.Context, requester, id string, action Action) error
	QueryStatus(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	SendMessage(ctx context.Context, id, to, body string) (string, error)
}
