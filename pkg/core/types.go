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

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// Session is the persisted view of one supervised WhatsApp connection.
type Session struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	LastUpdated time.Time `json:"lastUpdated"`
	CreatedAt   time.Time `json:"createdAt"`
	LastError   string    `json:"lastError,omitempty"`
}

func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          id,
		Status:      StatusDisconnected,
		LastUpdated: now,
		CreatedAt:   now,
	}
}

// KeyUpdate maps key category -> key id -> material. A nil material
// removes that key id.
type KeyUpdate map[string]map[string][]byte

// CredentialRecord is the durable authentication state of one session.
type CredentialRecord struct {
	Creds []byte                       `json:"creds"`
	Keys  map[string]map[string][]byte `json:"keys"`
}

func NewCredentialRecord() *CredentialRecord {
	return &CredentialRecord{Keys: make(map[string]map[string][]byte)}
}

// Merge applies update at (category, id) granularity.
func (r *CredentialRecord) Merge(update KeyUpdate) {
	if r.Keys == nil {
		r.Keys = make(map[string]map[string][]byte)
	}
	for category, entries := range update {
		bucket, ok := r.Keys[category]
		if !ok {
			bucket = make(map[string][]byte, len(entries))
			r.Keys[category] = bucket
		}
		for id, material := range entries {
			if material == nil {
				delete(bucket, id)
				continue
			}
			bucket[id] = append([]byte(nil), material...)
		}
		if len(bucket) == 0 {
			delete(r.Keys, category)
		}
	}
}

// Lookup returns the subset of ids present in category.
func (r *CredentialRecord) Lookup(category string, ids []string) map[string][]byte {
	out := make(map[string][]byte)
	bucket := r.Keys[category]
	for _, id := range ids {
		if material, ok := bucket[id]; ok {
			out[id] = append([]byte(nil), material...)
		}
	}
	return out
}

func (r *CredentialRecord) Clone() *CredentialRecord {
	cp := NewCredentialRecord()
	if r.Creds != nil {
		cp.Creds = append([]byte(nil), r.Creds...)
	}
	for category, bucket := range r.Keys {
		dst := make(map[string][]byte, len(bucket))
		for id, material := range bucket {
			dst[id] = append([]byte(nil), material...)
		}
		cp.Keys[category] = dst
	}
	return cp
}

type EventType int

const (
	EventTypeQR EventType = iota
	EventTypeOpened
	EventTypeClosed
	EventTypeCredentials
	EventTypeMessage
)

func (t EventType) String() string {
	switch t {
	case EventTypeQR:
		return "qr"
	case EventTypeOpened:
		return "opened"
	case EventTypeClosed:
		return "closed"
	case EventTypeCredentials:
		return "credentials"
	case EventTypeMessage:
		return "message"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one lifecycle notification emitted by a Conn.
type Event struct {
	Type      EventType
	QR        string
	Reason    string
	LoggedOut bool
	Creds     []byte
	Keys      KeyUpdate
	Message   *InboundMessage
	Timestamp time.Time

	// Ack is set on credential events. The protocol side blocks on it
	// until the update has been persisted.
	Ack func(err error)
}

type InboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Body string `json:"body"`
}

type NotificationKind string

const (
	NotificationSessions NotificationKind = "sessions"
	NotificationQR       NotificationKind = "qr"
)

// Notification is what the supervisor pushes to observers. Requester
// scopes delivery; an empty Requester means broadcast.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Requester string           `json:"requester,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	QR        string           `json:"qr,omitempty"`
	Sessions  []Session        `json:"sessions,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Scope returns the requester the notification is addressed to, or
// "broadcast".
func (n Notification) Scope() string {
	if n.Requester == "" {
		return "broadcast"
	}
	return n.Requester
}

type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRelogin Action = "relogin"
	ActionDelete  Action = "delete"
	ActionStatus  Action = "status"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStart, ActionStop, ActionRelogin, ActionDelete, ActionStatus:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// Route binds a session to the party that asked for it, so that its QR
// codes and status changes reach that party first.
type Route struct {
	SessionID string
	Requester string
}
