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
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/google/uuid"
)

const RequesterIDHeader = "X-WSO2-Requester-ID"

// RequesterID identifies the party behind a control request. Notifications
// for sessions it starts are scoped to this id. Without an explicit id the
// caller is fingerprinted from its client address and user agent.
func RequesterID(r *http.Request) string {
	if id := r.Header.Get(RequesterIDHeader); id != "" {
		return id
	}
	if id := r.URL.Query().Get("requester"); id != "" {
		return id
	}

	host := clientHost(r)
	if host == "" {
		return uuid.NewString()
	}
	sum := sha256.Sum256([]byte(host + "|" + r.Header.Get("User-Agent")))
	return hex.EncodeToString(sum[:6])
}

// clientHost prefers the first X-Forwarded-For hop over the socket peer.
func clientHost(r *http.Request) string {
	addr := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		addr = strings.TrimSpace(first)
	}
	if addr == "" {
		return ""
	}
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().Unmap().String()
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip, err := netip.ParseAddr(addr); err == nil {
		return ip.Unmap().String()
	}
	return addr
}
