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

package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

const outboundBufferSize = 64

// client is one dashboard connection. Frames are queued and written by a
// single goroutine.
type client struct {
	id        string
	requester string
	conn      *websocket.Conn
	send      chan Frame
	close     sync.Once
}

func newClient(id, requester string, conn *websocket.Conn) *client {
	return &client{
		id:        id,
		requester: requester,
		conn:      conn,
		send:      make(chan Frame, outboundBufferSize),
	}
}

// queue never blocks; a full buffer reports false.
func (c *client) queue(f Frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop() {
	for f := range c.send {
		if err := c.conn.WriteJSON(f); err != nil {
			return
		}
	}
}

func (c *client) shutdown() {
	c.close.Do(func() {
		_ = c.conn.Close()
		close(c.send)
	})
}
