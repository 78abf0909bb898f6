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
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialRecordMerge(t *testing.T) {
	rec := NewCredentialRecord()
	rec.Merge(KeyUpdate{
		"pre-key": {"1": []byte("a"), "2": []byte("b")},
		"session": {"x": []byte("s")},
	})
	rec.Merge(KeyUpdate{
		"pre-key": {"1": nil, "3": []byte("c")},
		"session": {"x": nil},
	})

	assert.Equal(t, map[string][]byte{"2": []byte("b"), "3": []byte("c")}, rec.Keys["pre-key"])
	_, ok := rec.Keys["session"]
	assert.False(t, ok, "empty category should be dropped")
}

func TestCredentialRecordMergeCopiesMaterial(t *testing.T) {
	material := []byte("abc")
	rec := NewCredentialRecord()
	rec.Merge(KeyUpdate{"pre-key": {"1": material}})
	material[0] = 'z'

	assert.Equal(t, []byte("abc"), rec.Keys["pre-key"]["1"])
}

func TestCredentialRecordLookupAndClone(t *testing.T) {
	rec := NewCredentialRecord()
	rec.Creds = []byte("creds")
	rec.Merge(KeyUpdate{"pre-key": {"1": []byte("a")}})

	assert.Equal(t, map[string][]byte{"1": []byte("a")}, rec.Lookup("pre-key", []string{"1", "2"}))
	assert.Empty(t, rec.Lookup("unknown", []string{"1"}))

	cp := rec.Clone()
	cp.Creds[0] = 'C'
	cp.Keys["pre-key"]["1"][0] = 'A'
	assert.Equal(t, []byte("creds"), rec.Creds)
	assert.Equal(t, []byte("a"), rec.Keys["pre-key"]["1"])
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"start", "stop", "relogin", "delete", "status"} {
		a, err := ParseAction(s)
		assert.NoError(t, err)
		assert.Equal(t, Action(s), a)
	}

	_, err := ParseAction("reboot")
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestRequesterID(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set(RequesterIDHeader, "dashboard-1")
	assert.Equal(t, "dashboard-1", RequesterID(r))

	r = httptest.NewRequest("GET", "/ws?requester=tab-7", nil)
	assert.Equal(t, "tab-7", RequesterID(r))

	a := httptest.NewRequest("GET", "/ws", nil)
	a.RemoteAddr = "10.0.0.1:5555"
	a.Header.Set("User-Agent", "browser")
	b := httptest.NewRequest("GET", "/ws", nil)
	b.RemoteAddr = "10.0.0.1:6666"
	b.Header.Set("User-Agent", "browser")
	assert.Equal(t, RequesterID(a), RequesterID(b))
	assert.Len(t, RequesterID(a), 12)

	c := httptest.NewRequest("GET", "/ws", nil)
	c.RemoteAddr = "10.0.0.1:5555"
	c.Header.Set("X-Forwarded-For", "192.168.1.9, 10.0.0.1")
	c.Header.Set("User-Agent", "browser")
	assert.NotEqual(t, RequesterID(a), RequesterID(c))
}
