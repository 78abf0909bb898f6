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
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type FileConfig struct {
	Dir string `yaml:"dir"`
	// Passphrase enables encryption at rest when set.
	Passphrase string `yaml:"passphrase"`
}

var (
	sessionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.@-]{0,127}$`)
	nameEncoding   = base64.RawURLEncoding
)

// FileStore keeps one directory per session:
//
//	<dir>/<id>/creds
//	<dir>/<id>/keys/<category>/<key id>
//
// Category and key id path elements are base64url encoded. Every key is its
// own file, so writes to distinct keys never rewrite each other.
type FileStore struct {
	dir    string
	env    *envelope
	locks  sync.Map // session id -> *sync.Mutex
	closed atomic.Bool
}

func NewFileStore(cfg FileConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("file credential store: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	if info, err := os.Stat(cfg.Dir); err == nil && info.Mode().Perm()&0o077 != 0 {
		_ = os.Chmod(cfg.Dir, 0o700)
	}

	s := &FileStore{dir: cfg.Dir}
	if cfg.Passphrase != "" {
		env, err := newEnvelope(cfg.Dir, cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise credential encryption: %w", err)
		}
		s.env = env
	}
	return s, nil
}

func validateSessionID(id string) error {
	if !sessionIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", core.ErrInvalidSessionID, id)
	}
	return nil
}

func (s *FileStore) lock(sessionID string) (func(), error) {
	if s.closed.Load() {
		return nil, core.ErrStoreClosed
	}
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	l, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := l.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}

// rel returns the slash separated path of a file relative to the store root.
func rel(sessionID string, elems ...string) string {
	return path.Join(append([]string{sessionID}, elems...)...)
}

func keyRel(sessionID, category, id string) string {
	return rel(sessionID, "keys", nameEncoding.EncodeToString([]byte(category)), nameEncoding.EncodeToString([]byte(id)))
}

func (s *FileStore) abs(relPath string) string {
	return filepath.Join(s.dir, filepath.FromSlash(relPath))
}

func (s *FileStore) read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(s.abs(relPath))
	if err != nil {
		return nil, err
	}
	if s.env == nil {
		return data, nil
	}
	return s.env.open(relPath, data)
}

func (s *FileStore) write(relPath string, data []byte) error {
	if s.env != nil {
		sealed, err := s.env.seal(relPath, data)
		if err != nil {
			return err
		}
		data = sealed
	}
	target := s.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return err
	}
	return writeFileAtomic(target, data)
}

func (s *FileStore) Load(ctx context.Context, sessionID string) (*core.CredentialRecord, error) {
	unlock, err := s.lock(sessionID)
	if err != nil {
		return nil, persistenceError("load", sessionID, err)
	}
	defer unlock()

	keysDir := s.abs(rel(sessionID, "keys"))
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return nil, persistenceError("load", sessionID, err)
	}

	rec := core.NewCredentialRecord()
	creds, err := s.read(rel(sessionID, "creds"))
	switch {
	case err == nil:
		rec.Creds = creds
	case !os.IsNotExist(err):
		return nil, persistenceError("load", sessionID, err)
	}

	categories, err := os.ReadDir(keysDir)
	if err != nil {
		return nil, persistenceError("load", sessionID, err)
	}
	for _, c := range categories {
		if !c.IsDir() {
			continue
		}
		category, err := nameEncoding.DecodeString(c.Name())
		if err != nil {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(keysDir, c.Name()))
		if err != nil {
			return nil, persistenceError("load", sessionID, err)
		}
		bucket := make(map[string][]byte, len(entries))
		for _, e := range entries {
			// Leftover temp files carry a dot, encoded names never do.
			if e.IsDir() || strings.Contains(e.Name(), ".") {
				continue
			}
			id, err := nameEncoding.DecodeString(e.Name())
			if err != nil {
				continue
			}
			material, err := s.read(keyRel(sessionID, string(category), string(id)))
			if err != nil {
				return nil, persistenceError("load", sessionID, err)
			}
			bucket[string(id)] = material
		}
		if len(bucket) > 0 {
			rec.Keys[string(category)] = bucket
		}
	}
	return rec, nil
}

func (s *FileStore) GetKeys(ctx context.Context, sessionID, category string, ids []string) (map[string][]byte, error) {
	unlock, err := s.lock(sessionID)
	if err != nil {
		return nil, persistenceError("get keys", sessionID, err)
	}
	defer unlock()

	out := make(map[string][]byte)
	for _, id := range ids {
		material, err := s.read(keyRel(sessionID, category, id))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, persistenceError("get keys", sessionID, err)
		}
		out[id] = material
	}
	return out, nil
}

func (s *FileStore) SetKeys(ctx context.Context, sessionID string, update core.KeyUpdate) error {
	unlock, err := s.lock(sessionID)
	if err != nil {
		return persistenceError("set keys", sessionID, err)
	}
	defer unlock()

	for category, entries := range update {
		for id, material := range entries {
			relPath := keyRel(sessionID, category, id)
			if material == nil {
				if err := os.Remove(s.abs(relPath)); err != nil && !os.IsNotExist(err) {
					return persistenceError("set keys", sessionID, err)
				}
				continue
			}
			if err := s.write(relPath, material); err != nil {
				return persistenceError("set keys", sessionID, err)
			}
		}
	}
	return nil
}

func (s *FileStore) SaveCreds(ctx context.Context, sessionID string, creds []byte) error {
	unlock, err := s.lock(sessionID)
	if err != nil {
		return persistenceError("save creds", sessionID, err)
	}
	defer unlock()

	if err := s.write(rel(sessionID, "creds"), creds); err != nil {
		return persistenceError("save creds", sessionID, err)
	}
	return nil
}

// Delete removes the whole session directory.
func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	unlock, err := s.lock(sessionID)
	if err != nil {
		return persistenceError("delete", sessionID, err)
	}
	defer unlock()

	if err := os.RemoveAll(s.abs(sessionID)); err != nil {
		return persistenceError("delete", sessionID, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	f, err := os.CreateTemp(dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	_ = os.Chmod(tmpName, 0o600)

	defer func() {
		if f != nil {
			f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		f = nil
		_ = os.Remove(tmpName)
		return err
	}
	f = nil

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()
	return df.Sync()
}
