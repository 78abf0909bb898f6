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
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	saltFile = ".salt"
	saltSize = 16
)

var errWrongPassphrase = errors.New("wrong passphrase or corrupted credential file")

// envelope seals credential files with XChaCha20-Poly1305. The key is
// derived once per store from the passphrase and a salt kept next to the
// session directories.
type envelope struct {
	aead cipher.AEAD
}

func scryptParams() (n, r, p int) { return 1 << 15, 8, 1 }

func newEnvelope(dir, passphrase string) (*envelope, error) {
	salt, err := loadOrCreateSalt(filepath.Join(dir, saltFile))
	if err != nil {
		return nil, err
	}
	n, r, p := scryptParams()
	key, err := scrypt.Key([]byte(passphrase), salt, n, r, p, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &envelope{aead: aead}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, fmt.Errorf("salt file %s: unexpected size %d", path, len(salt))
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// seal binds the ciphertext to ad (the file's relative path) so files
// cannot be swapped between keys or sessions.
func (e *envelope) seal(ad string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, []byte(ad)), nil
}

func (e *envelope) open(ad string, sealed []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(sealed) < ns+e.aead.Overhead() {
		return nil, errWrongPassphrase
	}
	pt, err := e.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(ad))
	if err != nil {
		return nil, errWrongPassphrase
	}
	return pt, nil
}
