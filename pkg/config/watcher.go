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

package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// Watcher polls the config file and hands every parsed change to apply.
// A newer mtime with identical content is not a change.
type Watcher struct {
	path     string
	apply    func(*Config)
	interval time.Duration
	logger   *slog.Logger

	lastMod time.Time
	digest  []byte
}

func NewWatcher(path string, interval time.Duration, apply func(*Config), logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	w := &Watcher{
		path:     path,
		apply:    apply,
		interval: interval,
		logger:   logger,
	}
	// The caller has already loaded the file as it is now.
	if info, err := os.Stat(path); err == nil {
		w.lastMod = info.ModTime()
	}
	if data, err := os.ReadFile(path); err == nil {
		sum := sha256.Sum256(data)
		w.digest = sum[:]
	}
	return w
}

func (w *Watcher) Watch(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config stat failed", "path", w.path, "error", err)
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("config read failed", "path", w.path, "error", err)
		return
	}
	sum := sha256.Sum256(data)
	if bytes.Equal(sum[:], w.digest) {
		return
	}

	cfg, err := Parse(data)
	if err != nil {
		w.logger.Error("config reload failed", "path", w.path, "error", err)
		return
	}
	w.digest = sum[:]

	w.apply(cfg)
	w.logger.Info("config reloaded", "path", w.path, "autostart", len(cfg.Supervisor.Autostart))
}
