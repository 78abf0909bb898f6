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
	"fmt"
	"os"
	"time"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/credentials"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/session"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LogConfig          `yaml:"log"`
	HTTP        HTTPConfig         `yaml:"http"`
	Credentials credentials.Config `yaml:"credentials"`
	Sessions    session.Config     `yaml:"sessions"`
	Connector   ConnectorConfig    `yaml:"connector"`
	Supervisor  SupervisorConfig   `yaml:"supervisor"`
	Sinks       []SinkConfig       `yaml:"sinks"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type ConnectorConfig struct {
	Type        string        `yaml:"type"`
	URL         string        `yaml:"url"`
	EventBuffer int           `yaml:"event_buffer"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

type SupervisorConfig struct {
	HeartbeatInterval    time.Duration   `yaml:"heartbeat_interval"`
	MaxMissedBeats       int             `yaml:"max_missed_beats"`
	SendReconnectTimeout time.Duration   `yaml:"send_reconnect_timeout"`
	LogoutTimeout        time.Duration   `yaml:"logout_timeout"`
	Reconnect            ReconnectConfig `yaml:"reconnect"`
	// Autostart lists session ids resumed at boot and on config change.
	Autostart []string `yaml:"autostart"`
}

type SinkConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Credentials.Type == credentials.StoreTypeFile || c.Credentials.Type == "" {
		c.Credentials.Type = credentials.StoreTypeFile
		if c.Credentials.File.Dir == "" {
			c.Credentials.File.Dir = "auth"
		}
	}
	if c.Sessions.Type == "" {
		c.Sessions.Type = session.StoreTypeMemory
	}
	if c.Connector.Type == "" {
		c.Connector.Type = "wsbridge"
	}
	if c.Connector.URL == "" {
		c.Connector.URL = "ws://localhost:3001/sessions"
	}
	if c.Connector.EventBuffer <= 0 {
		c.Connector.EventBuffer = 64
	}
	if c.Connector.DialTimeout <= 0 {
		c.Connector.DialTimeout = 10 * time.Second
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Name: "dashboard", Type: "websocket"}}
	}
}

func (c *Config) validate() error {
	if c.Connector.Type != "wsbridge" {
		return fmt.Errorf("unknown connector type: %s", c.Connector.Type)
	}
	seen := make(map[string]bool, len(c.Sinks))
	for i, s := range c.Sinks {
		if s.Name == "" || s.Type == "" {
			return fmt.Errorf("sink %d: name and type are required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate sink name: %s", s.Name)
		}
		seen[s.Name] = true
	}
	ids := make(map[string]bool, len(c.Supervisor.Autostart))
	for _, id := range c.Supervisor.Autostart {
		if id == "" || ids[id] {
			return fmt.Errorf("autostart: empty or duplicate session id %q", id)
		}
		ids[id] = true
	}
	return nil
}
