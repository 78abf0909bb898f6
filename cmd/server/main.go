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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"github.com/wso2/api-platform/gateway/session-supervisor/internal/api"
	"github.com/wso2/api-platform/gateway/session-supervisor/internal/logging"
	"github.com/wso2/api-platform/gateway/session-supervisor/internal/routing"
	"github.com/wso2/api-platform/gateway/session-supervisor/internal/supervisor"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/config"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/connector/wsbridge"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/credentials"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/session"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flagSet := pflag.NewFlagSet("session-supervisor", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the YAML config file (env CONFIG_PATH)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := newLogger(cfg.Log)

	credStore, err := credentials.NewStore(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	defer credStore.Close()

	sessionStore, err := session.NewStore(cfg.Sessions)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer sessionStore.Close()

	connector := wsbridge.New(wsbridge.Config{
		URL:         cfg.Connector.URL,
		EventBuffer: cfg.Connector.EventBuffer,
		DialTimeout: cfg.Connector.DialTimeout,
	}, logger)

	registry := plugins.NewRegistry(logger.With("component", "sinks"))
	streams := registerSinks(cfg, registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connected := registry.ConnectSinks(ctx)
	logger.Info("notification sinks connected", "connected", connected, "configured", len(cfg.Sinks))

	routes := routing.NewTable()
	sup := supervisor.New(
		supervisorConfig(cfg.Supervisor),
		connector,
		credStore,
		sessionStore,
		registry,
		routes,
		logger,
		logging.NewEventLogger(logger.With("component", "events")),
	)
	apiServer := api.NewAPIServer(sup, logger)
	for path, sink := range streams {
		sink.Bind(sup)
		apiServer.Mount(path, sink)
	}

	if err := sup.Resume(ctx, cfg.Supervisor.Autostart); err != nil {
		logger.Warn("some sessions failed to resume", "error", err)
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("session supervisor started", "port", cfg.HTTP.Port, "config", configPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if configPath != "" {
		watcher := config.NewWatcher(configPath, 0, func(next *config.Config) {
			if err := sup.Resume(gctx, next.Supervisor.Autostart); err != nil {
				logger.Warn("autostart after reload failed", "error", err)
			}
		}, logger.With("component", "config"))
		g.Go(func() error {
			watcher.Watch(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down session supervisor")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		errs := []error{server.Shutdown(shutdownCtx), sup.Shutdown(shutdownCtx)}
		registry.StopAll(shutdownCtx)
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info("session supervisor stopped")
	return err
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func supervisorConfig(c config.SupervisorConfig) supervisor.Config {
	return supervisor.Config{
		HeartbeatInterval:    c.HeartbeatInterval,
		MaxMissedBeats:       c.MaxMissedBeats,
		SendReconnectTimeout: c.SendReconnectTimeout,
		LogoutTimeout:        c.LogoutTimeout,
		Reconnect: supervisor.ReconnectConfig{
			InitialInterval: c.Reconnect.InitialInterval,
			MaxInterval:     c.Reconnect.MaxInterval,
			MaxAttempts:     c.Reconnect.MaxAttempts,
		},
	}
}
