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
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/config"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins/amqp"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins/kafka"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins/mqtt"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins/mqtt5"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins/rabbitmq"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins/redis"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins/sse"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins/ws"
)

// streamSink is a sink that dashboards connect to over HTTP.
type streamSink interface {
	core.Sink
	http.Handler
	Bind(controller core.SessionController)
}

// registerSinks registers every configured sink. Stream sinks are returned
// keyed by the path they are served on.
func registerSinks(cfg *config.Config, reg *plugins.Registry, logger *slog.Logger) map[string]streamSink {
	streams := make(map[string]streamSink)
	mount := func(name, path string, sink streamSink) {
		if _, taken := streams[path]; taken {
			logger.Warn("stream path already served, ignoring sink", "name", name, "path", path)
			return
		}
		streams[path] = sink
		reg.RegisterSink(sink)
	}

	for _, s := range cfg.Sinks {
		switch s.Type {
		case "websocket":
			mount(s.Name, pathOr(s.Config["path"], "/ws"), ws.New(s.Name, logger))
		case "sse":
			mount(s.Name, pathOr(s.Config["path"], "/events"), sse.New(s.Name, logger))
		case "kafka":
			brokers := strings.Split(s.Config["brokers"], ",")
			reg.RegisterSink(kafka.New(s.Name, brokers, s.Config["topic"], logger))
		case "rabbitmq":
			reg.RegisterSink(rabbitmq.New(
				s.Name,
				s.Config["url"],
				s.Config["exchange"], s.Config["queue"],
				logger,
			))
		case "mqtt5":
			reg.RegisterSink(mqtt5.New(s.Name, s.Config["broker"], s.Config["topic_prefix"], logger))
		case "mqtt":
			reg.RegisterSink(mqtt.New(s.Name, s.Config["broker"], s.Config["topic_prefix"], logger))
		case "amqp":
			reg.RegisterSink(amqp.New(s.Name, s.Config["url"], s.Config["address"], logger))
		case "redis":
			db, _ := strconv.Atoi(s.Config["db"])
			reg.RegisterSink(redis.New(s.Name, redis.Config{
				Addr:          s.Config["addr"],
				Password:      s.Config["password"],
				DB:            db,
				ChannelPrefix: s.Config["channel_prefix"],
			}, logger))
		default:
			logger.Warn("unknown sink type", "name", s.Name, "type", s.Type)
		}
	}
	return streams
}

func pathOr(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return path
}
