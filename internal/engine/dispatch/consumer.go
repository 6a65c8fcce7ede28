// Copyright 2025 Forge Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/forge-ci/forge/pkg/log"
)

// ConsumerConfig 事件消费端配置
type ConsumerConfig struct {
	Concurrency     int            // 并发处理数
	StrictPriority  bool           // 是否严格优先级
	Queues          map[string]int // 队列名 -> 优先级权重
	LogLevel        string         // debug, info, warn, error
	ShutdownTimeout int            // 关闭超时时间（秒）
}

// HandlerFunc 事件处理函数,入参为事件原始负载
type HandlerFunc func(ctx context.Context, payload []byte) error

// Consumer 基于 asynq 的事件消费端,按事件 kind 分发到注册的处理函数
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewConsumer 复用已有的 Redis 客户端创建消费端
func NewConsumer(rdb redis.UniversalClient, cfg *ConsumerConfig) *Consumer {
	if cfg == nil {
		cfg = &ConsumerConfig{}
	}

	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{
			QueueEngine:  6,
			QueueAgent:   3,
			QueueDefault: 1,
		}
	}

	var logLevel asynq.LogLevel
	if cfg.LogLevel != "" {
		if err := logLevel.Set(cfg.LogLevel); err != nil {
			log.Warnw("invalid log level, using default info", "logLevel", cfg.LogLevel, "error", err)
			logLevel = asynq.InfoLevel
		}
	} else {
		logLevel = asynq.InfoLevel
	}

	shutdownTimeout := 10 * time.Second
	if cfg.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(cfg.ShutdownTimeout) * time.Second
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 20
	}

	server := asynq.NewServer(&redisConnOptWrapper{client: rdb}, asynq.Config{
		Concurrency:     concurrency,
		StrictPriority:  cfg.StrictPriority,
		Queues:          queues,
		Logger:          &asynqLoggerAdapter{},
		LogLevel:        logLevel,
		RetryDelayFunc:  asynq.DefaultRetryDelayFunc,
		ShutdownTimeout: shutdownTimeout,
	})

	return &Consumer{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// RegisterHandler 按事件 kind 注册处理函数
func (c *Consumer) RegisterHandler(kind string, handler HandlerFunc) {
	c.mux.HandleFunc(kind, func(ctx context.Context, t *asynq.Task) error {
		return handler(ctx, t.Payload())
	})
	log.Infow("event handler registered", "kind", kind)
}

// Start 启动消费端,立即返回
func (c *Consumer) Start() error {
	log.Info("starting event consumer")
	return c.server.Start(c.mux)
}

// Run 启动消费端并阻塞等待退出信号
func (c *Consumer) Run() error {
	log.Info("running event consumer")
	return c.server.Run(c.mux)
}

// Shutdown 关闭消费端
func (c *Consumer) Shutdown() {
	log.Info("shutting down event consumer")
	c.server.Shutdown()
}
