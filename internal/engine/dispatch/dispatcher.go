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

	"github.com/bytedance/sonic"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/forge-ci/forge/internal/engine/model/event"
	"github.com/forge-ci/forge/pkg/log"
)

// 队列名称常量
const (
	QueueEngine  = "engine"  // 引擎内部流转事件
	QueueAgent   = "agent"   // 构建机回收等外发事件
	QueueDefault = "default" // 兜底队列
)

// Dispatcher 引擎事件投递接口。投递失败只记录日志不向上抛,
// 上游状态已落库,依赖补偿轮询恢复。
type Dispatcher interface {
	Dispatch(ctx context.Context, events ...event.Event)
}

// AsynqDispatcher 基于 asynq 延迟队列的事件投递器
type AsynqDispatcher struct {
	client       *asynq.Client
	defaultQueue string
}

// NewAsynqDispatcher 复用已有的 Redis 客户端创建投递器
func NewAsynqDispatcher(rdb redis.UniversalClient) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:       asynq.NewClient(&redisConnOptWrapper{client: rdb}),
		defaultQueue: QueueEngine,
	}
}

// Dispatch 逐个投递事件,单个失败不影响其余事件
func (d *AsynqDispatcher) Dispatch(ctx context.Context, events ...event.Event) {
	for _, e := range events {
		if err := d.dispatchOne(ctx, e); err != nil {
			log.Errorw("dispatch event failed",
				"kind", e.Kind(),
				"error", err,
			)
		}
	}
}

func (d *AsynqDispatcher) dispatchOne(ctx context.Context, e event.Event) error {
	data, err := sonic.Marshal(e)
	if err != nil {
		return err
	}

	queueName := d.defaultQueue
	if hint := e.GetRoutingHint(); hint != "" {
		queueName = hint
	}

	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(3),
	}
	if delay := e.GetDelayMillis(); delay > 0 {
		opts = append(opts, asynq.ProcessIn(time.Duration(delay)*time.Millisecond))
	}

	task := asynq.NewTask(e.Kind(), data)
	_, err = d.client.EnqueueContext(ctx, task, opts...)
	return err
}

// Close 关闭底层客户端
func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// redisConnOptWrapper 包装已有的 Redis 客户端实现 RedisConnOpt 接口
type redisConnOptWrapper struct {
	client redis.UniversalClient
}

func (r *redisConnOptWrapper) MakeRedisClient() interface{} {
	return r.client
}
