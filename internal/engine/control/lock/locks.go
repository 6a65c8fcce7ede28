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

package lock

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forge-ci/forge/pkg/lock"
)

// Factory 构造引擎使用的各类分布式锁,便于测试替换
type Factory interface {
	BuildLock(buildID string) lock.Locker
	ContainerLock(buildID, containerID string) lock.Locker
	PipelineStartLock(pipelineID string) lock.Locker
	PipelineBuildNumLock(pipelineID string) lock.Locker
}

// RedisFactory 基于 Redis 的锁工厂
type RedisFactory struct {
	client redis.UniversalClient
	keys   Keys
}

func NewRedisFactory(client redis.UniversalClient) *RedisFactory {
	return &RedisFactory{client: client}
}

// BuildLock 同一构建的事件串行处理
func (f *RedisFactory) BuildLock(buildID string) lock.Locker {
	return lock.NewRedisLock(f.client, f.keys.BuildLock(buildID), 20*time.Second,
		lock.WithWaitTimeout(10*time.Second))
}

// ContainerLock 同一容器的 task 事件串行处理
func (f *RedisFactory) ContainerLock(buildID, containerID string) lock.Locker {
	return lock.NewRedisLock(f.client, f.keys.ContainerLock(buildID, containerID), 20*time.Second,
		lock.WithWaitTimeout(10*time.Second))
}

// PipelineStartLock 同一流水线一次只处理一个启动事件。
// 抢不到锁的事件延迟重投而不是阻塞等待,所以等待预算给得很短。
func (f *RedisFactory) PipelineStartLock(pipelineID string) lock.Locker {
	return lock.NewRedisLock(f.client, f.keys.PipelineStartLock(pipelineID), 30*time.Second,
		lock.WithWaitTimeout(time.Second))
}

// PipelineBuildNumLock 保护 buildNo 自增
func (f *RedisFactory) PipelineBuildNumLock(pipelineID string) lock.Locker {
	return lock.NewRedisLock(f.client, f.keys.PipelineBuildNumLock(pipelineID), 10*time.Second,
		lock.WithWaitTimeout(5*time.Second))
}
