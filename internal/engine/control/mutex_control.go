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

package control

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	englock "github.com/forge-ci/forge/internal/engine/control/lock"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
	"github.com/forge-ci/forge/internal/pkg/variable"
	"github.com/forge-ci/forge/pkg/log"
)

// AcquireResult 互斥组抢占结果
type AcquireResult int

const (
	// AcquireGot 抢到互斥组,可以执行
	AcquireGot AcquireResult = iota
	// AcquireQueued 在排队容量内,稍后重试
	AcquireQueued
	// AcquireRejected 排队满或超时,容器按失败处理
	AcquireRejected
)

const defaultMutexTimeout = 60 * time.Minute

// MutexControl 项目级互斥组。同组内同一时刻只有一个容器执行,
// 其余按配置排队或直接失败。
type MutexControl struct {
	rdb  redis.UniversalClient
	keys englock.Keys
}

func NewMutexControl(rdb redis.UniversalClient) *MutexControl {
	return &MutexControl{rdb: rdb}
}

// Decorate 用构建变量替换组名里的 ${{ }} 引用,结果存入 RuntimeName
func (m *MutexControl) Decorate(group *pipeline.MutexGroup, vars map[string]string) {
	if group == nil || !group.Enable {
		return
	}
	group.RuntimeName = variable.New(vars).Resolve(group.GroupName)
}

func (m *MutexControl) groupName(group *pipeline.MutexGroup) string {
	if group.RuntimeName != "" {
		return group.RuntimeName
	}
	return group.GroupName
}

func holderValue(buildID, containerID string) string {
	return buildID + "_" + containerID
}

// TryAcquire 尝试占用互斥组
func (m *MutexControl) TryAcquire(ctx context.Context, projectID, buildID, containerID string, group *pipeline.MutexGroup, enqueuedAt time.Time) (AcquireResult, error) {
	if group == nil || !group.Enable {
		return AcquireGot, nil
	}
	name := m.groupName(group)
	holderKey := m.keys.MutexHolder(projectID, name)
	queueKey := m.keys.MutexQueue(projectID, name)
	self := holderValue(buildID, containerID)

	ttl := defaultMutexTimeout
	if group.TimeoutMinute > 0 {
		ttl = time.Duration(group.TimeoutMinute) * time.Minute
	}

	ok, err := m.rdb.SetNX(ctx, holderKey, self, ttl).Result()
	if err != nil {
		return AcquireRejected, err
	}
	if ok {
		m.rdb.ZRem(ctx, queueKey, self)
		return AcquireGot, nil
	}

	// 持有者可能就是自己(重复投递),视作已取得
	holder, err := m.rdb.Get(ctx, holderKey).Result()
	if err == nil && holder == self {
		return AcquireGot, nil
	}

	if !group.QueueEnable {
		return AcquireRejected, nil
	}
	if group.TimeoutMinute > 0 && time.Since(enqueuedAt) > time.Duration(group.TimeoutMinute)*time.Minute {
		m.rdb.ZRem(ctx, queueKey, self)
		return AcquireRejected, nil
	}

	// 进入排队,按入队时间排序,超容量拒绝
	if err := m.rdb.ZAddNX(ctx, queueKey, redis.Z{
		Score:  float64(enqueuedAt.UnixMilli()),
		Member: self,
	}).Err(); err != nil {
		return AcquireRejected, err
	}
	rank, err := m.rdb.ZRank(ctx, queueKey, self).Result()
	if err != nil {
		return AcquireRejected, err
	}
	if group.Queue > 0 && int(rank) >= group.Queue {
		m.rdb.ZRem(ctx, queueKey, self)
		return AcquireRejected, nil
	}
	return AcquireQueued, nil
}

// Release 释放互斥组。只有持有者本人能释放,
// 重复释放与非持有者释放都是安静的空操作。
func (m *MutexControl) Release(ctx context.Context, projectID, buildID, containerID string, group *pipeline.MutexGroup) {
	if group == nil || !group.Enable {
		return
	}
	name := m.groupName(group)
	holderKey := m.keys.MutexHolder(projectID, name)
	queueKey := m.keys.MutexQueue(projectID, name)
	self := holderValue(buildID, containerID)

	m.rdb.ZRem(ctx, queueKey, self)

	holder, err := m.rdb.Get(ctx, holderKey).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warnw("mutex holder query failed", "group", name, "error", err)
		}
		return
	}
	if holder == self {
		m.rdb.Del(ctx, holderKey)
	}
}
