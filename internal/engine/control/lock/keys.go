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

// Package lock 集中定义引擎使用的 Redis key 和分布式锁,
// 避免散落各处的字符串拼接。
package lock

import "fmt"

// Keys 引擎 Redis key 构造器
type Keys struct{}

// CancelMarker 构建取消标记,短 TTL,供并发中的控制器感知取消
func (Keys) CancelMarker(buildID string) string {
	return fmt.Sprintf("build:cancel:flag:%s", buildID)
}

// CancelTaskSet 某容器内被取消的 task 集合
func (Keys) CancelTaskSet(buildID, containerID string) string {
	return fmt.Sprintf("build:cancel:task:%s:%s", buildID, containerID)
}

// TaskRetryCount task 失败自动重试计数
func (Keys) TaskRetryCount(buildID, taskID string, executeCount int) string {
	return fmt.Sprintf("build:retry:count:%s:%s:%d", buildID, taskID, executeCount)
}

// BuildLock 构建级串行锁
func (Keys) BuildLock(buildID string) string {
	return fmt.Sprintf("lock:build:%s", buildID)
}

// ContainerLock 容器级串行锁
func (Keys) ContainerLock(buildID, containerID string) string {
	return fmt.Sprintf("lock:build:%s:container:%s", buildID, containerID)
}

// PipelineStartLock 流水线启动互斥锁
func (Keys) PipelineStartLock(pipelineID string) string {
	return fmt.Sprintf("lock:pipeline:start:%s", pipelineID)
}

// PipelineBuildNumLock 构建号分配锁
func (Keys) PipelineBuildNumLock(pipelineID string) string {
	return fmt.Sprintf("lock:pipeline:buildno:%s", pipelineID)
}

// MutexQueue 互斥组排队 zset
func (Keys) MutexQueue(projectID, groupName string) string {
	return fmt.Sprintf("mutex:queue:%s:%s", projectID, groupName)
}

// MutexHolder 互斥组当前持有者
func (Keys) MutexHolder(projectID, groupName string) string {
	return fmt.Sprintf("mutex:lock:%s:%s", projectID, groupName)
}
