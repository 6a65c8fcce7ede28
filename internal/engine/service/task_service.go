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

package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	englock "github.com/forge-ci/forge/internal/engine/control/lock"
	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
	"github.com/forge-ci/forge/internal/engine/repo"
)

// 取消标记与取消 task 集合的保留时间
const (
	cancelMarkerTTL  = 5 * time.Second
	cancelTaskSetTTL = 24 * time.Hour
	retryCountTTL    = 24 * time.Hour
)

// BuildTaskService task 运行记录与取消/重试的 Redis 簿记
type BuildTaskService struct {
	taskRepo repo.IBuildTaskRepository
	rdb      redis.UniversalClient
	keys     englock.Keys
}

func NewBuildTaskService(taskRepo repo.IBuildTaskRepository, rdb redis.UniversalClient) *BuildTaskService {
	return &BuildTaskService{taskRepo: taskRepo, rdb: rdb}
}

// GetTask 读取 task 运行记录
func (s *BuildTaskService) GetTask(buildID, taskID string) (*model.BuildTask, error) {
	return s.taskRepo.GetTask(buildID, taskID)
}

// ListContainerTasks 按容器列出 task
func (s *BuildTaskService) ListContainerTasks(buildID, containerID string) ([]*model.BuildTask, error) {
	return s.taskRepo.ListTasksByContainer(buildID, containerID)
}

// StartTask task 进入运行
func (s *BuildTaskService) StartTask(buildID, taskID, starter string, executeCount int) error {
	return s.taskRepo.StartTask(buildID, taskID, pipeline.StatusRunning, starter, executeCount)
}

// UpdateTaskStatus 状态直写
func (s *BuildTaskService) UpdateTaskStatus(buildID, taskID string, status pipeline.BuildStatus) error {
	return s.taskRepo.UpdateTaskStatus(buildID, taskID, status)
}

// FinishTask task 落终态
func (s *BuildTaskService) FinishTask(buildID, taskID string, status pipeline.BuildStatus, errorType string, errorCode int, errorMsg string) error {
	return s.taskRepo.FinishTask(buildID, taskID, status, errorType, errorCode, errorMsg)
}

// BatchUnexec 把容器内一批未执行的 task 落 UNEXEC
func (s *BuildTaskService) BatchUnexec(buildID, containerID string, taskIDs []string) error {
	return s.taskRepo.BatchUpdateStatus(buildID, containerID, taskIDs, pipeline.StatusUnexec)
}

// SetCancelMarker 写构建取消标记,短 TTL,并发中的控制器读到即止
func (s *BuildTaskService) SetCancelMarker(ctx context.Context, buildID string, status pipeline.BuildStatus) error {
	return s.rdb.Set(ctx, s.keys.CancelMarker(buildID), status.String(), cancelMarkerTTL).Err()
}

// GetCancelMarker 读取消标记,不存在返回空状态
func (s *BuildTaskService) GetCancelMarker(ctx context.Context, buildID string) (pipeline.BuildStatus, error) {
	v, err := s.rdb.Get(ctx, s.keys.CancelMarker(buildID)).Result()
	if err != nil {
		if err == redis.Nil {
			return pipeline.StatusUnknown, nil
		}
		return pipeline.StatusUnknown, err
	}
	return pipeline.ParseBuildStatus(v), nil
}

// DeleteCancelMarker 消费掉取消标记
func (s *BuildTaskService) DeleteCancelMarker(ctx context.Context, buildID string) {
	s.rdb.Del(ctx, s.keys.CancelMarker(buildID))
}

// AddCancelTask 记录容器内被取消的 task
func (s *BuildTaskService) AddCancelTask(ctx context.Context, buildID, containerID, taskID string) error {
	key := s.keys.CancelTaskSet(buildID, containerID)
	if err := s.rdb.SAdd(ctx, key, taskID).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, cancelTaskSetTTL).Err()
}

// IsCancelTask task 是否被记录为取消
func (s *BuildTaskService) IsCancelTask(ctx context.Context, buildID, containerID, taskID string) (bool, error) {
	return s.rdb.SIsMember(ctx, s.keys.CancelTaskSet(buildID, containerID), taskID).Result()
}

// IncrRetryCount 失败自动重试计数 +1,返回新值
func (s *BuildTaskService) IncrRetryCount(ctx context.Context, buildID, taskID string, executeCount int) (int, error) {
	key := s.keys.TaskRetryCount(buildID, taskID, executeCount)
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	s.rdb.Expire(ctx, key, retryCountTTL)
	return int(n), nil
}

// GetRetryCount 读取当前重试计数
func (s *BuildTaskService) GetRetryCount(ctx context.Context, buildID, taskID string, executeCount int) (int, error) {
	n, err := s.rdb.Get(ctx, s.keys.TaskRetryCount(buildID, taskID, executeCount)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
