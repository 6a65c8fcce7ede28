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
	"time"

	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
	"github.com/forge-ci/forge/internal/engine/repo"
	"github.com/forge-ci/forge/pkg/id"
	"github.com/forge-ci/forge/pkg/log"
)

// BuildRuntimeService 构建运行期记录的生成与推进
type BuildRuntimeService struct {
	buildRepo     repo.IBuildRepository
	summaryRepo   repo.IBuildSummaryRepository
	detailRepo    repo.IBuildDetailRepository
	stageRepo     repo.IBuildStageRepository
	containerRepo repo.IBuildContainerRepository
	taskRepo      repo.IBuildTaskRepository
	settingRepo   repo.IPipelineSettingRepository
}

func NewBuildRuntimeService(
	buildRepo repo.IBuildRepository,
	summaryRepo repo.IBuildSummaryRepository,
	detailRepo repo.IBuildDetailRepository,
	stageRepo repo.IBuildStageRepository,
	containerRepo repo.IBuildContainerRepository,
	taskRepo repo.IBuildTaskRepository,
	settingRepo repo.IPipelineSettingRepository,
) *BuildRuntimeService {
	return &BuildRuntimeService{
		buildRepo:     buildRepo,
		summaryRepo:   summaryRepo,
		detailRepo:    detailRepo,
		stageRepo:     stageRepo,
		containerRepo: containerRepo,
		taskRepo:      taskRepo,
		settingRepo:   settingRepo,
	}
}

// PrepareBuild 根据编排生成一次构建的全部运行记录,初始状态 QUEUE。
// 返回生成的 buildId。
func (s *BuildRuntimeService) PrepareBuild(projectID, pipelineID, userID, trigger string, m *pipeline.Model) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	buildID := "b-" + id.XID()

	taskCount := 0
	stages := make([]*model.BuildStage, 0, len(m.Stages))
	var containers []*model.BuildContainer
	var tasks []*model.BuildTask
	for si, stage := range m.Stages {
		stages = append(stages, &model.BuildStage{
			ProjectID:  projectID,
			PipelineID: pipelineID,
			BuildID:    buildID,
			StageID:    stage.ID,
			Seq:        si,
		})
		for ci, c := range stage.Containers {
			containers = append(containers, &model.BuildContainer{
				ProjectID:   projectID,
				PipelineID:  pipelineID,
				BuildID:     buildID,
				StageID:     stage.ID,
				ContainerID: c.ID,
				Kind:        string(c.Kind),
				Seq:         ci,
			})
			for ti, e := range c.Elements {
				taskCount++
				tasks = append(tasks, &model.BuildTask{
					ProjectID:   projectID,
					PipelineID:  pipelineID,
					BuildID:     buildID,
					StageID:     stage.ID,
					ContainerID: c.ID,
					TaskID:      e.ID,
					TaskName:    e.Name,
					TaskAtom:    e.Atom,
					Seq:         ti,
				})
			}
		}
	}

	info := &model.BuildInfo{
		BuildID:      buildID,
		ProjectID:    projectID,
		PipelineID:   pipelineID,
		Status:       string(pipeline.StatusQueue),
		Trigger:      trigger,
		StartUser:    userID,
		TaskCount:    taskCount,
		ExecuteCount: 1,
		QueueTime:    time.Now(),
	}
	if err := s.buildRepo.CreateBuild(info); err != nil {
		return "", err
	}
	if err := s.detailRepo.CreateDetail(buildID, m); err != nil {
		return "", err
	}
	if err := s.stageRepo.BatchCreate(stages); err != nil {
		return "", err
	}
	if err := s.containerRepo.BatchCreate(containers); err != nil {
		return "", err
	}
	if err := s.taskRepo.BatchCreate(tasks); err != nil {
		return "", err
	}
	return buildID, nil
}

// GetBuild 读取构建记录
func (s *BuildRuntimeService) GetBuild(buildID string) (*model.BuildInfo, error) {
	return s.buildRepo.GetBuild(buildID)
}

// GetRunLockType 读取流水线的运行锁定策略
func (s *BuildRuntimeService) GetRunLockType(pipelineID string) (model.RunLockType, error) {
	setting, err := s.settingRepo.GetSetting(pipelineID)
	if err != nil {
		return "", err
	}
	return model.RunLockType(setting.RunLockType), nil
}

// IsHeadOfQueue 串行模式下判断是否轮到该构建启动
func (s *BuildRuntimeService) IsHeadOfQueue(pipelineID, buildID string) (bool, error) {
	head, err := s.buildRepo.GetEarliestQueuedBuild(pipelineID)
	if err != nil {
		return false, err
	}
	if head == nil {
		// 队列里已经没有待启动的构建,视作轮到自己
		return true, nil
	}
	return head.BuildID == buildID, nil
}

// HasRunningBuild 流水线当前是否有运行中的构建
func (s *BuildRuntimeService) HasRunningBuild(pipelineID string) (bool, error) {
	builds, err := s.buildRepo.ListRunningBuilds(pipelineID)
	if err != nil {
		return false, err
	}
	return len(builds) > 0, nil
}

// StartBuildRunning 构建正式进入 RUNNING,更新摘要计数
func (s *BuildRuntimeService) StartBuildRunning(projectID, pipelineID, buildID string, executeCount int) error {
	if err := s.buildRepo.StartBuild(buildID, pipeline.StatusRunning, executeCount); err != nil {
		return err
	}
	return s.summaryRepo.MarkRunning(pipelineID, buildID)
}

// MarkQueueCache 串行排队时把构建退回缓冲队列
func (s *BuildRuntimeService) MarkQueueCache(buildID string) error {
	return s.buildRepo.UpdateBuildStatus(buildID, pipeline.StatusQueueCache)
}

// UpdateBuildStatus 校验迁移表后更新构建状态。乱序投递导致的倒退迁移
// 在这里丢弃,不视为错误。
func (s *BuildRuntimeService) UpdateBuildStatus(buildID string, status pipeline.BuildStatus) error {
	info, err := s.buildRepo.GetBuild(buildID)
	if err != nil {
		return err
	}
	from := pipeline.ParseBuildStatus(info.Status)
	if from == status {
		return nil
	}
	if !pipeline.CanTransition(from, status) {
		log.Warnw("drop invalid build status transition",
			"buildId", buildID, "from", from, "to", status)
		return nil
	}
	return s.buildRepo.UpdateBuildStatus(buildID, status)
}

// FinishBuild 构建落终态,更新摘要计数
func (s *BuildRuntimeService) FinishBuild(pipelineID, buildID string, status pipeline.BuildStatus, errorInfo []model.BuildError) error {
	if err := s.buildRepo.FinishBuild(buildID, status, errorInfo); err != nil {
		return err
	}
	return s.summaryRepo.MarkFinished(pipelineID)
}

// NextQueuedBuild 取收尾后可以接力启动的排队构建,没有则返回 nil
func (s *BuildRuntimeService) NextQueuedBuild(pipelineID string) (*model.BuildInfo, error) {
	return s.buildRepo.GetEarliestQueuedBuild(pipelineID)
}

// NextBuildNo 在锁内分配 buildNo
func (s *BuildRuntimeService) NextBuildNo(pipelineID string) (int, error) {
	summary, err := s.summaryRepo.GetSummary(pipelineID)
	if err != nil {
		return 0, err
	}
	next := summary.BuildNo + 1
	if err := s.summaryRepo.UpdateBuildNo(pipelineID, next); err != nil {
		return 0, err
	}
	return next, nil
}
