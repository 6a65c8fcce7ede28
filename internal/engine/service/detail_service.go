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

	"github.com/pkg/errors"

	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
	"github.com/forge-ci/forge/internal/engine/repo"
	"github.com/forge-ci/forge/pkg/log"
)

// ErrStatusPrecondition 构建当前状态不满足本次 Model 修改的前置条件,
// 多为并发下的迟到事件,调用方按放弃处理。
var ErrStatusPrecondition = errors.New("build status precondition not met")

// BuildDetailService 维护构建的 Model 快照。所有修改走
// 读-改-写,写之前校验构建状态前置条件,并发下迟到的修改直接拒绝。
type BuildDetailService struct {
	buildRepo  repo.IBuildRepository
	detailRepo repo.IBuildDetailRepository
	stageRepo  repo.IBuildStageRepository
}

func NewBuildDetailService(
	buildRepo repo.IBuildRepository,
	detailRepo repo.IBuildDetailRepository,
	stageRepo repo.IBuildStageRepository,
) *BuildDetailService {
	return &BuildDetailService{
		buildRepo:  buildRepo,
		detailRepo: detailRepo,
		stageRepo:  stageRepo,
	}
}

// GetModel 读取构建 Model 快照
func (s *BuildDetailService) GetModel(buildID string) (*pipeline.Model, error) {
	return s.detailRepo.GetModel(buildID)
}

// SaveModel 整体覆盖快照,仅限启动阶段的补全使用
func (s *BuildDetailService) SaveModel(buildID string, m *pipeline.Model) error {
	return s.detailRepo.SaveModel(buildID, m)
}

// update 校验状态前置条件后应用修改。mutate 返回 false 表示无变化,
// 跳过落库。expect 为空表示不校验。
func (s *BuildDetailService) update(buildID string, expect []pipeline.BuildStatus, mutate func(m *pipeline.Model) bool) error {
	if len(expect) > 0 {
		info, err := s.buildRepo.GetBuild(buildID)
		if err != nil {
			return err
		}
		current := pipeline.ParseBuildStatus(info.Status)
		matched := false
		for _, e := range expect {
			if current == e {
				matched = true
				break
			}
		}
		if !matched {
			log.Warnw("model update rejected by status precondition",
				"buildId", buildID, "current", current, "expect", expect)
			return errors.Wrapf(ErrStatusPrecondition, "current=%s", current)
		}
	}

	m, err := s.detailRepo.GetModel(buildID)
	if err != nil {
		return err
	}
	if !mutate(m) {
		return nil
	}
	return s.detailRepo.SaveModel(buildID, m)
}

// UpdateStageStatus stage 状态推进,仅在构建运行中允许
func (s *BuildDetailService) UpdateStageStatus(buildID, stageID string, status pipeline.BuildStatus) error {
	err := s.update(buildID, []pipeline.BuildStatus{pipeline.StatusRunning}, func(m *pipeline.Model) bool {
		stage := m.Stage(stageID)
		if stage == nil {
			return false
		}
		stage.Status = status
		if status == pipeline.StatusRunning && stage.StartEpoch == 0 {
			stage.StartEpoch = time.Now().UnixMilli()
		}
		if status.IsFinish() && stage.StartEpoch > 0 {
			stage.Elapsed = time.Now().UnixMilli() - stage.StartEpoch
		}
		return true
	})
	if err != nil {
		return err
	}
	return s.stageRepo.UpdateStageStatus(buildID, stageID, status)
}

// StageSkip stage 被跳过,其下容器全部置 SKIP
func (s *BuildDetailService) StageSkip(buildID, stageID string) error {
	err := s.update(buildID, []pipeline.BuildStatus{pipeline.StatusRunning}, func(m *pipeline.Model) bool {
		stage := m.Stage(stageID)
		if stage == nil {
			return false
		}
		stage.Status = pipeline.StatusSkip
		for _, c := range stage.Containers {
			c.Status = pipeline.StatusSkip
		}
		return true
	})
	if err != nil {
		return err
	}
	return s.stageRepo.UpdateStageStatus(buildID, stageID, pipeline.StatusSkip)
}

// StagePause stage 进入人工审核暂停。构建整体转入 STAGE_SUCCESS,
// 已完成的部分成果对外可见。
func (s *BuildDetailService) StagePause(buildID, stageID string, checkIn *pipeline.StagePauseCheck) error {
	err := s.update(buildID, []pipeline.BuildStatus{pipeline.StatusRunning}, func(m *pipeline.Model) bool {
		stage := m.Stage(stageID)
		if stage == nil {
			return false
		}
		stage.Status = pipeline.StatusPause
		stage.ReviewStatus = pipeline.StatusReviewing
		if checkIn != nil {
			stage.CheckIn = checkIn
		}
		return true
	})
	if err != nil {
		return err
	}
	if err := s.stageRepo.UpdateStageStatus(buildID, stageID, pipeline.StatusPause); err != nil {
		return err
	}
	return s.buildRepo.UpdateBuildStatus(buildID, pipeline.StatusStageSuccess)
}

// StageStart 审核通过,stage 从暂停恢复进入排队。
// 仅允许从 STAGE_SUCCESS 状态恢复。
func (s *BuildDetailService) StageStart(buildID, stageID string) error {
	err := s.update(buildID, []pipeline.BuildStatus{pipeline.StatusStageSuccess}, func(m *pipeline.Model) bool {
		stage := m.Stage(stageID)
		if stage == nil {
			return false
		}
		stage.Status = pipeline.StatusQueue
		stage.ReviewStatus = pipeline.StatusReviewProcessed
		return true
	})
	if err != nil {
		return err
	}
	if err := s.stageRepo.UpdateStageStatus(buildID, stageID, pipeline.StatusQueue); err != nil {
		return err
	}
	return s.buildRepo.UpdateBuildStatus(buildID, pipeline.StatusRunning)
}

// StageCancel 审核驳回,stage 置 REVIEW_ABORT,构建按正常取消收尾
func (s *BuildDetailService) StageCancel(buildID, stageID string) error {
	err := s.update(buildID, []pipeline.BuildStatus{pipeline.StatusStageSuccess}, func(m *pipeline.Model) bool {
		stage := m.Stage(stageID)
		if stage == nil {
			return false
		}
		stage.Status = pipeline.StatusReviewAbort
		stage.ReviewStatus = pipeline.StatusReviewAbort
		return true
	})
	if err != nil {
		return err
	}
	return s.stageRepo.UpdateStageStatus(buildID, stageID, pipeline.StatusReviewAbort)
}

// StageReview 记录一次审核操作后的 CheckIn 快照,构建状态不变
func (s *BuildDetailService) StageReview(buildID, stageID string, checkIn *pipeline.StagePauseCheck) error {
	return s.update(buildID, []pipeline.BuildStatus{pipeline.StatusStageSuccess}, func(m *pipeline.Model) bool {
		stage := m.Stage(stageID)
		if stage == nil {
			return false
		}
		if checkIn != nil {
			stage.CheckIn = checkIn
		}
		return true
	})
}

// StageCheckQualityFail 质量红线不通过,仅在构建已标记失败后记录
func (s *BuildDetailService) StageCheckQualityFail(buildID, stageID string, checkTimes int) error {
	err := s.update(buildID, []pipeline.BuildStatus{pipeline.StatusFailed}, func(m *pipeline.Model) bool {
		stage := m.Stage(stageID)
		if stage == nil {
			return false
		}
		stage.Status = pipeline.StatusQualityCheckFail
		if stage.CheckIn != nil {
			stage.CheckIn.CheckTimes = checkTimes
		}
		return true
	})
	if err != nil {
		return err
	}
	return s.stageRepo.UpdateStageStatus(buildID, stageID, pipeline.StatusQualityCheckFail)
}

// ContainerStart 容器开始执行
func (s *BuildDetailService) ContainerStart(buildID, stageID, containerID string, status pipeline.BuildStatus) error {
	return s.update(buildID, nil, func(m *pipeline.Model) bool {
		stage := m.Stage(stageID)
		if stage == nil {
			return false
		}
		c := stage.Container(containerID)
		if c == nil {
			return false
		}
		c.Status = status
		return true
	})
}

// ContainerEnd 容器结束
func (s *BuildDetailService) ContainerEnd(buildID, stageID, containerID string, status pipeline.BuildStatus) error {
	return s.ContainerStart(buildID, stageID, containerID, status)
}

// TaskStatusChange task 粒度的状态落到 Model 上
func (s *BuildDetailService) TaskStatusChange(buildID, stageID, containerID, taskID string, status pipeline.BuildStatus) error {
	return s.update(buildID, nil, func(m *pipeline.Model) bool {
		stage := m.Stage(stageID)
		if stage == nil {
			return false
		}
		c := stage.Container(containerID)
		if c == nil {
			return false
		}
		e := c.Element(taskID)
		if e == nil {
			return false
		}
		e.Status = status
		return true
	})
}

// BuildCancel 取消扫描时将未结束的 stage/container 状态统一落账。
// finally stage 不在扫描范围,由收尾流程单独驱动。
func (s *BuildDetailService) BuildCancel(buildID string, status pipeline.BuildStatus) error {
	return s.update(buildID, nil, func(m *pipeline.Model) bool {
		changed := false
		for i, stage := range m.Stages {
			if stage.Finally && i > 1 {
				continue
			}
			if stage.Status.IsBlank() || stage.Status.IsFinish() {
				continue
			}
			if stage.Status != pipeline.StatusRunning {
				stage.Status = pipeline.CancelOf(stage.Status)
				changed = true
			}
			for _, c := range stage.Containers {
				if c.Status.IsBlank() || c.Status.IsFinish() {
					continue
				}
				if c.Status != pipeline.StatusRunning || c.Status == pipeline.StatusPrepareEnv {
					c.Status = pipeline.CancelOf(c.Status)
					changed = true
				}
			}
		}
		return changed
	})
}

// StageStatusProjection stage 状态历史投影,供查询接口使用
func (s *BuildDetailService) StageStatusProjection(m *pipeline.Model) []model.BuildStageStatus {
	views := make([]model.BuildStageStatus, 0, len(m.Stages))
	for _, stage := range m.Stages {
		views = append(views, model.BuildStageStatus{
			StageID:    stage.ID,
			Name:       stage.Name,
			Status:     stage.Status.String(),
			StartEpoch: stage.StartEpoch,
			Elapsed:    stage.Elapsed,
			Tags:       stage.Tags,
		})
	}
	return views
}
