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

	englock "github.com/forge-ci/forge/internal/engine/control/lock"
	"github.com/forge-ci/forge/internal/engine/dispatch"
	"github.com/forge-ci/forge/internal/engine/model/event"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
	"github.com/forge-ci/forge/pkg/lock"
	"github.com/forge-ci/forge/pkg/log"
)

// StageControl stage 的推进:准入审核/红线 -> 容器扇出 ->
// 汇聚 -> 下一 stage 或收尾。
type StageControl struct {
	locks      englock.Factory
	runtime    RuntimeService
	detail     DetailService
	stages     StageService
	quality    QualityChecker // 可为 nil,视作无红线
	dispatcher dispatch.Dispatcher
}

func NewStageControl(
	locks englock.Factory,
	runtime RuntimeService,
	detail DetailService,
	stages StageService,
	quality QualityChecker,
	dispatcher dispatch.Dispatcher,
) *StageControl {
	return &StageControl{
		locks:      locks,
		runtime:    runtime,
		detail:     detail,
		stages:     stages,
		quality:    quality,
		dispatcher: dispatcher,
	}
}

// Handle 处理 stage 事件
func (c *StageControl) Handle(ctx context.Context, e *event.BuildStageEvent) error {
	return lock.WithLock(ctx, c.locks.BuildLock(e.BuildID), func() error {
		return c.handle(ctx, e)
	})
}

func (c *StageControl) handle(ctx context.Context, e *event.BuildStageEvent) error {
	info, err := c.runtime.GetBuild(e.BuildID)
	if err != nil {
		return err
	}
	buildStatus := pipeline.ParseBuildStatus(info.Status)
	if buildStatus.IsFinish() {
		log.Infow("build finished, drop stage event", "buildId", e.BuildID, "stageId", e.StageID)
		return nil
	}

	m, err := c.detail.GetModel(e.BuildID)
	if err != nil {
		return err
	}
	stage := m.Stage(e.StageID)
	if stage == nil {
		log.Warnw("stage not found in model", "buildId", e.BuildID, "stageId", e.StageID)
		return nil
	}

	switch {
	case e.ActionType.IsEnd():
		return c.terminateStage(ctx, e, m, stage)
	case e.ActionType == pipeline.ActionSkip || !stage.Enabled():
		return c.skipStage(ctx, e, m, stage)
	case e.ActionType.IsStart():
		if stage.Status.IsFinish() {
			// 重复投递的启动事件
			log.Infow("stage already finished, drop start", "buildId", e.BuildID, "stageId", e.StageID)
			return nil
		}
		return c.startStage(ctx, e, m, stage)
	case e.ActionType == pipeline.ActionRefresh:
		return c.refreshStage(ctx, e, m, stage)
	}
	return nil
}

// startStage 准入检查后扇出容器
func (c *StageControl) startStage(ctx context.Context, e *event.BuildStageEvent, m *pipeline.Model, stage *pipeline.Stage) error {
	if stage.CheckIn != nil {
		if stage.CheckIn.NeedQualityCheck() && c.quality != nil {
			pass, err := c.quality.Check(ctx, e.BuildID, stage.CheckIn.RuleIDs)
			if err != nil {
				return err
			}
			if !pass {
				return c.qualityFail(ctx, e, stage)
			}
		}
		if stage.CheckIn.NeedPause() {
			stage.CheckIn.FixReviewGroups(true)
			if err := c.detail.StagePause(e.BuildID, e.StageID, stage.CheckIn); err != nil {
				return err
			}
			log.Infow("stage paused for manual review", "buildId", e.BuildID, "stageId", e.StageID)
			return nil
		}
	}

	if err := c.detail.UpdateStageStatus(e.BuildID, e.StageID, pipeline.StatusRunning); err != nil {
		return err
	}
	if err := c.stages.StartStage(e.BuildID, e.StageID, pipeline.StatusRunning); err != nil {
		return err
	}

	dispatched := 0
	for _, container := range stage.Containers {
		if container.Kind == pipeline.KindTrigger {
			continue
		}
		dispatched++
		c.dispatcher.Dispatch(ctx, &event.BuildContainerEvent{
			Base:        c.base(e, "stageStart"),
			StageID:     e.StageID,
			ContainerID: container.ID,
			ActionType:  pipeline.ActionStart,
		})
	}
	if dispatched == 0 {
		// 没有可执行容器,stage 直接完成
		return c.finishStage(ctx, e, m, stage, pipeline.StatusSucceed)
	}
	return nil
}

// refreshStage 容器完成后的汇聚检查
func (c *StageControl) refreshStage(ctx context.Context, e *event.BuildStageEvent, m *pipeline.Model, stage *pipeline.Stage) error {
	if stage.Status.IsFinish() {
		return nil
	}
	allDone := true
	final := pipeline.StatusSucceed
	for _, container := range stage.Containers {
		if container.Kind == pipeline.KindTrigger {
			continue
		}
		if container.Status.IsBlank() || !container.Status.IsFinish() {
			allDone = false
			break
		}
		if container.Status.IsCancel() {
			final = pipeline.StatusCanceled
		} else if container.Status.IsFailure() && final != pipeline.StatusCanceled {
			final = pipeline.StatusFailed
		}
	}
	if !allDone {
		return nil
	}
	return c.finishStage(ctx, e, m, stage, final)
}

// finishStage 落 stage 终态,准出检查后推进下一 stage 或收尾
func (c *StageControl) finishStage(ctx context.Context, e *event.BuildStageEvent, m *pipeline.Model, stage *pipeline.Stage, status pipeline.BuildStatus) error {
	if err := c.detail.UpdateStageStatus(e.BuildID, e.StageID, status); err != nil {
		return err
	}
	if err := c.stages.FinishStage(e.BuildID, e.StageID, status); err != nil {
		return err
	}
	stage.Status = status

	if status.IsFailure() || status.IsCancel() {
		c.dispatcher.Dispatch(ctx, &event.BuildFinishEvent{
			Base:   c.base(e, "stageFinish"),
			Status: status,
		})
		return nil
	}

	if stage.CheckOut != nil && stage.CheckOut.NeedQualityCheck() && c.quality != nil {
		pass, err := c.quality.Check(ctx, e.BuildID, stage.CheckOut.RuleIDs)
		if err != nil {
			return err
		}
		if !pass {
			return c.qualityFail(ctx, e, stage)
		}
	}
	if stage.CheckOut != nil && stage.CheckOut.NeedPause() {
		stage.CheckOut.FixReviewGroups(true)
		if err := c.detail.StagePause(e.BuildID, e.StageID, stage.CheckOut); err != nil {
			return err
		}
		return nil
	}

	return c.nextOrFinish(ctx, e, m, stage)
}

func (c *StageControl) nextOrFinish(ctx context.Context, e *event.BuildStageEvent, m *pipeline.Model, stage *pipeline.Stage) error {
	next := m.NextStage(stage.ID)
	if next == nil {
		c.dispatcher.Dispatch(ctx, &event.BuildFinishEvent{
			Base:   c.base(e, "stageFinish"),
			Status: pipeline.StatusSucceed,
		})
		return nil
	}
	c.dispatcher.Dispatch(ctx, &event.BuildStageEvent{
		Base:       c.base(e, "stageNext"),
		StageID:    next.ID,
		ActionType: pipeline.ActionStart,
	})
	return nil
}

// skipStage 跳过后直接推进下一 stage
func (c *StageControl) skipStage(ctx context.Context, e *event.BuildStageEvent, m *pipeline.Model, stage *pipeline.Stage) error {
	if err := c.detail.StageSkip(e.BuildID, e.StageID); err != nil {
		return err
	}
	stage.Status = pipeline.StatusSkip
	return c.nextOrFinish(ctx, e, m, stage)
}

// terminateStage 取消/终止:未启动的容器不再扇出,已发出的由
// 取消扫描负责,这里只落 stage 状态并走收尾。
func (c *StageControl) terminateStage(ctx context.Context, e *event.BuildStageEvent, m *pipeline.Model, stage *pipeline.Stage) error {
	status := pipeline.StatusCanceled
	if e.ActionType.IsTerminate() {
		status = pipeline.StatusTerminate
	}
	if stage.Status.IsFinish() {
		return nil
	}
	if err := c.detail.UpdateStageStatus(e.BuildID, e.StageID, status); err != nil {
		return err
	}
	if err := c.stages.FinishStage(e.BuildID, e.StageID, status); err != nil {
		return err
	}
	c.dispatcher.Dispatch(ctx, &event.BuildFinishEvent{
		Base:   c.base(e, "stageTerminate"),
		Status: status,
	})
	return nil
}

func (c *StageControl) qualityFail(ctx context.Context, e *event.BuildStageEvent, stage *pipeline.Stage) error {
	if err := c.runtime.UpdateBuildStatus(e.BuildID, pipeline.StatusFailed); err != nil {
		return err
	}
	checkTimes := 1
	if stage.CheckIn != nil {
		checkTimes = stage.CheckIn.CheckTimes + 1
	}
	if err := c.detail.StageCheckQualityFail(e.BuildID, e.StageID, checkTimes); err != nil {
		return err
	}
	c.dispatcher.Dispatch(ctx, &event.BuildFinishEvent{
		Base:   c.base(e, "qualityCheck"),
		Status: pipeline.StatusFailed,
	})
	return nil
}

func (c *StageControl) base(e *event.BuildStageEvent, source string) event.Base {
	return event.Base{
		Source:     source,
		ProjectID:  e.ProjectID,
		PipelineID: e.PipelineID,
		UserID:     e.UserID,
		BuildID:    e.BuildID,
	}
}
