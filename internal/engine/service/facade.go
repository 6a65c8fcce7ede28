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

	"github.com/forge-ci/forge/internal/engine/dispatch"
	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/event"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
	"github.com/forge-ci/forge/pkg/log"
)

// PipelineBuildFacade 构建对外入口。校验在入口做完,
// 通过后只负责落初始记录与投递事件,推进全部交给控制器。
type PipelineBuildFacade struct {
	runtime    *BuildRuntimeService
	detail     *BuildDetailService
	vars       *BuildVariableService
	dispatcher dispatch.Dispatcher
}

func NewPipelineBuildFacade(
	runtime *BuildRuntimeService,
	detail *BuildDetailService,
	vars *BuildVariableService,
	dispatcher dispatch.Dispatcher,
) *PipelineBuildFacade {
	return &PipelineBuildFacade{
		runtime:    runtime,
		detail:     detail,
		vars:       vars,
		dispatcher: dispatcher,
	}
}

// StartBuild 触发一次构建,返回 buildId
func (f *PipelineBuildFacade) StartBuild(ctx context.Context, projectID, pipelineID, userID, trigger string, m *pipeline.Model, params map[string]string) (string, error) {
	lockType, err := f.runtime.GetRunLockType(pipelineID)
	if err != nil {
		return "", err
	}
	if lockType == model.RunLockLock {
		return "", NewAPIError(CodePipelineLocked, "pipeline %s is locked", pipelineID)
	}
	if err := m.Validate(); err != nil {
		return "", NewAPIError(CodeModelInvalid, "invalid model: %v", err)
	}

	buildID, err := f.runtime.PrepareBuild(projectID, pipelineID, userID, trigger, m)
	if err != nil {
		return "", err
	}
	if len(params) > 0 {
		if err := f.vars.SetVariables(projectID, pipelineID, buildID, params); err != nil {
			return "", err
		}
	}

	f.dispatcher.Dispatch(ctx, &event.BuildStartEvent{
		Base: event.Base{
			Source:     "startBuild",
			ProjectID:  projectID,
			PipelineID: pipelineID,
			UserID:     userID,
			BuildID:    buildID,
		},
		Status:     pipeline.StatusQueue,
		ActionType: pipeline.ActionStart,
	})
	log.Infow("build triggered", "buildId", buildID, "pipelineId", pipelineID, "trigger", trigger)
	return buildID, nil
}

// CancelBuild 取消运行中的构建。terminate 为系统强制终止。
func (f *PipelineBuildFacade) CancelBuild(ctx context.Context, projectID, pipelineID, buildID, userID string, terminate bool) error {
	info, err := f.runtime.GetBuild(buildID)
	if err != nil {
		return NewAPIError(CodeBuildNotFound, "build %s not found", buildID)
	}
	if pipeline.ParseBuildStatus(info.Status).IsFinish() {
		return NewAPIError(CodeBuildFinished, "build %s already finished", buildID)
	}

	status := pipeline.StatusCanceled
	if terminate {
		status = pipeline.StatusTerminate
	}
	f.dispatcher.Dispatch(ctx, &event.BuildCancelEvent{
		Base: event.Base{
			Source:     "cancelBuild",
			ProjectID:  projectID,
			PipelineID: pipelineID,
			UserID:     userID,
			BuildID:    buildID,
		},
		Status:    status,
		Terminate: terminate,
	})
	return nil
}

// RetryBuild 重试已结束的失败/取消构建。清掉失败部分的状态后
// 重新走启动流程,executeCount 递增。
func (f *PipelineBuildFacade) RetryBuild(ctx context.Context, projectID, pipelineID, buildID, userID string) error {
	info, err := f.runtime.GetBuild(buildID)
	if err != nil {
		return NewAPIError(CodeBuildNotFound, "build %s not found", buildID)
	}
	status := pipeline.ParseBuildStatus(info.Status)
	if !status.IsFinish() {
		return NewAPIError(CodeBuildNotFinished, "build %s is still running", buildID)
	}

	m, err := f.detail.GetModel(buildID)
	if err != nil {
		return err
	}
	resetFailedParts(m)
	if err := f.detail.SaveModel(buildID, m); err != nil {
		return err
	}
	if err := f.runtime.UpdateBuildStatus(buildID, pipeline.StatusRetry); err != nil {
		return err
	}
	if err := f.vars.SetVariables(projectID, pipelineID, buildID, map[string]string{
		VarRetryCount: "1",
	}); err != nil {
		return err
	}

	f.dispatcher.Dispatch(ctx, &event.BuildStartEvent{
		Base: event.Base{
			Source:     "retryBuild",
			ProjectID:  projectID,
			PipelineID: pipelineID,
			UserID:     userID,
			BuildID:    buildID,
		},
		Status:     pipeline.StatusRetry,
		ActionType: pipeline.ActionRetry,
	})
	return nil
}

// resetFailedParts 失败/取消/未执行的部分回到待执行,
// 成功的部分保持不动。审核检查点恢复待审状态。
func resetFailedParts(m *pipeline.Model) {
	for _, stage := range m.Stages {
		if stage.Status.IsSuccess() && stage.Status != pipeline.StatusStageSuccess {
			continue
		}
		stage.Status = pipeline.StatusUnknown
		if stage.CheckIn != nil {
			stage.CheckIn.RetryRefresh()
		}
		if stage.CheckOut != nil {
			stage.CheckOut.RetryRefresh()
		}
		for _, container := range stage.Containers {
			if container.Status.IsSuccess() {
				continue
			}
			container.Status = pipeline.StatusUnknown
			for _, element := range container.Elements {
				if element.Status.IsSuccess() {
					continue
				}
				element.Status = pipeline.StatusUnknown
			}
		}
	}
}

// ReviewStage 处理 stage 人工审核。最后一个组通过后恢复执行,
// 任一组驳回则取消整个构建。
func (f *PipelineBuildFacade) ReviewStage(ctx context.Context, projectID, pipelineID, buildID, stageID, userID string,
	action pipeline.ManualReviewAction, groupID, suggest string, params []pipeline.ReviewParam) error {

	info, err := f.runtime.GetBuild(buildID)
	if err != nil {
		return NewAPIError(CodeBuildNotFound, "build %s not found", buildID)
	}
	if pipeline.ParseBuildStatus(info.Status) != pipeline.StatusStageSuccess {
		return NewAPIError(CodeStageNotPaused, "build %s has no paused stage", buildID)
	}

	m, err := f.detail.GetModel(buildID)
	if err != nil {
		return err
	}
	stage := m.Stage(stageID)
	if stage == nil {
		return NewAPIError(CodeStageNotFound, "stage %s not found", stageID)
	}
	check, isCheckOut := pausedCheck(stage)
	if check == nil {
		return NewAPIError(CodeStageNotPaused, "stage %s is not paused", stageID)
	}
	if !check.ReviewerContains(userID) {
		return NewAPIError(CodeReviewerDenied, "user %s is not a reviewer of the pending group", userID)
	}
	if !check.ReviewGroup(userID, action, groupID, params, suggest) {
		return NewAPIError(CodeReviewGroupInvalid, "review group is not pending")
	}

	switch pipeline.ParseBuildStatus(check.Status) {
	case pipeline.StatusReviewAbort:
		if err := f.detail.StageCancel(buildID, stageID); err != nil {
			return err
		}
		f.dispatcher.Dispatch(ctx, &event.BuildCancelEvent{
			Base: event.Base{
				Source:     "stageReview",
				ProjectID:  projectID,
				PipelineID: pipelineID,
				UserID:     userID,
				BuildID:    buildID,
			},
			Status: pipeline.StatusCanceled,
		})
	case pipeline.StatusReviewProcessed:
		// 审核变量落库后恢复 stage 执行
		if err := f.saveReviewParams(projectID, pipelineID, buildID, check); err != nil {
			return err
		}
		if err := f.detail.StageReview(buildID, stageID, check); err != nil {
			return err
		}
		if err := f.detail.StageStart(buildID, stageID); err != nil {
			return err
		}
		// 准入暂停恢复后重新启动 stage,准出暂停恢复后走汇聚推进下一 stage
		actionType := pipeline.ActionRetry
		if isCheckOut {
			actionType = pipeline.ActionRefresh
		}
		f.dispatcher.Dispatch(ctx, &event.BuildStageEvent{
			Base: event.Base{
				Source:     "stageReview",
				ProjectID:  projectID,
				PipelineID: pipelineID,
				UserID:     userID,
				BuildID:    buildID,
			},
			StageID:    stageID,
			ActionType: actionType,
		})
	default:
		// 还有后续审核组,只保存本组结果
		return f.detail.StageReview(buildID, stageID, check)
	}
	return nil
}

// pausedCheck 找 stage 当前处于待审核状态的检查点,
// 第二个返回值标记是否为准出检查
func pausedCheck(stage *pipeline.Stage) (*pipeline.StagePauseCheck, bool) {
	if stage.CheckIn != nil && stage.CheckIn.NeedPause() {
		return stage.CheckIn, false
	}
	if stage.CheckOut != nil && stage.CheckOut.NeedPause() {
		return stage.CheckOut, true
	}
	return nil, false
}

func (f *PipelineBuildFacade) saveReviewParams(projectID, pipelineID, buildID string, check *pipeline.StagePauseCheck) error {
	vars := make(map[string]string)
	for _, group := range check.ReviewGroups {
		for _, p := range group.Params {
			vars[p.Key] = p.Value
		}
	}
	if len(vars) == 0 {
		return nil
	}
	return f.vars.SetVariables(projectID, pipelineID, buildID, vars)
}
