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
	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/event"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
	"github.com/forge-ci/forge/pkg/lock"
	"github.com/forge-ci/forge/pkg/log"
)

// BuildFinishControl 构建收尾:清理未执行的 task,构建落终态,
// 对外广播状态变化。
type BuildFinishControl struct {
	locks      englock.Factory
	runtime    RuntimeService
	detail     DetailService
	tasks      TaskService
	dispatcher dispatch.Dispatcher
}

func NewBuildFinishControl(
	locks englock.Factory,
	runtime RuntimeService,
	detail DetailService,
	tasks TaskService,
	dispatcher dispatch.Dispatcher,
) *BuildFinishControl {
	return &BuildFinishControl{
		locks:      locks,
		runtime:    runtime,
		detail:     detail,
		tasks:      tasks,
		dispatcher: dispatcher,
	}
}

// Handle 处理收尾事件
func (c *BuildFinishControl) Handle(ctx context.Context, e *event.BuildFinishEvent) error {
	return lock.WithLock(ctx, c.locks.BuildLock(e.BuildID), func() error {
		return c.handle(ctx, e)
	})
}

func (c *BuildFinishControl) handle(ctx context.Context, e *event.BuildFinishEvent) error {
	info, err := c.runtime.GetBuild(e.BuildID)
	if err != nil {
		return err
	}
	if pipeline.ParseBuildStatus(info.Status).IsFinish() {
		log.Infow("build already finished, drop finish event", "buildId", e.BuildID)
		return nil
	}

	m, err := c.detail.GetModel(e.BuildID)
	if err != nil {
		return err
	}
	c.markUnexecuted(ctx, e, m)

	errorInfo := append([]model.BuildError(nil), e.ErrorInfo...)
	if err := c.runtime.FinishBuild(e.PipelineID, e.BuildID, e.Status, errorInfo); err != nil {
		return err
	}
	c.tasks.DeleteCancelMarker(ctx, e.BuildID)

	log.Infow("build finished",
		"buildId", e.BuildID, "pipelineId", e.PipelineID, "status", e.Status)

	c.dispatcher.Dispatch(ctx, &event.BuildStatusChangeEvent{
		Base: event.Base{
			Source:     "buildFinish",
			ProjectID:  e.ProjectID,
			PipelineID: e.PipelineID,
			UserID:     e.UserID,
			BuildID:    e.BuildID,
		},
		Status: e.Status,
	})
	c.wakeNextQueued(ctx, e)
	return nil
}

// wakeNextQueued 串行流水线收尾后接力唤醒队头的排队构建。
// 失败只告警,排队构建自己的延迟重查兜底。
func (c *BuildFinishControl) wakeNextQueued(ctx context.Context, e *event.BuildFinishEvent) {
	lockType, err := c.runtime.GetRunLockType(e.PipelineID)
	if err != nil {
		log.Warnw("query run lock type failed", "pipelineId", e.PipelineID, "error", err)
		return
	}
	if lockType != model.RunLockSingle && lockType != model.RunLockSingleLock {
		return
	}
	next, err := c.runtime.NextQueuedBuild(e.PipelineID)
	if err != nil {
		log.Warnw("query next queued build failed", "pipelineId", e.PipelineID, "error", err)
		return
	}
	if next == nil || next.BuildID == e.BuildID {
		return
	}
	c.dispatcher.Dispatch(ctx, &event.BuildStartEvent{
		Base: event.Base{
			Source:     "buildFinish",
			ProjectID:  next.ProjectID,
			PipelineID: next.PipelineID,
			UserID:     next.StartUser,
			BuildID:    next.BuildID,
		},
		ActionType: pipeline.ActionStart,
	})
}

// markUnexecuted 终止/结束导致未执行的 task 落 UNEXEC,
// 和被跳过的 SKIP 区分开。失败也要继续收尾。
func (c *BuildFinishControl) markUnexecuted(ctx context.Context, e *event.BuildFinishEvent, m *pipeline.Model) {
	for _, stage := range m.Stages {
		for _, container := range stage.Containers {
			if container.Kind == pipeline.KindTrigger {
				continue
			}
			var unexec []string
			for _, element := range container.Elements {
				if !element.Status.IsBlank() {
					continue
				}
				if element.RunCondition() == pipeline.RunConditionPreTaskFailedEvenCancel {
					continue
				}
				unexec = append(unexec, element.ID)
			}
			if len(unexec) == 0 {
				continue
			}
			if err := c.tasks.BatchUnexec(e.BuildID, container.ID, unexec); err != nil {
				log.Warnw("mark unexecuted tasks failed",
					"buildId", e.BuildID, "containerId", container.ID, "error", err)
			}
		}
	}
}
