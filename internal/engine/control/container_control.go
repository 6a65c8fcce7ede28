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

// 互斥组排队时的重查间隔
const mutexRetryMillis = 10000

// ContainerControl 容器(Job)的推进:互斥组抢占 -> task 链式
// 执行 -> 汇聚落账 -> 通知 stage。
type ContainerControl struct {
	locks      englock.Factory
	runtime    RuntimeService
	detail     DetailService
	containers ContainerService
	tasks      TaskService
	vars       VariableService
	mutex      *MutexControl
	dispatcher dispatch.Dispatcher
}

func NewContainerControl(
	locks englock.Factory,
	runtime RuntimeService,
	detail DetailService,
	containers ContainerService,
	tasks TaskService,
	vars VariableService,
	mutex *MutexControl,
	dispatcher dispatch.Dispatcher,
) *ContainerControl {
	return &ContainerControl{
		locks:      locks,
		runtime:    runtime,
		detail:     detail,
		containers: containers,
		tasks:      tasks,
		vars:       vars,
		mutex:      mutex,
		dispatcher: dispatcher,
	}
}

// Handle 处理容器事件
func (c *ContainerControl) Handle(ctx context.Context, e *event.BuildContainerEvent) error {
	return lock.WithLock(ctx, c.locks.ContainerLock(e.BuildID, e.ContainerID), func() error {
		return c.handle(ctx, e)
	})
}

func (c *ContainerControl) handle(ctx context.Context, e *event.BuildContainerEvent) error {
	record, err := c.containers.GetContainer(e.BuildID, e.ContainerID)
	if err != nil {
		return err
	}
	recordStatus := pipeline.ParseBuildStatus(record.Status)
	if recordStatus.IsFinish() {
		// 重复投递,确保 stage 不漏汇聚
		c.notifyStage(ctx, e)
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
	container := stage.Container(e.ContainerID)
	if container == nil {
		log.Warnw("container not found in model", "buildId", e.BuildID, "containerId", e.ContainerID)
		return nil
	}
	if container.Kind == pipeline.KindTrigger {
		return nil
	}

	switch {
	case e.ActionType.IsEnd():
		return c.terminate(ctx, e, container)
	case e.ActionType == pipeline.ActionSkip || !containerEnabled(container):
		return c.skip(ctx, e)
	case e.ActionType.IsStart():
		return c.start(ctx, e, record, container)
	case e.ActionType == pipeline.ActionRefresh:
		return c.refresh(ctx, e, container)
	}
	return nil
}

func containerEnabled(container *pipeline.Container) bool {
	for _, element := range container.Elements {
		if element.Enabled() {
			return true
		}
	}
	return false
}

func (c *ContainerControl) start(ctx context.Context, e *event.BuildContainerEvent, record *model.BuildContainer, container *pipeline.Container) error {
	if container.MutexGroup != nil && container.MutexGroup.Enable {
		vars, err := c.vars.GetAllVariables(e.BuildID)
		if err != nil {
			return err
		}
		c.mutex.Decorate(container.MutexGroup, vars)

		enqueuedAt := record.CreatedAt
		if record.StartTime != nil {
			enqueuedAt = *record.StartTime
		}
		result, err := c.mutex.TryAcquire(ctx, e.ProjectID, e.BuildID, e.ContainerID, container.MutexGroup, enqueuedAt)
		if err != nil {
			return err
		}
		switch result {
		case AcquireQueued:
			retry := *e
			retry.DelayMillis = mutexRetryMillis
			c.dispatcher.Dispatch(ctx, &retry)
			return nil
		case AcquireRejected:
			log.Warnw("mutex group rejected container",
				"buildId", e.BuildID, "containerId", e.ContainerID, "group", container.MutexGroup.GroupName)
			return c.finish(ctx, e, container, pipeline.StatusFailed)
		}
	}

	if err := c.containers.StartContainer(e.BuildID, e.ContainerID, pipeline.StatusRunning); err != nil {
		return err
	}
	if err := c.detail.ContainerStart(e.BuildID, e.StageID, e.ContainerID, pipeline.StatusRunning); err != nil {
		return err
	}
	return c.dispatchNextTask(ctx, e, container)
}

// refresh 某个 task 结束后挑下一个可执行的 task,没有则收尾
func (c *ContainerControl) refresh(ctx context.Context, e *event.BuildContainerEvent, container *pipeline.Container) error {
	return c.dispatchNextTask(ctx, e, container)
}

// dispatchNextTask 按 task 顺序与运行条件选择下一个要执行的 task。
// 不满足条件的落 UNEXEC 后继续向后找。
func (c *ContainerControl) dispatchNextTask(ctx context.Context, e *event.BuildContainerEvent, container *pipeline.Container) error {
	rows, err := c.tasks.ListContainerTasks(e.BuildID, e.ContainerID)
	if err != nil {
		return err
	}
	statusByTask := make(map[string]pipeline.BuildStatus, len(rows))
	for _, row := range rows {
		statusByTask[row.TaskID] = pipeline.ParseBuildStatus(row.Status)
	}

	failed := false
	canceled := false
	for _, element := range container.Elements {
		st := statusByTask[element.ID]
		if st.IsFailure() {
			failed = true
		}
		if st.IsCancel() {
			canceled = true
		}
	}

	var unexec []string
	for _, element := range container.Elements {
		st := statusByTask[element.ID]
		if !st.IsBlank() && st != pipeline.StatusUnexec {
			if st.IsFinish() {
				continue
			}
			// 还有 task 在执行,等它的完成事件
			return nil
		}
		if st == pipeline.StatusUnexec {
			continue
		}
		if !element.Enabled() {
			unexec = append(unexec, element.ID)
			continue
		}
		if !shouldRun(element.RunCondition(), failed, canceled) {
			unexec = append(unexec, element.ID)
			continue
		}
		if len(unexec) > 0 {
			if err := c.tasks.BatchUnexec(e.BuildID, e.ContainerID, unexec); err != nil {
				return err
			}
		}
		c.dispatcher.Dispatch(ctx, &event.AtomTaskEvent{
			Base:        c.base(e, "containerNext"),
			StageID:     e.StageID,
			ContainerID: e.ContainerID,
			TaskID:      element.ID,
			ActionType:  pipeline.ActionStart,
		})
		return nil
	}
	if len(unexec) > 0 {
		if err := c.tasks.BatchUnexec(e.BuildID, e.ContainerID, unexec); err != nil {
			return err
		}
	}

	final := pipeline.StatusSucceed
	if canceled {
		final = pipeline.StatusCanceled
	} else if failed {
		final = pipeline.StatusFailed
	}
	return c.finish(ctx, e, container, final)
}

// shouldRun task 的运行条件判定
func shouldRun(cond pipeline.RunCondition, failed, canceled bool) bool {
	switch cond {
	case pipeline.RunConditionPreTaskFailedEvenCancel:
		return true
	case pipeline.RunConditionPreTaskFailedButCancel:
		return !canceled
	default:
		return !failed && !canceled
	}
}

// finish 容器收尾:释放互斥组,落终态,通知 stage
func (c *ContainerControl) finish(ctx context.Context, e *event.BuildContainerEvent, container *pipeline.Container, status pipeline.BuildStatus) error {
	c.mutex.Release(ctx, e.ProjectID, e.BuildID, e.ContainerID, container.MutexGroup)
	if err := c.containers.FinishContainer(e.BuildID, e.ContainerID, status); err != nil {
		return err
	}
	if err := c.detail.ContainerEnd(e.BuildID, e.StageID, e.ContainerID, status); err != nil {
		return err
	}
	c.notifyStage(ctx, e)
	return nil
}

func (c *ContainerControl) skip(ctx context.Context, e *event.BuildContainerEvent) error {
	if err := c.containers.UpdateContainerStatus(e.BuildID, e.ContainerID, pipeline.StatusSkip); err != nil {
		return err
	}
	if err := c.detail.ContainerEnd(e.BuildID, e.StageID, e.ContainerID, pipeline.StatusSkip); err != nil {
		return err
	}
	c.notifyStage(ctx, e)
	return nil
}

// terminate 取消/终止:未执行的 task 落 UNEXEC,容器落取消态。
// EVEN_CANCEL 条件的收尾 task 不在扫除之列,先派它执行,
// 容器等它完成后走正常汇聚。
func (c *ContainerControl) terminate(ctx context.Context, e *event.BuildContainerEvent, container *pipeline.Container) error {
	status := pipeline.StatusCanceled
	if e.ActionType.IsTerminate() {
		status = pipeline.StatusTerminate
	}
	rows, err := c.tasks.ListContainerTasks(e.BuildID, e.ContainerID)
	if err != nil {
		return err
	}
	var unexec []string
	var evenCancel *pipeline.Element
	for _, row := range rows {
		st := pipeline.ParseBuildStatus(row.Status)
		if !st.IsBlank() {
			continue
		}
		element := container.Element(row.TaskID)
		if element != nil && element.Enabled() &&
			element.RunCondition() == pipeline.RunConditionPreTaskFailedEvenCancel {
			if evenCancel == nil {
				evenCancel = element
			}
			continue
		}
		unexec = append(unexec, row.TaskID)
	}
	if err := c.tasks.BatchUnexec(e.BuildID, e.ContainerID, unexec); err != nil {
		return err
	}
	if evenCancel != nil {
		c.dispatcher.Dispatch(ctx, &event.AtomTaskEvent{
			Base:        c.base(e, "containerTerminate"),
			StageID:     e.StageID,
			ContainerID: e.ContainerID,
			TaskID:      evenCancel.ID,
			ActionType:  pipeline.ActionStart,
		})
		return nil
	}
	return c.finish(ctx, e, container, status)
}

func (c *ContainerControl) notifyStage(ctx context.Context, e *event.BuildContainerEvent) {
	c.dispatcher.Dispatch(ctx, &event.BuildStageEvent{
		Base:       c.base(e, "containerFinish"),
		StageID:    e.StageID,
		ActionType: pipeline.ActionRefresh,
	})
}

func (c *ContainerControl) base(e *event.BuildContainerEvent, source string) event.Base {
	return event.Base{
		Source:     source,
		ProjectID:  e.ProjectID,
		PipelineID: e.PipelineID,
		UserID:     e.UserID,
		BuildID:    e.BuildID,
	}
}
