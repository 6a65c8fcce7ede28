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
	"strconv"

	"github.com/bytedance/sonic"

	englock "github.com/forge-ci/forge/internal/engine/control/lock"
	"github.com/forge-ci/forge/internal/engine/dispatch"
	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/event"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
	"github.com/forge-ci/forge/internal/engine/service"
	"github.com/forge-ci/forge/pkg/lock"
	"github.com/forge-ci/forge/pkg/log"
)

// task 执行中轮询的缺省间隔
const taskPollDefaultMillis = 5000

// TaskControl 单个插件任务的启动/轮询/终止。控制器从不阻塞等待
// 执行结果,执行中的 task 通过延迟重投自己的事件来轮询。
type TaskControl struct {
	locks      englock.Factory
	runtime    RuntimeService
	tasks      TaskService
	detail     DetailService
	vars       VariableService
	executor   AtomExecutor
	printer    service.LogPrinter
	dispatcher dispatch.Dispatcher
}

func NewTaskControl(
	locks englock.Factory,
	runtime RuntimeService,
	tasks TaskService,
	detail DetailService,
	vars VariableService,
	executor AtomExecutor,
	printer service.LogPrinter,
	dispatcher dispatch.Dispatcher,
) *TaskControl {
	return &TaskControl{
		locks:      locks,
		runtime:    runtime,
		tasks:      tasks,
		detail:     detail,
		vars:       vars,
		executor:   executor,
		printer:    printer,
		dispatcher: dispatcher,
	}
}

// Handle 处理 task 事件
func (c *TaskControl) Handle(ctx context.Context, e *event.AtomTaskEvent) error {
	return lock.WithLock(ctx, c.locks.ContainerLock(e.BuildID, e.ContainerID), func() error {
		return c.handle(ctx, e)
	})
}

func (c *TaskControl) handle(ctx context.Context, e *event.AtomTaskEvent) error {
	info, err := c.runtime.GetBuild(e.BuildID)
	if err != nil {
		return err
	}
	buildStatus := pipeline.ParseBuildStatus(info.Status)
	if buildStatus.IsFinish() && buildStatus != pipeline.StatusStageSuccess {
		log.Infow("build already finished, drop task event", "buildId", e.BuildID, "taskId", e.TaskID)
		return nil
	}

	task, err := c.tasks.GetTask(e.BuildID, e.TaskID)
	if err != nil {
		return err
	}
	taskStatus := pipeline.ParseBuildStatus(task.Status)
	if taskStatus.IsFinish() {
		// 重复投递,把球交还给容器,避免链条停摆
		log.Infow("task already finished, notify container", "buildId", e.BuildID, "taskId", e.TaskID)
		c.notifyContainer(ctx, e, pipeline.ActionRefresh)
		return nil
	}

	// 取消标记优先于一切动作。EVEN_CANCEL 条件的收尾 task 例外,
	// 取消后仍要执行,标记留给其他控制器消费
	marker, err := c.tasks.GetCancelMarker(ctx, e.BuildID)
	if err != nil {
		return err
	}
	if !marker.IsBlank() && !c.runsEvenCanceled(e, task) {
		c.tasks.DeleteCancelMarker(ctx, e.BuildID)
		if err := c.tasks.AddCancelTask(ctx, e.BuildID, e.ContainerID, e.TaskID); err != nil {
			log.Warnw("record canceled task failed", "buildId", e.BuildID, "taskId", e.TaskID, "error", err)
		}
		return c.finishTask(ctx, e, task, &AtomResult{Status: pipeline.CancelOf(taskStatus)})
	}

	if e.ActionType.IsEnd() {
		status := pipeline.StatusCanceled
		if e.ActionType.IsTerminate() {
			status = pipeline.StatusTerminate
		}
		c.printer.AddYellowLine(e.BuildID, "task stopped: "+e.Reason, e.TaskID, e.ContainerID, e.ExecuteCount)
		return c.finishTask(ctx, e, task, &AtomResult{
			Status:    status,
			ErrorType: e.ErrorType,
			ErrorCode: e.ErrorCode,
			ErrorMsg:  e.Reason,
		})
	}

	if e.ActionType.IsStart() {
		return c.startTask(ctx, e, task)
	}
	return c.pollTask(ctx, e, task)
}

func (c *TaskControl) startTask(ctx context.Context, e *event.AtomTaskEvent, task *model.BuildTask) error {
	// 事件携带的参数覆盖 task 自己的配置
	if e.TaskParam != "" {
		var overrides map[string]interface{}
		if err := sonic.UnmarshalString(e.TaskParam, &overrides); err != nil {
			log.Warnw("bad task param overrides", "buildId", e.BuildID, "taskId", e.TaskID, "error", err)
		} else {
			if task.TaskParams == nil {
				task.TaskParams = make(map[string]interface{}, len(overrides))
			}
			for k, v := range overrides {
				task.TaskParams[k] = v
			}
		}
	}

	if err := c.tasks.StartTask(e.BuildID, e.TaskID, e.UserID, task.ExecuteCount); err != nil {
		return err
	}
	if err := c.detail.TaskStatusChange(e.BuildID, e.StageID, e.ContainerID, e.TaskID, pipeline.StatusRunning); err != nil {
		return err
	}
	c.printer.AddLine(e.BuildID, "start task: "+task.TaskName, e.TaskID, e.ContainerID, task.ExecuteCount)

	result, err := c.executor.Execute(ctx, task)
	if err != nil {
		return c.finishTask(ctx, e, task, &AtomResult{
			Status:   pipeline.StatusFailed,
			ErrorMsg: err.Error(),
		})
	}
	if result.Status.IsRunning() {
		c.loopDispatch(ctx, e, task)
		return nil
	}
	return c.finishTask(ctx, e, task, result)
}

func (c *TaskControl) pollTask(ctx context.Context, e *event.AtomTaskEvent, task *model.BuildTask) error {
	result, err := c.executor.Poll(ctx, task)
	if err != nil {
		// 查询失败不终结 task,下个周期再试
		log.Warnw("poll task failed", "buildId", e.BuildID, "taskId", e.TaskID, "error", err)
		c.loopDispatch(ctx, e, task)
		return nil
	}
	if result.Status.IsRunning() {
		c.loopDispatch(ctx, e, task)
		return nil
	}
	return c.finishTask(ctx, e, task, result)
}

// loopDispatch 延迟重投自己的轮询事件,保持路由不变
func (c *TaskControl) loopDispatch(ctx context.Context, e *event.AtomTaskEvent, task *model.BuildTask) {
	next := *e
	next.ActionType = pipeline.ActionRefresh
	next.DelayMillis = pollInterval(task)
	c.dispatcher.Dispatch(ctx, &next)
}

// pollInterval 插件可以通过 interval 参数自定义轮询间隔(毫秒)
func pollInterval(task *model.BuildTask) int {
	if task == nil || task.TaskParams == nil {
		return taskPollDefaultMillis
	}
	switch v := task.TaskParams["interval"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case string:
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return ms
		}
	}
	return taskPollDefaultMillis
}

// finishTask task 落终态。失败且配置了自动重试的在预算内转 RETRY,
// 由容器重新派发;超预算的记失败变量与错误信息。
func (c *TaskControl) finishTask(ctx context.Context, e *event.AtomTaskEvent, task *model.BuildTask, result *AtomResult) error {
	status := result.Status
	if status == pipeline.StatusFailed {
		if retried, err := c.tryAutoRetry(ctx, e, task); err != nil {
			return err
		} else if retried {
			return nil
		}
		if err := c.vars.AppendFailTask(e.ProjectID, e.PipelineID, e.BuildID, task.TaskID, task.TaskName); err != nil {
			log.Warnw("append fail task failed", "buildId", e.BuildID, "taskId", e.TaskID, "error", err)
		}
		c.printer.AddRedLine(e.BuildID, "task failed: "+result.ErrorMsg, e.TaskID, e.ContainerID, task.ExecuteCount)
	}

	if err := c.tasks.FinishTask(e.BuildID, e.TaskID, status, result.ErrorType, result.ErrorCode, result.ErrorMsg); err != nil {
		return err
	}
	if err := c.detail.TaskStatusChange(e.BuildID, e.StageID, e.ContainerID, e.TaskID, status); err != nil {
		return err
	}
	c.printer.StopLog(e.BuildID, e.TaskID, e.ContainerID, task.ExecuteCount)

	action := pipeline.ActionRefresh
	if status.IsCancel() || status == pipeline.StatusTerminate {
		action = pipeline.ActionEnd
		if status == pipeline.StatusTerminate {
			action = pipeline.ActionTerminate
		}
	}
	c.notifyContainer(ctx, e, action)
	return nil
}

// tryAutoRetry 失败自动重试。返回 true 表示已安排重试。
func (c *TaskControl) tryAutoRetry(ctx context.Context, e *event.AtomTaskEvent, task *model.BuildTask) (bool, error) {
	opts := c.elementOptions(e, task)
	if opts == nil || !opts.RetryWhenFail || opts.RetryCount <= 0 {
		return false, nil
	}
	count, err := c.tasks.IncrRetryCount(ctx, e.BuildID, e.TaskID, task.ExecuteCount)
	if err != nil {
		return false, err
	}
	if count > opts.RetryCount {
		return false, nil
	}
	if err := c.tasks.UpdateTaskStatus(e.BuildID, e.TaskID, pipeline.StatusRetry); err != nil {
		return false, err
	}
	c.printer.AddYellowLine(e.BuildID, "task failed, auto retrying", e.TaskID, e.ContainerID, task.ExecuteCount)
	retry := *e
	retry.ActionType = pipeline.ActionRetry
	retry.DelayMillis = taskPollDefaultMillis
	c.dispatcher.Dispatch(ctx, &retry)
	return true, nil
}

// runsEvenCanceled EVEN_CANCEL 条件的 task 在构建取消后仍要执行
func (c *TaskControl) runsEvenCanceled(e *event.AtomTaskEvent, task *model.BuildTask) bool {
	opts := c.elementOptions(e, task)
	return opts != nil && opts.RunCondition == pipeline.RunConditionPreTaskFailedEvenCancel
}

func (c *TaskControl) elementOptions(e *event.AtomTaskEvent, task *model.BuildTask) *pipeline.ElementAdditionalOptions {
	m, err := c.detail.GetModel(e.BuildID)
	if err != nil {
		return nil
	}
	stage := m.Stage(e.StageID)
	if stage == nil {
		return nil
	}
	container := stage.Container(e.ContainerID)
	if container == nil {
		return nil
	}
	element := container.Element(task.TaskID)
	if element == nil {
		return nil
	}
	return element.AdditionalOptions
}

func (c *TaskControl) notifyContainer(ctx context.Context, e *event.AtomTaskEvent, action pipeline.ActionType) {
	c.dispatcher.Dispatch(ctx, &event.BuildContainerEvent{
		Base: event.Base{
			Source:      "taskFinish",
			ProjectID:   e.ProjectID,
			PipelineID:  e.PipelineID,
			UserID:      e.UserID,
			BuildID:     e.BuildID,
			RoutingHint: e.RoutingHint,
		},
		StageID:     e.StageID,
		ContainerID: e.ContainerID,
		ActionType:  action,
	})
}
