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

// BuildCancelControl 构建取消。一次扫描完成所有强制落账:
// 互斥组无条件释放,未在跑的容器直接置取消态,在跑的交给
// 各自控制器通过取消标记自行停下。扫描过程中的单点失败只
// 记日志,取消不能因为收尾出错而卡住。
type BuildCancelControl struct {
	locks      englock.Factory
	runtime    RuntimeService
	detail     DetailService
	tasks      TaskService
	containers ContainerService
	mutex      *MutexControl
	dispatcher dispatch.Dispatcher
}

func NewBuildCancelControl(
	locks englock.Factory,
	runtime RuntimeService,
	detail DetailService,
	tasks TaskService,
	containers ContainerService,
	mutex *MutexControl,
	dispatcher dispatch.Dispatcher,
) *BuildCancelControl {
	return &BuildCancelControl{
		locks:      locks,
		runtime:    runtime,
		detail:     detail,
		tasks:      tasks,
		containers: containers,
		mutex:      mutex,
		dispatcher: dispatcher,
	}
}

// Handle 处理取消事件
func (c *BuildCancelControl) Handle(ctx context.Context, e *event.BuildCancelEvent) error {
	return lock.WithLock(ctx, c.locks.BuildLock(e.BuildID), func() error {
		return c.handle(ctx, e)
	})
}

func (c *BuildCancelControl) handle(ctx context.Context, e *event.BuildCancelEvent) error {
	info, err := c.runtime.GetBuild(e.BuildID)
	if err != nil {
		return err
	}
	buildStatus := pipeline.ParseBuildStatus(info.Status)
	// STAGE_SUCCESS 算成功类状态,但构建还停在审核点上,
	// 审核驳回发来的取消必须放行
	if buildStatus.IsFinish() && buildStatus != pipeline.StatusStageSuccess {
		log.Infow("build already finished, drop cancel event", "buildId", e.BuildID)
		return nil
	}

	status := e.Status
	if status != pipeline.StatusCanceled && status != pipeline.StatusTerminate {
		status = pipeline.StatusCanceled
	}

	// 短 TTL 标记,执行中的 task 控制器读到即停
	if err := c.tasks.SetCancelMarker(ctx, e.BuildID, status); err != nil {
		log.Warnw("set cancel marker failed", "buildId", e.BuildID, "error", err)
	}

	m, err := c.detail.GetModel(e.BuildID)
	if err != nil {
		return err
	}
	c.sweep(ctx, e, m, status)

	if err := c.detail.BuildCancel(e.BuildID, status); err != nil {
		log.Warnw("cancel model sweep persist failed", "buildId", e.BuildID, "error", err)
	}

	if finally := c.pendingFinallyStage(m); finally != nil {
		// finally stage 仍要执行,收尾交给它完成后的 stage 流程
		c.dispatcher.Dispatch(ctx, &event.BuildStageEvent{
			Base:       c.base(e, "buildCancel"),
			StageID:    finally.ID,
			ActionType: pipeline.ActionStart,
		})
		return nil
	}

	if running := c.runningStage(m); running != nil {
		// 在跑的 stage 在自己的上下文里消化取消,由它走收尾
		action := pipeline.ActionEnd
		if status == pipeline.StatusTerminate {
			action = pipeline.ActionTerminate
		}
		c.dispatcher.Dispatch(ctx, &event.BuildStageEvent{
			Base:       c.base(e, "buildCancel"),
			StageID:    running.ID,
			ActionType: action,
		})
		return nil
	}

	c.dispatcher.Dispatch(ctx, &event.BuildFinishEvent{
		Base:   c.base(e, "buildCancel"),
		Status: status,
	})
	return nil
}

// sweep 逐容器处理:互斥组释放不设任何前提;执行中的容器发
// 回收事件让构建机停下;其余未结束的容器直接落取消态。
func (c *BuildCancelControl) sweep(ctx context.Context, e *event.BuildCancelEvent, m *pipeline.Model, status pipeline.BuildStatus) {
	for i, stage := range m.Stages {
		if stage.Finally && i > 1 {
			// finally stage 不参与取消扫描
			continue
		}
		for _, container := range stage.Containers {
			if container.Kind == pipeline.KindTrigger {
				continue
			}

			c.mutex.Release(ctx, e.ProjectID, e.BuildID, container.ID, container.MutexGroup)

			cs := container.Status
			if cs.IsFinish() {
				continue
			}

			if cs == pipeline.StatusRunning || cs == pipeline.StatusPrepareEnv {
				c.shutdownContainer(ctx, e, container)
			}

			// 在跑的容器由自己的控制器处理取消标记;其余的
			// (包括还卡在环境准备的)直接强制落账
			forceCancel := (!cs.IsFinish() && stage.Status != pipeline.StatusRunning && cs != pipeline.StatusRunning) ||
				cs == pipeline.StatusPrepareEnv
			if forceCancel {
				if err := c.containers.UpdateContainerStatus(e.BuildID, container.ID, pipeline.CancelOf(cs)); err != nil {
					log.Warnw("force cancel container failed",
						"buildId", e.BuildID, "containerId", container.ID, "error", err)
				}
			}
		}
	}
}

// shutdownContainer 通知构建资源回收,按容器类型走不同队列
func (c *BuildCancelControl) shutdownContainer(ctx context.Context, e *event.BuildCancelEvent, container *pipeline.Container) {
	base := c.base(e, "buildCancel")
	base.RoutingHint = container.DispatchRoute
	switch container.Kind {
	case pipeline.KindVMBuild:
		c.dispatcher.Dispatch(ctx, &event.AgentShutdownEvent{
			Base:        base,
			VMSeqID:     container.ID,
			BuildResult: false,
		})
	case pipeline.KindNormal:
		c.dispatcher.Dispatch(ctx, &event.BuildLessShutdownEvent{
			Base:        base,
			VMSeqID:     container.ID,
			BuildResult: false,
		})
	}
}

func (c *BuildCancelControl) runningStage(m *pipeline.Model) *pipeline.Stage {
	for i, stage := range m.Stages {
		if i == 0 || stage.Finally {
			continue
		}
		if stage.Status == pipeline.StatusRunning {
			return stage
		}
	}
	return nil
}

// pendingFinallyStage 找还需要执行的 finally stage。
// stage 0 是触发 stage,stage 1 是第一个业务 stage:还没有任何
// 业务执行就取消的构建没有清理的必要,所以 finally 只在位置
// 大于 1 时生效。
func (c *BuildCancelControl) pendingFinallyStage(m *pipeline.Model) *pipeline.Stage {
	for i, stage := range m.Stages {
		if !stage.Finally || i <= 1 {
			continue
		}
		if stage.Status.IsFinish() || stage.Status == pipeline.StatusRunning {
			continue
		}
		if !stage.Enabled() {
			continue
		}
		return stage
	}
	return nil
}

func (c *BuildCancelControl) base(e *event.BuildCancelEvent, source string) event.Base {
	return event.Base{
		Source:     source,
		ProjectID:  e.ProjectID,
		PipelineID: e.PipelineID,
		UserID:     e.UserID,
		BuildID:    e.BuildID,
	}
}
