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
	"sync"

	englock "github.com/forge-ci/forge/internal/engine/control/lock"
	"github.com/forge-ci/forge/internal/engine/dispatch"
	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/event"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
	"github.com/forge-ci/forge/internal/engine/service"
	"github.com/forge-ci/forge/pkg/lock"
	"github.com/forge-ci/forge/pkg/log"
	"github.com/forge-ci/forge/pkg/safe"
)

// 抢不到启动锁时的重投间隔
const startLockRetryMillis = 1000

// 串行排队时的重查间隔
const queueRetryMillis = 5000

// BuildStartControl 把排队中的构建领进执行态。同一流水线
// 一次只处理一个启动事件,抢不到启动锁的事件延迟重投。
type BuildStartControl struct {
	locks      englock.Factory
	runtime    RuntimeService
	detail     DetailService
	vars       VariableService
	scm        ScmResolver // 可为 nil,revision 补全尽力而为
	dispatcher dispatch.Dispatcher
}

func NewBuildStartControl(
	locks englock.Factory,
	runtime RuntimeService,
	detail DetailService,
	vars VariableService,
	scm ScmResolver,
	dispatcher dispatch.Dispatcher,
) *BuildStartControl {
	return &BuildStartControl{
		locks:      locks,
		runtime:    runtime,
		detail:     detail,
		vars:       vars,
		scm:        scm,
		dispatcher: dispatcher,
	}
}

// Handle 处理构建启动事件
func (c *BuildStartControl) Handle(ctx context.Context, e *event.BuildStartEvent) error {
	startLock := c.locks.PipelineStartLock(e.PipelineID)
	acquired, err := startLock.TryLock(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		// 别的启动事件在处理中,稍后再来
		retry := *e
		retry.DelayMillis = startLockRetryMillis
		c.dispatcher.Dispatch(ctx, &retry)
		return nil
	}
	defer startLock.Unlock(ctx)

	return lock.WithLock(ctx, c.locks.BuildLock(e.BuildID), func() error {
		return c.handleStart(ctx, e)
	})
}

func (c *BuildStartControl) handleStart(ctx context.Context, e *event.BuildStartEvent) error {
	info, err := c.runtime.GetBuild(e.BuildID)
	if err != nil {
		return err
	}
	status := pipeline.ParseBuildStatus(info.Status)
	if status.IsFinish() {
		log.Infow("build already finished, drop start event", "buildId", e.BuildID, "status", status)
		return nil
	}
	if !status.IsReadyToRun() {
		// 已经启动过,重复投递
		log.Infow("build already started, drop start event", "buildId", e.BuildID, "status", status)
		return nil
	}

	proceed, err := c.checkRunLock(ctx, e, info)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	if e.ActionType.IsStart() && info.ExecuteCount <= 1 {
		if err := c.assignBuildNo(ctx, e); err != nil {
			return err
		}
	}

	if err := c.runtime.StartBuildRunning(e.ProjectID, e.PipelineID, e.BuildID, info.ExecuteCount); err != nil {
		return err
	}
	if err := c.vars.SetVariables(e.ProjectID, e.PipelineID, e.BuildID, map[string]string{
		service.VarBuildID:    e.BuildID,
		service.VarPipelineID: e.PipelineID,
		service.VarProjectID:  e.ProjectID,
		service.VarStartUser:  e.UserID,
		service.VarBuildNum:   strconv.Itoa(info.BuildNum),
	}); err != nil {
		return err
	}

	m, err := c.detail.GetModel(e.BuildID)
	if err != nil {
		return err
	}
	c.supplementModel(ctx, e, m)
	c.markTriggerStage(m)
	if err := c.detail.SaveModel(e.BuildID, m); err != nil {
		return err
	}

	c.dispatcher.Dispatch(ctx, &event.BuildStartedEvent{
		Base: event.Base{
			Source:     "buildStart",
			ProjectID:  e.ProjectID,
			PipelineID: e.PipelineID,
			UserID:     e.UserID,
			BuildID:    e.BuildID,
		},
		BuildNum: info.BuildNum,
	})

	first := m.FirstValidStage()
	if first == nil {
		// 空编排,直接成功收尾
		c.dispatcher.Dispatch(ctx, &event.BuildFinishEvent{
			Base: event.Base{
				Source:     "buildStart",
				ProjectID:  e.ProjectID,
				PipelineID: e.PipelineID,
				UserID:     e.UserID,
				BuildID:    e.BuildID,
			},
			Status: pipeline.StatusSucceed,
		})
		return nil
	}
	c.dispatcher.Dispatch(ctx, &event.BuildStageEvent{
		Base: event.Base{
			Source:     "buildStart",
			ProjectID:  e.ProjectID,
			PipelineID: e.PipelineID,
			UserID:     e.UserID,
			BuildID:    e.BuildID,
		},
		StageID:    first.ID,
		ActionType: pipeline.ActionStart,
	})
	return nil
}

// checkRunLock 串行策略下判断是否轮到该构建。返回 false 表示
// 本次不启动,事件已另行安排。
func (c *BuildStartControl) checkRunLock(ctx context.Context, e *event.BuildStartEvent, info *model.BuildInfo) (bool, error) {
	lockType, err := c.runtime.GetRunLockType(e.PipelineID)
	if err != nil {
		return false, err
	}
	switch lockType {
	case model.RunLockSingle, model.RunLockSingleLock:
		running, err := c.runtime.HasRunningBuild(e.PipelineID)
		if err != nil {
			return false, err
		}
		head, err := c.runtime.IsHeadOfQueue(e.PipelineID, e.BuildID)
		if err != nil {
			return false, err
		}
		if running || !head {
			if err := c.runtime.MarkQueueCache(e.BuildID); err != nil {
				return false, err
			}
			retry := *e
			retry.DelayMillis = queueRetryMillis
			c.dispatcher.Dispatch(ctx, &retry)
			log.Infow("build queued behind running build", "buildId", e.BuildID, "pipelineId", e.PipelineID)
			return false, nil
		}
	case model.RunLockLock:
		// 锁定的流水线在入口就被拦截,事件属于迟到,丢弃
		log.Warnw("pipeline locked, drop start event", "pipelineId", e.PipelineID, "buildId", e.BuildID)
		return false, nil
	}
	return true, nil
}

func (c *BuildStartControl) assignBuildNo(ctx context.Context, e *event.BuildStartEvent) error {
	return lock.WithLock(ctx, c.locks.PipelineBuildNumLock(e.PipelineID), func() error {
		buildNo, err := c.runtime.NextBuildNo(e.PipelineID)
		if err != nil {
			return err
		}
		return c.vars.SetVariables(e.ProjectID, e.PipelineID, e.BuildID, map[string]string{
			service.VarBuildNo: strconv.Itoa(buildNo),
		})
	})
}

// supplementModel 为代码拉取插件补全目标 revision,各插件并发查询,
// 查询失败只告警,留给插件自己在执行时解决。
func (c *BuildStartControl) supplementModel(ctx context.Context, e *event.BuildStartEvent, m *pipeline.Model) {
	if c.scm == nil {
		return
	}
	var wg sync.WaitGroup
	for _, stage := range m.Stages {
		for _, container := range stage.Containers {
			for _, element := range container.Elements {
				repo := element.Repo
				if repo == nil || repo.SpecifyRevision || repo.Revision != "" {
					continue
				}
				wg.Add(1)
				safe.Go(func() {
					defer wg.Done()
					revision, err := c.scm.LatestRevision(ctx, e.ProjectID, repo.RepositoryID, repo.Branch)
					if err != nil {
						log.Warnw("supplement revision failed",
							"buildId", e.BuildID, "repositoryId", repo.RepositoryID, "error", err)
						return
					}
					repo.Revision = revision
				})
			}
		}
	}
	wg.Wait()
}

// markTriggerStage 触发 stage 不会真正执行,启动时直接落成功
func (c *BuildStartControl) markTriggerStage(m *pipeline.Model) {
	if len(m.Stages) == 0 {
		return
	}
	trigger := m.Stages[0]
	trigger.Status = pipeline.StatusSucceed
	for _, container := range trigger.Containers {
		container.Status = pipeline.StatusSucceed
	}
}
