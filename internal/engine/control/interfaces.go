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

// Package control 引擎控制器。构建以事件驱动推进:
// Start -> Stage -> Container -> Task,层层通过事件衔接,
// 没有集中调度器。事件至少一次投递,每个控制器入口先做
// 幂等检查,重复投递的事件安静丢弃。
package control

import (
	"context"

	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
)

// RuntimeService 构建运行记录的读写
type RuntimeService interface {
	GetBuild(buildID string) (*model.BuildInfo, error)
	GetRunLockType(pipelineID string) (model.RunLockType, error)
	IsHeadOfQueue(pipelineID, buildID string) (bool, error)
	HasRunningBuild(pipelineID string) (bool, error)
	StartBuildRunning(projectID, pipelineID, buildID string, executeCount int) error
	MarkQueueCache(buildID string) error
	UpdateBuildStatus(buildID string, status pipeline.BuildStatus) error
	FinishBuild(pipelineID, buildID string, status pipeline.BuildStatus, errorInfo []model.BuildError) error
	NextBuildNo(pipelineID string) (int, error)
	NextQueuedBuild(pipelineID string) (*model.BuildInfo, error)
}

// DetailService 构建 Model 快照的读与受控修改
type DetailService interface {
	GetModel(buildID string) (*pipeline.Model, error)
	UpdateStageStatus(buildID, stageID string, status pipeline.BuildStatus) error
	StageSkip(buildID, stageID string) error
	StagePause(buildID, stageID string, checkIn *pipeline.StagePauseCheck) error
	StageStart(buildID, stageID string) error
	StageCancel(buildID, stageID string) error
	StageReview(buildID, stageID string, checkIn *pipeline.StagePauseCheck) error
	StageCheckQualityFail(buildID, stageID string, checkTimes int) error
	ContainerStart(buildID, stageID, containerID string, status pipeline.BuildStatus) error
	ContainerEnd(buildID, stageID, containerID string, status pipeline.BuildStatus) error
	TaskStatusChange(buildID, stageID, containerID, taskID string, status pipeline.BuildStatus) error
	BuildCancel(buildID string, status pipeline.BuildStatus) error
	SaveModel(buildID string, m *pipeline.Model) error
}

// TaskService task 记录与取消/重试簿记
type TaskService interface {
	GetTask(buildID, taskID string) (*model.BuildTask, error)
	ListContainerTasks(buildID, containerID string) ([]*model.BuildTask, error)
	StartTask(buildID, taskID, starter string, executeCount int) error
	UpdateTaskStatus(buildID, taskID string, status pipeline.BuildStatus) error
	FinishTask(buildID, taskID string, status pipeline.BuildStatus, errorType string, errorCode int, errorMsg string) error
	BatchUnexec(buildID, containerID string, taskIDs []string) error
	SetCancelMarker(ctx context.Context, buildID string, status pipeline.BuildStatus) error
	GetCancelMarker(ctx context.Context, buildID string) (pipeline.BuildStatus, error)
	DeleteCancelMarker(ctx context.Context, buildID string)
	AddCancelTask(ctx context.Context, buildID, containerID, taskID string) error
	IsCancelTask(ctx context.Context, buildID, containerID, taskID string) (bool, error)
	IncrRetryCount(ctx context.Context, buildID, taskID string, executeCount int) (int, error)
}

// VariableService 构建变量读写
type VariableService interface {
	SetVariables(projectID, pipelineID, buildID string, vars map[string]string) error
	GetAllVariables(buildID string) (map[string]string, error)
	AppendFailTask(projectID, pipelineID, buildID, taskID, taskName string) error
}

// ContainerService 容器运行记录读写
type ContainerService interface {
	GetContainer(buildID, containerID string) (*model.BuildContainer, error)
	ListContainersByStage(buildID, stageID string) ([]*model.BuildContainer, error)
	StartContainer(buildID, containerID string, status pipeline.BuildStatus) error
	FinishContainer(buildID, containerID string, status pipeline.BuildStatus) error
	UpdateContainerStatus(buildID, containerID string, status pipeline.BuildStatus) error
}

// StageService stage 运行记录读写
type StageService interface {
	GetStage(buildID, stageID string) (*model.BuildStage, error)
	StartStage(buildID, stageID string, status pipeline.BuildStatus) error
	FinishStage(buildID, stageID string, status pipeline.BuildStatus) error
}

// ScmResolver 启动前补全代码拉取插件的 revision
type ScmResolver interface {
	LatestRevision(ctx context.Context, projectID, repositoryID, branch string) (string, error)
}

// AtomResult 插件一次执行/轮询的结果
type AtomResult struct {
	Status    pipeline.BuildStatus // RUNNING 表示仍在执行
	ErrorType string
	ErrorCode int
	ErrorMsg  string
}

// AtomExecutor 插件执行适配。引擎只关心状态流转,
// 真正的执行发生在构建机或第三方服务。
type AtomExecutor interface {
	// Execute 发起执行,返回当前状态
	Execute(ctx context.Context, task *model.BuildTask) (*AtomResult, error)
	// Poll 查询执行进度
	Poll(ctx context.Context, task *model.BuildTask) (*AtomResult, error)
}

// QualityChecker stage 准入/准出的红线校验
type QualityChecker interface {
	Check(ctx context.Context, buildID string, ruleIDs []string) (pass bool, err error)
}
