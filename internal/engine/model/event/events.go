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

package event

import (
	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
)

// BuildStartEvent 构建启动/排队重试事件
type BuildStartEvent struct {
	Base
	Status      pipeline.BuildStatus `json:"status"`
	ActionType  pipeline.ActionType  `json:"actionType"`
	TaskID      string               `json:"taskId,omitempty"` // 重试时指定的插件
	BuildNoType string               `json:"buildNoType,omitempty"`
}

func (*BuildStartEvent) Kind() string { return KindBuildStart }

// BuildStageEvent stage 推进事件
type BuildStageEvent struct {
	Base
	StageID    string              `json:"stageId"`
	ActionType pipeline.ActionType `json:"actionType"`
}

func (*BuildStageEvent) Kind() string { return KindBuildStage }

// BuildContainerEvent 容器(Job)推进事件
type BuildContainerEvent struct {
	Base
	StageID     string              `json:"stageId"`
	ContainerID string              `json:"containerId"`
	ActionType  pipeline.ActionType `json:"actionType"`
}

func (*BuildContainerEvent) Kind() string { return KindBuildContainer }

// AtomTaskEvent 插件任务事件,驱动单个 task 的启动/轮询/终止
type AtomTaskEvent struct {
	Base
	StageID      string              `json:"stageId"`
	ContainerID  string              `json:"containerId"`
	TaskID       string              `json:"taskId"`
	TaskParam    string              `json:"taskParam,omitempty"`
	ActionType   pipeline.ActionType `json:"actionType"`
	ErrorCode    int                 `json:"errorCode,omitempty"`
	ErrorType    string              `json:"errorType,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	ExecuteCount int                 `json:"executeCount,omitempty"`
}

func (*AtomTaskEvent) Kind() string { return KindAtomTask }

// BuildCancelEvent 取消/终止整个构建
type BuildCancelEvent struct {
	Base
	Status    pipeline.BuildStatus `json:"status"` // CANCELED 或 TERMINATE
	Terminate bool                 `json:"terminate,omitempty"`
}

func (*BuildCancelEvent) Kind() string { return KindBuildCancel }

// BuildFinishEvent 构建收尾事件
type BuildFinishEvent struct {
	Base
	Status    pipeline.BuildStatus `json:"status"`
	ErrorInfo []model.BuildError   `json:"errorInfo,omitempty"`
}

func (*BuildFinishEvent) Kind() string { return KindBuildFinish }

// AgentShutdownEvent 通知构建机回收
type AgentShutdownEvent struct {
	Base
	VMSeqID     string `json:"vmSeqId"`
	BuildResult bool   `json:"buildResult"`
}

func (*AgentShutdownEvent) Kind() string { return KindAgentShutdown }

// BuildLessShutdownEvent 通知无编译环境容器回收
type BuildLessShutdownEvent struct {
	Base
	VMSeqID     string `json:"vmSeqId"`
	BuildResult bool   `json:"buildResult"`
}

func (*BuildLessShutdownEvent) Kind() string { return KindBuildLessShutdown }

// BuildStartedEvent 构建正式进入 RUNNING 的广播
type BuildStartedEvent struct {
	Base
	BuildNum int `json:"buildNum"`
}

func (*BuildStartedEvent) Kind() string { return KindBuildStarted }

// BuildStatusChangeEvent 构建终态广播
type BuildStatusChangeEvent struct {
	Base
	Status pipeline.BuildStatus `json:"status"`
}

func (*BuildStatusChangeEvent) Kind() string { return KindBuildStatusChange }
