// Copyright 2025 Forge Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipeline defines the build Model snapshot: an ordered tree of
// stages, containers (jobs) and elements (atom tasks). The Model is the
// single mutable document attached 1:1 to a build; every status transition
// rewrites the relevant sub-node and persists the whole snapshot.
package pipeline

import (
	"github.com/pkg/errors"
)

// Model 构建的结构快照
type Model struct {
	Name   string   `json:"name"`
	Stages []*Stage `json:"stages"`
}

// ErrFinallyStagePosition Model 中 finally stage 不唯一或不在末位
var ErrFinallyStagePosition = errors.New("model: finally stage must be unique and last")

// Validate 校验 finally stage 约束：最多一个，且必须位于末位
func (m *Model) Validate() error {
	for i, stage := range m.Stages {
		if stage.Finally && i != len(m.Stages)-1 {
			return ErrFinallyStagePosition
		}
	}
	return nil
}

// Stage 按 ID 查找 stage
func (m *Model) Stage(stageID string) *Stage {
	for _, stage := range m.Stages {
		if stage.ID == stageID {
			return stage
		}
	}
	return nil
}

// FirstValidStage 返回第一个启用的非触发 stage。
// 约定第 0 个 stage 为触发 stage；没有可执行 stage 时返回 nil（空流水线）。
func (m *Model) FirstValidStage() *Stage {
	if len(m.Stages) <= 1 {
		return nil
	}
	for i := 1; i < len(m.Stages); i++ {
		if m.Stages[i].Enabled() {
			return m.Stages[i]
		}
	}
	return nil
}

// NextStage 返回 stageID 之后第一个启用的 stage，没有则返回 nil
func (m *Model) NextStage(stageID string) *Stage {
	found := false
	for _, stage := range m.Stages {
		if found && stage.Enabled() {
			return stage
		}
		if stage.ID == stageID {
			found = true
		}
	}
	return nil
}

// StageControlOption stage 级流程控制选项
type StageControlOption struct {
	Enable        *bool         `json:"enable,omitempty"` // nil 按启用处理
	ManualTrigger bool          `json:"manualTrigger,omitempty"`
	TriggerUsers  []string      `json:"triggerUsers,omitempty"`
	Triggered     bool          `json:"triggered,omitempty"`
	ReviewDesc    string        `json:"reviewDesc,omitempty"`
	ReviewParams  []ReviewParam `json:"reviewParams,omitempty"`
	Timeout       int           `json:"timeout,omitempty"` // 小时
}

// Stage 流水线阶段
type Stage struct {
	ID            string              `json:"id"`
	Name          string              `json:"name,omitempty"`
	Tags          []string            `json:"tags,omitempty"`
	Status        BuildStatus         `json:"status,omitempty"`
	ReviewStatus  BuildStatus         `json:"reviewStatus,omitempty"`
	StartEpoch    int64               `json:"startEpoch,omitempty"` // 毫秒
	Elapsed       int64               `json:"elapsed,omitempty"`    // 毫秒
	FastKill      bool                `json:"fastKill,omitempty"`
	Finally       bool                `json:"finally,omitempty"`
	ControlOption *StageControlOption `json:"stageControlOption,omitempty"`
	CheckIn       *StagePauseCheck    `json:"checkIn,omitempty"`  // 准入配置
	CheckOut      *StagePauseCheck    `json:"checkOut,omitempty"` // 准出配置
	Containers    []*Container        `json:"containers"`
}

// Enabled stage 是否启用（未配置视为启用）
func (s *Stage) Enabled() bool {
	if s.ControlOption == nil || s.ControlOption.Enable == nil {
		return true
	}
	return *s.ControlOption.Enable
}

// Container 按 ID 查找容器
func (s *Stage) Container(containerID string) *Container {
	for _, c := range s.Containers {
		if c.ID == containerID {
			return c
		}
	}
	return nil
}

// ExecutedBusiness stage 下是否有容器实际执行过业务
func (s *Stage) ExecutedBusiness() bool {
	for _, c := range s.Containers {
		if !c.Status.IsBlank() && c.Status != StatusUnexec {
			return true
		}
	}
	return false
}

// RefreshReviewOption 将旧版审核配置刷新到 checkIn 审核流中，并补齐审核组 ID
func (s *Stage) RefreshReviewOption(init bool) {
	if s.CheckIn != nil {
		s.CheckIn.FixReviewGroups(init)
		return
	}
	if s.ControlOption == nil || !s.ControlOption.ManualTrigger {
		return
	}
	s.CheckIn = ConvertControlOption(s.ControlOption)
}

// ContainerKind 容器运行形态
type ContainerKind string

const (
	// KindVMBuild 构建机容器，任务在 Agent 上执行
	KindVMBuild ContainerKind = "vmBuild"
	// KindNormal 无编译环境容器，任务在引擎侧执行
	KindNormal ContainerKind = "normal"
	// KindTrigger 触发器容器，仅出现在第 0 个 stage
	KindTrigger ContainerKind = "trigger"
)

// Container 作业（Job）
type Container struct {
	ID             string        `json:"id"`
	Name           string        `json:"name,omitempty"`
	Kind           ContainerKind `json:"kind"`
	Status         BuildStatus   `json:"status,omitempty"`
	StartVMStatus  BuildStatus   `json:"startVMStatus,omitempty"`
	Elapsed        int64         `json:"elapsed,omitempty"`
	SystemElapsed  int64         `json:"systemElapsed,omitempty"`
	ElementElapsed int64         `json:"elementElapsed,omitempty"`
	MutexGroup     *MutexGroup   `json:"mutexGroup,omitempty"`
	DispatchRoute  string        `json:"dispatchRoute,omitempty"` // 构建机消息的定向路由
	Elements       []*Element    `json:"elements,omitempty"`
	Params         []BuildParam  `json:"params,omitempty"` // 仅触发器容器使用
}

// Element 按 ID 查找插件任务
func (c *Container) Element(taskID string) *Element {
	for _, e := range c.Elements {
		if e.ID == taskID {
			return e
		}
	}
	return nil
}

// BuildParam 触发器容器上的启动参数定义
type BuildParam struct {
	ID           string `json:"id"`
	DefaultValue string `json:"defaultValue,omitempty"`
}

// MutexGroup 项目级命名互斥组，限制同名容器跨构建并发
type MutexGroup struct {
	Enable        bool   `json:"enable"`
	GroupName     string `json:"groupName"`
	QueueEnable   bool   `json:"queueEnable,omitempty"`
	Queue         int    `json:"queue,omitempty"`          // 排队容量
	TimeoutMinute int    `json:"timeoutMinute,omitempty"`  // 排队超时
	RuntimeName   string `json:"runtimeName,omitempty"`    // 变量替换后的真实组名
}

// RunCondition 插件任务的运行条件
type RunCondition string

const (
	// RunConditionPreTaskSuccess 前序任务全部成功才运行
	RunConditionPreTaskSuccess RunCondition = "PRE_TASK_SUCCESS"
	// RunConditionPreTaskFailedButCancel 前序失败也运行，取消时不运行
	RunConditionPreTaskFailedButCancel RunCondition = "PRE_TASK_FAILED_BUT_CANCEL"
	// RunConditionPreTaskFailedEvenCancel 即使取消也要运行
	RunConditionPreTaskFailedEvenCancel RunCondition = "PRE_TASK_FAILED_EVEN_CANCEL"
)

// ElementAdditionalOptions 插件任务的附加选项
type ElementAdditionalOptions struct {
	Enable        *bool        `json:"enable,omitempty"`
	RunCondition  RunCondition `json:"runCondition,omitempty"`
	RetryWhenFail bool         `json:"retryWhenFailed,omitempty"`
	RetryCount    int          `json:"retryCount,omitempty"`
	ContinueFail  bool         `json:"continueWhenFailed,omitempty"`
	Timeout       int          `json:"timeout,omitempty"` // 分钟
}

// Element 插件任务（Atom）
type Element struct {
	ID                string                    `json:"id"`
	Name              string                    `json:"name,omitempty"`
	Atom              string                    `json:"atomCode,omitempty"`
	Version           string                    `json:"version,omitempty"`
	Status            BuildStatus               `json:"status,omitempty"`
	Elapsed           int64                     `json:"elapsed,omitempty"`
	AdditionalOptions *ElementAdditionalOptions `json:"additionalOptions,omitempty"`
	Repo              *RepoOption               `json:"repo,omitempty"` // 代码拉取插件的仓库配置
}

// RepoOption 代码拉取插件的仓库与版本信息，启动时由引擎补齐 Revision
type RepoOption struct {
	RepositoryID    string `json:"repositoryId"`
	Branch          string `json:"branch,omitempty"`
	Revision        string `json:"revision,omitempty"`
	SpecifyRevision bool   `json:"specifyRevision,omitempty"`
}

// Enabled 插件是否启用（未配置视为启用）
func (e *Element) Enabled() bool {
	if e.AdditionalOptions == nil || e.AdditionalOptions.Enable == nil {
		return true
	}
	return *e.AdditionalOptions.Enable
}

// RunCondition 返回配置的运行条件，默认 PRE_TASK_SUCCESS
func (e *Element) RunCondition() RunCondition {
	if e.AdditionalOptions == nil || e.AdditionalOptions.RunCondition == "" {
		return RunConditionPreTaskSuccess
	}
	return e.AdditionalOptions.RunCondition
}
