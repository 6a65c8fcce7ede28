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

// 事件 kind,同时作为队列任务类型注册名
const (
	KindBuildStart        = "build.start"
	KindBuildStage        = "build.stage"
	KindBuildContainer    = "build.container"
	KindAtomTask          = "build.task.atom"
	KindBuildCancel       = "build.cancel"
	KindBuildFinish       = "build.finish"
	KindAgentShutdown     = "agent.shutdown"
	KindBuildLessShutdown = "buildless.shutdown"
	KindBuildStarted      = "build.started.broadcast"
	KindBuildStatusChange = "build.status.broadcast"
)

// Event 引擎内部事件。所有事件经延迟队列投递,至少一次语义,
// 消费端必须幂等。
type Event interface {
	Kind() string
	GetDelayMillis() int
	GetRoutingHint() string
}

// Base 事件公共字段
type Base struct {
	Source      string `json:"source"`
	ProjectID   string `json:"projectId"`
	PipelineID  string `json:"pipelineId"`
	UserID      string `json:"userId"`
	BuildID     string `json:"buildId"`
	DelayMillis int    `json:"delayMills,omitempty"`
	RoutingHint string `json:"routingHint,omitempty"`
}

func (b *Base) GetDelayMillis() int { return b.DelayMillis }

func (b *Base) GetRoutingHint() string { return b.RoutingHint }
