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

package pipeline

import "github.com/forge-ci/forge/pkg/statemachine"

// buildTransitions 构建级状态迁移表。事件至少一次投递意味着状态更新
// 可能乱序到达,迁移表用来识别并丢弃倒退的更新。
var buildTransitions = newBuildTransitions()

func newBuildTransitions() *statemachine.StateMachine[BuildStatus] {
	sm := statemachine.New[BuildStatus]()
	sm.Allow(StatusUnknown, StatusQueue)
	sm.Allow(StatusQueue, StatusQueueCache, StatusRunning, StatusCanceled, StatusTerminate)
	sm.Allow(StatusQueueCache, StatusRunning, StatusCanceled, StatusTerminate)
	sm.Allow(StatusRetry, StatusRunning, StatusCanceled, StatusTerminate)
	sm.Allow(StatusRunning,
		StatusStageSuccess, StatusSucceed, StatusFailed,
		StatusCanceled, StatusTerminate, StatusQualityCheckFail)
	// Stage 审核通过后回到 RUNNING,审核驳回/取消落终态
	sm.Allow(StatusStageSuccess, StatusRunning, StatusCanceled, StatusTerminate, StatusSucceed)
	// 质量红线失败后允许人工重试
	sm.Allow(StatusQualityCheckFail, StatusRetry)
	// 终态允许整体重试
	sm.Allow(StatusFailed, StatusRetry)
	sm.Allow(StatusCanceled, StatusRetry)
	sm.Allow(StatusTerminate, StatusRetry)
	sm.Allow(StatusSucceed, StatusRetry)
	return sm
}

// CanTransition 判断构建状态迁移是否合法
func CanTransition(from, to BuildStatus) bool {
	return buildTransitions.CanTransition(from, to)
}
