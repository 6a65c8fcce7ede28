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

package service

import (
	"github.com/forge-ci/forge/pkg/log"
)

// LogPrinter 向用户可见的构建日志流输出。外部日志服务不可用
// 不能影响构建推进,实现必须尽力而为。
type LogPrinter interface {
	AddLine(buildID, message, taskID, containerID string, executeCount int)
	AddYellowLine(buildID, message, taskID, containerID string, executeCount int)
	AddRedLine(buildID, message, taskID, containerID string, executeCount int)
	StopLog(buildID, taskID, containerID string, executeCount int)
}

// EngineLogPrinter 把构建日志写进引擎自身日志,部署无日志服务时的缺省实现
type EngineLogPrinter struct{}

func NewEngineLogPrinter() *EngineLogPrinter {
	return &EngineLogPrinter{}
}

func (p *EngineLogPrinter) AddLine(buildID, message, taskID, containerID string, executeCount int) {
	log.Infow(message, "buildId", buildID, "taskId", taskID, "containerId", containerID, "executeCount", executeCount)
}

func (p *EngineLogPrinter) AddYellowLine(buildID, message, taskID, containerID string, executeCount int) {
	log.Warnw(message, "buildId", buildID, "taskId", taskID, "containerId", containerID, "executeCount", executeCount)
}

func (p *EngineLogPrinter) AddRedLine(buildID, message, taskID, containerID string, executeCount int) {
	log.Errorw(message, "buildId", buildID, "taskId", taskID, "containerId", containerID, "executeCount", executeCount)
}

func (p *EngineLogPrinter) StopLog(buildID, taskID, containerID string, executeCount int) {
}
