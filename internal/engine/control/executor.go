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

	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
)

// DirectExecutor 同步完成所有 task 的执行器。没有接入构建机
// 的部署用它打通状态流转,真实执行由 agent 侧的实现替换。
type DirectExecutor struct{}

func NewDirectExecutor() *DirectExecutor {
	return &DirectExecutor{}
}

func (e *DirectExecutor) Execute(ctx context.Context, task *model.BuildTask) (*AtomResult, error) {
	return &AtomResult{Status: pipeline.StatusSucceed}, nil
}

func (e *DirectExecutor) Poll(ctx context.Context, task *model.BuildTask) (*AtomResult, error) {
	return &AtomResult{Status: pipeline.StatusSucceed}, nil
}
