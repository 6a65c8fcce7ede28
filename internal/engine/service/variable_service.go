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
	"github.com/forge-ci/forge/internal/engine/repo"
	"github.com/forge-ci/forge/internal/pkg/variable"
)

// 引擎内置变量 key
const (
	VarBuildID       = "CI_BUILD_ID"
	VarBuildNum      = "CI_BUILD_NUM"
	VarBuildNo       = "CI_BUILD_NO"
	VarPipelineID    = "CI_PIPELINE_ID"
	VarProjectID     = "CI_PROJECT_NAME"
	VarStartUser     = "CI_START_USER_NAME"
	VarFailTasks     = "CI_BUILD_FAIL_TASKS"
	VarFailTaskNames = "CI_BUILD_FAIL_TASKNAMES"
	VarRetryCount    = "CI_RETRY_COUNT"
)

// BuildVariableService 构建变量的读写与 ${{ }} 表达式求值
type BuildVariableService struct {
	varRepo repo.IBuildVariableRepository
}

func NewBuildVariableService(varRepo repo.IBuildVariableRepository) *BuildVariableService {
	return &BuildVariableService{varRepo: varRepo}
}

// SetVariables 批量写入变量
func (s *BuildVariableService) SetVariables(projectID, pipelineID, buildID string, vars map[string]string) error {
	return s.varRepo.BatchSave(projectID, pipelineID, buildID, vars)
}

// GetAllVariables 读取构建的全部变量
func (s *BuildVariableService) GetAllVariables(buildID string) (map[string]string, error) {
	return s.varRepo.GetAllVariables(buildID)
}

// GetVariable 读取单个变量,不存在返回空串
func (s *BuildVariableService) GetVariable(buildID, key string) (string, error) {
	return s.varRepo.GetVariable(buildID, key)
}

// Interpreter 以当前构建变量为环境创建表达式解释器
func (s *BuildVariableService) Interpreter(buildID string) (*variable.Interpreter, error) {
	vars, err := s.varRepo.GetAllVariables(buildID)
	if err != nil {
		return nil, err
	}
	return variable.New(vars), nil
}

// AppendFailTask 追加失败任务记录,供重试时只重跑失败部分
func (s *BuildVariableService) AppendFailTask(projectID, pipelineID, buildID, taskID, taskName string) error {
	prevIDs, err := s.varRepo.GetVariable(buildID, VarFailTasks)
	if err != nil {
		return err
	}
	prevNames, err := s.varRepo.GetVariable(buildID, VarFailTaskNames)
	if err != nil {
		return err
	}
	ids := appendCSV(prevIDs, taskID)
	names := appendCSV(prevNames, taskName)
	return s.varRepo.BatchSave(projectID, pipelineID, buildID, map[string]string{
		VarFailTasks:     ids,
		VarFailTaskNames: names,
	})
}

func appendCSV(prev, item string) string {
	if prev == "" {
		return item
	}
	return prev + "," + item
}
