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

package pipeline

// ActionType 事件携带的动作指令
type ActionType string

const (
	ActionStart     ActionType = "START"
	ActionRefresh   ActionType = "REFRESH"
	ActionEnd       ActionType = "END"
	ActionTerminate ActionType = "TERMINATE"
	ActionRetry     ActionType = "RETRY"
	ActionSkip      ActionType = "SKIP"
)

// IsStart 启动类动作
func (a ActionType) IsStart() bool {
	return a == ActionStart || a == ActionRetry
}

// IsTerminate 系统强制终止
func (a ActionType) IsTerminate() bool {
	return a == ActionTerminate
}

// IsEnd 结束类动作（用户取消或系统终止）
func (a ActionType) IsEnd() bool {
	return a == ActionEnd || a == ActionTerminate
}
