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

// BuildStatus 构建状态，空串表示尚未进入流程
type BuildStatus string

const (
	StatusUnknown BuildStatus = ""

	// 排队与运行
	StatusUnexec     BuildStatus = "UNEXEC"
	StatusQueue      BuildStatus = "QUEUE"
	StatusQueueCache BuildStatus = "QUEUE_CACHE"
	StatusRetry      BuildStatus = "RETRY"
	StatusPrepareEnv BuildStatus = "PREPARE_ENV"
	StatusRunning    BuildStatus = "RUNNING"
	StatusLoopWait   BuildStatus = "LOOP_WAITING"

	// 终态
	StatusSucceed      BuildStatus = "SUCCEED"
	StatusFailed       BuildStatus = "FAILED"
	StatusCanceled     BuildStatus = "CANCELED"
	StatusTerminate    BuildStatus = "TERMINATE"
	StatusSkip         BuildStatus = "SKIP"
	StatusStageSuccess BuildStatus = "STAGE_SUCCESS"

	// Stage 审核
	StatusPause            BuildStatus = "PAUSE"
	StatusReviewing        BuildStatus = "REVIEWING"
	StatusReviewAbort      BuildStatus = "REVIEW_ABORT"
	StatusReviewProcessed  BuildStatus = "REVIEW_PROCESSED"
	StatusQualityCheckFail BuildStatus = "QUALITY_CHECK_FAIL"
)

func (s BuildStatus) String() string {
	return string(s)
}

// IsSuccess 成功类终态
func (s BuildStatus) IsSuccess() bool {
	return s == StatusSucceed || s == StatusStageSuccess || s == StatusSkip
}

// IsFailure 失败类终态
func (s BuildStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusTerminate || s == StatusQualityCheckFail
}

// IsCancel 取消类终态
func (s BuildStatus) IsCancel() bool {
	return s == StatusCanceled
}

// IsFinish 是否已结束（成功/失败/取消）
func (s BuildStatus) IsFinish() bool {
	return s.IsSuccess() || s.IsFailure() || s.IsCancel()
}

// IsReadyToRun 是否处于待启动状态
func (s BuildStatus) IsReadyToRun() bool {
	return s == StatusQueue || s == StatusQueueCache || s == StatusRetry
}

// IsRunning 是否运行中
func (s BuildStatus) IsRunning() bool {
	return s == StatusRunning || s == StatusPrepareEnv || s == StatusLoopWait
}

// IsPause 是否处于 Stage 暂停审核
func (s BuildStatus) IsPause() bool {
	return s == StatusPause
}

// IsBlank 尚无状态记录
func (s BuildStatus) IsBlank() bool {
	return s == StatusUnknown
}

// CancelOf 取消动作落到各状态上的结果：未结束的置为 CANCELED，
// 已结束的保持原样。
func CancelOf(s BuildStatus) BuildStatus {
	if s.IsFinish() {
		return s
	}
	return StatusCanceled
}

// ParseBuildStatus 将持久化的字符串还原为 BuildStatus
func ParseBuildStatus(s string) BuildStatus {
	return BuildStatus(s)
}
