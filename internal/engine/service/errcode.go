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
	"errors"
	"fmt"
)

// 对外接口错误码
const (
	CodeBuildNotFound      = 2101001
	CodeBuildFinished      = 2101002
	CodeBuildNotFinished   = 2101003
	CodePipelineLocked     = 2101004
	CodeStageNotFound      = 2101005
	CodeStageNotPaused     = 2101006
	CodeReviewerDenied     = 2101007
	CodeReviewGroupInvalid = 2101008
	CodeModelInvalid       = 2101009
)

// APIError 带错误码的接口错误
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Msg)
}

func NewAPIError(code int, format string, args ...interface{}) *APIError {
	return &APIError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// IsAPIError 取出错误码,非接口错误返回 0
func IsAPIError(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}
