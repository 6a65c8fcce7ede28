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

package service

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestAPIError(t *testing.T) {
	err := NewAPIError(CodeBuildNotFound, "build %s not found", "b-1")
	assert.Equal(t, "[2101001] build b-1 not found", err.Error())

	code, ok := IsAPIError(err)
	assert.True(t, ok)
	assert.Equal(t, CodeBuildNotFound, code)

	// 包装后仍可识别
	code, ok = IsAPIError(errors.Wrap(err, "start build"))
	assert.True(t, ok)
	assert.Equal(t, CodeBuildNotFound, code)

	code, ok = IsAPIError(errors.New("boom"))
	assert.False(t, ok)
	assert.Zero(t, code)
}
