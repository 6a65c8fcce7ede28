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

package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// key 格式一旦变更,线上存量 key 就找不回来了,用例固定住格式
func TestKeys(t *testing.T) {
	var k Keys
	assert.Equal(t, "build:cancel:flag:b-1", k.CancelMarker("b-1"))
	assert.Equal(t, "build:cancel:task:b-1:c-1", k.CancelTaskSet("b-1", "c-1"))
	assert.Equal(t, "build:retry:count:b-1:t-1:2", k.TaskRetryCount("b-1", "t-1", 2))
	assert.Equal(t, "lock:build:b-1", k.BuildLock("b-1"))
	assert.Equal(t, "lock:build:b-1:container:c-1", k.ContainerLock("b-1", "c-1"))
	assert.Equal(t, "lock:pipeline:start:p-1", k.PipelineStartLock("p-1"))
	assert.Equal(t, "lock:pipeline:buildno:p-1", k.PipelineBuildNumLock("p-1"))
	assert.Equal(t, "mutex:queue:proj:grp", k.MutexQueue("proj", "grp"))
	assert.Equal(t, "mutex:lock:proj:grp", k.MutexHolder("proj", "grp"))
}
