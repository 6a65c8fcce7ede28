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

package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/event"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
)

func finishEvent(status pipeline.BuildStatus) *event.BuildFinishEvent {
	return &event.BuildFinishEvent{
		Base: event.Base{
			ProjectID:  "proj",
			PipelineID: "p-1",
			BuildID:    "b-1",
			UserID:     "alice",
		},
		Status: status,
	}
}

func newFinishFixture(m *pipeline.Model) (*BuildFinishControl, *fakeRuntime, *fakeTasks, *recordingDispatcher) {
	runtime := &fakeRuntime{build: &model.BuildInfo{BuildID: "b-1", Status: string(pipeline.StatusRunning)}}
	tasks := newFakeTasks(
		taskRow("t1", 0, pipeline.StatusSucceed),
		taskRow("t2", 1, pipeline.StatusUnknown),
		taskRow("t3", 2, pipeline.StatusUnknown),
	)
	dispatcher := &recordingDispatcher{}
	control := NewBuildFinishControl(&fakeLockFactory{}, runtime, &fakeDetail{model: m}, tasks, dispatcher)
	return control, runtime, tasks, dispatcher
}

func finishModel() *pipeline.Model {
	evenCancel := &pipeline.ElementAdditionalOptions{RunCondition: pipeline.RunConditionPreTaskFailedEvenCancel}
	return &pipeline.Model{Stages: []*pipeline.Stage{
		{ID: "stage-trigger", Containers: []*pipeline.Container{{ID: "c0", Kind: pipeline.KindTrigger}}},
		{ID: "stage-1", Containers: []*pipeline.Container{
			{ID: "c1", Kind: pipeline.KindVMBuild, Elements: []*pipeline.Element{
				{ID: "t1", Status: pipeline.StatusSucceed},
				{ID: "t2"},
				{ID: "t3", AdditionalOptions: evenCancel},
			}},
		}},
	}}
}

// 构建已结束的收尾事件直接丢弃
func TestFinishDroppedWhenFinished(t *testing.T) {
	control, runtime, _, dispatcher := newFinishFixture(finishModel())
	runtime.build.Status = string(pipeline.StatusSucceed)

	require.NoError(t, control.Handle(context.Background(), finishEvent(pipeline.StatusFailed)))

	assert.Equal(t, pipeline.StatusUnknown, runtime.finishedStatus)
	assert.Empty(t, dispatcher.events)
}

// 未执行的 task 落 UNEXEC,EVEN_CANCEL 的不动
func TestFinishMarksUnexecuted(t *testing.T) {
	control, _, tasks, _ := newFinishFixture(finishModel())

	require.NoError(t, control.Handle(context.Background(), finishEvent(pipeline.StatusCanceled)))

	assert.Equal(t, []string{"t2"}, tasks.unexec)
}

// 落终态、清取消标记、广播状态变化
func TestFinishBuild(t *testing.T) {
	control, runtime, tasks, dispatcher := newFinishFixture(finishModel())
	tasks.cancelMarker = pipeline.StatusCanceled

	require.NoError(t, control.Handle(context.Background(), finishEvent(pipeline.StatusSucceed)))

	assert.Equal(t, pipeline.StatusSucceed, runtime.finishedStatus)
	assert.True(t, tasks.cancelMarker.IsBlank())

	require.Len(t, dispatcher.events, 1)
	change, ok := dispatcher.events[0].(*event.BuildStatusChangeEvent)
	require.True(t, ok)
	assert.Equal(t, pipeline.StatusSucceed, change.Status)
	assert.Equal(t, "buildFinish", change.Source)
}

// 串行流水线收尾后接力唤醒队头的排队构建
func TestFinishWakesNextQueuedBuild(t *testing.T) {
	control, runtime, _, dispatcher := newFinishFixture(finishModel())
	runtime.lockType = model.RunLockSingle
	runtime.nextQueued = &model.BuildInfo{
		BuildID:    "b-2",
		ProjectID:  "proj",
		PipelineID: "p-1",
		StartUser:  "bob",
		Status:     string(pipeline.StatusQueueCache),
	}

	require.NoError(t, control.Handle(context.Background(), finishEvent(pipeline.StatusSucceed)))

	next := dispatcher.lastStartEvent()
	require.NotNil(t, next)
	assert.Equal(t, "b-2", next.BuildID)
	assert.Equal(t, "bob", next.UserID)
	assert.Equal(t, pipeline.ActionStart, next.ActionType)
}

// 并行流水线收尾不唤醒任何排队构建
func TestFinishNoWakeOnParallelPipeline(t *testing.T) {
	control, runtime, _, dispatcher := newFinishFixture(finishModel())
	runtime.nextQueued = &model.BuildInfo{BuildID: "b-2", PipelineID: "p-1"}

	require.NoError(t, control.Handle(context.Background(), finishEvent(pipeline.StatusSucceed)))

	assert.Nil(t, dispatcher.lastStartEvent())
}
