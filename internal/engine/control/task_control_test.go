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

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/event"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
)

type taskFixture struct {
	control    *TaskControl
	runtime    *fakeRuntime
	tasks      *fakeTasks
	detail     *fakeDetail
	vars       *fakeVars
	executor   *fakeExecutor
	dispatcher *recordingDispatcher
}

func newTaskFixture(opts *pipeline.ElementAdditionalOptions, rows ...*model.BuildTask) *taskFixture {
	m := &pipeline.Model{Stages: []*pipeline.Stage{
		{ID: "stage-1", Containers: []*pipeline.Container{
			{ID: "c1", Kind: pipeline.KindVMBuild, Elements: []*pipeline.Element{
				{ID: "t1", AdditionalOptions: opts},
			}},
		}},
	}}
	tasks := newFakeTasks(rows...)
	detail := &fakeDetail{model: m}
	vars := newFakeVars()
	executor := &fakeExecutor{}
	dispatcher := &recordingDispatcher{}
	runtime := &fakeRuntime{build: &model.BuildInfo{BuildID: "b-1", Status: string(pipeline.StatusRunning)}}
	control := NewTaskControl(&fakeLockFactory{}, runtime, tasks, detail, vars, executor, nopPrinter{}, dispatcher)
	return &taskFixture{
		control:    control,
		runtime:    runtime,
		tasks:      tasks,
		detail:     detail,
		vars:       vars,
		executor:   executor,
		dispatcher: dispatcher,
	}
}

func taskEvent(action pipeline.ActionType) *event.AtomTaskEvent {
	return &event.AtomTaskEvent{
		Base: event.Base{
			ProjectID:   "proj",
			PipelineID:  "p-1",
			BuildID:     "b-1",
			UserID:      "alice",
			RoutingHint: "agent-7",
		},
		StageID:     "stage-1",
		ContainerID: "c1",
		TaskID:      "t1",
		ActionType:  action,
	}
}

// 重复投递:task 已结束,只补发容器汇聚通知
func TestTaskIdempotentWhenFinished(t *testing.T) {
	f := newTaskFixture(nil, taskRow("t1", 0, pipeline.StatusSucceed))

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionStart)))

	events := f.dispatcher.containerEvents()
	require.Len(t, events, 1)
	assert.Equal(t, pipeline.ActionRefresh, events[0].ActionType)
	assert.Empty(t, f.dispatcher.taskEvents())
}

// 构建已结束后迟到的 task 事件直接丢弃
func TestTaskDroppedWhenBuildFinished(t *testing.T) {
	f := newTaskFixture(nil, taskRow("t1", 0, pipeline.StatusRunning))
	f.runtime.build.Status = string(pipeline.StatusCanceled)

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionRefresh)))

	assert.Equal(t, string(pipeline.StatusRunning), f.tasks.row("t1").Status)
	assert.Empty(t, f.dispatcher.events)
}

// 取消标记优先于一切动作:消费标记、记录被取消的 task、按 CancelOf 落终态
func TestTaskCancelMarkerConsumed(t *testing.T) {
	f := newTaskFixture(nil, taskRow("t1", 0, pipeline.StatusRunning))
	f.tasks.cancelMarker = pipeline.StatusCanceled

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionRefresh)))

	assert.True(t, f.tasks.cancelMarker.IsBlank(), "标记应被消费")
	assert.True(t, f.tasks.cancelTasks["t1"])
	assert.Equal(t, pipeline.StatusCanceled, f.tasks.finished["t1"])
	events := f.dispatcher.containerEvents()
	require.Len(t, events, 1)
	assert.Equal(t, pipeline.ActionEnd, events[0].ActionType)
}

// EVEN_CANCEL 条件的收尾 task 不受取消标记影响,正常执行且不消费标记
func TestTaskCancelMarkerSparesEvenCancelTask(t *testing.T) {
	opts := &pipeline.ElementAdditionalOptions{RunCondition: pipeline.RunConditionPreTaskFailedEvenCancel}
	f := newTaskFixture(opts, taskRow("t1", 0, pipeline.StatusUnknown))
	f.tasks.cancelMarker = pipeline.StatusCanceled
	f.executor.executeResult = &AtomResult{Status: pipeline.StatusSucceed}

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionStart)))

	assert.Equal(t, pipeline.StatusCanceled, f.tasks.cancelMarker, "标记留给其他控制器")
	assert.False(t, f.tasks.cancelTasks["t1"])
	assert.Equal(t, pipeline.StatusSucceed, f.tasks.finished["t1"])
	events := f.dispatcher.containerEvents()
	require.Len(t, events, 1)
	assert.Equal(t, pipeline.ActionRefresh, events[0].ActionType)
}

// 启动后仍在执行中的 task 延迟重投自己轮询
func TestTaskStartRunningLoops(t *testing.T) {
	f := newTaskFixture(nil, taskRow("t1", 0, pipeline.StatusUnknown))
	f.executor.executeResult = &AtomResult{Status: pipeline.StatusRunning}

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionStart)))

	assert.Equal(t, string(pipeline.StatusRunning), f.tasks.row("t1").Status)
	polls := f.dispatcher.taskEvents()
	require.Len(t, polls, 1)
	assert.Equal(t, pipeline.ActionRefresh, polls[0].ActionType)
	assert.Equal(t, taskPollDefaultMillis, polls[0].DelayMillis)
}

// 同步完成的 task 直接落终态并通知容器
func TestTaskStartImmediateSuccess(t *testing.T) {
	f := newTaskFixture(nil, taskRow("t1", 0, pipeline.StatusUnknown))
	f.executor.executeResult = &AtomResult{Status: pipeline.StatusSucceed}

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionStart)))

	assert.Equal(t, pipeline.StatusSucceed, f.tasks.finished["t1"])
	events := f.dispatcher.containerEvents()
	require.Len(t, events, 1)
	assert.Equal(t, pipeline.ActionRefresh, events[0].ActionType)
	// 定向路由跟着事件走
	assert.Equal(t, "agent-7", events[0].RoutingHint)
}

// 事件携带的参数覆盖 task 配置
func TestTaskStartMergesParamOverrides(t *testing.T) {
	row := taskRow("t1", 0, pipeline.StatusUnknown)
	row.TaskParams = map[string]interface{}{"script": "make", "timeout": float64(60)}
	f := newTaskFixture(nil, row)
	f.executor.executeResult = &AtomResult{Status: pipeline.StatusSucceed}

	e := taskEvent(pipeline.ActionStart)
	e.TaskParam = `{"timeout": 120}`
	require.NoError(t, f.control.Handle(context.Background(), e))

	assert.Equal(t, "make", row.TaskParams["script"])
	assert.Equal(t, float64(120), row.TaskParams["timeout"])
}

// 轮询出错不终结 task,下个周期再查
func TestTaskPollErrorRetries(t *testing.T) {
	f := newTaskFixture(nil, taskRow("t1", 0, pipeline.StatusRunning))
	f.executor.pollErr = errors.New("agent unreachable")

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionRefresh)))

	assert.Empty(t, f.tasks.finished)
	polls := f.dispatcher.taskEvents()
	require.Len(t, polls, 1)
	assert.Equal(t, taskPollDefaultMillis, polls[0].DelayMillis)
}

// 插件通过 interval 参数自定义轮询间隔
func TestTaskPollCustomInterval(t *testing.T) {
	row := taskRow("t1", 0, pipeline.StatusRunning)
	row.TaskParams = map[string]interface{}{"interval": float64(1500)}
	f := newTaskFixture(nil, row)
	f.executor.pollResult = &AtomResult{Status: pipeline.StatusRunning}

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionRefresh)))

	polls := f.dispatcher.taskEvents()
	require.Len(t, polls, 1)
	assert.Equal(t, 1500, polls[0].DelayMillis)
}

func TestTaskPollDone(t *testing.T) {
	f := newTaskFixture(nil, taskRow("t1", 0, pipeline.StatusRunning))
	f.executor.pollResult = &AtomResult{Status: pipeline.StatusSucceed}

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionRefresh)))

	assert.Equal(t, pipeline.StatusSucceed, f.tasks.finished["t1"])
}

// 失败自动重试:预算内转 RETRY 并延迟重投,不通知容器
func TestTaskAutoRetryWithinBudget(t *testing.T) {
	opts := &pipeline.ElementAdditionalOptions{RetryWhenFail: true, RetryCount: 2}
	f := newTaskFixture(opts, taskRow("t1", 0, pipeline.StatusRunning))
	f.executor.pollResult = &AtomResult{Status: pipeline.StatusFailed, ErrorMsg: "exit 1"}

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionRefresh)))

	assert.Equal(t, string(pipeline.StatusRetry), f.tasks.row("t1").Status)
	assert.Empty(t, f.tasks.finished)
	assert.Empty(t, f.vars.failTasks)
	retries := f.dispatcher.taskEvents()
	require.Len(t, retries, 1)
	assert.Equal(t, pipeline.ActionRetry, retries[0].ActionType)
	assert.Empty(t, f.dispatcher.containerEvents())
}

// 超出重试预算的失败落终态,记失败变量
func TestTaskAutoRetryExhausted(t *testing.T) {
	opts := &pipeline.ElementAdditionalOptions{RetryWhenFail: true, RetryCount: 1}
	f := newTaskFixture(opts, taskRow("t1", 0, pipeline.StatusRunning))
	f.tasks.retryCounts["t1"] = 1 // 上一轮已用掉预算
	f.executor.pollResult = &AtomResult{Status: pipeline.StatusFailed, ErrorMsg: "exit 1"}

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionRefresh)))

	assert.Equal(t, pipeline.StatusFailed, f.tasks.finished["t1"])
	assert.Equal(t, []string{"t1"}, f.vars.failTasks)
	require.Len(t, f.dispatcher.containerEvents(), 1)
}

// 未配置重试的失败不走重试分支
func TestTaskFailNoRetryConfigured(t *testing.T) {
	f := newTaskFixture(nil, taskRow("t1", 0, pipeline.StatusRunning))
	f.executor.pollResult = &AtomResult{Status: pipeline.StatusFailed, ErrorMsg: "exit 1"}

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionRefresh)))

	assert.Equal(t, pipeline.StatusFailed, f.tasks.finished["t1"])
	assert.Zero(t, f.tasks.retryCounts["t1"])
}

// 终止动作直接落 TERMINATE,容器收到 terminate 通知
func TestTaskTerminateAction(t *testing.T) {
	f := newTaskFixture(nil, taskRow("t1", 0, pipeline.StatusRunning))

	e := taskEvent(pipeline.ActionTerminate)
	e.Reason = "build timeout"
	require.NoError(t, f.control.Handle(context.Background(), e))

	assert.Equal(t, pipeline.StatusTerminate, f.tasks.finished["t1"])
	events := f.dispatcher.containerEvents()
	require.Len(t, events, 1)
	assert.Equal(t, pipeline.ActionTerminate, events[0].ActionType)
}

// 启动即报错的按失败收尾
func TestTaskExecuteError(t *testing.T) {
	f := newTaskFixture(nil, taskRow("t1", 0, pipeline.StatusUnknown))
	f.executor.executeErr = errors.New("atom not found")

	require.NoError(t, f.control.Handle(context.Background(), taskEvent(pipeline.ActionStart)))

	assert.Equal(t, pipeline.StatusFailed, f.tasks.finished["t1"])
}
