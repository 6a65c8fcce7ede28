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

func stageModel() *pipeline.Model {
	return &pipeline.Model{
		Stages: []*pipeline.Stage{
			{ID: "stage-trigger", Containers: []*pipeline.Container{{ID: "c0", Kind: pipeline.KindTrigger}}},
			{ID: "stage-1", Containers: []*pipeline.Container{
				{ID: "c1", Kind: pipeline.KindVMBuild, Elements: []*pipeline.Element{{ID: "e1"}}},
				{ID: "c2", Kind: pipeline.KindNormal, Elements: []*pipeline.Element{{ID: "e2"}}},
			}},
			{ID: "stage-2", Containers: []*pipeline.Container{
				{ID: "c3", Kind: pipeline.KindNormal, Elements: []*pipeline.Element{{ID: "e3"}}},
			}},
		},
	}
}

func stageEvent(stageID string, action pipeline.ActionType) *event.BuildStageEvent {
	return &event.BuildStageEvent{
		Base: event.Base{
			ProjectID:  "proj",
			PipelineID: "p-1",
			BuildID:    "b-1",
		},
		StageID:    stageID,
		ActionType: action,
	}
}

func runningBuild() *fakeRuntime {
	return &fakeRuntime{build: &model.BuildInfo{BuildID: "b-1", Status: string(pipeline.StatusRunning)}}
}

func TestStageStartFansOutContainers(t *testing.T) {
	detail := &fakeDetail{model: stageModel()}
	stages := newFakeStages()
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, stages, nil, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionStart)))

	assert.Equal(t, pipeline.StatusRunning, detail.model.Stage("stage-1").Status)
	assert.Equal(t, pipeline.StatusRunning, stages.started["stage-1"])

	containers := dispatcher.containerEvents()
	require.Len(t, containers, 2)
	assert.Equal(t, "c1", containers[0].ContainerID)
	assert.Equal(t, "c2", containers[1].ContainerID)
	for _, ce := range containers {
		assert.Equal(t, pipeline.ActionStart, ce.ActionType)
	}
}

// 构建已结束时 stage 事件直接丢弃
func TestStageEventDroppedWhenBuildFinished(t *testing.T) {
	runtime := &fakeRuntime{build: &model.BuildInfo{BuildID: "b-1", Status: string(pipeline.StatusCanceled)}}
	detail := &fakeDetail{model: stageModel()}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runtime, detail, newFakeStages(), nil, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionStart)))
	assert.Empty(t, dispatcher.events)
}

// 重复投递的启动事件:stage 已结束,丢弃
func TestStageStartIdempotent(t *testing.T) {
	m := stageModel()
	m.Stage("stage-1").Status = pipeline.StatusSucceed
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, newFakeStages(), nil, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionStart)))
	assert.Empty(t, dispatcher.events)
}

// 准入审核:人工触发的 stage 启动时挂起,不扇出容器
func TestStageStartPausesForReview(t *testing.T) {
	m := stageModel()
	m.Stage("stage-1").CheckIn = &pipeline.StagePauseCheck{
		ManualTrigger: true,
		ReviewGroups:  []*pipeline.StageReviewGroup{{Reviewers: []string{"alice"}}},
	}
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, newFakeStages(), nil, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionStart)))

	require.Len(t, detail.pausedChecks, 1)
	// 审核组 ID 在挂起时补齐
	assert.NotEmpty(t, detail.pausedChecks[0].ReviewGroups[0].ID)
	assert.Empty(t, dispatcher.containerEvents())
}

// 审核通过后的重入:检查点已是 REVIEW_PROCESSED,正常扇出
func TestStageStartAfterReviewResumes(t *testing.T) {
	m := stageModel()
	m.Stage("stage-1").CheckIn = &pipeline.StagePauseCheck{
		ManualTrigger: true,
		Status:        pipeline.StatusReviewProcessed.String(),
		ReviewGroups:  []*pipeline.StageReviewGroup{{ID: "g1", Reviewers: []string{"alice"}, Status: "PROCESS"}},
	}
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, newFakeStages(), nil, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionRetry)))
	assert.Len(t, dispatcher.containerEvents(), 2)
}

// 红线不过:构建失败收尾
func TestStageStartQualityFail(t *testing.T) {
	m := stageModel()
	m.Stage("stage-1").CheckIn = &pipeline.StagePauseCheck{RuleIDs: []string{"r1"}}
	runtime := runningBuild()
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runtime, detail, newFakeStages(), &fakeQuality{pass: false}, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionStart)))

	assert.Equal(t, []pipeline.BuildStatus{pipeline.StatusFailed}, runtime.statusUpdates)
	assert.Equal(t, 1, detail.qualityFails)
	finishes := dispatcher.finishEvents()
	require.Len(t, finishes, 1)
	assert.Equal(t, pipeline.StatusFailed, finishes[0].Status)
}

// 红线通过则照常推进
func TestStageStartQualityPass(t *testing.T) {
	m := stageModel()
	m.Stage("stage-1").CheckIn = &pipeline.StagePauseCheck{RuleIDs: []string{"r1"}}
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, newFakeStages(), &fakeQuality{pass: true}, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionStart)))
	assert.Len(t, dispatcher.containerEvents(), 2)
}

// 汇聚:容器没全结束时不动,全成功后推进下一 stage
func TestStageRefreshAggregates(t *testing.T) {
	m := stageModel()
	stage := m.Stage("stage-1")
	stage.Status = pipeline.StatusRunning
	stage.Containers[0].Status = pipeline.StatusSucceed
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, newFakeStages(), nil, dispatcher)

	// c2 还没结束
	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionRefresh)))
	assert.Empty(t, dispatcher.events)

	stage.Containers[1].Status = pipeline.StatusSucceed
	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionRefresh)))

	stages := dispatcher.stageEvents()
	require.Len(t, stages, 1)
	assert.Equal(t, "stage-2", stages[0].StageID)
	assert.Equal(t, pipeline.ActionStart, stages[0].ActionType)
}

// 汇聚:取消优先于失败
func TestStageRefreshCancelWinsOverFail(t *testing.T) {
	m := stageModel()
	stage := m.Stage("stage-1")
	stage.Status = pipeline.StatusRunning
	stage.Containers[0].Status = pipeline.StatusFailed
	stage.Containers[1].Status = pipeline.StatusCanceled
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, newFakeStages(), nil, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionRefresh)))

	finishes := dispatcher.finishEvents()
	require.Len(t, finishes, 1)
	assert.Equal(t, pipeline.StatusCanceled, finishes[0].Status)
}

// 最后一个 stage 完成后构建成功收尾
func TestStageRefreshLastStageFinishesBuild(t *testing.T) {
	m := stageModel()
	m.Stage("stage-1").Status = pipeline.StatusSucceed
	last := m.Stage("stage-2")
	last.Status = pipeline.StatusRunning
	last.Containers[0].Status = pipeline.StatusSucceed
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, newFakeStages(), nil, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-2", pipeline.ActionRefresh)))

	finishes := dispatcher.finishEvents()
	require.Len(t, finishes, 1)
	assert.Equal(t, pipeline.StatusSucceed, finishes[0].Status)
}

// 禁用的 stage 落 SKIP 后继续向后推进
func TestStageSkipAdvances(t *testing.T) {
	m := stageModel()
	disabled := false
	m.Stage("stage-1").ControlOption = &pipeline.StageControlOption{Enable: &disabled}
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, newFakeStages(), nil, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionStart)))

	assert.Equal(t, pipeline.StatusSkip, detail.model.Stage("stage-1").Status)
	stages := dispatcher.stageEvents()
	require.Len(t, stages, 1)
	assert.Equal(t, "stage-2", stages[0].StageID)
}

// 准出暂停:stage 成功后挂起等审,不推进下一 stage
func TestStageCheckOutPause(t *testing.T) {
	m := stageModel()
	stage := m.Stage("stage-1")
	stage.Status = pipeline.StatusRunning
	stage.CheckOut = &pipeline.StagePauseCheck{
		ManualTrigger: true,
		ReviewGroups:  []*pipeline.StageReviewGroup{{Reviewers: []string{"alice"}}},
	}
	stage.Containers[0].Status = pipeline.StatusSucceed
	stage.Containers[1].Status = pipeline.StatusSucceed
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, newFakeStages(), nil, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionRefresh)))

	require.Len(t, detail.pausedChecks, 1)
	assert.Empty(t, dispatcher.stageEvents())
	assert.Empty(t, dispatcher.finishEvents())
}

// 终止动作:stage 落终态并走收尾
func TestStageTerminate(t *testing.T) {
	m := stageModel()
	m.Stage("stage-1").Status = pipeline.StatusRunning
	stages := newFakeStages()
	detail := &fakeDetail{model: m}
	dispatcher := &recordingDispatcher{}
	c := NewStageControl(&fakeLockFactory{}, runningBuild(), detail, stages, nil, dispatcher)

	require.NoError(t, c.Handle(context.Background(), stageEvent("stage-1", pipeline.ActionTerminate)))

	assert.Equal(t, pipeline.StatusTerminate, stages.finished["stage-1"])
	finishes := dispatcher.finishEvents()
	require.Len(t, finishes, 1)
	assert.Equal(t, pipeline.StatusTerminate, finishes[0].Status)
}
