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

	"github.com/forge-ci/forge/internal/engine/dispatch"
	englock "github.com/forge-ci/forge/internal/engine/control/lock"
	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/event"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
	"github.com/forge-ci/forge/internal/engine/service"
	"github.com/forge-ci/forge/pkg/lock"
)

// fakeLocker 进程内锁替身,busy 时 TryLock 失败
type fakeLocker struct {
	busy bool
}

func (l *fakeLocker) TryLock(context.Context) (bool, error) { return !l.busy, nil }
func (l *fakeLocker) Lock(context.Context) error {
	if l.busy {
		return lock.ErrAcquireTimeout
	}
	return nil
}
func (l *fakeLocker) Unlock(context.Context) {}

var _ lock.Locker = (*fakeLocker)(nil)

type fakeLockFactory struct {
	startBusy bool
}

func (f *fakeLockFactory) BuildLock(string) lock.Locker              { return &fakeLocker{} }
func (f *fakeLockFactory) ContainerLock(string, string) lock.Locker { return &fakeLocker{} }
func (f *fakeLockFactory) PipelineStartLock(string) lock.Locker     { return &fakeLocker{busy: f.startBusy} }
func (f *fakeLockFactory) PipelineBuildNumLock(string) lock.Locker  { return &fakeLocker{} }

var _ englock.Factory = (*fakeLockFactory)(nil)

// recordingDispatcher 记录投递的事件供断言
type recordingDispatcher struct {
	events []event.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, events ...event.Event) {
	d.events = append(d.events, events...)
}

var _ dispatch.Dispatcher = (*recordingDispatcher)(nil)

func (d *recordingDispatcher) kinds() []string {
	out := make([]string, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Kind())
	}
	return out
}

func (d *recordingDispatcher) lastStartEvent() *event.BuildStartEvent {
	for i := len(d.events) - 1; i >= 0; i-- {
		if e, ok := d.events[i].(*event.BuildStartEvent); ok {
			return e
		}
	}
	return nil
}

func (d *recordingDispatcher) stageEvents() []*event.BuildStageEvent {
	var out []*event.BuildStageEvent
	for _, e := range d.events {
		if se, ok := e.(*event.BuildStageEvent); ok {
			out = append(out, se)
		}
	}
	return out
}

func (d *recordingDispatcher) containerEvents() []*event.BuildContainerEvent {
	var out []*event.BuildContainerEvent
	for _, e := range d.events {
		if ce, ok := e.(*event.BuildContainerEvent); ok {
			out = append(out, ce)
		}
	}
	return out
}

func (d *recordingDispatcher) taskEvents() []*event.AtomTaskEvent {
	var out []*event.AtomTaskEvent
	for _, e := range d.events {
		if te, ok := e.(*event.AtomTaskEvent); ok {
			out = append(out, te)
		}
	}
	return out
}

func (d *recordingDispatcher) finishEvents() []*event.BuildFinishEvent {
	var out []*event.BuildFinishEvent
	for _, e := range d.events {
		if fe, ok := e.(*event.BuildFinishEvent); ok {
			out = append(out, fe)
		}
	}
	return out
}

// fakeRuntime 构建运行记录替身
type fakeRuntime struct {
	build    *model.BuildInfo
	lockType model.RunLockType
	running  bool
	head     bool

	started        bool
	queueCached    bool
	finishedStatus pipeline.BuildStatus
	statusUpdates  []pipeline.BuildStatus
	buildNo        int
	nextQueued     *model.BuildInfo
}

func (r *fakeRuntime) GetBuild(string) (*model.BuildInfo, error) { return r.build, nil }
func (r *fakeRuntime) GetRunLockType(string) (model.RunLockType, error) {
	if r.lockType == "" {
		return model.RunLockMultiple, nil
	}
	return r.lockType, nil
}
func (r *fakeRuntime) IsHeadOfQueue(string, string) (bool, error) { return r.head, nil }
func (r *fakeRuntime) HasRunningBuild(string) (bool, error)       { return r.running, nil }
func (r *fakeRuntime) StartBuildRunning(_, _, _ string, _ int) error {
	r.started = true
	r.build.Status = string(pipeline.StatusRunning)
	return nil
}
func (r *fakeRuntime) MarkQueueCache(string) error {
	r.queueCached = true
	r.build.Status = string(pipeline.StatusQueueCache)
	return nil
}
func (r *fakeRuntime) UpdateBuildStatus(_ string, status pipeline.BuildStatus) error {
	r.statusUpdates = append(r.statusUpdates, status)
	r.build.Status = string(status)
	return nil
}
func (r *fakeRuntime) FinishBuild(_, _ string, status pipeline.BuildStatus, _ []model.BuildError) error {
	r.finishedStatus = status
	r.build.Status = string(status)
	return nil
}
func (r *fakeRuntime) NextBuildNo(string) (int, error) {
	r.buildNo++
	return r.buildNo, nil
}
func (r *fakeRuntime) NextQueuedBuild(string) (*model.BuildInfo, error) {
	return r.nextQueued, nil
}

var _ RuntimeService = (*fakeRuntime)(nil)

// fakeDetail Model 快照替身,直接改内存模型
type fakeDetail struct {
	model *pipeline.Model

	pausedChecks  []*pipeline.StagePauseCheck
	canceledSweep pipeline.BuildStatus
	savedModel    bool
	qualityFails  int
}

func (d *fakeDetail) GetModel(string) (*pipeline.Model, error) { return d.model, nil }
func (d *fakeDetail) UpdateStageStatus(_, stageID string, status pipeline.BuildStatus) error {
	if s := d.model.Stage(stageID); s != nil {
		s.Status = status
	}
	return nil
}
func (d *fakeDetail) StageSkip(_, stageID string) error {
	if s := d.model.Stage(stageID); s != nil {
		s.Status = pipeline.StatusSkip
	}
	return nil
}
func (d *fakeDetail) StagePause(_, stageID string, check *pipeline.StagePauseCheck) error {
	d.pausedChecks = append(d.pausedChecks, check)
	if s := d.model.Stage(stageID); s != nil {
		s.Status = pipeline.StatusPause
	}
	return nil
}
func (d *fakeDetail) StageStart(_, stageID string) error {
	if s := d.model.Stage(stageID); s != nil {
		s.Status = pipeline.StatusQueue
	}
	return nil
}
func (d *fakeDetail) StageCancel(_, stageID string) error {
	if s := d.model.Stage(stageID); s != nil {
		s.ReviewStatus = pipeline.StatusReviewAbort
	}
	return nil
}
func (d *fakeDetail) StageReview(string, string, *pipeline.StagePauseCheck) error { return nil }
func (d *fakeDetail) StageCheckQualityFail(_, _ string, _ int) error {
	d.qualityFails++
	return nil
}
func (d *fakeDetail) ContainerStart(_, stageID, containerID string, status pipeline.BuildStatus) error {
	return d.setContainerStatus(stageID, containerID, status)
}
func (d *fakeDetail) ContainerEnd(_, stageID, containerID string, status pipeline.BuildStatus) error {
	return d.setContainerStatus(stageID, containerID, status)
}
func (d *fakeDetail) setContainerStatus(stageID, containerID string, status pipeline.BuildStatus) error {
	if s := d.model.Stage(stageID); s != nil {
		if c := s.Container(containerID); c != nil {
			c.Status = status
		}
	}
	return nil
}
func (d *fakeDetail) TaskStatusChange(_, stageID, containerID, taskID string, status pipeline.BuildStatus) error {
	if s := d.model.Stage(stageID); s != nil {
		if c := s.Container(containerID); c != nil {
			if e := c.Element(taskID); e != nil {
				e.Status = status
			}
		}
	}
	return nil
}
func (d *fakeDetail) BuildCancel(_ string, status pipeline.BuildStatus) error {
	d.canceledSweep = status
	return nil
}
func (d *fakeDetail) SaveModel(_ string, m *pipeline.Model) error {
	d.savedModel = true
	d.model = m
	return nil
}

var _ DetailService = (*fakeDetail)(nil)

// fakeTasks task 记录与取消/重试簿记替身
type fakeTasks struct {
	rows []*model.BuildTask

	cancelMarker pipeline.BuildStatus
	cancelTasks  map[string]bool
	retryCounts  map[string]int
	unexec       []string
	finished     map[string]pipeline.BuildStatus
}

func newFakeTasks(rows ...*model.BuildTask) *fakeTasks {
	return &fakeTasks{
		rows:        rows,
		cancelTasks: make(map[string]bool),
		retryCounts: make(map[string]int),
		finished:    make(map[string]pipeline.BuildStatus),
	}
}

func (t *fakeTasks) row(taskID string) *model.BuildTask {
	for _, r := range t.rows {
		if r.TaskID == taskID {
			return r
		}
	}
	return nil
}

func (t *fakeTasks) GetTask(_, taskID string) (*model.BuildTask, error) {
	return t.row(taskID), nil
}
func (t *fakeTasks) ListContainerTasks(_, containerID string) ([]*model.BuildTask, error) {
	var out []*model.BuildTask
	for _, r := range t.rows {
		if r.ContainerID == containerID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (t *fakeTasks) StartTask(_, taskID, _ string, _ int) error {
	t.row(taskID).Status = string(pipeline.StatusRunning)
	return nil
}
func (t *fakeTasks) UpdateTaskStatus(_, taskID string, status pipeline.BuildStatus) error {
	t.row(taskID).Status = string(status)
	return nil
}
func (t *fakeTasks) FinishTask(_, taskID string, status pipeline.BuildStatus, _ string, _ int, _ string) error {
	t.row(taskID).Status = string(status)
	t.finished[taskID] = status
	return nil
}
func (t *fakeTasks) BatchUnexec(_, _ string, taskIDs []string) error {
	for _, id := range taskIDs {
		if r := t.row(id); r != nil {
			r.Status = string(pipeline.StatusUnexec)
		}
	}
	t.unexec = append(t.unexec, taskIDs...)
	return nil
}
func (t *fakeTasks) SetCancelMarker(_ context.Context, _ string, status pipeline.BuildStatus) error {
	t.cancelMarker = status
	return nil
}
func (t *fakeTasks) GetCancelMarker(context.Context, string) (pipeline.BuildStatus, error) {
	return t.cancelMarker, nil
}
func (t *fakeTasks) DeleteCancelMarker(context.Context, string) {
	t.cancelMarker = pipeline.StatusUnknown
}
func (t *fakeTasks) AddCancelTask(_ context.Context, _, _, taskID string) error {
	t.cancelTasks[taskID] = true
	return nil
}
func (t *fakeTasks) IsCancelTask(_ context.Context, _, _, taskID string) (bool, error) {
	return t.cancelTasks[taskID], nil
}
func (t *fakeTasks) IncrRetryCount(_ context.Context, _, taskID string, _ int) (int, error) {
	t.retryCounts[taskID]++
	return t.retryCounts[taskID], nil
}

var _ TaskService = (*fakeTasks)(nil)

// fakeVars 构建变量替身
type fakeVars struct {
	vars      map[string]string
	failTasks []string
}

func newFakeVars() *fakeVars {
	return &fakeVars{vars: make(map[string]string)}
}

func (v *fakeVars) SetVariables(_, _, _ string, vars map[string]string) error {
	for k, val := range vars {
		v.vars[k] = val
	}
	return nil
}
func (v *fakeVars) GetAllVariables(string) (map[string]string, error) { return v.vars, nil }
func (v *fakeVars) AppendFailTask(_, _, _, taskID, _ string) error {
	v.failTasks = append(v.failTasks, taskID)
	return nil
}

var _ VariableService = (*fakeVars)(nil)

// fakeContainers 容器运行记录替身
type fakeContainers struct {
	rows map[string]*model.BuildContainer

	statusUpdates map[string]pipeline.BuildStatus
}

func newFakeContainers(rows ...*model.BuildContainer) *fakeContainers {
	m := make(map[string]*model.BuildContainer, len(rows))
	for _, r := range rows {
		m[r.ContainerID] = r
	}
	return &fakeContainers{rows: m, statusUpdates: make(map[string]pipeline.BuildStatus)}
}

func (c *fakeContainers) GetContainer(_, containerID string) (*model.BuildContainer, error) {
	return c.rows[containerID], nil
}
func (c *fakeContainers) ListContainersByStage(string, string) ([]*model.BuildContainer, error) {
	var out []*model.BuildContainer
	for _, r := range c.rows {
		out = append(out, r)
	}
	return out, nil
}
func (c *fakeContainers) StartContainer(_, containerID string, status pipeline.BuildStatus) error {
	c.rows[containerID].Status = string(status)
	return nil
}
func (c *fakeContainers) FinishContainer(_, containerID string, status pipeline.BuildStatus) error {
	c.rows[containerID].Status = string(status)
	return nil
}
func (c *fakeContainers) UpdateContainerStatus(_, containerID string, status pipeline.BuildStatus) error {
	c.rows[containerID].Status = string(status)
	c.statusUpdates[containerID] = status
	return nil
}

var _ ContainerService = (*fakeContainers)(nil)

// fakeStages stage 运行记录替身
type fakeStages struct {
	started  map[string]pipeline.BuildStatus
	finished map[string]pipeline.BuildStatus
}

func newFakeStages() *fakeStages {
	return &fakeStages{
		started:  make(map[string]pipeline.BuildStatus),
		finished: make(map[string]pipeline.BuildStatus),
	}
}

func (s *fakeStages) GetStage(string, string) (*model.BuildStage, error) { return nil, nil }
func (s *fakeStages) StartStage(_, stageID string, status pipeline.BuildStatus) error {
	s.started[stageID] = status
	return nil
}
func (s *fakeStages) FinishStage(_, stageID string, status pipeline.BuildStatus) error {
	s.finished[stageID] = status
	return nil
}

var _ StageService = (*fakeStages)(nil)

// fakeExecutor 插件执行替身
type fakeExecutor struct {
	executeResult *AtomResult
	executeErr    error
	pollResult    *AtomResult
	pollErr       error
}

func (e *fakeExecutor) Execute(context.Context, *model.BuildTask) (*AtomResult, error) {
	return e.executeResult, e.executeErr
}
func (e *fakeExecutor) Poll(context.Context, *model.BuildTask) (*AtomResult, error) {
	return e.pollResult, e.pollErr
}

var _ AtomExecutor = (*fakeExecutor)(nil)

type nopPrinter struct{}

func (nopPrinter) AddLine(string, string, string, string, int)       {}
func (nopPrinter) AddYellowLine(string, string, string, string, int) {}
func (nopPrinter) AddRedLine(string, string, string, string, int)    {}
func (nopPrinter) StopLog(string, string, string, int)               {}

var _ service.LogPrinter = nopPrinter{}

type fakeQuality struct {
	pass bool
}

func (q *fakeQuality) Check(context.Context, string, []string) (bool, error) { return q.pass, nil }

var _ QualityChecker = (*fakeQuality)(nil)
