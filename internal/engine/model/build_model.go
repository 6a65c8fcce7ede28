package model

import (
	"time"

	"gorm.io/datatypes"
)

// RunLockType 流水线运行锁定策略
type RunLockType string

const (
	// RunLockMultiple 不限制并发
	RunLockMultiple RunLockType = "MULTIPLE"
	// RunLockSingle 串行执行，后续构建排队
	RunLockSingle RunLockType = "SINGLE"
	// RunLockSingleLock 串行执行且锁定排队位
	RunLockSingleLock RunLockType = "SINGLE_LOCK"
	// RunLockLock 禁止启动，启动 API 直接拦截
	RunLockLock RunLockType = "LOCK"
)

// BuildInfo 构建实例表
type BuildInfo struct {
	BaseModel
	BuildID       string     `gorm:"column:build_id;uniqueIndex" json:"buildId"`
	ProjectID     string     `gorm:"column:project_id" json:"projectId"`
	PipelineID    string     `gorm:"column:pipeline_id;index" json:"pipelineId"`
	BuildNum      int        `gorm:"column:build_num" json:"buildNum"`
	Status        string     `gorm:"column:status" json:"status"`
	Trigger       string     `gorm:"column:trigger" json:"trigger"` // manual/webhook/schedule/service
	StartUser     string     `gorm:"column:start_user" json:"startUser"`
	ParentBuildID string     `gorm:"column:parent_build_id" json:"parentBuildId"` // 子流水线触发时的父构建
	TaskCount     int        `gorm:"column:task_count" json:"taskCount"`
	ExecuteCount  int        `gorm:"column:execute_count" json:"executeCount"` // 每次重试递增
	QueueTime     time.Time  `gorm:"column:queue_time" json:"queueTime"`
	StartTime     *time.Time `gorm:"column:start_time" json:"startTime"`
	EndTime       *time.Time `gorm:"column:end_time" json:"endTime"`
	ErrorInfo     datatypes.JSON `gorm:"column:error_info" json:"errorInfo"`
}

func (BuildInfo) TableName() string {
	return "t_pipeline_build"
}

// BuildError 构建错误列表中的一项
type BuildError struct {
	TaskID    string `json:"taskId"`
	ErrorType string `json:"errorType"` // USER / SYSTEM / THIRD_PARTY
	ErrorCode int    `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
}

// BuildSummary 流水线构建摘要表，记录运行中计数与已配置的构建号
type BuildSummary struct {
	BaseModel
	ProjectID     string `gorm:"column:project_id" json:"projectId"`
	PipelineID    string `gorm:"column:pipeline_id;uniqueIndex" json:"pipelineId"`
	BuildNum      int    `gorm:"column:build_num" json:"buildNum"`
	BuildNo       int    `gorm:"column:build_no" json:"buildNo"`
	RunningCount  int    `gorm:"column:running_count" json:"runningCount"`
	QueueCount    int    `gorm:"column:queue_count" json:"queueCount"`
	LatestBuildID string `gorm:"column:latest_build_id" json:"latestBuildId"`
}

func (BuildSummary) TableName() string {
	return "t_pipeline_build_summary"
}

// BuildStage 构建 stage 运行记录表
type BuildStage struct {
	BaseModel
	ProjectID  string     `gorm:"column:project_id" json:"projectId"`
	PipelineID string     `gorm:"column:pipeline_id" json:"pipelineId"`
	BuildID    string     `gorm:"column:build_id;index" json:"buildId"`
	StageID    string     `gorm:"column:stage_id" json:"stageId"`
	Seq        int        `gorm:"column:seq" json:"seq"`
	Status     string     `gorm:"column:status" json:"status"`
	StartTime  *time.Time `gorm:"column:start_time" json:"startTime"`
	EndTime    *time.Time `gorm:"column:end_time" json:"endTime"`
	CheckIn    datatypes.JSON `gorm:"column:check_in" json:"checkIn"`
	CheckOut   datatypes.JSON `gorm:"column:check_out" json:"checkOut"`
}

func (BuildStage) TableName() string {
	return "t_pipeline_build_stage"
}

// BuildContainer 构建容器运行记录表
type BuildContainer struct {
	BaseModel
	ProjectID   string     `gorm:"column:project_id" json:"projectId"`
	PipelineID  string     `gorm:"column:pipeline_id" json:"pipelineId"`
	BuildID     string     `gorm:"column:build_id;index" json:"buildId"`
	StageID     string     `gorm:"column:stage_id" json:"stageId"`
	ContainerID string     `gorm:"column:container_id" json:"containerId"`
	Kind        string     `gorm:"column:kind" json:"kind"`
	Seq         int        `gorm:"column:seq" json:"seq"`
	Status      string     `gorm:"column:status" json:"status"`
	StartTime   *time.Time `gorm:"column:start_time" json:"startTime"`
	EndTime     *time.Time `gorm:"column:end_time" json:"endTime"`
}

func (BuildContainer) TableName() string {
	return "t_pipeline_build_container"
}

// BuildTask 构建插件任务运行记录表
type BuildTask struct {
	BaseModel
	ProjectID    string            `gorm:"column:project_id" json:"projectId"`
	PipelineID   string            `gorm:"column:pipeline_id" json:"pipelineId"`
	BuildID      string            `gorm:"column:build_id;index" json:"buildId"`
	StageID      string            `gorm:"column:stage_id" json:"stageId"`
	ContainerID  string            `gorm:"column:container_id" json:"containerId"`
	TaskID       string            `gorm:"column:task_id" json:"taskId"`
	TaskName     string            `gorm:"column:task_name" json:"taskName"`
	TaskAtom     string            `gorm:"column:task_atom" json:"taskAtom"`
	Seq          int               `gorm:"column:seq" json:"seq"`
	Status       string            `gorm:"column:status" json:"status"`
	Starter      string            `gorm:"column:starter" json:"starter"`
	TaskParams   datatypes.JSONMap `gorm:"column:task_params" json:"taskParams"`
	AdditionalOptions datatypes.JSON `gorm:"column:additional_options" json:"additionalOptions"`
	ExecuteCount int               `gorm:"column:execute_count" json:"executeCount"`
	ErrorType    string            `gorm:"column:error_type" json:"errorType"`
	ErrorCode    int               `gorm:"column:error_code" json:"errorCode"`
	ErrorMsg     string            `gorm:"column:error_msg" json:"errorMsg"`
	StartTime    *time.Time        `gorm:"column:start_time" json:"startTime"`
	EndTime      *time.Time        `gorm:"column:end_time" json:"endTime"`
	TotalTime    int64             `gorm:"column:total_time" json:"totalTime"` // 毫秒
}

func (BuildTask) TableName() string {
	return "t_pipeline_build_task"
}

// BuildDetail 构建 Model 快照表，与构建 1:1
type BuildDetail struct {
	BaseModel
	BuildID string         `gorm:"column:build_id;uniqueIndex" json:"buildId"`
	Model   datatypes.JSON `gorm:"column:model" json:"model"`
}

func (BuildDetail) TableName() string {
	return "t_pipeline_build_detail"
}

// BuildVariable 构建变量表
type BuildVariable struct {
	BaseModel
	ProjectID  string `gorm:"column:project_id" json:"projectId"`
	PipelineID string `gorm:"column:pipeline_id" json:"pipelineId"`
	BuildID    string `gorm:"column:build_id;index:idx_build_key,unique" json:"buildId"`
	VarKey     string `gorm:"column:var_key;index:idx_build_key,unique" json:"varKey"`
	VarValue   string `gorm:"column:var_value" json:"varValue"`
}

func (BuildVariable) TableName() string {
	return "t_pipeline_build_var"
}

// PipelineSetting 流水线级设置表
type PipelineSetting struct {
	BaseModel
	ProjectID   string `gorm:"column:project_id" json:"projectId"`
	PipelineID  string `gorm:"column:pipeline_id;uniqueIndex" json:"pipelineId"`
	RunLockType string `gorm:"column:run_lock_type" json:"runLockType"`
	MaxQueueSize int   `gorm:"column:max_queue_size" json:"maxQueueSize"`
	WaitQueueTimeMinute int `gorm:"column:wait_queue_time_minute" json:"waitQueueTimeMinute"`
}

func (PipelineSetting) TableName() string {
	return "t_pipeline_setting"
}

// BuildStageStatus stage 状态的历史投影，供 UI/历史查询使用
type BuildStageStatus struct {
	StageID    string   `json:"stageId"`
	Name       string   `json:"name"`
	Status     string   `json:"status,omitempty"`
	StartEpoch int64    `json:"startEpoch,omitempty"`
	Elapsed    int64    `json:"elapsed,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}
