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

package repo

import (
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
)

type IBuildRepository interface {
	CreateBuild(b *model.BuildInfo) error
	GetBuild(buildID string) (*model.BuildInfo, error)
	UpdateBuildStatus(buildID string, status pipeline.BuildStatus) error
	StartBuild(buildID string, status pipeline.BuildStatus, executeCount int) error
	FinishBuild(buildID string, status pipeline.BuildStatus, errorInfo []model.BuildError) error
	GetEarliestQueuedBuild(pipelineID string) (*model.BuildInfo, error)
	ListRunningBuilds(pipelineID string) ([]*model.BuildInfo, error)
}

type BuildRepo struct {
	db *gorm.DB
}

func NewBuildRepo(db *gorm.DB) IBuildRepository {
	return &BuildRepo{db: db}
}

func (r *BuildRepo) CreateBuild(b *model.BuildInfo) error {
	return r.db.Create(b).Error
}

func (r *BuildRepo) GetBuild(buildID string) (*model.BuildInfo, error) {
	var b model.BuildInfo
	err := r.db.Where("build_id = ?", buildID).First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBuildStatus 只改状态,不碰时间字段
func (r *BuildRepo) UpdateBuildStatus(buildID string, status pipeline.BuildStatus) error {
	return r.db.Model(&model.BuildInfo{}).
		Where("build_id = ?", buildID).
		Update("status", string(status)).Error
}

// StartBuild 构建进入执行态,记录启动时间
func (r *BuildRepo) StartBuild(buildID string, status pipeline.BuildStatus, executeCount int) error {
	now := time.Now()
	return r.db.Model(&model.BuildInfo{}).
		Where("build_id = ?", buildID).
		Updates(map[string]interface{}{
			"status":        string(status),
			"start_time":    &now,
			"execute_count": executeCount,
		}).Error
}

// FinishBuild 构建进入终态,记录结束时间与错误列表
func (r *BuildRepo) FinishBuild(buildID string, status pipeline.BuildStatus, errorInfo []model.BuildError) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":   string(status),
		"end_time": &now,
	}
	if len(errorInfo) > 0 {
		data, err := sonic.Marshal(errorInfo)
		if err != nil {
			return err
		}
		updates["error_info"] = datatypes.JSON(data)
	}
	return r.db.Model(&model.BuildInfo{}).
		Where("build_id = ?", buildID).
		Updates(updates).Error
}

// GetEarliestQueuedBuild 取排队队列头部的构建,串行模式判断是否轮到自己
func (r *BuildRepo) GetEarliestQueuedBuild(pipelineID string) (*model.BuildInfo, error) {
	var b model.BuildInfo
	err := r.db.Where("pipeline_id = ? AND status IN ?", pipelineID,
		[]string{string(pipeline.StatusQueue), string(pipeline.StatusQueueCache)}).
		Order("queue_time ASC, id ASC").
		First(&b).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *BuildRepo) ListRunningBuilds(pipelineID string) ([]*model.BuildInfo, error) {
	var builds []*model.BuildInfo
	err := r.db.Where("pipeline_id = ? AND status IN ?", pipelineID,
		[]string{string(pipeline.StatusRunning), string(pipeline.StatusPrepareEnv), string(pipeline.StatusLoopWait)}).
		Find(&builds).Error
	if err != nil {
		return nil, err
	}
	return builds, nil
}
