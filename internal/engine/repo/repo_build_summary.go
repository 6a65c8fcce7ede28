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
	"gorm.io/gorm"

	"github.com/forge-ci/forge/internal/engine/model"
)

type IBuildSummaryRepository interface {
	GetSummary(pipelineID string) (*model.BuildSummary, error)
	UpdateBuildNo(pipelineID string, buildNo int) error
	MarkRunning(pipelineID, latestBuildID string) error
	MarkFinished(pipelineID string) error
}

type BuildSummaryRepo struct {
	db *gorm.DB
}

func NewBuildSummaryRepo(db *gorm.DB) IBuildSummaryRepository {
	return &BuildSummaryRepo{db: db}
}

func (r *BuildSummaryRepo) GetSummary(pipelineID string) (*model.BuildSummary, error) {
	var s model.BuildSummary
	err := r.db.Where("pipeline_id = ?", pipelineID).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BuildSummaryRepo) UpdateBuildNo(pipelineID string, buildNo int) error {
	return r.db.Model(&model.BuildSummary{}).
		Where("pipeline_id = ?", pipelineID).
		Update("build_no", buildNo).Error
}

// MarkRunning 构建正式启动,运行计数 +1,排队计数 -1
func (r *BuildSummaryRepo) MarkRunning(pipelineID, latestBuildID string) error {
	return r.db.Model(&model.BuildSummary{}).
		Where("pipeline_id = ?", pipelineID).
		Updates(map[string]interface{}{
			"running_count":   gorm.Expr("running_count + 1"),
			"queue_count":     gorm.Expr("CASE WHEN queue_count > 0 THEN queue_count - 1 ELSE 0 END"),
			"latest_build_id": latestBuildID,
		}).Error
}

// MarkFinished 构建结束,运行计数 -1
func (r *BuildSummaryRepo) MarkFinished(pipelineID string) error {
	return r.db.Model(&model.BuildSummary{}).
		Where("pipeline_id = ?", pipelineID).
		Update("running_count", gorm.Expr("CASE WHEN running_count > 0 THEN running_count - 1 ELSE 0 END")).Error
}
