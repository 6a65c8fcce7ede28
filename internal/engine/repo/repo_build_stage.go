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

	"gorm.io/gorm"

	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
)

type IBuildStageRepository interface {
	BatchCreate(stages []*model.BuildStage) error
	GetStage(buildID, stageID string) (*model.BuildStage, error)
	ListStages(buildID string) ([]*model.BuildStage, error)
	UpdateStageStatus(buildID, stageID string, status pipeline.BuildStatus) error
	StartStage(buildID, stageID string, status pipeline.BuildStatus) error
	FinishStage(buildID, stageID string, status pipeline.BuildStatus) error
}

type BuildStageRepo struct {
	db *gorm.DB
}

func NewBuildStageRepo(db *gorm.DB) IBuildStageRepository {
	return &BuildStageRepo{db: db}
}

func (r *BuildStageRepo) BatchCreate(stages []*model.BuildStage) error {
	if len(stages) == 0 {
		return nil
	}
	return r.db.Create(stages).Error
}

func (r *BuildStageRepo) GetStage(buildID, stageID string) (*model.BuildStage, error) {
	var s model.BuildStage
	err := r.db.Where("build_id = ? AND stage_id = ?", buildID, stageID).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BuildStageRepo) ListStages(buildID string) ([]*model.BuildStage, error) {
	var stages []*model.BuildStage
	err := r.db.Where("build_id = ?", buildID).Order("seq ASC").Find(&stages).Error
	if err != nil {
		return nil, err
	}
	return stages, nil
}

func (r *BuildStageRepo) UpdateStageStatus(buildID, stageID string, status pipeline.BuildStatus) error {
	return r.db.Model(&model.BuildStage{}).
		Where("build_id = ? AND stage_id = ?", buildID, stageID).
		Update("status", string(status)).Error
}

func (r *BuildStageRepo) StartStage(buildID, stageID string, status pipeline.BuildStatus) error {
	now := time.Now()
	return r.db.Model(&model.BuildStage{}).
		Where("build_id = ? AND stage_id = ?", buildID, stageID).
		Updates(map[string]interface{}{
			"status":     string(status),
			"start_time": &now,
		}).Error
}

func (r *BuildStageRepo) FinishStage(buildID, stageID string, status pipeline.BuildStatus) error {
	now := time.Now()
	return r.db.Model(&model.BuildStage{}).
		Where("build_id = ? AND stage_id = ?", buildID, stageID).
		Updates(map[string]interface{}{
			"status":   string(status),
			"end_time": &now,
		}).Error
}
