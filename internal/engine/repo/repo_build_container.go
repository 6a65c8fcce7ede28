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

type IBuildContainerRepository interface {
	BatchCreate(containers []*model.BuildContainer) error
	GetContainer(buildID, containerID string) (*model.BuildContainer, error)
	ListContainers(buildID string) ([]*model.BuildContainer, error)
	ListContainersByStage(buildID, stageID string) ([]*model.BuildContainer, error)
	UpdateContainerStatus(buildID, containerID string, status pipeline.BuildStatus) error
	StartContainer(buildID, containerID string, status pipeline.BuildStatus) error
	FinishContainer(buildID, containerID string, status pipeline.BuildStatus) error
}

type BuildContainerRepo struct {
	db *gorm.DB
}

func NewBuildContainerRepo(db *gorm.DB) IBuildContainerRepository {
	return &BuildContainerRepo{db: db}
}

func (r *BuildContainerRepo) BatchCreate(containers []*model.BuildContainer) error {
	if len(containers) == 0 {
		return nil
	}
	return r.db.Create(containers).Error
}

func (r *BuildContainerRepo) GetContainer(buildID, containerID string) (*model.BuildContainer, error) {
	var c model.BuildContainer
	err := r.db.Where("build_id = ? AND container_id = ?", buildID, containerID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *BuildContainerRepo) ListContainers(buildID string) ([]*model.BuildContainer, error) {
	var containers []*model.BuildContainer
	err := r.db.Where("build_id = ?", buildID).Order("seq ASC").Find(&containers).Error
	if err != nil {
		return nil, err
	}
	return containers, nil
}

func (r *BuildContainerRepo) ListContainersByStage(buildID, stageID string) ([]*model.BuildContainer, error) {
	var containers []*model.BuildContainer
	err := r.db.Where("build_id = ? AND stage_id = ?", buildID, stageID).
		Order("seq ASC").Find(&containers).Error
	if err != nil {
		return nil, err
	}
	return containers, nil
}

func (r *BuildContainerRepo) UpdateContainerStatus(buildID, containerID string, status pipeline.BuildStatus) error {
	return r.db.Model(&model.BuildContainer{}).
		Where("build_id = ? AND container_id = ?", buildID, containerID).
		Update("status", string(status)).Error
}

func (r *BuildContainerRepo) StartContainer(buildID, containerID string, status pipeline.BuildStatus) error {
	now := time.Now()
	return r.db.Model(&model.BuildContainer{}).
		Where("build_id = ? AND container_id = ?", buildID, containerID).
		Updates(map[string]interface{}{
			"status":     string(status),
			"start_time": &now,
		}).Error
}

func (r *BuildContainerRepo) FinishContainer(buildID, containerID string, status pipeline.BuildStatus) error {
	now := time.Now()
	return r.db.Model(&model.BuildContainer{}).
		Where("build_id = ? AND container_id = ?", buildID, containerID).
		Updates(map[string]interface{}{
			"status":   string(status),
			"end_time": &now,
		}).Error
}
