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
	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/forge-ci/forge/internal/engine/model"
	"github.com/forge-ci/forge/internal/engine/model/pipeline"
)

type IBuildDetailRepository interface {
	CreateDetail(buildID string, m *pipeline.Model) error
	GetModel(buildID string) (*pipeline.Model, error)
	SaveModel(buildID string, m *pipeline.Model) error
}

type BuildDetailRepo struct {
	db *gorm.DB
}

func NewBuildDetailRepo(db *gorm.DB) IBuildDetailRepository {
	return &BuildDetailRepo{db: db}
}

func (r *BuildDetailRepo) CreateDetail(buildID string, m *pipeline.Model) error {
	data, err := sonic.Marshal(m)
	if err != nil {
		return err
	}
	return r.db.Create(&model.BuildDetail{
		BuildID: buildID,
		Model:   datatypes.JSON(data),
	}).Error
}

func (r *BuildDetailRepo) GetModel(buildID string) (*pipeline.Model, error) {
	var d model.BuildDetail
	if err := r.db.Where("build_id = ?", buildID).First(&d).Error; err != nil {
		return nil, err
	}
	var m pipeline.Model
	if err := sonic.Unmarshal(d.Model, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *BuildDetailRepo) SaveModel(buildID string, m *pipeline.Model) error {
	data, err := sonic.Marshal(m)
	if err != nil {
		return err
	}
	return r.db.Model(&model.BuildDetail{}).
		Where("build_id = ?", buildID).
		Update("model", datatypes.JSON(data)).Error
}
