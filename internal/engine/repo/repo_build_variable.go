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
	"gorm.io/gorm/clause"

	"github.com/forge-ci/forge/internal/engine/model"
)

type IBuildVariableRepository interface {
	BatchSave(projectID, pipelineID, buildID string, vars map[string]string) error
	GetAllVariables(buildID string) (map[string]string, error)
	GetVariable(buildID, key string) (string, error)
}

type BuildVariableRepo struct {
	db *gorm.DB
}

func NewBuildVariableRepo(db *gorm.DB) IBuildVariableRepository {
	return &BuildVariableRepo{db: db}
}

// BatchSave 变量覆盖写入,同 key 后写胜出
func (r *BuildVariableRepo) BatchSave(projectID, pipelineID, buildID string, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	rows := make([]*model.BuildVariable, 0, len(vars))
	for k, v := range vars {
		rows = append(rows, &model.BuildVariable{
			ProjectID:  projectID,
			PipelineID: pipelineID,
			BuildID:    buildID,
			VarKey:     k,
			VarValue:   v,
		})
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "build_id"}, {Name: "var_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"var_value"}),
	}).Create(rows).Error
}

func (r *BuildVariableRepo) GetAllVariables(buildID string) (map[string]string, error) {
	var rows []*model.BuildVariable
	if err := r.db.Where("build_id = ?", buildID).Find(&rows).Error; err != nil {
		return nil, err
	}
	vars := make(map[string]string, len(rows))
	for _, row := range rows {
		vars[row.VarKey] = row.VarValue
	}
	return vars, nil
}

func (r *BuildVariableRepo) GetVariable(buildID, key string) (string, error) {
	var row model.BuildVariable
	err := r.db.Where("build_id = ? AND var_key = ?", buildID, key).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return row.VarValue, nil
}
