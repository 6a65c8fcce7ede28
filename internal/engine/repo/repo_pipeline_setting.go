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

type IPipelineSettingRepository interface {
	GetSetting(pipelineID string) (*model.PipelineSetting, error)
}

type PipelineSettingRepo struct {
	db *gorm.DB
}

func NewPipelineSettingRepo(db *gorm.DB) IPipelineSettingRepository {
	return &PipelineSettingRepo{db: db}
}

// GetSetting 缺省设置等价于 MULTIPLE,查不到不算错误
func (r *PipelineSettingRepo) GetSetting(pipelineID string) (*model.PipelineSetting, error) {
	var s model.PipelineSetting
	err := r.db.Where("pipeline_id = ?", pipelineID).First(&s).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return &model.PipelineSetting{
				PipelineID:  pipelineID,
				RunLockType: string(model.RunLockMultiple),
			}, nil
		}
		return nil, err
	}
	return &s, nil
}
