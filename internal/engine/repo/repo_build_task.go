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

type IBuildTaskRepository interface {
	BatchCreate(tasks []*model.BuildTask) error
	GetTask(buildID, taskID string) (*model.BuildTask, error)
	ListTasksByContainer(buildID, containerID string) ([]*model.BuildTask, error)
	UpdateTaskStatus(buildID, taskID string, status pipeline.BuildStatus) error
	StartTask(buildID, taskID string, status pipeline.BuildStatus, starter string, executeCount int) error
	FinishTask(buildID, taskID string, status pipeline.BuildStatus, errorType string, errorCode int, errorMsg string) error
	BatchUpdateStatus(buildID, containerID string, taskIDs []string, status pipeline.BuildStatus) error
}

type BuildTaskRepo struct {
	db *gorm.DB
}

func NewBuildTaskRepo(db *gorm.DB) IBuildTaskRepository {
	return &BuildTaskRepo{db: db}
}

func (r *BuildTaskRepo) BatchCreate(tasks []*model.BuildTask) error {
	if len(tasks) == 0 {
		return nil
	}
	return r.db.Create(tasks).Error
}

func (r *BuildTaskRepo) GetTask(buildID, taskID string) (*model.BuildTask, error) {
	var t model.BuildTask
	err := r.db.Where("build_id = ? AND task_id = ?", buildID, taskID).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *BuildTaskRepo) ListTasksByContainer(buildID, containerID string) ([]*model.BuildTask, error) {
	var tasks []*model.BuildTask
	err := r.db.Where("build_id = ? AND container_id = ?", buildID, containerID).
		Order("seq ASC").Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *BuildTaskRepo) UpdateTaskStatus(buildID, taskID string, status pipeline.BuildStatus) error {
	return r.db.Model(&model.BuildTask{}).
		Where("build_id = ? AND task_id = ?", buildID, taskID).
		Update("status", string(status)).Error
}

func (r *BuildTaskRepo) StartTask(buildID, taskID string, status pipeline.BuildStatus, starter string, executeCount int) error {
	now := time.Now()
	return r.db.Model(&model.BuildTask{}).
		Where("build_id = ? AND task_id = ?", buildID, taskID).
		Updates(map[string]interface{}{
			"status":        string(status),
			"starter":       starter,
			"execute_count": executeCount,
			"start_time":    &now,
		}).Error
}

func (r *BuildTaskRepo) FinishTask(buildID, taskID string, status pipeline.BuildStatus, errorType string, errorCode int, errorMsg string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":   string(status),
		"end_time": &now,
	}
	if errorMsg != "" || errorCode != 0 {
		updates["error_type"] = errorType
		updates["error_code"] = errorCode
		updates["error_msg"] = errorMsg
	}
	return r.db.Model(&model.BuildTask{}).
		Where("build_id = ? AND task_id = ?", buildID, taskID).
		Updates(updates).Error
}

// BatchUpdateStatus 将一批 task 统一置为给定状态,终止/收尾时使用
func (r *BuildTaskRepo) BatchUpdateStatus(buildID, containerID string, taskIDs []string, status pipeline.BuildStatus) error {
	if len(taskIDs) == 0 {
		return nil
	}
	return r.db.Model(&model.BuildTask{}).
		Where("build_id = ? AND container_id = ? AND task_id IN ?", buildID, containerID, taskIDs).
		Update("status", string(status)).Error
}
