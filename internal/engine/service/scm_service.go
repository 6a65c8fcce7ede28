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

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/forge-ci/forge/pkg/retry"
)

// ScmService 启动前向代码服务补全各拉取插件的目标 revision
type ScmService struct {
	client  *resty.Client
	baseURL string
}

func NewScmService(baseURL string) *ScmService {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(0) // 重试交给 retry.Do 统一控制
	return &ScmService{client: client, baseURL: baseURL}
}

type revisionResp struct {
	Code int    `json:"code"`
	Data string `json:"data"`
	Msg  string `json:"msg"`
}

// LatestRevision 查询仓库分支的最新 revision
func (s *ScmService) LatestRevision(ctx context.Context, projectID, repositoryID, branch string) (string, error) {
	var revision string
	err := retry.Do(ctx, func(ctx context.Context) error {
		var out revisionResp
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"projectId":    projectID,
				"repositoryId": repositoryID,
				"branch":       branch,
			}).
			SetResult(&out).
			Get(s.baseURL + "/api/scm/revision")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("scm revision query http %d", resp.StatusCode())
		}
		if out.Code != 0 {
			return errors.Errorf("scm revision query failed: %s", out.Msg)
		}
		revision = out.Data
		return nil
	}, retry.WithMaxAttempts(3), retry.WithBackoff(retry.Fixed(500*time.Millisecond)))
	if err != nil {
		return "", err
	}
	return revision, nil
}
