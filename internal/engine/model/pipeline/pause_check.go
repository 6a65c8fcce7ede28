// Copyright 2025 Forge Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"slices"
	"time"

	"github.com/forge-ci/forge/internal/pkg/variable"
	"github.com/forge-ci/forge/pkg/id"
)

// ManualReviewAction 审核动作
type ManualReviewAction string

const (
	ReviewActionProcess ManualReviewAction = "PROCESS"
	ReviewActionAbort   ManualReviewAction = "ABORT"
)

// DefaultReviewTimeoutHours 审核等待超时兜底，默认24小时
const DefaultReviewTimeoutHours = 24

// ReviewParam 审核变量
type ReviewParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Desc  string `json:"desc,omitempty"`
}

// StageReviewGroup 审核组。Status 为空串表示待审核。
type StageReviewGroup struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Reviewers  []string      `json:"reviewers"`
	Status     string        `json:"status,omitempty"`
	Operator   string        `json:"operator,omitempty"`
	ReviewTime int64         `json:"reviewTime,omitempty"` // 毫秒
	Suggest    string        `json:"suggest,omitempty"`
	Params     []ReviewParam `json:"params,omitempty"`
}

// StagePauseCheck stage 准入/准出审核配置。
// 审核组按列表顺序串行消费，任一时刻至多一个组处于待审核状态。
type StagePauseCheck struct {
	ManualTrigger bool          `json:"manualTrigger,omitempty"`
	Status        string        `json:"status,omitempty"`
	ReviewDesc    string        `json:"reviewDesc,omitempty"`
	ReviewGroups  []*StageReviewGroup `json:"reviewGroups,omitempty"`
	ReviewParams  []ReviewParam `json:"reviewParams,omitempty"`
	Timeout       int           `json:"timeout,omitempty"` // 小时
	RuleIDs       []string      `json:"ruleIds,omitempty"` // 质量红线规则
	CheckTimes    int           `json:"checkTimes,omitempty"`
}

// TimeoutHours 审核超时时间
func (c *StagePauseCheck) TimeoutHours() int {
	if c.Timeout <= 0 {
		return DefaultReviewTimeoutHours
	}
	return c.Timeout
}

// NeedPause 该检查点是否需要暂停等待人工审核
func (c *StagePauseCheck) NeedPause() bool {
	if c == nil {
		return false
	}
	return c.ManualTrigger && c.Status != StatusReviewProcessed.String()
}

// NeedQualityCheck 该检查点是否配置了质量红线
func (c *StagePauseCheck) NeedQualityCheck() bool {
	return c != nil && len(c.RuleIDs) > 0
}

// GroupToReview 返回当前等待中的审核组（列表序第一个状态为空的组）
func (c *StagePauseCheck) GroupToReview() *StageReviewGroup {
	for _, group := range c.ReviewGroups {
		if group.Status == "" {
			return group
		}
	}
	return nil
}

// ReviewerContains 判断用户是否在当前待审核组的审核人名单中
func (c *StagePauseCheck) ReviewerContains(userID string) bool {
	group := c.GroupToReview()
	if group == nil {
		return false
	}
	return slices.Contains(group.Reviewers, userID)
}

// GetReviewGroupByID 按 ID 查找审核组。
// 兼容旧的前端交互：不带 ID 时默认返回第一个审核组。
func (c *StagePauseCheck) GetReviewGroupByID(groupID string) *StageReviewGroup {
	if groupID == "" {
		if len(c.ReviewGroups) == 0 {
			return nil
		}
		return c.ReviewGroups[0]
	}
	for _, group := range c.ReviewGroups {
		if group.ID == groupID {
			return group
		}
	}
	return nil
}

// ReviewGroup 对当前待审核组执行审核动作。目标组必须就是当前待审核组，
// 否则拒绝并返回 false（状态不发生任何变化）。最后一个组审核通过后整个
// 检查点置为 REVIEW_PROCESSED；任一组选择 ABORT 则置为 REVIEW_ABORT。
func (c *StagePauseCheck) ReviewGroup(
	userID string,
	action ManualReviewAction,
	groupID string,
	params []ReviewParam,
	suggest string,
) bool {
	group := c.GetReviewGroupByID(groupID)
	if group == nil || group.Status != "" {
		return false
	}
	// 审核组严格按列表顺序消费,越过当前待审核组的请求一律拒绝
	if group != c.GroupToReview() {
		return false
	}
	group.Status = string(action)
	group.Operator = userID
	group.ReviewTime = time.Now().UnixMilli()
	group.Suggest = suggest
	group.Params = c.parseReviewParams(params)

	if c.GroupToReview() == nil {
		c.Status = StatusReviewProcessed.String()
	}
	if action == ReviewActionAbort {
		c.Status = StatusReviewAbort.String()
	}
	return true
}

// parseReviewParams 处理审核参数：只保留与默认值不同的部分，
// 并把修改后的值传递到下一个审核组。
func (c *StagePauseCheck) parseReviewParams(params []ReviewParam) []ReviewParam {
	if len(c.ReviewParams) == 0 || len(params) == 0 {
		return nil
	}
	origin := make(map[string]int, len(c.ReviewParams))
	for i, p := range c.ReviewParams {
		origin[p.Key] = i
	}
	var diff []ReviewParam
	for _, param := range params {
		i, ok := origin[param.Key]
		if !ok {
			continue
		}
		if c.ReviewParams[i].Value != param.Value {
			diff = append(diff, param)
			c.ReviewParams[i].Value = param.Value
		}
	}
	return diff
}

// FixReviewGroups 补齐缺失的审核组 ID；init 时清空所有临时审核字段
func (c *StagePauseCheck) FixReviewGroups(init bool) {
	for _, group := range c.ReviewGroups {
		if group.ID == "" {
			group.ID = id.UUID()
		}
		if init {
			group.Status = ""
			group.ReviewTime = 0
			group.Operator = ""
			group.Params = nil
		}
	}
}

// ParseReviewVariables 进入审核流程前完成审核人与描述的变量替换
func (c *StagePauseCheck) ParseReviewVariables(vars map[string]string) {
	vi := variable.New(vars)
	for _, group := range c.ReviewGroups {
		if group.Status == "" {
			group.Reviewers = vi.ResolveList(group.Reviewers)
		}
	}
	c.ReviewDesc = vi.Resolve(c.ReviewDesc)
	for i := range c.ReviewParams {
		if v, ok := vars[c.ReviewParams[i].Key]; ok {
			c.ReviewParams[i].Value = v
		} else {
			c.ReviewParams[i].Value = vi.Resolve(c.ReviewParams[i].Value)
		}
	}
}

// RetryRefresh 重试时恢复所有准入/准出状态
func (c *StagePauseCheck) RetryRefresh() {
	c.Status = ""
	for _, group := range c.ReviewGroups {
		group.Status = ""
		group.Params = nil
		group.Operator = ""
		group.ReviewTime = 0
		group.Suggest = ""
	}
}

// ConvertControlOption 兼容性逻辑：将旧版 stage 控制选项转换为审核流配置
func ConvertControlOption(opt *StageControlOption) *StagePauseCheck {
	status := ""
	groupStatus := ""
	if opt.Triggered {
		status = StatusReviewProcessed.String()
		groupStatus = string(ReviewActionProcess)
	}
	return &StagePauseCheck{
		ManualTrigger: opt.ManualTrigger,
		Status:        status,
		ReviewGroups: []*StageReviewGroup{{
			ID:        id.UUID(),
			Reviewers: opt.TriggerUsers,
			Status:    groupStatus,
			Params:    opt.ReviewParams,
		}},
		ReviewDesc:   opt.ReviewDesc,
		ReviewParams: opt.ReviewParams,
		Timeout:      opt.Timeout,
	}
}
