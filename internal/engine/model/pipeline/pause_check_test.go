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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheck() *StagePauseCheck {
	return &StagePauseCheck{
		ManualTrigger: true,
		ReviewGroups: []*StageReviewGroup{
			{ID: "g1", Reviewers: []string{"alice", "bob"}},
			{ID: "g2", Reviewers: []string{"carol"}},
		},
	}
}

func TestNeedPause(t *testing.T) {
	var nilCheck *StagePauseCheck
	assert.False(t, nilCheck.NeedPause())

	check := newCheck()
	assert.True(t, check.NeedPause())

	check.Status = StatusReviewProcessed.String()
	assert.False(t, check.NeedPause())

	// 非人工触发的检查点不暂停
	assert.False(t, (&StagePauseCheck{}).NeedPause())
}

// 审核组按列表顺序串行消费
func TestGroupToReview(t *testing.T) {
	check := newCheck()
	require.NotNil(t, check.GroupToReview())
	assert.Equal(t, "g1", check.GroupToReview().ID)

	check.ReviewGroups[0].Status = string(ReviewActionProcess)
	assert.Equal(t, "g2", check.GroupToReview().ID)

	check.ReviewGroups[1].Status = string(ReviewActionProcess)
	assert.Nil(t, check.GroupToReview())
}

func TestReviewerContains(t *testing.T) {
	check := newCheck()
	assert.True(t, check.ReviewerContains("alice"))
	assert.False(t, check.ReviewerContains("carol")) // carol 在第二组,还没轮到

	check.ReviewGroups[0].Status = string(ReviewActionProcess)
	assert.True(t, check.ReviewerContains("carol"))
	assert.False(t, check.ReviewerContains("alice"))
}

// 不带 groupID 时兼容旧交互,落到第一个组
func TestGetReviewGroupByIDCompat(t *testing.T) {
	check := newCheck()
	group := check.GetReviewGroupByID("")
	require.NotNil(t, group)
	assert.Equal(t, "g1", group.ID)

	assert.Equal(t, "g2", check.GetReviewGroupByID("g2").ID)
	assert.Nil(t, check.GetReviewGroupByID("missing"))
	assert.Nil(t, (&StagePauseCheck{}).GetReviewGroupByID(""))
}

func TestReviewGroupSerialOrder(t *testing.T) {
	check := newCheck()

	// 还没轮到的组不能先审
	assert.False(t, check.ReviewGroup("carol", ReviewActionProcess, "g2", nil, ""))
	assert.Equal(t, "", check.ReviewGroups[1].Status)

	// 第一个组通过,检查点整体还在等第二组
	assert.True(t, check.ReviewGroup("alice", ReviewActionProcess, "g1", nil, "lgtm"))
	assert.Equal(t, string(ReviewActionProcess), check.ReviewGroups[0].Status)
	assert.Equal(t, "alice", check.ReviewGroups[0].Operator)
	assert.NotZero(t, check.ReviewGroups[0].ReviewTime)
	assert.Equal(t, "", check.Status)

	// 已审的组不能重复审
	assert.False(t, check.ReviewGroup("bob", ReviewActionProcess, "g1", nil, ""))

	// 最后一个组通过,检查点落 REVIEW_PROCESSED
	assert.True(t, check.ReviewGroup("carol", ReviewActionProcess, "g2", nil, ""))
	assert.Equal(t, StatusReviewProcessed.String(), check.Status)
}

// 任一组驳回,检查点落 REVIEW_ABORT,即便它是最后一组
func TestReviewGroupAbortWins(t *testing.T) {
	check := newCheck()
	assert.True(t, check.ReviewGroup("alice", ReviewActionProcess, "g1", nil, ""))
	assert.True(t, check.ReviewGroup("carol", ReviewActionAbort, "g2", nil, "no"))
	assert.Equal(t, StatusReviewAbort.String(), check.Status)
}

// 审核参数:只有改动过的值进入组记录,且带入后续组的默认值
func TestReviewParamsDiff(t *testing.T) {
	check := newCheck()
	check.ReviewParams = []ReviewParam{
		{Key: "env", Value: "staging"},
		{Key: "version", Value: "1.0"},
	}

	assert.True(t, check.ReviewGroup("alice", ReviewActionProcess, "g1", []ReviewParam{
		{Key: "env", Value: "prod"},     // 改了
		{Key: "version", Value: "1.0"},  // 没改
		{Key: "unknown", Value: "skip"}, // 未声明的参数忽略
	}, ""))

	require.Len(t, check.ReviewGroups[0].Params, 1)
	assert.Equal(t, "env", check.ReviewGroups[0].Params[0].Key)
	assert.Equal(t, "prod", check.ReviewGroups[0].Params[0].Value)

	// 修改后的值成为下一组看到的默认值
	assert.Equal(t, "prod", check.ReviewParams[0].Value)
}

func TestFixReviewGroups(t *testing.T) {
	check := &StagePauseCheck{
		ManualTrigger: true,
		ReviewGroups: []*StageReviewGroup{
			{Reviewers: []string{"alice"}, Status: string(ReviewActionProcess), Operator: "alice", ReviewTime: 123},
		},
	}
	check.FixReviewGroups(true)
	assert.NotEmpty(t, check.ReviewGroups[0].ID)
	assert.Equal(t, "", check.ReviewGroups[0].Status)
	assert.Equal(t, "", check.ReviewGroups[0].Operator)
	assert.Zero(t, check.ReviewGroups[0].ReviewTime)
}

func TestRetryRefresh(t *testing.T) {
	check := newCheck()
	assert.True(t, check.ReviewGroup("alice", ReviewActionAbort, "g1", nil, "no"))
	require.Equal(t, StatusReviewAbort.String(), check.Status)

	check.RetryRefresh()
	assert.Equal(t, "", check.Status)
	for _, g := range check.ReviewGroups {
		assert.Equal(t, "", g.Status)
		assert.Equal(t, "", g.Operator)
		assert.Empty(t, g.Suggest)
	}
	assert.True(t, check.NeedPause())
}

func TestParseReviewVariables(t *testing.T) {
	check := &StagePauseCheck{
		ManualTrigger: true,
		ReviewDesc:    "deploy ${{ CI_BUILD_NUM }}",
		ReviewGroups: []*StageReviewGroup{
			{ID: "g1", Reviewers: []string{"${{ OWNERS }}"}},
		},
		ReviewParams: []ReviewParam{{Key: "target", Value: "${{ TARGET }}"}},
	}
	check.ParseReviewVariables(map[string]string{
		"CI_BUILD_NUM": "42",
		"OWNERS":       "alice,bob",
		"TARGET":       "prod",
	})
	assert.Equal(t, "deploy 42", check.ReviewDesc)
	assert.Equal(t, []string{"alice", "bob"}, check.ReviewGroups[0].Reviewers)
	assert.Equal(t, "prod", check.ReviewParams[0].Value)
}

func TestTimeoutHours(t *testing.T) {
	assert.Equal(t, DefaultReviewTimeoutHours, (&StagePauseCheck{}).TimeoutHours())
	assert.Equal(t, 8, (&StagePauseCheck{Timeout: 8}).TimeoutHours())
}

func TestConvertControlOption(t *testing.T) {
	opt := &StageControlOption{
		ManualTrigger: true,
		TriggerUsers:  []string{"alice"},
		ReviewDesc:    "go?",
	}
	check := ConvertControlOption(opt)
	require.Len(t, check.ReviewGroups, 1)
	assert.NotEmpty(t, check.ReviewGroups[0].ID)
	assert.True(t, check.NeedPause())

	opt.Triggered = true
	check = ConvertControlOption(opt)
	assert.False(t, check.NeedPause())
}
