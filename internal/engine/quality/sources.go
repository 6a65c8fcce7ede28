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

package quality

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
)

// StaticRuleStore 配置文件里声明的规则集
type StaticRuleStore struct {
	rules map[string]Rule
}

func NewStaticRuleStore(rules []Rule) *StaticRuleStore {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		m[r.ID] = r
	}
	return &StaticRuleStore{rules: m}
}

// GetRules 查找规则,引用了不存在的规则按错误处理
func (s *StaticRuleStore) GetRules(_ context.Context, ruleIDs []string) ([]Rule, error) {
	out := make([]Rule, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		rule, ok := s.rules[id]
		if !ok {
			return nil, errors.Errorf("quality rule %s not found", id)
		}
		out = append(out, rule)
	}
	return out, nil
}

// VariableReader 构建变量读取
type VariableReader interface {
	GetAllVariables(buildID string) (map[string]string, error)
}

// VariableMetrics 把构建变量当作指标来源:插件把 coverage 之类的
// 数值写进变量,红线表达式直接引用变量名。
type VariableMetrics struct {
	vars VariableReader
}

func NewVariableMetrics(vars VariableReader) *VariableMetrics {
	return &VariableMetrics{vars: vars}
}

// GetMetrics 数值变量转成 float64,其余保持字符串
func (v *VariableMetrics) GetMetrics(_ context.Context, buildID string) (map[string]interface{}, error) {
	all, err := v.vars.GetAllVariables(buildID)
	if err != nil {
		return nil, err
	}
	env := make(map[string]interface{}, len(all))
	for k, val := range all {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			env[k] = f
			continue
		}
		env[k] = val
	}
	return env, nil
}

// Gate 把 RuleChecker 收敛成单个布尔判定,交给 stage 控制器使用
type Gate struct {
	checker *RuleChecker
}

func NewGate(rules RuleStore, metrics MetricsSource) *Gate {
	return &Gate{checker: NewRuleChecker(rules, metrics)}
}

// Check 全部规则通过才放行
func (g *Gate) Check(ctx context.Context, buildID string, ruleIDs []string) (bool, error) {
	result, err := g.checker.Check(ctx, buildID, ruleIDs)
	if err != nil {
		return false, err
	}
	return result.Pass, nil
}
