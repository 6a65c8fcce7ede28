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

// Package quality 质量红线:stage 准入/准出时按规则表达式
// 对构建指标做阈值校验。
package quality

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/pkg/errors"
)

// Rule 一条红线规则,Expression 为布尔表达式,
// 如 "coverage >= 80 && critical_issues == 0"。
type Rule struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// RuleStore 规则来源
type RuleStore interface {
	GetRules(ctx context.Context, ruleIDs []string) ([]Rule, error)
}

// MetricsSource 构建指标来源,返回规则表达式的求值环境
type MetricsSource interface {
	GetMetrics(ctx context.Context, buildID string) (map[string]interface{}, error)
}

// Result 一次红线校验的结果
type Result struct {
	Pass        bool
	FailedRules []Rule
}

// RuleChecker 按规则逐条求值,全部通过才算通过
type RuleChecker struct {
	rules   RuleStore
	metrics MetricsSource
}

func NewRuleChecker(rules RuleStore, metrics MetricsSource) *RuleChecker {
	return &RuleChecker{rules: rules, metrics: metrics}
}

// Check 执行红线校验。规则不存在或表达式非法按失败处理,
// 不能让坏规则放行构建。
func (c *RuleChecker) Check(ctx context.Context, buildID string, ruleIDs []string) (*Result, error) {
	if len(ruleIDs) == 0 {
		return &Result{Pass: true}, nil
	}
	rules, err := c.rules.GetRules(ctx, ruleIDs)
	if err != nil {
		return nil, errors.Wrap(err, "load quality rules")
	}
	env, err := c.metrics.GetMetrics(ctx, buildID)
	if err != nil {
		return nil, errors.Wrap(err, "load build metrics")
	}

	result := &Result{Pass: true}
	for _, rule := range rules {
		ok, evalErr := evalRule(rule, env)
		if evalErr != nil || !ok {
			result.Pass = false
			result.FailedRules = append(result.FailedRules, rule)
		}
	}
	return result, nil
}

func evalRule(rule Rule, env map[string]interface{}) (bool, error) {
	program, err := expr.Compile(rule.Expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, errors.Wrapf(err, "compile rule %s", rule.ID)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, errors.Wrapf(err, "run rule %s", rule.ID)
	}
	pass, ok := out.(bool)
	if !ok {
		return false, errors.Errorf("rule %s did not yield bool", rule.ID)
	}
	return pass, nil
}
