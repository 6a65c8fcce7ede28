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

// Package variable interprets ${{ ... }} expressions against build variables.
package variable

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

// Interpreter resolves ${{ ... }} variable expressions.
type Interpreter struct {
	env map[string]any
}

// New creates an interpreter over the given build variables.
func New(vars map[string]string) *Interpreter {
	env := make(map[string]any, len(vars))
	for k, v := range vars {
		env[k] = v
	}
	return &Interpreter{env: env}
}

// exprRegex matches ${{ ... }} expressions.
// Supports: ${{ variable }}, ${{ expression }}, ${{env.VAR}}, etc.
var exprRegex = regexp.MustCompile(`\${{([^}]+)}}`)

// Resolve resolves all ${{ ... }} expressions in text. Unresolvable
// expressions are left as-is so callers can treat substitution as
// best-effort.
func (vi *Interpreter) Resolve(text string) string {
	if text == "" {
		return text
	}

	matches := exprRegex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text
	}

	result := text
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		exprStr := strings.TrimSpace(match[1])
		if exprStr == "" {
			continue
		}
		value, err := vi.Evaluate(exprStr)
		if err != nil {
			continue
		}
		result = strings.ReplaceAll(result, match[0], fmt.Sprintf("%v", value))
	}

	return result
}

// Evaluate evaluates a single expression and returns its value.
func (vi *Interpreter) Evaluate(exprStr string) (any, error) {
	exprStr = strings.TrimSpace(exprStr)
	if exprStr == "" {
		return "", nil
	}

	env := make(map[string]any, len(vi.env)+1)
	for k, v := range vi.env {
		env[k] = v
	}
	env["env"] = vi.env

	program, err := expr.Compile(exprStr, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile expression '%s': %w", exprStr, err)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression '%s': %w", exprStr, err)
	}

	return result, nil
}

// ResolveList resolves each entry of a comma-joined reviewer list, flattening
// entries that expand to multiple names.
func (vi *Interpreter) ResolveList(items []string) []string {
	joined := vi.Resolve(strings.Join(items, ","))
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
