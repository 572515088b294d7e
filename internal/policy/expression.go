// Copyright 2025 Tom Barlow
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

package policy

import (
	"regexp"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// licenseTokenPattern matches one SPDX-style license key, operator
// keyword, or parenthesis in a license expression such as
// "MIT AND (Apache-2.0 OR GPL-2.0-only) WITH Classpath-exception-2.0".
var licenseTokenPattern = regexp.MustCompile(`\(|\)|[^\s()]+`)

// parseLicenseExpression extracts the set of distinct license keys
// referenced by a license expression.
//
// License keys are not valid expr-lang identifiers (they contain '-'
// and '.'), so the expression is rewritten into an equivalent boolean
// form first: each key becomes a sanitized placeholder identifier and
// AND/OR/WITH become &&/||/&&. The rewritten form is parsed into an AST
// purely to walk it for its identifier nodes, translating placeholders
// back to the original keys. The expression is never evaluated, only
// parsed, since the license algebra (precedence over alerts, not
// booleans) lives in ComplianceForExpression, not in expr-lang.
func parseLicenseExpression(expression string) []string {
	rewritten, keyOf := rewriteAsBoolean(expression)
	if rewritten == "" {
		return nil
	}

	tree, err := parser.Parse(rewritten)
	if err != nil {
		// Malformed expressions still contribute whatever keys were
		// tokenized; the project's compliance review surfaces the
		// original string for a human to fix.
		return dedupe(valuesOf(keyOf))
	}

	var keys []string
	ast.Walk(&tree.Node, &keyCollector{keyOf: keyOf, out: &keys})
	return dedupe(keys)
}

// rewriteAsBoolean tokenizes a license expression and returns an
// expr-lang-parseable boolean expression, plus a map from each
// placeholder identifier back to the original license key.
func rewriteAsBoolean(expression string) (string, map[string]string) {
	tokens := licenseTokenPattern.FindAllString(expression, -1)
	keyOf := make(map[string]string)

	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch strings.ToUpper(tok) {
		case "AND", "WITH":
			b.WriteString("&&")
		case "OR":
			b.WriteString("||")
		case "(", ")":
			b.WriteString(tok)
		default:
			placeholder := "key" + sanitizeIdent(tok)
			keyOf[placeholder] = tok
			b.WriteString(placeholder)
		}
	}
	return b.String(), keyOf
}

// sanitizeIdent maps a license key to a valid expr-lang identifier
// suffix by replacing every non-alphanumeric character with "_".
func sanitizeIdent(key string) string {
	var b strings.Builder
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func valuesOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// keyCollector walks an AST collecting license keys from identifier
// nodes created by rewriteAsBoolean's placeholder substitution.
type keyCollector struct {
	keyOf map[string]string
	out   *[]string
}

func (c *keyCollector) Visit(node *ast.Node) {
	ident, ok := (*node).(*ast.IdentifierNode)
	if !ok {
		return
	}
	if key, ok := c.keyOf[ident.Value]; ok {
		*c.out = append(*c.out, key)
	}
}
