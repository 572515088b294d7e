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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	doc := Document{
		LicensePolicies: []LicensePolicy{
			{LicenseKey: "gpl-2.0", Label: "GPL 2.0", ComplianceAlert: AlertError},
			{LicenseKey: "mit", Label: "MIT", ComplianceAlert: AlertNone},
			{LicenseKey: "apache-2.0", Label: "Apache 2.0", ComplianceAlert: AlertWarning},
		},
		LicenseClarityThresholds: map[int]Alert{
			90: AlertNone,
			70: AlertMissing,
			50: AlertWarning,
			0:  AlertError,
		},
		ScorecardScoreThresholds: map[float64]Alert{
			7.0: AlertNone,
			4.0: AlertWarning,
			0.0: AlertError,
		},
	}
	e, err := FromDocument(doc)
	require.NoError(t, err)
	return e
}

func TestLicensePolicyForKnownAndUnknown(t *testing.T) {
	e := testEvaluator(t)

	p := e.LicensePolicyFor("mit")
	assert.Equal(t, AlertNone, p.ComplianceAlert)

	p = e.LicensePolicyFor("some-made-up-license")
	assert.Equal(t, "Unknown", p.Label)
	assert.Equal(t, AlertMissing, p.ComplianceAlert)
}

func TestComplianceForExpressionTakesMaxAlert(t *testing.T) {
	e := testEvaluator(t)

	assert.Equal(t, AlertNone, e.ComplianceForExpression("mit"))
	assert.Equal(t, AlertWarning, e.ComplianceForExpression("mit AND apache-2.0"))
	assert.Equal(t, AlertError, e.ComplianceForExpression("mit AND apache-2.0 AND gpl-2.0"))
	assert.Equal(t, AlertError, e.ComplianceForExpression("gpl-2.0 WITH classpath-exception-2.0"))
}

func TestComplianceForExpressionIsMonotone(t *testing.T) {
	e := testEvaluator(t)

	base := e.ComplianceForExpression("mit")
	withError := e.ComplianceForExpression("mit AND gpl-2.0")
	assert.GreaterOrEqual(t, alertRank[withError], alertRank[base])
}

func TestClarityAlertPicksHighestMatchingTier(t *testing.T) {
	e := testEvaluator(t)

	assert.Equal(t, AlertNone, e.ClarityAlert(95))
	assert.Equal(t, AlertMissing, e.ClarityAlert(75))
	assert.Equal(t, AlertWarning, e.ClarityAlert(55))
	assert.Equal(t, AlertError, e.ClarityAlert(10))
}

func TestScorecardAlertPicksHighestMatchingTier(t *testing.T) {
	e := testEvaluator(t)

	assert.Equal(t, AlertNone, e.ScorecardAlert(8.5))
	assert.Equal(t, AlertWarning, e.ScorecardAlert(5.0))
	assert.Equal(t, AlertError, e.ScorecardAlert(1.0))
}

func TestFromDocumentAcceptsSingleThreshold(t *testing.T) {
	doc := Document{
		LicenseClarityThresholds: map[int]Alert{50: AlertWarning},
	}
	_, err := FromDocument(doc)
	assert.NoError(t, err) // single entry, nothing to collide
}

func TestProjectAlertAggregatesAcrossItems(t *testing.T) {
	e := testEvaluator(t)

	items := []PackageAlert{
		{Key: "pkg-a", LicenseExpression: "mit"},
		{Key: "pkg-b", LicenseExpression: "apache-2.0"},
		{Key: "pkg-c", LicenseExpression: "gpl-2.0"},
	}
	assert.Equal(t, AlertError, e.ProjectAlert(items))

	items = items[:2]
	assert.Equal(t, AlertWarning, e.ProjectAlert(items))
}

func TestParseLicenseExpressionExtractsKeys(t *testing.T) {
	keys := parseLicenseExpression("MIT AND (Apache-2.0 OR GPL-2.0-only) WITH Classpath-exception-2.0")
	assert.ElementsMatch(t, []string{"MIT", "Apache-2.0", "GPL-2.0-only", "Classpath-exception-2.0"}, keys)
}

func TestParseLicenseExpressionSingleKey(t *testing.T) {
	assert.Equal(t, []string{"mit"}, parseLicenseExpression("mit"))
}
