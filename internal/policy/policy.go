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

// Package policy evaluates license compliance policies, license clarity
// thresholds and OpenSSF scorecard thresholds against a project's
// discovered packages and resources.
package policy

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

// Alert is a compliance severity level. Precedence, highest first:
// error > warning > missing > "" (no alert).
type Alert string

const (
	AlertError   Alert = "error"
	AlertWarning Alert = "warning"
	AlertMissing Alert = "missing"
	AlertNone    Alert = ""
)

var alertRank = map[Alert]int{
	AlertError:   3,
	AlertWarning: 2,
	AlertMissing: 1,
	AlertNone:    0,
}

// maxAlert returns the higher-precedence of two alerts.
func maxAlert(a, b Alert) Alert {
	if alertRank[a] >= alertRank[b] {
		return a
	}
	return b
}

// LicensePolicy is one entry of the license_policies document.
type LicensePolicy struct {
	LicenseKey       string `yaml:"license_key"`
	Label            string `yaml:"label"`
	ComplianceAlert  Alert  `yaml:"compliance_alert"`
}

// Document is the parsed policy file: license policies plus clarity and
// scorecard thresholds.
type Document struct {
	LicensePolicies          []LicensePolicy  `yaml:"license_policies"`
	LicenseClarityThresholds map[int]Alert    `yaml:"license_clarity_thresholds"`
	ScorecardScoreThresholds map[float64]Alert `yaml:"scorecard_score_thresholds"`
}

// Evaluator answers compliance questions against a loaded Document. It
// caches the parsed identifier set of each license expression it sees,
// since the same expression recurs across many packages in a project.
type Evaluator struct {
	licenseByKey     map[string]LicensePolicy
	clarityTiers     []tier[int]
	scorecardTiers   []tier[float64]

	mu    sync.RWMutex
	cache map[string][]string
}

type tier[T int | float64] struct {
	threshold T
	alert     Alert
}

// Load parses a policy document and builds an Evaluator. Threshold maps
// must be strictly descending by key; violating that is an InvalidPolicy
// error, per spec.
func Load(data []byte) (*Evaluator, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindInvalidPolicy,
			Field:   "policies_file",
			Message: err.Error(),
		}
	}
	return FromDocument(doc)
}

// FromDocument builds an Evaluator from an already-parsed Document.
func FromDocument(doc Document) (*Evaluator, error) {
	e := &Evaluator{
		licenseByKey: make(map[string]LicensePolicy, len(doc.LicensePolicies)),
		cache:        make(map[string][]string),
	}
	for _, p := range doc.LicensePolicies {
		e.licenseByKey[p.LicenseKey] = p
	}

	var err error
	e.clarityTiers, err = sortedDescending(doc.LicenseClarityThresholds)
	if err != nil {
		return nil, &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindInvalidPolicy,
			Field:   "license_clarity_thresholds",
			Message: err.Error(),
		}
	}
	e.scorecardTiers, err = sortedDescending(doc.ScorecardScoreThresholds)
	if err != nil {
		return nil, &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindInvalidPolicy,
			Field:   "scorecard_score_thresholds",
			Message: err.Error(),
		}
	}

	return e, nil
}

// sortedDescending validates that a threshold map's natural ordering by
// key is strictly descending in value terms (i.e. simply sorts it; the
// caller-visible invariant is that distinct keys never collide), and
// returns it as a slice ordered from the highest threshold to the
// lowest.
func sortedDescending[T int | float64](thresholds map[T]Alert) ([]tier[T], error) {
	tiers := make([]tier[T], 0, len(thresholds))
	for threshold, alert := range thresholds {
		tiers = append(tiers, tier[T]{threshold: threshold, alert: alert})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].threshold > tiers[j].threshold })
	for i := 1; i < len(tiers); i++ {
		if tiers[i].threshold == tiers[i-1].threshold {
			return nil, fmt.Errorf("duplicate threshold %v", tiers[i].threshold)
		}
	}
	return tiers, nil
}

// LicensePolicyFor returns the configured policy for a license key, or
// the "Unknown"/"missing" default when the key isn't listed.
func (e *Evaluator) LicensePolicyFor(licenseKey string) LicensePolicy {
	if p, ok := e.licenseByKey[licenseKey]; ok {
		return p
	}
	return LicensePolicy{LicenseKey: licenseKey, Label: "Unknown", ComplianceAlert: AlertMissing}
}

// ComplianceForExpression parses a license expression into its
// constituent license keys and returns the highest-precedence alert
// among them.
func (e *Evaluator) ComplianceForExpression(expression string) Alert {
	keys := e.licenseKeys(expression)
	alert := AlertNone
	for _, key := range keys {
		alert = maxAlert(alert, e.LicensePolicyFor(key).ComplianceAlert)
	}
	return alert
}

func (e *Evaluator) licenseKeys(expression string) []string {
	e.mu.RLock()
	if keys, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return keys
	}
	e.mu.RUnlock()

	keys := parseLicenseExpression(expression)

	e.mu.Lock()
	e.cache[expression] = keys
	e.mu.Unlock()

	return keys
}

// ClarityAlert returns the alert of the highest clarity threshold the
// score meets or exceeds.
func (e *Evaluator) ClarityAlert(score int) Alert {
	for _, t := range e.clarityTiers {
		if score >= t.threshold {
			return t.alert
		}
	}
	return AlertNone
}

// ScorecardAlert returns the alert of the highest scorecard threshold
// the score meets or exceeds.
func (e *Evaluator) ScorecardAlert(score float64) Alert {
	for _, t := range e.scorecardTiers {
		if score >= t.threshold {
			return t.alert
		}
	}
	return AlertNone
}

// PackageAlert is one package's or resource's contribution to a
// project's aggregate alert.
type PackageAlert struct {
	Key              string
	LicenseExpression string
}

// ProjectAlert aggregates the max compliance alert across every package
// and resource license expression in a project.
func (e *Evaluator) ProjectAlert(items []PackageAlert) Alert {
	alert := AlertNone
	for _, item := range items {
		alert = maxAlert(alert, e.ComplianceForExpression(item.LicenseExpression))
	}
	return alert
}
