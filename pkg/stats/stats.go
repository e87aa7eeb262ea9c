// Copyright 2026 The recsys Authors. All Rights Reserved.
//
// Created: August 2026
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

// Package stats implements the statistical primitives used by the experiment
// and fairness analyzers: the two-proportion z-test with its decision rule,
// the Abramowitz-Stegun normal CDF approximation, and the Gini and Shannon
// entropy measures over exposure distributions.
//
// The erf approximation constants are pinned so that p-values are
// bit-reproducible across runs and across reimplementations in other
// languages. Do not swap them for math.Erf.
package stats

import (
	"math"
	"sort"
)

// Decision is the outcome of a two-proportion significance test.
type Decision string

const (
	DecisionShip             Decision = "ship"
	DecisionRollback         Decision = "rollback"
	DecisionKeepRunning      Decision = "keep-running"
	DecisionInsufficientData Decision = "insufficient-data"
)

// DefaultAlpha is the significance level used when none is supplied.
const DefaultAlpha = 0.05

// TwoProportionResult carries the full test output so callers can surface it
// in experiment summaries.
type TwoProportionResult struct {
	Delta      float64  `json:"delta"`
	ZScore     float64  `json:"zScore"`
	PValue     float64  `json:"pValue"`
	CILow      float64  `json:"ciLow"`
	CIHigh     float64  `json:"ciHigh"`
	Alpha      float64  `json:"alpha"`
	Decision   Decision `json:"decision"`
	P1         float64  `json:"p1"`
	P2         float64  `json:"p2"`
	N1         int64    `json:"n1"`
	N2         int64    `json:"n2"`
	Successes1 int64    `json:"successes1"`
	Successes2 int64    `json:"successes2"`
}

// Abramowitz-Stegun 7.1.26 erf approximation coefficients. These exact
// values are part of the reproducibility contract.
const (
	asA1 = 0.254829592
	asA2 = -0.284496736
	asA3 = 1.421413741
	asA4 = -1.453152027
	asA5 = 1.061405429
	asP  = 0.3275911
)

// Erf approximates the error function using Abramowitz-Stegun 7.1.26.
// Maximum absolute error is about 1.5e-7, which is ample for p-values.
func Erf(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}
	t := 1.0 / (1.0 + asP*x)
	y := 1.0 - (((((asA5*t+asA4)*t)+asA3)*t+asA2)*t+asA1)*t*math.Exp(-x*x)
	return sign * y
}

// NormalCDF is the standard normal CDF built on Erf.
func NormalCDF(z float64) float64 {
	return 0.5 * (1.0 + Erf(z/math.Sqrt2))
}

// TwoProportionTest runs a pooled two-proportion z-test of group 2 against
// group 1 (treatment against control). n1/n2 are exposure counts, s1/s2 the
// success counts. A zero sample on either side, or a zero pooled standard
// error, yields DecisionInsufficientData.
func TwoProportionTest(s1, n1, s2, n2 int64, alpha float64) TwoProportionResult {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	res := TwoProportionResult{
		Alpha:      alpha,
		N1:         n1,
		N2:         n2,
		Successes1: s1,
		Successes2: s2,
		Decision:   DecisionInsufficientData,
	}
	if n1 <= 0 || n2 <= 0 {
		return res
	}
	p1 := float64(s1) / float64(n1)
	p2 := float64(s2) / float64(n2)
	res.P1, res.P2 = p1, p2
	res.Delta = p2 - p1

	pooled := float64(s1+s2) / float64(n1+n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 {
		return res
	}
	res.ZScore = res.Delta / se
	res.PValue = 2 * (1 - NormalCDF(math.Abs(res.ZScore)))

	// Unpooled 95% CI on the difference in proportions.
	ciSE := math.Sqrt(p1*(1-p1)/float64(n1) + p2*(1-p2)/float64(n2))
	res.CILow = res.Delta - 1.96*ciSE
	res.CIHigh = res.Delta + 1.96*ciSE

	switch {
	case res.PValue < alpha && res.Delta > 0:
		res.Decision = DecisionShip
	case res.PValue < alpha && res.Delta < 0:
		res.Decision = DecisionRollback
	default:
		res.Decision = DecisionKeepRunning
	}
	return res
}

// Gini computes the Gini coefficient of a share distribution using the
// mean-absolute-difference form G = sum |xi - xj| / (2 n^2 mean). Zero and
// negative entries are dropped first; an empty distribution has Gini 0.
func Gini(shares []float64) float64 {
	xs := make([]float64, 0, len(shares))
	var total float64
	for _, s := range shares {
		if s > 0 {
			xs = append(xs, s)
			total += s
		}
	}
	n := len(xs)
	if n == 0 || total == 0 {
		return 0
	}
	sort.Float64s(xs)
	// With xs sorted ascending, sum_{i<j} (xj - xi) reduces to a single pass:
	// each xs[i] appears with coefficient (2i - n + 1).
	var diffSum float64
	for i, x := range xs {
		diffSum += float64(2*i-n+1) * x
	}
	mean := total / float64(n)
	return diffSum / (float64(n) * float64(n) * mean)
}

// Entropy computes Shannon entropy (base 2) over a count distribution.
// Zero counts contribute nothing; an empty or all-zero distribution has
// entropy 0.
func Entropy(counts []int64) float64 {
	var total int64
	for _, c := range counts {
		if c > 0 {
			total += c
		}
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}
