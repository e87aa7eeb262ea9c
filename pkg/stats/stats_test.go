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

package stats

import (
	"math"
	"testing"
)

func TestErfAgainstReferenceValues(t *testing.T) {
	// Reference values from Abramowitz-Stegun tables; the approximation is
	// accurate to ~1.5e-7.
	cases := []struct {
		x, want float64
	}{
		{0, 0},
		{0.5, 0.5204998778},
		{1, 0.8427007929},
		{2, 0.9953222650},
		{-1, -0.8427007929},
	}
	for _, c := range cases {
		got := Erf(c.x)
		if math.Abs(got-c.want) > 1e-6 {
			t.Errorf("Erf(%v) = %v, want %v", c.x, got, c.want)
		}
	}
}

func TestNormalCDFSymmetry(t *testing.T) {
	if got := NormalCDF(0); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("NormalCDF(0) = %v, want 0.5", got)
	}
	for _, z := range []float64{0.5, 1, 1.96, 3} {
		if diff := NormalCDF(z) + NormalCDF(-z) - 1; math.Abs(diff) > 1e-6 {
			t.Errorf("NormalCDF(%v) not symmetric, residual %v", z, diff)
		}
	}
	// Phi(1.96) ~ 0.975, the two-sided 5% boundary.
	if got := NormalCDF(1.96); math.Abs(got-0.975) > 1e-4 {
		t.Errorf("NormalCDF(1.96) = %v, want ~0.975", got)
	}
}

func TestTwoProportionTestShip(t *testing.T) {
	// 30/100 control vs 55/100 treatment: a clear, significant lift.
	res := TwoProportionTest(30, 100, 55, 100, 0)
	if res.Decision != DecisionShip {
		t.Fatalf("decision = %s, want ship (p=%v z=%v)", res.Decision, res.PValue, res.ZScore)
	}
	if math.Abs(res.Delta-0.25) > 1e-9 {
		t.Errorf("delta = %v, want 0.25", res.Delta)
	}
	if res.PValue >= 0.05 {
		t.Errorf("pValue = %v, want < 0.05", res.PValue)
	}
	if !(res.CILow < 0.25 && 0.25 < res.CIHigh) {
		t.Errorf("CI [%v, %v] does not contain delta", res.CILow, res.CIHigh)
	}
}

func TestTwoProportionTestRollback(t *testing.T) {
	res := TwoProportionTest(55, 100, 30, 100, 0.05)
	if res.Decision != DecisionRollback {
		t.Fatalf("decision = %s, want rollback", res.Decision)
	}
	if res.Delta >= 0 {
		t.Errorf("delta = %v, want negative", res.Delta)
	}
}

func TestTwoProportionTestInsufficientData(t *testing.T) {
	cases := []struct {
		name           string
		s1, n1, s2, n2 int64
	}{
		{"no treatment exposures", 3, 5, 0, 0},
		{"no control exposures", 0, 0, 3, 5},
		{"zero pooled se, all successes", 10, 10, 10, 10},
		{"zero pooled se, no successes", 0, 10, 0, 10},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res := TwoProportionTest(c.s1, c.n1, c.s2, c.n2, 0.05)
			if res.Decision != DecisionInsufficientData {
				t.Fatalf("decision = %s, want insufficient-data", res.Decision)
			}
		})
	}
}

func TestTwoProportionTestKeepRunning(t *testing.T) {
	// 50 vs 52 of 1000: tiny, insignificant delta.
	res := TwoProportionTest(50, 1000, 52, 1000, 0.05)
	if res.Decision != DecisionKeepRunning {
		t.Fatalf("decision = %s, want keep-running (p=%v)", res.Decision, res.PValue)
	}
}

func TestGini(t *testing.T) {
	cases := []struct {
		name   string
		shares []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"all zero", []float64{0, 0}, 0},
		{"perfectly equal", []float64{0.25, 0.25, 0.25, 0.25}, 0},
		{"two unequal", []float64{0.1, 0.9}, 0.4},
		{"single item", []float64{1}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Gini(c.shares)
			if math.Abs(got-c.want) > 1e-9 {
				t.Fatalf("Gini(%v) = %v, want %v", c.shares, got, c.want)
			}
		})
	}
}

func TestGiniBounds(t *testing.T) {
	// Strongly concentrated distribution stays within [0, 1].
	shares := []float64{0.001, 0.001, 0.001, 0.997}
	g := Gini(shares)
	if g < 0 || g > 1 {
		t.Fatalf("Gini out of bounds: %v", g)
	}
	if g < 0.5 {
		t.Errorf("expected high inequality, got %v", g)
	}
}

func TestEntropy(t *testing.T) {
	if got := Entropy(nil); got != 0 {
		t.Errorf("Entropy(nil) = %v, want 0", got)
	}
	if got := Entropy([]int64{5}); got != 0 {
		t.Errorf("Entropy(single) = %v, want 0", got)
	}
	// Uniform over 4 items: exactly 2 bits.
	if got := Entropy([]int64{10, 10, 10, 10}); math.Abs(got-2) > 1e-9 {
		t.Errorf("Entropy(uniform4) = %v, want 2", got)
	}
	// Skew reduces entropy below uniform.
	if got := Entropy([]int64{97, 1, 1, 1}); got >= 2 {
		t.Errorf("Entropy(skewed) = %v, want < 2", got)
	}
}
