package tokens

import (
	"math"
	"testing"
)

func TestCacheExcludedFamily(t *testing.T) {
	usage := Usage{Input: 100, Output: 50, Reasoning: 10, CacheRead: 20, CacheWrite: 5}
	got, _ := Calculate(usage, Cost{}, true)

	if got.Input != 100 {
		t.Errorf("input = %d, want 100 (no cache subtraction)", got.Input)
	}
	want := got.Input + got.Output + got.Reasoning + got.Cache.Read + got.Cache.Write
	if got.Total != want {
		t.Errorf("total = %d, want sum of components %d", got.Total, want)
	}
}

func TestCacheIncludedFamily(t *testing.T) {
	usage := Usage{Input: 125, Output: 50, CacheRead: 20, CacheWrite: 5}
	got, _ := Calculate(usage, Cost{}, false)

	if got.Input != 100 {
		t.Errorf("adjusted input = %d, want 100 (125 - 20 - 5)", got.Input)
	}
	if got.Total != 175 {
		t.Errorf("total = %d, want 175", got.Total)
	}
}

func TestProviderTotalWins(t *testing.T) {
	got, _ := Calculate(Usage{Input: 10, Output: 1, Total: 11}, Cost{}, true)
	if got.Total != 11 {
		t.Errorf("total = %d, want provider-reported 11", got.Total)
	}
}

func TestCost(t *testing.T) {
	cost := Cost{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75}
	usage := Usage{Input: 1_000_000, Output: 100_000, Reasoning: 50_000, CacheRead: 200_000, CacheWrite: 40_000}

	_, dollars := Calculate(usage, cost, true)

	// 3 + 1.5 + 0.75 (reasoning at output rate) + 0.06 + 0.15
	want := 5.46
	if math.Abs(dollars-want) > 1e-9 {
		t.Errorf("cost = %f, want %f", dollars, want)
	}
}

func TestOver200KTier(t *testing.T) {
	cost := Cost{Input: 3, Output: 15, Over200K: &Cost{Input: 6, Output: 22.5}}

	_, small := Calculate(Usage{Input: 100_000}, cost, true)
	if math.Abs(small-0.3) > 1e-9 {
		t.Errorf("under tier cost = %f, want 0.3", small)
	}

	_, big := Calculate(Usage{Input: 150_000, CacheRead: 60_000}, cost, true)
	// 150K + 60K cache read crosses 200K: input at 6/M, cache read unpriced in tier.
	if math.Abs(big-0.9) > 1e-9 {
		t.Errorf("over tier cost = %f, want 0.9", big)
	}
}

func TestNonFiniteCoerced(t *testing.T) {
	usage := Usage{Input: math.NaN(), Output: math.Inf(1), Reasoning: -5}
	got, dollars := Calculate(usage, Cost{Input: 3, Output: 15}, true)

	if got.Input != 0 || got.Output != 0 || got.Reasoning != 0 || got.Total != 0 {
		t.Errorf("tokens = %+v, want all zero", got)
	}
	if dollars != 0 {
		t.Errorf("cost = %f, want 0", dollars)
	}
}

func TestAdd(t *testing.T) {
	a, _ := Calculate(Usage{Input: 10, Output: 1}, Cost{}, true)
	b, _ := Calculate(Usage{Input: 5, Output: 2}, Cost{}, true)
	sum := Add(a, b)
	if sum.Input != 15 || sum.Output != 3 || sum.Total != 18 {
		t.Errorf("sum = %+v", sum)
	}
}
