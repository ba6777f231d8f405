package services

import (
	"math"
	"testing"
)

func TestPercentile(t *testing.T) {
	data := []float64{100, 200, 300, 400, 500}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 100},
		{25, 200},
		{50, 300},
		{75, 400},
		{90, 460},
		{100, 500},
	}
	for _, tt := range tests {
		if got := Percentile(data, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v) = %v; want %v", tt.p, got, tt.want)
		}
	}

	if got := Percentile([]float64{1, 2}, 50); got != 1.5 {
		t.Errorf("interpolated median = %v; want 1.5", got)
	}
	if got := Percentile(nil, 50); got != 0 {
		t.Errorf("empty = %v", got)
	}
}

func TestSummarizePrices(t *testing.T) {
	stats := SummarizePrices("Ciudad de México", "Roma Norte", "", []float64{3e6, 1e6, 2e6}, []float64{40000, 20000, 30000})
	if stats == nil {
		t.Fatal("expected stats")
	}
	if stats.ListingCount != 3 || stats.AvgPriceMXN != 2e6 || stats.MedianPriceMXN != 2e6 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.MinPriceMXN != 1e6 || stats.MaxPriceMXN != 3e6 {
		t.Errorf("min/max: %v %v", stats.MinPriceMXN, stats.MaxPriceMXN)
	}
	if stats.P25PriceMXN != 1.5e6 || stats.P75PriceMXN != 2.5e6 {
		t.Errorf("quartiles: %v %v", stats.P25PriceMXN, stats.P75PriceMXN)
	}
	if stats.AvgPricePerM2 == nil || *stats.AvgPricePerM2 != 30000 {
		t.Errorf("avg ppm2: %v", stats.AvgPricePerM2)
	}

	if SummarizePrices("x", "y", "", nil, nil) != nil {
		t.Error("empty prices should give nil")
	}
}
