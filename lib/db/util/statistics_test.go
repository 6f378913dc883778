package util

import (
	"math"
	"sync"
	"testing"
)

func TestNewStats(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   Stats
	}{
		{"empty", nil, Stats{}},
		{"single", []float64{4}, Stats{Min: 4, Max: 4, Mean: 4, MinMaxRatio: 1}},
		{"even", []float64{2, 4, 4, 4, 5, 5, 7, 9}, Stats{StdDeviation: 2, Min: 2, Max: 9, Mean: 5, MinMaxRatio: 2.0 / 9.0}},
		{"zeros", []float64{0, 0}, Stats{MinMaxRatio: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewStats(tt.values)
			if math.Abs(got.StdDeviation-tt.want.StdDeviation) > 1e-9 ||
				got.Min != tt.want.Min || got.Max != tt.want.Max ||
				got.Mean != tt.want.Mean || math.Abs(got.MinMaxRatio-tt.want.MinMaxRatio) > 1e-9 {
				t.Errorf("NewStats(%v) = %+v, want %+v", tt.values, got, tt.want)
			}
		})
	}
}

func TestDistributionQuality(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("even distribution quality = %v, want 1", even.DistributionQuality)
	}
	skewed := NewDistributionStats([]float64{1, 1, 100})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("skewed quality %v should be below even %v", skewed.DistributionQuality, even.DistributionQuality)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if h.AverageSize() != 0 || h.Percentile(50) != 0 {
		t.Fatal("empty histogram should report zero")
	}

	// 90 small samples, 10 large ones
	for i := 0; i < 90; i++ {
		h.AddSample(100) // bucket (64, 256]
	}
	for i := 0; i < 10; i++ {
		h.AddSample(3000) // bucket (1024, 4096]
	}

	if got := h.Count(); got != 100 {
		t.Errorf("Count() = %d, want 100", got)
	}
	if got := h.AverageSize(); got != (90*100+10*3000)/100 {
		t.Errorf("AverageSize() = %d", got)
	}
	if got := h.MedianEstimate(); got != (64+256)/2 {
		t.Errorf("MedianEstimate() = %d, want %d", got, (64+256)/2)
	}
	if got := h.Percentile(99); got != (1024+4096)/2 {
		t.Errorf("Percentile(99) = %d, want %d", got, (1024+4096)/2)
	}
	if got := h.Percentile(101); got != 0 {
		t.Errorf("Percentile(101) = %d, want 0", got)
	}

	h.AddSample(1 << 40)
	if got := h.Percentile(100); got != 4294967296*2 {
		t.Errorf("Percentile(100) = %d, want overflow bucket estimate", got)
	}
}

func TestSizeHistogramConcurrent(t *testing.T) {
	h := NewSizeHistogram()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				h.AddSample(i)
				_ = h.Percentile(99)
			}
		}()
	}
	wg.Wait()
	if got := h.Count(); got != 8000 {
		t.Errorf("Count() = %d, want 8000", got)
	}
}
