package services

import (
	"sort"

	"polpi-mx/models"
)

// Percentile interpolates linearly at index p/100·(n−1) of sorted data.
// It returns 0 for empty input.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := p / 100 * float64(n-1)
	lo := int(idx)
	if float64(lo) == idx || lo+1 >= n {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

// Median returns the 50th percentile of values, which need not be sorted.
func Median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Percentile(sorted, 50)
}

// SummarizePrices builds neighborhood statistics from price and price/m²
// samples. It returns nil when prices is empty.
func SummarizePrices(city, colonia, propertyType string, prices, pricesPerM2 []float64) *models.NeighborhoodStats {
	if len(prices) == 0 {
		return nil
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	var sum float64
	for _, p := range sorted {
		sum += p
	}

	stats := &models.NeighborhoodStats{
		City:           city,
		Colonia:        colonia,
		PropertyType:   propertyType,
		ListingCount:   len(sorted),
		AvgPriceMXN:    round2(sum / float64(len(sorted))),
		MedianPriceMXN: round2(Percentile(sorted, 50)),
		P25PriceMXN:    round2(Percentile(sorted, 25)),
		P75PriceMXN:    round2(Percentile(sorted, 75)),
		P90PriceMXN:    round2(Percentile(sorted, 90)),
		MinPriceMXN:    sorted[0],
		MaxPriceMXN:    sorted[len(sorted)-1],
	}

	if len(pricesPerM2) > 0 {
		var ppmSum float64
		for _, v := range pricesPerM2 {
			ppmSum += v
		}
		stats.AvgPricePerM2 = models.Float64(round2(ppmSum / float64(len(pricesPerM2))))
		stats.MedianPricePerM2 = models.Float64(round2(Median(pricesPerM2)))
	}
	return stats
}
