package services

import (
	"crypto/md5"
	"encoding/hex"
	"math"

	"polpi-mx/models"
)

const qualityChecks = 15

// GenerateID derives a stable listing id from source, URL and title.
func GenerateID(source, url, title string) string {
	sum := md5.Sum([]byte(source + ":" + url + ":" + title))
	return hex.EncodeToString(sum[:])[:16]
}

// QualityScore is the share of the 15 completeness checks a listing passes,
// rounded to two decimals.
func QualityScore(l *models.Listing) float64 {
	checks := []bool{
		l.PriceMXN != nil && *l.PriceMXN > 0,
		l.PropertyType != "",
		l.City != "",
		l.Colonia != "",
		l.SizeM2 != nil && *l.SizeM2 > 0,
		l.Bedrooms != nil,
		l.Bathrooms != nil,
		l.Lat != nil && l.Lng != nil,
		l.Description != "",
		len(l.Images) > 0,
		l.AgentName != "",
		l.AgentPhone != "",
		l.URL != "",
		len(l.Amenities) > 0,
		l.LotSizeM2 != nil && *l.LotSizeM2 > 0,
	}

	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return round2(float64(passed) / qualityChecks)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
