package services

import (
	"math"
	"sort"

	"github.com/mmcloughlin/geohash"

	"polpi-mx/models"
	"polpi-mx/utils"
)

const (
	geohashPrecision = 6
	maxPriceDiff     = 0.05
	maxSizeDiff      = 0.10
)

// Deduper finds the same property listed on more than one source.
type Deduper struct {
	logger *utils.Logger
}

// NewDeduper creates a Deduper.
func NewDeduper(logger *utils.Logger) *Deduper {
	return &Deduper{logger: logger}
}

// BucketKey groups listings that could be the same property by normalized
// city and colonia. Coordinates only narrow matches inside a bucket.
func BucketKey(l *models.Listing) string {
	return NormalizeKey(l.City) + "|" + NormalizeKey(l.Colonia)
}

// nearby reports whether two located listings fall in the same or an adjacent
// geohash cell. Listings missing coordinates on either side always pass.
func nearby(a, b *models.Listing) bool {
	if a.Lat == nil || a.Lng == nil || b.Lat == nil || b.Lng == nil {
		return true
	}
	ha := geohash.EncodeWithPrecision(*a.Lat, *a.Lng, geohashPrecision)
	hb := geohash.EncodeWithPrecision(*b.Lat, *b.Lng, geohashPrecision)
	if ha == hb {
		return true
	}
	for _, n := range geohash.Neighbors(ha) {
		if n == hb {
			return true
		}
	}
	return false
}

// Find returns duplicate pairs among listings. Listings without price or
// size are never matched.
func (d *Deduper) Find(listings []*models.Listing) []models.DuplicatePair {
	buckets := make(map[string][]*models.Listing)
	for _, l := range listings {
		if !l.HasPriceAndSize() {
			continue
		}
		key := BucketKey(l)
		buckets[key] = append(buckets[key], l)
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]struct{})
	var pairs []models.DuplicatePair
	for _, k := range keys {
		group := buckets[k]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				pair, ok := matchPair(group[i], group[j])
				if !ok {
					continue
				}
				id := pair.CanonicalID + "|" + pair.DuplicateID
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				pairs = append(pairs, pair)
			}
		}
	}

	d.logger.Info("[dedupe] %d candidate buckets, %d duplicate pairs", len(buckets), len(pairs))
	return pairs
}

func matchPair(a, b *models.Listing) (models.DuplicatePair, bool) {
	if a.Source == b.Source {
		return models.DuplicatePair{}, false
	}
	if NormalizeKey(a.City) != NormalizeKey(b.City) || NormalizeKey(a.Colonia) != NormalizeKey(b.Colonia) {
		return models.DuplicatePair{}, false
	}
	if !nearby(a, b) {
		return models.DuplicatePair{}, false
	}

	priceDiff := relDiff(*a.PriceMXN, *b.PriceMXN)
	sizeDiff := relDiff(*a.SizeM2, *b.SizeM2)
	if priceDiff > maxPriceDiff || sizeDiff > maxSizeDiff {
		return models.DuplicatePair{}, false
	}

	confidence := 1 - (priceDiff/maxPriceDiff+sizeDiff/maxSizeDiff)/2*0.5

	canonical, dup := a, b
	if b.DataQualityScore > a.DataQualityScore ||
		(b.DataQualityScore == a.DataQualityScore && b.ID < a.ID) {
		canonical, dup = b, a
	}
	return models.DuplicatePair{
		CanonicalID: canonical.ID,
		DuplicateID: dup.ID,
		Confidence:  round2(confidence),
	}, true
}

// relDiff is |a-b| relative to the larger value.
func relDiff(a, b float64) float64 {
	hi := math.Max(a, b)
	if hi == 0 {
		return 0
	}
	return math.Abs(a-b) / hi
}
