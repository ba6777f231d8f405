package geocode

import (
	"context"
	"strconv"
	"strings"

	"polpi-mx/models"
	"polpi-mx/utils"
)

// CDMX bounds used to tell coordinates from an address.
const (
	minLat = 19.0
	maxLat = 19.6
	minLng = -99.4
	maxLng = -98.9
)

// ParseInput splits user input into either an address or a (lat, lng) pair.
// Only pairs that fall inside Mexico City count as coordinates; anything else
// is returned trimmed as an address.
func ParseInput(s string) (string, *[2]float64) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return s, nil
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return s, nil
	}
	if lat < minLat || lat > maxLat || lng < minLng || lng > maxLng {
		return s, nil
	}
	return "", &[2]float64{lat, lng}
}

// Store is what GeocodeMissing reads from and writes to.
type Store interface {
	ListingsMissingCoords(ctx context.Context, limit int) ([]*models.Listing, error)
	UpdateLocation(ctx context.Context, id string, lat, lng float64, colonia string) error
}

// Geocoder resolves a colonia within a city.
type Geocoder interface {
	Geocode(ctx context.Context, address, city string) (*Result, error)
}

// BackfillResult counts the outcome of a GeocodeMissing pass.
type BackfillResult struct {
	Checked  int `json:"checked"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	NotFound int `json:"not_found"`
	Failed   int `json:"failed"`
}

// GeocodeMissing resolves up to limit active listings that have a colonia but
// no coordinates and stores the result. Listings known only by city are
// skipped so they never collapse onto the city centroid. Per-listing failures
// are counted, not returned; only store reads and cancellation abort the pass.
func GeocodeMissing(ctx context.Context, geo Geocoder, store Store, limit int, logger *utils.Logger) (*BackfillResult, error) {
	listings, err := store.ListingsMissingCoords(ctx, limit)
	if err != nil {
		return nil, err
	}

	res := &BackfillResult{}
	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		if strings.TrimSpace(l.Colonia) == "" {
			res.Skipped++
			continue
		}

		loc, err := geo.Geocode(ctx, l.Colonia, l.City)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			logger.Warn("[geocode] %s (%s, %s): %v", l.ID, l.Colonia, l.City, err)
			res.Failed++
			continue
		}
		if loc == nil {
			logger.Debug("[geocode] No match for %s, %s", l.Colonia, l.City)
			res.NotFound++
			continue
		}

		// Keep the listing's own colonia; Nominatim's suburb naming differs
		// from the portals'.
		if err := store.UpdateLocation(ctx, l.ID, loc.Lat, loc.Lng, ""); err != nil {
			logger.Warn("[geocode] Could not update %s: %v", l.ID, err)
			res.Failed++
			continue
		}
		res.Updated++
	}

	logger.Info("[geocode] Backfill: %d checked, %d updated, %d skipped, %d not found, %d failed",
		res.Checked, res.Updated, res.Skipped, res.NotFound, res.Failed)
	return res, nil
}
