package region

import (
	"strings"
	"sync"

	"github.com/pariz/gountries"
)

// Coarse country bounding boxes, checked in order. This is intentionally
// approximate: a handful of large countries resolved by rectangle, not
// reverse geocoding. Higher precision here would weaken the k-anonymity
// guarantee, so resist the urge to refine it.
type boundingBox struct {
	minLat, maxLat float64
	minLng, maxLng float64
	alpha2         string
}

var countryBoxes = []boundingBox{
	{24.5, 49.5, -125.0, -66.9, "US"},
	{41.7, 83.1, -141.0, -52.6, "CA"},
	{14.5, 32.7, -118.4, -86.7, "MX"},
	{-33.8, 5.3, -73.9, -34.7, "BR"},
	{-55.1, -21.8, -73.6, -53.6, "AR"},
	{49.9, 60.9, -8.6, 1.8, "GB"},
	{42.3, 51.1, -5.1, 8.2, "FR"},
	{47.3, 55.1, 5.9, 15.0, "DE"},
	{36.0, 43.8, -9.5, 3.3, "ES"},
	{36.6, 47.1, 6.6, 18.5, "IT"},
	{35.8, 45.0, 25.7, 44.8, "TR"},
	{41.2, 81.9, 19.6, 180.0, "RU"},
	{22.0, 31.7, 25.0, 35.0, "EG"},
	{4.3, 13.9, 2.7, 14.7, "NG"},
	{-34.8, -22.1, 16.5, 32.9, "ZA"},
	{8.1, 37.1, 68.2, 97.4, "IN"},
	{18.2, 53.6, 73.5, 135.1, "CN"},
	{24.4, 45.5, 122.9, 153.9, "JP"},
	{-43.6, -10.7, 113.3, 153.6, "AU"},
	{-47.3, -34.4, 166.5, 178.5, "NZ"},
}

// Continent fallbacks for valid coordinates that miss every country box.
var continentBoxes = []struct {
	minLat, maxLat float64
	minLng, maxLng float64
	name           string
}{
	{7.0, 84.0, -169.0, -52.0, "North America"},
	{-57.0, 13.0, -82.0, -34.0, "South America"},
	{36.0, 71.0, -25.0, 45.0, "Europe"},
	{-35.0, 37.5, -18.0, 52.0, "Africa"},
	{1.0, 78.0, 26.0, 180.0, "Asia"},
	{-48.0, 0.0, 110.0, 180.0, "Oceania"},
	{-90.0, -60.0, -180.0, 180.0, "Antarctica"},
}

var (
	countriesOnce  sync.Once
	countriesQuery *gountries.Query
)

// countryMeta resolves a bounding-box alpha2 code to continent and common
// name via the embedded gountries dataset.
func countryMeta(alpha2 string) (continent, name string, ok bool) {
	countriesOnce.Do(func() {
		countriesQuery = gountries.New()
	})
	country, err := countriesQuery.FindCountryByAlpha(alpha2)
	if err != nil {
		return "", "", false
	}
	return country.Continent, country.Name.Common, true
}

// locate maps valid coordinates to (continent, country) labels. Country is
// empty when only a continent could be determined; both empty means open
// ocean or otherwise unplaceable.
func locate(lat, lng float64) (continent, country string) {
	for _, box := range countryBoxes {
		if lat >= box.minLat && lat <= box.maxLat && lng >= box.minLng && lng <= box.maxLng {
			if cont, name, ok := countryMeta(box.alpha2); ok {
				return slug(cont), slug(name)
			}
			break
		}
	}
	for _, box := range continentBoxes {
		if lat >= box.minLat && lat <= box.maxLat && lng >= box.minLng && lng <= box.maxLng {
			return slug(box.name), ""
		}
	}
	return "ocean", ""
}

func slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}
