// Package region converts precise coordinates into coarse, k-anonymous
// region hashes. Precision truncation plus population-bracket generalization
// keeps any produced hash from describing an area small enough to identify
// an individual.
package region

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"anonid/internal/platform/config"
	"anonid/internal/secrets"
	"anonid/internal/store"
	"anonid/pkg/platform/circuit"
	"anonid/pkg/platform/sentinel"
)

// GlobalRegion is the constant fallback for invalid input or internal
// failure. Region hashing is non-blocking for the check-in path; callers
// always get a usable value.
const GlobalRegion = "global"

const (
	hashPrefix     = "rg:"
	storeKeyPrefix = "region:"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anonid_region_cache_hits_total",
		Help: "Region hash cache hits by tier",
	}, []string{"tier"})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonid_region_cache_misses_total",
		Help: "Region hash computations after missing both cache tiers",
	})
	storeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonid_region_store_failures_total",
		Help: "Best-effort shared store operations that failed during region hashing",
	})
	fallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonid_region_fallbacks_total",
		Help: "Region requests answered with the global fallback",
	})
)

// Point is a single polygon vertex.
type Point struct {
	Lat float64
	Lng float64
}

// Anonymizer produces stable region hashes from coordinates, polygons, and
// labeled areas. In front of the shared store it keeps two advisory LRU
// caches: one keyed on the exact unrounded coordinate pair, one short-TTL
// cache for polygon centroids.
type Anonymizer struct {
	cfg     config.RegionConfig
	salts   secrets.Salts
	store   store.Store
	breaker *circuit.Breaker
	coords  *lru.Cache[string, string]
	polys   *expirable.LRU[string, string]
	group   singleflight.Group
	logger  *slog.Logger
}

// Option configures an Anonymizer.
type Option func(*Anonymizer)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Anonymizer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithBreaker overrides the shared-store circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(a *Anonymizer) {
		if b != nil {
			a.breaker = b
		}
	}
}

// NewAnonymizer builds a region anonymizer on top of the shared store.
func NewAnonymizer(cfg config.RegionConfig, salts secrets.Salts, st store.Store, opts ...Option) (*Anonymizer, error) {
	size := cfg.LocalCacheSize
	if size <= 0 {
		size = 1024
	}
	coords, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("region coordinate cache: %w", err)
	}

	a := &Anonymizer{
		cfg:     cfg,
		salts:   salts,
		store:   st,
		breaker: circuit.New("region-store"),
		coords:  coords,
		polys:   expirable.NewLRU[string, string](size, nil, cfg.PolygonCacheTTL),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// AnonymizeCoordinates converts a precise coordinate pair into a region
// hash. Identical inputs after precision truncation always yield the
// identical hash; invalid coordinates and internal failures yield
// GlobalRegion.
func (a *Anonymizer) AnonymizeCoordinates(ctx context.Context, lat, lng float64) (out string) {
	defer func() {
		if recover() != nil {
			fallbacks.Inc()
			out = GlobalRegion
		}
	}()

	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		fallbacks.Inc()
		return GlobalRegion
	}

	// Keyed on the unrounded pair so repeated exact readings skip everything.
	localKey := strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64)
	if hash, ok := a.coords.Get(localKey); ok {
		cacheHits.WithLabelValues("local").Inc()
		return hash
	}

	label := a.coordinateLabel(lat, lng)
	hash := a.hashLabel(ctx, label)
	a.coords.Add(localKey, hash)
	return hash
}

// HashPolygon hashes a polygon by its truncated centroid and vertex count.
// Point order does not matter: vertices are sorted before hashing so the
// same shape always produces the same hash.
func (a *Anonymizer) HashPolygon(ctx context.Context, points []Point) (out string) {
	defer func() {
		if recover() != nil {
			fallbacks.Inc()
			out = GlobalRegion
		}
	}()

	if len(points) == 0 {
		fallbacks.Inc()
		return GlobalRegion
	}

	normalized := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			fallbacks.Inc()
			return GlobalRegion
		}
		normalized = append(normalized, Point{Lat: a.truncate(p.Lat), Lng: a.truncate(p.Lng)})
	}
	sort.Slice(normalized, func(i, j int) bool {
		if normalized[i].Lat != normalized[j].Lat {
			return normalized[i].Lat < normalized[j].Lat
		}
		return normalized[i].Lng < normalized[j].Lng
	})

	var cacheKey strings.Builder
	var sumLat, sumLng float64
	for _, p := range normalized {
		sumLat += p.Lat
		sumLng += p.Lng
		fmt.Fprintf(&cacheKey, "%s,%s;", a.format(p.Lat), a.format(p.Lng))
	}
	if hash, ok := a.polys.Get(cacheKey.String()); ok {
		cacheHits.WithLabelValues("polygon").Inc()
		return hash
	}

	n := float64(len(normalized))
	label := fmt.Sprintf("poly:%s,%s:%d",
		a.format(a.truncate(sumLat/n)), a.format(a.truncate(sumLng/n)), len(normalized))
	hash := a.hashLabel(ctx, label)
	a.polys.Add(cacheKey.String(), hash)
	return hash
}

// HashWithKAnonymity hashes a labeled area together with its population
// bracket. Areas below the configured minimum population are generalized to
// their broadest unit first: truncated precision alone is not enough when
// the area is known to be sparsely populated.
func (a *Anonymizer) HashWithKAnonymity(ctx context.Context, label string, population int64) (out string) {
	defer func() {
		if recover() != nil {
			fallbacks.Inc()
			out = GlobalRegion
		}
	}()

	if label == "" {
		fallbacks.Inc()
		return GlobalRegion
	}

	if population < a.cfg.MinPopulation {
		label = generalizeLabel(label)
	}
	return a.hashLabel(ctx, fmt.Sprintf("k:%s:%s", label, populationBracket(population)))
}

// coordinateLabel builds the canonical generalized description:
// continent:country:lat,lng at configured precision (country omitted when
// only the continent is known).
func (a *Anonymizer) coordinateLabel(lat, lng float64) string {
	continent, country := locate(lat, lng)
	coords := a.format(a.truncate(lat)) + "," + a.format(a.truncate(lng))
	if country == "" {
		return continent + ":" + coords
	}
	return continent + ":" + country + ":" + coords
}

// hashLabel turns a canonical label into the prefixed fixed-length hash,
// consulting and populating the shared store cache best-effort.
func (a *Anonymizer) hashLabel(ctx context.Context, label string) string {
	storeKey := storeKeyPrefix + secrets.Digest(a.salts.Current, "key", label)

	if a.store != nil && a.breaker.Allow() {
		hash, err := a.store.Get(ctx, storeKey)
		switch {
		case err == nil:
			a.breaker.RecordSuccess()
			cacheHits.WithLabelValues("store").Inc()
			return hash
		case errors.Is(err, sentinel.ErrNotFound):
			a.breaker.RecordSuccess()
		default:
			a.breaker.RecordFailure()
			storeFailures.Inc()
		}
	}
	cacheMisses.Inc()

	// Concurrent requests for the same cell compute once.
	hash, _, _ := a.group.Do(label, func() (interface{}, error) {
		digest := secrets.Digest(a.salts.Current, label)
		n := a.cfg.HashLength
		if n <= 0 || n > len(digest) {
			n = len(digest)
		}
		return hashPrefix + digest[:n], nil
	})

	if a.store != nil && a.breaker.Allow() {
		if err := a.store.Set(ctx, storeKey, hash.(string), a.cfg.RegionTTL); err != nil {
			a.breaker.RecordFailure()
			storeFailures.Inc()
			a.logger.Debug("region store write failed", "error", err)
		} else {
			a.breaker.RecordSuccess()
		}
	}
	return hash.(string)
}

func (a *Anonymizer) truncate(v float64) float64 {
	f, err := strconv.ParseFloat(a.format(v), 64)
	if err != nil {
		return v
	}
	return f
}

func (a *Anonymizer) format(v float64) string {
	p := a.cfg.Precision
	if p < 0 {
		p = 0
	}
	return strconv.FormatFloat(v, 'f', p, 64)
}

// populationBracket maps a raw population into one of a few fixed brackets
// so the population itself cannot fingerprint an area.
func populationBracket(population int64) string {
	switch {
	case population < 10_000:
		return "lt10k"
	case population < 100_000:
		return "10k-100k"
	case population < 1_000_000:
		return "100k-1m"
	case population < 10_000_000:
		return "1m-10m"
	default:
		return "gt10m"
	}
}

// generalizeLabel strips a region label to its broadest unit.
func generalizeLabel(label string) string {
	if i := strings.Index(label, ":"); i > 0 {
		return label[:i]
	}
	return label
}
