package region

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"anonid/internal/platform/config"
	"anonid/internal/secrets"
	"anonid/internal/store"
	"anonid/pkg/platform/circuit"
)

func testRegionConfig() config.RegionConfig {
	return config.RegionConfig{
		Precision:       2,
		MinPopulation:   10000,
		HashLength:      16,
		RegionTTL:       time.Hour,
		PolygonCacheTTL: time.Hour,
		LocalCacheSize:  128,
	}
}

type AnonymizerSuite struct {
	suite.Suite
	anon  *Anonymizer
	store *store.Memory
	ctx   context.Context
}

func TestAnonymizerSuite(t *testing.T) {
	suite.Run(t, new(AnonymizerSuite))
}

func (s *AnonymizerSuite) SetupTest() {
	s.store = store.NewMemory()
	anon, err := NewAnonymizer(testRegionConfig(), secrets.Salts{Current: "test-salt"}, s.store)
	s.Require().NoError(err)
	s.anon = anon
	s.ctx = context.Background()
}

func (s *AnonymizerSuite) TestAnonymizeCoordinates() {
	s.Run("deterministic for identical input", func() {
		h1 := s.anon.AnonymizeCoordinates(s.ctx, 40.7128, -74.0060)
		h2 := s.anon.AnonymizeCoordinates(s.ctx, 40.7128, -74.0060)
		s.Equal(h1, h2)
		s.True(strings.HasPrefix(h1, "rg:"))
		s.Len(h1, 3+16)
	})

	s.Run("nearby readings collapse to the same cell", func() {
		h1 := s.anon.AnonymizeCoordinates(s.ctx, 40.7128, -74.0060)
		h2 := s.anon.AnonymizeCoordinates(s.ctx, 40.7129, -74.0061)
		s.Equal(h1, h2)
	})

	s.Run("distinct cells produce distinct hashes", func() {
		nyc := s.anon.AnonymizeCoordinates(s.ctx, 40.7128, -74.0060)
		berlin := s.anon.AnonymizeCoordinates(s.ctx, 52.52, 13.405)
		s.NotEqual(nyc, berlin)
	})

	s.Run("invalid coordinates fall back to global", func() {
		s.Equal(GlobalRegion, s.anon.AnonymizeCoordinates(s.ctx, 91, 0))
		s.Equal(GlobalRegion, s.anon.AnonymizeCoordinates(s.ctx, 0, -181))
		s.Equal(GlobalRegion, s.anon.AnonymizeCoordinates(s.ctx, -90.01, 0))
	})

	s.Run("hash is stable across instances sharing a store", func() {
		h1 := s.anon.AnonymizeCoordinates(s.ctx, 48.8566, 2.3522)
		other, err := NewAnonymizer(testRegionConfig(), secrets.Salts{Current: "test-salt"}, s.store)
		s.Require().NoError(err)
		s.Equal(h1, other.AnonymizeCoordinates(s.ctx, 48.8566, 2.3522))
	})

	s.Run("salt changes the hash", func() {
		other, err := NewAnonymizer(testRegionConfig(), secrets.Salts{Current: "other-salt"}, store.NewMemory())
		s.Require().NoError(err)
		s.NotEqual(
			s.anon.AnonymizeCoordinates(s.ctx, 40.7128, -74.0060),
			other.AnonymizeCoordinates(s.ctx, 40.7128, -74.0060),
		)
	})
}

func (s *AnonymizerSuite) TestHashPolygon() {
	square := []Point{
		{Lat: 40.70, Lng: -74.02},
		{Lat: 40.70, Lng: -74.00},
		{Lat: 40.72, Lng: -74.02},
		{Lat: 40.72, Lng: -74.00},
	}

	s.Run("point order does not matter", func() {
		shuffled := []Point{square[3], square[0], square[2], square[1]}
		s.Equal(s.anon.HashPolygon(s.ctx, square), s.anon.HashPolygon(s.ctx, shuffled))
	})

	s.Run("point count is part of the identity", func() {
		triangle := square[:3]
		s.NotEqual(s.anon.HashPolygon(s.ctx, square), s.anon.HashPolygon(s.ctx, triangle))
	})

	s.Run("empty polygon falls back to global", func() {
		s.Equal(GlobalRegion, s.anon.HashPolygon(s.ctx, nil))
	})

	s.Run("out-of-range vertex falls back to global", func() {
		bad := append([]Point{{Lat: 95, Lng: 0}}, square...)
		s.Equal(GlobalRegion, s.anon.HashPolygon(s.ctx, bad))
	})
}

func (s *AnonymizerSuite) TestHashWithKAnonymity() {
	s.Run("sparse areas generalize to the broadest unit", func() {
		sparse := s.anon.HashWithKAnonymity(s.ctx, "europe:andorra:42.51,1.52", 5000)
		general := s.anon.HashWithKAnonymity(s.ctx, "europe", 5000)
		s.Equal(general, sparse)
	})

	s.Run("populous areas keep their specific label", func() {
		city := s.anon.HashWithKAnonymity(s.ctx, "europe:france:48.86,2.35", 2_000_000)
		continent := s.anon.HashWithKAnonymity(s.ctx, "europe", 2_000_000)
		s.NotEqual(continent, city)
	})

	s.Run("populations in the same bracket hash identically", func() {
		a := s.anon.HashWithKAnonymity(s.ctx, "europe:france:48.86,2.35", 150_000)
		b := s.anon.HashWithKAnonymity(s.ctx, "europe:france:48.86,2.35", 900_000)
		s.Equal(a, b)
	})

	s.Run("populations in different brackets hash differently", func() {
		a := s.anon.HashWithKAnonymity(s.ctx, "europe:france:48.86,2.35", 50_000)
		b := s.anon.HashWithKAnonymity(s.ctx, "europe:france:48.86,2.35", 5_000_000)
		s.NotEqual(a, b)
	})

	s.Run("empty label falls back to global", func() {
		s.Equal(GlobalRegion, s.anon.HashWithKAnonymity(s.ctx, "", 100_000))
	})
}

func (s *AnonymizerSuite) TestStoreOutage() {
	breaker := circuit.New("region-store", circuit.WithFailureThreshold(2))
	anon, err := NewAnonymizer(testRegionConfig(), secrets.Salts{Current: "test-salt"},
		&failingStore{}, WithBreaker(breaker))
	s.Require().NoError(err)

	s.Run("hashing still succeeds when every store call fails", func() {
		h := anon.AnonymizeCoordinates(s.ctx, 40.7128, -74.0060)
		s.NotEqual(GlobalRegion, h)
		s.True(strings.HasPrefix(h, "rg:"))
	})

	s.Run("repeated failures trip the breaker", func() {
		for i := range 5 {
			anon.AnonymizeCoordinates(s.ctx, 40.0+float64(i), -70.0)
		}
		s.True(breaker.IsOpen())
	})
}

func (s *AnonymizerSuite) TestLocate() {
	s.Run("new york resolves to north american united states", func() {
		continent, country := locate(40.7128, -74.0060)
		s.Equal("north-america", continent)
		s.Equal("united-states", country)
	})

	s.Run("paris resolves to france", func() {
		continent, country := locate(48.8566, 2.3522)
		s.Equal("europe", continent)
		s.Equal("france", country)
	})

	s.Run("open ocean resolves to a continentless label", func() {
		continent, country := locate(-40.0, -120.0)
		s.Equal("ocean", continent)
		s.Empty(country)
	})
}

// failingStore fails every operation, simulating a shared store outage.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (f *failingStore) Get(context.Context, string) (string, error) { return "", errStoreDown }
func (f *failingStore) Set(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (f *failingStore) Del(context.Context, ...string) error              { return errStoreDown }
func (f *failingStore) Expire(context.Context, string, time.Duration) error {
	return errStoreDown
}
func (f *failingStore) HSet(context.Context, string, map[string]string) error {
	return errStoreDown
}
func (f *failingStore) HGetAll(context.Context, string) (map[string]string, error) {
	return nil, errStoreDown
}
func (f *failingStore) SAdd(context.Context, string, ...string) error  { return errStoreDown }
func (f *failingStore) SRem(context.Context, string, ...string) error  { return errStoreDown }
func (f *failingStore) SCard(context.Context, string) (int64, error)   { return 0, errStoreDown }
