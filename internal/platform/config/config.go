package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	strutil "anonid/pkg/platform/strings"
)

// Config captures everything the anonymization subsystem needs from its
// environment. Nothing privacy-relevant is hardcoded: salts, rotation
// schedules, TTLs, and k-anonymity floors are all injected here.
type Config struct {
	ServerAddr string

	Salts  SaltConfig
	Device DeviceConfig
	Region RegionConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
}

// SaltConfig carries the rotatable digest secret. Previous is kept alive for
// one rotation window so digests computed under the prior salt still validate.
type SaltConfig struct {
	Current  string
	Previous string
}

// DeviceConfig tunes the device identity manager.
type DeviceConfig struct {
	RotationInterval         time.Duration
	TokenTTL                 time.Duration
	RotationGrace            time.Duration
	MaxDevicesPerFingerprint int
	LocalCacheSize           int
}

// RegionConfig tunes the region anonymizer.
type RegionConfig struct {
	Precision       int
	MinPopulation   int64
	HashLength      int
	RegionTTL       time.Duration
	PolygonCacheTTL time.Duration
	LocalCacheSize  int
}

// RedisConfig configures the shared key-value store client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional abuse/degradation signal publisher.
// Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		ServerAddr: getString("ANONID_ADDR", ":8080"),
		Salts: SaltConfig{
			Current:  getString("ANONID_SALT", "dev-salt-change-in-production"),
			Previous: os.Getenv("ANONID_SALT_PREVIOUS"),
		},
		Device: DeviceConfig{
			RotationInterval:         getDuration("ANONID_ROTATION_INTERVAL", 30*24*time.Hour),
			TokenTTL:                 getDuration("ANONID_TOKEN_TTL", 90*24*time.Hour),
			RotationGrace:            getDuration("ANONID_ROTATION_GRACE", 7*24*time.Hour),
			MaxDevicesPerFingerprint: getInt("ANONID_MAX_DEVICES", 5),
			LocalCacheSize:           getInt("ANONID_DEVICE_CACHE_SIZE", 10000),
		},
		Region: RegionConfig{
			Precision:       getInt("ANONID_REGION_PRECISION", 2),
			MinPopulation:   int64(getInt("ANONID_MIN_POPULATION", 10000)),
			HashLength:      getInt("ANONID_REGION_HASH_LENGTH", 16),
			RegionTTL:       getDuration("ANONID_REGION_TTL", 24*time.Hour),
			PolygonCacheTTL: getDuration("ANONID_POLYGON_CACHE_TTL", time.Hour),
			LocalCacheSize:  getInt("ANONID_REGION_CACHE_SIZE", 10000),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("ANONID_REDIS_URL"),
			PoolSize:     getInt("ANONID_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("ANONID_REDIS_MIN_IDLE", 2),
			DialTimeout:  getDuration("ANONID_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("ANONID_REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: getDuration("ANONID_REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Brokers: getList("ANONID_KAFKA_BROKERS"),
			Topic:   getString("ANONID_KAFKA_TOPIC", "anonid.signals"),
		},
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	out := strutil.DedupeAndTrim(strings.Split(v, ","))
	if len(out) == 0 {
		return nil
	}
	return out
}
