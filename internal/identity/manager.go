// Package identity issues, validates, and rotates anonymous device tokens.
// A token is derived from a fingerprint through a memory-hard KDF and can
// never be walked back to it; the fingerprint itself is a salted digest of
// coarse client attributes and is only ever used server-side as a grouping
// key.
//
// Resolution is availability-over-consistency: no store outage, crypto
// failure, or abuse condition ever prevents an identity from being
// returned.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"anonid/internal/platform/config"
	"anonid/internal/secrets"
	"anonid/internal/signals"
	"anonid/internal/store"
	"anonid/pkg/platform/circuit"
	"anonid/pkg/platform/sentinel"
)

const ephemeralPrefix = "temp-"

// localCacheTTL bounds how long a locally cached record may serve without
// re-validation against the shared store. The store stays authoritative
// for the token lifecycle: expiry, erasure, and rotations performed by
// other instances must be observed within this window.
const localCacheTTL = 5 * time.Minute

// cacheEntry pairs a cached record with its re-validation deadline.
type cacheEntry struct {
	rec       record
	expiresAt time.Time
}

// Manager resolves caller-held token pairs to device identities, issuing,
// rotating, and erasing tokens against the shared store. A bounded local
// LRU accelerates repeat lookups; the shared store stays authoritative.
type Manager struct {
	cfg     config.DeviceConfig
	salts   secrets.Salts
	store   store.Store
	breaker *circuit.Breaker
	cache   *lru.Cache[string, cacheEntry]
	signals signals.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSignals sets the abuse/degradation signal publisher.
func WithSignals(pub signals.Publisher) Option {
	return func(m *Manager) {
		m.signals = pub
	}
}

// WithBreaker overrides the shared-store circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Manager) {
		if b != nil {
			m.breaker = b
		}
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a device identity manager on top of the shared store.
func NewManager(cfg config.DeviceConfig, salts secrets.Salts, st store.Store, opts ...Option) (*Manager, error) {
	size := cfg.LocalCacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("device token cache: %w", err)
	}

	m := &Manager{
		cfg:     cfg,
		salts:   salts,
		store:   st,
		breaker: circuit.New("device-store"),
		cache:   cache,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// ResolveOrCreate resolves the caller-held token pair to a device identity,
// issuing a fresh one when neither token validates. It never fails: a store
// outage degrades to a session-only temporary identifier.
func (m *Manager) ResolveOrCreate(ctx context.Context, sig ClientSignals, pair TokenPair) DeviceInfo {
	if pair.Current != "" {
		if rec, ok := m.lookup(ctx, pair.Current); ok {
			resolutions.WithLabelValues("current").Inc()
			return m.resolveHit(ctx, pair.Current, rec)
		}
	}
	if pair.Previous != "" {
		if rec, ok := m.lookup(ctx, pair.Previous); ok {
			resolutions.WithLabelValues("previous").Inc()
			previousTokenHits.Inc()
			m.logger.Info("device resolved via previous token",
				"already_rotated", rec.RotatedTo != "")
			return m.resolveHit(ctx, pair.Previous, rec)
		}
	}

	if !m.breaker.Allow() {
		resolutions.WithLabelValues("ephemeral").Inc()
		return m.ephemeral()
	}
	return m.create(ctx, sig)
}

// UpdateDeviceRegion attaches the latest region hash to a device record.
// Ephemeral identifiers are skipped silently.
func (m *Manager) UpdateDeviceRegion(ctx context.Context, deviceID, regionHash string) error {
	if deviceID == "" || strings.HasPrefix(deviceID, ephemeralPrefix) {
		return nil
	}
	rec, ok := m.lookup(ctx, deviceID)
	if !ok {
		return sentinel.ErrNotFound
	}
	if !m.breaker.Allow() {
		return sentinel.ErrUnavailable
	}
	if err := m.storeErr(ctx, m.store.HSet(ctx, tokenKeyPrefix+deviceID, map[string]string{fieldRegion: regionHash})); err != nil {
		return err
	}
	rec.Region = regionHash
	m.cacheAdd(deviceID, rec)
	return nil
}

// AnonymizeDevice erases a device identity: the token record, its
// fingerprint-set membership, and its local cache entry. Dropping a
// fingerprint back under the device cap re-arms the abuse signal.
func (m *Manager) AnonymizeDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" || strings.HasPrefix(deviceID, ephemeralPrefix) {
		return nil
	}
	rec, ok := m.lookup(ctx, deviceID)
	m.cache.Remove(deviceID)
	if !ok {
		return sentinel.ErrNotFound
	}
	if !m.breaker.Allow() {
		return sentinel.ErrUnavailable
	}

	if err := m.storeErr(ctx, m.store.Del(ctx, tokenKeyPrefix+deviceID)); err != nil {
		return err
	}
	fpKey := fingerprintKeyPrefix + rec.Fingerprint
	if err := m.storeErr(ctx, m.store.SRem(ctx, fpKey, deviceID)); err != nil {
		return err
	}
	if n, err := m.store.SCard(ctx, fpKey); err == nil && int(n) <= m.cfg.MaxDevicesPerFingerprint {
		_ = m.store.Del(ctx, capFlagKeyPrefix+rec.Fingerprint)
	}
	return nil
}

// cacheAdd stores a record locally with the advisory re-validation deadline.
func (m *Manager) cacheAdd(token string, rec record) {
	m.cache.Add(token, cacheEntry{rec: rec, expiresAt: m.now().Add(localCacheTTL)})
}

// cacheGet returns a locally cached record, treating entries past their
// deadline as misses so store-side expiry, erasure, and foreign rotations
// are picked up.
func (m *Manager) cacheGet(token string) (record, bool) {
	entry, ok := m.cache.Get(token)
	if !ok {
		return record{}, false
	}
	if m.now().After(entry.expiresAt) {
		m.cache.Remove(token)
		return record{}, false
	}
	return entry.rec, true
}

// lookup validates a token against the local cache, then the shared store.
// The local entry is advisory: mutation paths re-read the store before
// acting on it.
func (m *Manager) lookup(ctx context.Context, token string) (record, bool) {
	if rec, ok := m.cacheGet(token); ok {
		return rec, true
	}
	if !m.breaker.Allow() {
		return record{}, false
	}

	fields, err := m.store.HGetAll(ctx, tokenKeyPrefix+token)
	if err != nil {
		m.storeErr(ctx, err)
		return record{}, false
	}
	m.breaker.RecordSuccess()

	rec, ok := recordFromFields(fields)
	if !ok {
		return record{}, false
	}
	m.cacheAdd(token, rec)
	return rec, true
}

// resolveHit handles a validated token: redirect if already superseded,
// touch last-seen, rotate when the interval has elapsed.
func (m *Manager) resolveHit(ctx context.Context, token string, rec record) DeviceInfo {
	if rec.RotatedTo != "" {
		// Straggling client still holding the pre-rotation token.
		return DeviceInfo{
			DeviceID:   rec.RotatedTo,
			PreviousID: token,
			IsRotated:  true,
			Region:     rec.Region,
		}
	}

	now := m.now()
	m.touch(ctx, token, rec, now)

	if now.Sub(rec.rotationBase()) >= m.cfg.RotationInterval && m.breaker.Allow() {
		if newToken, ok := m.rotate(ctx, token, rec, now); ok {
			rotations.Inc()
			return DeviceInfo{
				DeviceID:   newToken,
				PreviousID: token,
				IsRotated:  true,
				Region:     rec.Region,
			}
		}
	}
	return DeviceInfo{DeviceID: token, Region: rec.Region}
}

// touch updates last-seen in the shared store. Advisory side effect: a
// failure is counted, never surfaced, and an open circuit skips the write
// entirely so cache-hit traffic cannot postpone the half-open probe.
func (m *Manager) touch(ctx context.Context, token string, rec record, now time.Time) {
	if !m.breaker.Allow() {
		touchFailures.Inc()
		return
	}
	err := m.store.HSet(ctx, tokenKeyPrefix+token, map[string]string{
		fieldLastSeenAt: strconv.FormatInt(now.Unix(), 10),
	})
	if m.storeErr(ctx, err) != nil {
		touchFailures.Inc()
		return
	}
	rec.LastSeenAt = now
	m.cacheAdd(token, rec)
}

// rotate derives a replacement token for the same fingerprint. The old
// record is kept for the grace period with a pointer to its replacement so
// straggling clients get redirected instead of dropped. No distributed
// lock: a concurrent rotation elsewhere is detected by re-reading the store
// and yielding to it.
func (m *Manager) rotate(ctx context.Context, oldToken string, rec record, now time.Time) (string, bool) {
	if fields, err := m.store.HGetAll(ctx, tokenKeyPrefix+oldToken); err == nil {
		if fresh, ok := recordFromFields(fields); ok {
			if fresh.RotatedTo != "" {
				// Another process rotated first; trust the store.
				m.cache.Remove(oldToken)
				return fresh.RotatedTo, true
			}
			rec = fresh
		}
	}

	newToken := m.deriveToken(ctx, rec.Fingerprint)
	newRec := record{
		Fingerprint: rec.Fingerprint,
		CreatedAt:   rec.CreatedAt,
		LastSeenAt:  now,
		RotatedAt:   now,
		Region:      rec.Region,
		Version:     secrets.TokenVersion,
	}
	if err := m.writeRecord(ctx, newToken, newRec, m.cfg.TokenTTL); err != nil {
		// Keep serving the old token rather than risk losing the identity.
		return "", false
	}

	if m.breaker.Allow() {
		fpKey := fingerprintKeyPrefix + rec.Fingerprint
		_ = m.storeErr(ctx, m.store.SAdd(ctx, fpKey, newToken))
		_ = m.storeErr(ctx, m.store.SRem(ctx, fpKey, oldToken))

		// Soft-deprecate the old token: redirect pointer plus grace TTL.
		_ = m.storeErr(ctx, m.store.HSet(ctx, tokenKeyPrefix+oldToken, map[string]string{fieldRotatedTo: newToken}))
		_ = m.storeErr(ctx, m.store.Expire(ctx, tokenKeyPrefix+oldToken, m.cfg.RotationGrace))
	}

	m.cacheAdd(newToken, newRec)
	m.cache.Remove(oldToken)
	return newToken, true
}

// create issues a brand-new identity from client signals.
func (m *Manager) create(ctx context.Context, sig ClientSignals) DeviceInfo {
	fp := m.resolveFingerprint(ctx, sig)
	token := m.deriveToken(ctx, fp)
	now := m.now()

	rec := record{
		Fingerprint: fp,
		CreatedAt:   now,
		LastSeenAt:  now,
		Version:     secrets.TokenVersion,
	}
	if err := m.writeRecord(ctx, token, rec, m.cfg.TokenTTL); err != nil {
		resolutions.WithLabelValues("ephemeral").Inc()
		return m.ephemeral()
	}
	m.cacheAdd(token, rec)
	m.registerDevice(ctx, fp, token)

	resolutions.WithLabelValues("created").Inc()
	return DeviceInfo{DeviceID: token, IsNew: true}
}

// resolveFingerprint computes the grouping key for new devices. During a
// salt rotation window, an existing device-set under the previous salt wins
// so cap accounting survives the rotation. Fingerprinting failure falls
// back to a random grouping key: continuity lost, privacy kept.
func (m *Manager) resolveFingerprint(ctx context.Context, sig ClientSignals) string {
	candidates, err := fingerprintCandidates(m.salts, sig)
	if err != nil {
		m.logger.Warn("fingerprint generation failed, using random identity", "error", err)
		return m.randomFingerprint()
	}

	fp := candidates[0]
	if len(candidates) > 1 && m.breaker.Allow() {
		current, errCurrent := m.store.SCard(ctx, fingerprintKeyPrefix+candidates[0])
		previous, errPrevious := m.store.SCard(ctx, fingerprintKeyPrefix+candidates[1])
		if errCurrent == nil && errPrevious == nil && current == 0 && previous > 0 {
			fp = candidates[1]
		}
	}
	return fp
}

func (m *Manager) randomFingerprint() string {
	if u, err := uuid.NewRandom(); err == nil {
		return secrets.Digest(m.salts.Current, "fp-random", u.String())
	}
	return secrets.Digest(m.salts.Current, "fp-random", strconv.FormatInt(m.now().UnixNano(), 10))
}

func (m *Manager) deriveToken(ctx context.Context, fingerprint string) string {
	token, degraded := secrets.DeriveToken(fingerprint, secrets.TokenVersion)
	if degraded {
		cryptoDegraded.Inc()
		m.logger.Warn("token derivation degraded to fallback hash")
		m.emit(ctx, signals.Event{
			Kind:    signals.KindCryptoDegraded,
			Subject: "kdf",
			At:      m.now(),
		})
	}
	return token
}

func (m *Manager) writeRecord(ctx context.Context, token string, rec record, ttl time.Duration) error {
	key := tokenKeyPrefix + token
	if err := m.storeErr(ctx, m.store.HSet(ctx, key, rec.fields())); err != nil {
		return err
	}
	if ttl > 0 {
		_ = m.storeErr(ctx, m.store.Expire(ctx, key, ttl))
	}
	return nil
}

// registerDevice adds the token to its fingerprint's device-set and checks
// the soft cap. Crossing the cap emits one abuse signal and keeps issuing:
// fail-open, legitimate multi-browser use must not be blocked.
func (m *Manager) registerDevice(ctx context.Context, fp, token string) {
	fpKey := fingerprintKeyPrefix + fp
	if err := m.storeErr(ctx, m.store.SAdd(ctx, fpKey, token)); err != nil {
		return
	}
	n, err := m.store.SCard(ctx, fpKey)
	if m.storeErr(ctx, err) != nil {
		return
	}
	if int(n) <= m.cfg.MaxDevicesPerFingerprint {
		return
	}

	flagKey := capFlagKeyPrefix + fp
	_, err = m.store.Get(ctx, flagKey)
	if err == nil {
		m.breaker.RecordSuccess()
		return // this crossing was already signaled
	}
	// Not-found means unsignaled; a real failure leaves the flag state
	// unknown, and a duplicate signal beats a lost one either way.
	m.storeErr(ctx, err)
	_ = m.storeErr(ctx, m.store.Set(ctx, flagKey, "1", m.cfg.TokenTTL))
	abuseSignals.Inc()
	m.logger.Warn("fingerprint exceeded device cap",
		"devices", n, "cap", m.cfg.MaxDevicesPerFingerprint)
	m.emit(ctx, signals.Event{
		Kind:    signals.KindDeviceCapExceeded,
		Subject: fp,
		Detail:  fmt.Sprintf("devices=%d cap=%d", n, m.cfg.MaxDevicesPerFingerprint),
		At:      m.now(),
	})
}

// ephemeral serves a session-only identifier while the shared store is
// unreachable. Never persisted anywhere.
func (m *Manager) ephemeral() DeviceInfo {
	suffix := strconv.FormatInt(m.now().UnixNano()&0xffffff, 16)
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err == nil {
		suffix = hex.EncodeToString(buf)
	}
	ephemeralFallbacks.Inc()
	return DeviceInfo{
		DeviceID:    fmt.Sprintf("%s%d-%s", ephemeralPrefix, m.now().Unix(), suffix),
		IsNew:       true,
		IsEphemeral: true,
	}
}

// storeErr funnels every shared-store outcome through the circuit breaker.
// Not-found is a successful answer, not a failure.
func (m *Manager) storeErr(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, sentinel.ErrNotFound) {
		m.breaker.RecordSuccess()
		return err
	}
	storeFailuresDevice.Inc()
	if _, change := m.breaker.RecordFailure(); change.Opened {
		m.logger.Error("shared store circuit opened, serving ephemeral identities", "error", err)
		m.emit(ctx, signals.Event{
			Kind:    signals.KindStoreDegraded,
			Subject: m.breaker.Name(),
			At:      m.now(),
		})
	}
	return err
}

func (m *Manager) emit(ctx context.Context, event signals.Event) {
	if m.signals == nil {
		return
	}
	if err := m.signals.Emit(ctx, event); err != nil {
		m.logger.Debug("signal emission failed", "kind", event.Kind, "error", err)
	}
}
