package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anonid_device_resolutions_total",
		Help: "Identity resolutions by outcome",
	}, []string{"outcome"})
	previousTokenHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonid_device_previous_token_hits_total",
		Help: "Resolutions that validated only via the previous token (rotation lag)",
	})
	rotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonid_device_rotations_total",
		Help: "Device token rotations performed",
	})
	abuseSignals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonid_device_abuse_signals_total",
		Help: "Fingerprints that crossed the per-fingerprint device cap",
	})
	storeFailuresDevice = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonid_device_store_failures_total",
		Help: "Shared store operations that failed during identity resolution",
	})
	cryptoDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonid_device_crypto_degraded_total",
		Help: "Token derivations that fell back to the degraded hash",
	})
	ephemeralFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonid_device_ephemeral_fallbacks_total",
		Help: "Requests served a session-only temporary identifier",
	})
	touchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonid_device_touch_failures_total",
		Help: "Best-effort last-seen updates that failed silently",
	})
)
