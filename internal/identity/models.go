package identity

import (
	"strconv"
	"time"
)

// Store key prefixes. One hash per token, one set per fingerprint, one
// marker per fingerprint that has already signaled a cap crossing.
const (
	tokenKeyPrefix       = "dt:"
	fingerprintKeyPrefix = "df:"
	capFlagKeyPrefix     = "dfcap:"
)

// ClientSignals is the raw attribute bag used for fingerprinting when no
// valid token is presented. Only coarse, privacy-respecting attributes are
// accepted: no canvas, WebGL, audio, or font-list material ever enters a
// fingerprint.
type ClientSignals struct {
	UserAgent           string
	Language            string
	Platform            string
	Timezone            string
	ScreenWidth         int
	ScreenHeight        int
	HardwareConcurrency int
}

func (c ClientSignals) empty() bool {
	return c.UserAgent == "" && c.Language == "" && c.Platform == "" &&
		c.Timezone == "" && c.ScreenWidth == 0 && c.ScreenHeight == 0 &&
		c.HardwareConcurrency == 0
}

// TokenPair is the caller-held token storage: the current token plus,
// right after a rotation, the one it replaced.
type TokenPair struct {
	Current  string
	Previous string
}

// DeviceInfo is the result of identity resolution. On rotation PreviousID
// carries the superseded token so the caller can update its held pair.
type DeviceInfo struct {
	DeviceID    string
	PreviousID  string
	IsNew       bool
	IsRotated   bool
	IsEphemeral bool
	Region      string
}

// record is the server-side token state, stored as a hash in the shared
// store and mirrored in the local LRU. The fingerprint never leaves this
// struct toward callers.
type record struct {
	Fingerprint string
	CreatedAt   time.Time
	LastSeenAt  time.Time
	RotatedAt   time.Time
	RotatedTo   string
	Region      string
	Version     int
}

const (
	fieldFingerprint = "fingerprint"
	fieldCreatedAt   = "created_at"
	fieldLastSeenAt  = "last_seen_at"
	fieldRotatedAt   = "rotated_at"
	fieldRotatedTo   = "rotated_to"
	fieldRegion      = "region"
	fieldVersion     = "version"
)

func (r record) fields() map[string]string {
	out := map[string]string{
		fieldFingerprint: r.Fingerprint,
		fieldCreatedAt:   strconv.FormatInt(r.CreatedAt.Unix(), 10),
		fieldLastSeenAt:  strconv.FormatInt(r.LastSeenAt.Unix(), 10),
		fieldVersion:     strconv.Itoa(r.Version),
	}
	if !r.RotatedAt.IsZero() {
		out[fieldRotatedAt] = strconv.FormatInt(r.RotatedAt.Unix(), 10)
	}
	if r.RotatedTo != "" {
		out[fieldRotatedTo] = r.RotatedTo
	}
	if r.Region != "" {
		out[fieldRegion] = r.Region
	}
	return out
}

func recordFromFields(fields map[string]string) (record, bool) {
	fp := fields[fieldFingerprint]
	if fp == "" {
		return record{}, false
	}
	r := record{
		Fingerprint: fp,
		RotatedTo:   fields[fieldRotatedTo],
		Region:      fields[fieldRegion],
	}
	r.CreatedAt = parseUnix(fields[fieldCreatedAt])
	r.LastSeenAt = parseUnix(fields[fieldLastSeenAt])
	r.RotatedAt = parseUnix(fields[fieldRotatedAt])
	if v, err := strconv.Atoi(fields[fieldVersion]); err == nil {
		r.Version = v
	}
	return r, true
}

func parseUnix(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// rotationBase is the instant the rotation interval is measured from.
func (r record) rotationBase() time.Time {
	if r.RotatedAt.After(r.CreatedAt) {
		return r.RotatedAt
	}
	return r.CreatedAt
}
