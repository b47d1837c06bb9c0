package identity

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mssola/useragent"

	"anonid/internal/secrets"
)

var errEmptySignals = errors.New("no client signals")

// computeFingerprint derives the salted grouping key from coarse client
// attributes. The raw user agent never enters the digest: it is reduced to
// browser family, major version, and OS name first, so minor browser updates
// do not fork a device into a new fingerprint.
func computeFingerprint(salt string, sig ClientSignals) (string, error) {
	if sig.empty() {
		return "", errEmptySignals
	}

	browser, major, osName := coarsenUserAgent(sig.UserAgent)

	return secrets.Digest(salt, "fp",
		browser,
		major,
		osName,
		sig.Language,
		sig.Platform,
		sig.Timezone,
		strconv.Itoa(sig.ScreenWidth)+"x"+strconv.Itoa(sig.ScreenHeight),
		strconv.Itoa(sig.HardwareConcurrency),
	), nil
}

// fingerprintCandidates returns the fingerprint under every active salt,
// current first. During a salt rotation window this lets a returning device
// be matched to the device-set created under the previous salt.
func fingerprintCandidates(salts secrets.Salts, sig ClientSignals) ([]string, error) {
	if sig.empty() {
		return nil, errEmptySignals
	}
	out := make([]string, 0, 2)
	for _, salt := range salts.Active() {
		fp, err := computeFingerprint(salt, sig)
		if err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, nil
}

func coarsenUserAgent(raw string) (browser, major, osName string) {
	if raw == "" {
		return "unknown", "0", "unknown"
	}

	ua := useragent.New(raw)
	browser, version := ua.Browser()
	if browser == "" {
		browser = "unknown"
	}
	major = "0"
	if version != "" {
		major = strings.SplitN(version, ".", 2)[0]
	}
	osName = ua.OSInfo().Name
	if osName == "" {
		osName = "unknown"
	}
	return browser, major, osName
}
