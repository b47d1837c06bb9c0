package identity

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"anonid/internal/secrets"
)

const (
	chromeUA    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.109 Safari/537.36"
	chromePatch = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.224 Safari/537.36"
	chromeNext  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
)

func testSignals() ClientSignals {
	return ClientSignals{
		UserAgent:           chromeUA,
		Language:            "en-US",
		Platform:            "MacIntel",
		Timezone:            "Europe/Berlin",
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		HardwareConcurrency: 8,
	}
}

type FingerprintSuite struct {
	suite.Suite
}

func TestFingerprintSuite(t *testing.T) {
	suite.Run(t, new(FingerprintSuite))
}

func (s *FingerprintSuite) TestComputeFingerprint() {
	s.Run("deterministic for identical signals", func() {
		fp1, err := computeFingerprint("salt", testSignals())
		s.Require().NoError(err)
		fp2, err := computeFingerprint("salt", testSignals())
		s.Require().NoError(err)
		s.Equal(fp1, fp2)
		s.Len(fp1, 64)
	})

	s.Run("browser patch updates keep the fingerprint stable", func() {
		a := testSignals()
		b := testSignals()
		b.UserAgent = chromePatch
		fp1, _ := computeFingerprint("salt", a)
		fp2, _ := computeFingerprint("salt", b)
		s.Equal(fp1, fp2)
	})

	s.Run("major browser upgrades fork the fingerprint", func() {
		a := testSignals()
		b := testSignals()
		b.UserAgent = chromeNext
		fp1, _ := computeFingerprint("salt", a)
		fp2, _ := computeFingerprint("salt", b)
		s.NotEqual(fp1, fp2)
	})

	s.Run("salt changes the fingerprint", func() {
		fp1, _ := computeFingerprint("salt1", testSignals())
		fp2, _ := computeFingerprint("salt2", testSignals())
		s.NotEqual(fp1, fp2)
	})

	s.Run("language changes the fingerprint", func() {
		a := testSignals()
		b := testSignals()
		b.Language = "de-DE"
		fp1, _ := computeFingerprint("salt", a)
		fp2, _ := computeFingerprint("salt", b)
		s.NotEqual(fp1, fp2)
	})

	s.Run("empty signals are rejected", func() {
		_, err := computeFingerprint("salt", ClientSignals{})
		s.ErrorIs(err, errEmptySignals)
	})

	s.Run("unparseable user agent still fingerprints", func() {
		sig := testSignals()
		sig.UserAgent = "Unknown/1.0"
		fp, err := computeFingerprint("salt", sig)
		s.Require().NoError(err)
		s.Len(fp, 64)
	})
}

func (s *FingerprintSuite) TestFingerprintCandidates() {
	s.Run("current salt only", func() {
		fps, err := fingerprintCandidates(secrets.Salts{Current: "a"}, testSignals())
		s.Require().NoError(err)
		s.Len(fps, 1)
	})

	s.Run("previous salt yields a second candidate", func() {
		fps, err := fingerprintCandidates(secrets.Salts{Current: "a", Previous: "b"}, testSignals())
		s.Require().NoError(err)
		s.Len(fps, 2)
		s.NotEqual(fps[0], fps[1])
	})
}
