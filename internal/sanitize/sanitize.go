// Package sanitize detects and redacts PII patterns in free-text check-in
// notes before they are persisted. Redaction is deterministic and idempotent:
// placeholders never re-match any pattern, so sanitizing sanitized text is a
// no-op.
package sanitize

import (
	"regexp"
	"unicode/utf8"
)

// maxTextLength bounds the fallback output if the regex engine ever fails.
const maxTextLength = 2000

// rule pairs a compiled pattern with its placeholder. Order matters: longer,
// more specific patterns run before shorter ones so e.g. card numbers are not
// half-eaten by the phone rule.
type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

var rules = []rule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\bhttps?://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`\bwww\.[^\s]+`), "[URL]"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP]"},
	// National-ID formats with separators (e.g. 123-45-6789).
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[ID]"},
	// Card-like runs: four groups of four (last group 1-4) with optional separators.
	{regexp.MustCompile(`\b\d{4}[ \-]?\d{4}[ \-]?\d{4}[ \-]?\d{1,4}\b`), "[CARD]"},
	// Phone formats: optional country code, optional area parentheses, at
	// least one separator or a leading plus so bare ID digit runs stay intact.
	{regexp.MustCompile(`\+\d{1,3}[ \-.]?\(?\d{2,4}\)?[ \-.]?\d{3,4}[ \-.]?\d{3,4}`), "[PHONE]"},
	{regexp.MustCompile(`\(?\d{3}\)?[ \-.]\d{3}[ \-.]\d{4}\b`), "[PHONE]"},
	// Bare national-ID-like digit runs.
	{regexp.MustCompile(`\b\d{9,12}\b`), "[ID]"},
	{regexp.MustCompile(`\b\d{1,5}\s+(?:[A-Z][a-z]+\s+){1,3}(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way)\b\.?`), "[ADDRESS]"},
	{regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`), "[NAME]"},
}

// ContainsPII reports whether any known PII pattern occurs in text.
func ContainsPII(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// Sanitize replaces every detected PII pattern with its fixed placeholder.
// Pure and idempotent; never fails. If the regex engine panics the original
// text is returned truncated to a safe maximum length.
func Sanitize(text string) (out string) {
	if text == "" {
		return text
	}

	defer func() {
		if recover() != nil {
			out = truncate(text, maxTextLength)
		}
	}()

	out = text
	for _, r := range rules {
		out = r.pattern.ReplaceAllString(out, r.placeholder)
	}
	return out
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	// Cut on a rune boundary.
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}
