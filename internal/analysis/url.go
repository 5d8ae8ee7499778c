package analysis

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*$`)

// NormalizeURL standardizes a candidate URL for analysis. Bare hostnames and
// unrecognized schemes get an https:// prefix; the scheme and host are
// lowercased. The second return value is false when the input cannot be
// interpreted as a host at all (markup, control characters, injection text).
func NormalizeURL(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !plausibleURLText(trimmed) {
		return "", false
	}

	candidate := trimmed
	if !hasHTTPScheme(candidate) {
		candidate = "https://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if !plausibleHost(u.Host) {
		return "", false
	}
	return u.String(), true
}

// ValidateURLs classifies each candidate and produces normalized forms.
// It is a pure function of its input: no side effects, deterministic output.
// An empty batch is a request-level failure; per-element invalidity is not.
func ValidateURLs(urls []string) ValidationResult {
	if len(urls) == 0 {
		return ValidationResult{
			Success: false,
			Errors: []FieldError{
				{Field: "urls", Message: "urls must be a non-empty array"},
			},
		}
	}

	result := ValidationResult{
		Success:        true,
		Valid:          true,
		NormalizedURLs: make([]string, 0, len(urls)),
		Errors:         []FieldError{},
	}
	for i, raw := range urls {
		normalized, ok := NormalizeURL(raw)
		if !ok {
			result.Valid = false
			result.Errors = append(result.Errors, FieldError{
				Field:   fmt.Sprintf("urls[%d]", i),
				Message: "not a valid URL",
			})
			continue
		}
		result.NormalizedURLs = append(result.NormalizedURLs, normalized)
	}
	return result
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// plausibleURLText rejects strings that can never be a URL: embedded markup,
// quotes, whitespace, and control characters. These come straight from
// adversarial payloads and must never round-trip into a fetch.
func plausibleURLText(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
		switch r {
		case '<', '>', '"', '\'', '`', '{', '}', '\\', ' ':
			return false
		}
	}
	return true
}

func plausibleHost(host string) bool {
	h := host
	if strings.Contains(h, ":") {
		var err error
		h, _, err = net.SplitHostPort(host)
		if err != nil {
			return false
		}
	}
	if h == "" {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return true
	}
	return hostnamePattern.MatchString(h)
}
