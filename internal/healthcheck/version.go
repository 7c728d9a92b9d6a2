package healthcheck

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// UnknownVersion is reported when no version can be read from a probe response.
const UnknownVersion = "unknown version"

const (
	// Limits are in characters.
	maxVerbatimLength = 50
	maxTokenLength    = 30
)

var looseVersionToken = regexp.MustCompile(`\d\.\d`)

// VersionExtractor pulls a normalized "<service> vX.Y.Z[-build]" string out of
// free-form version endpoint output.
type VersionExtractor struct {
	service  string
	patterns []*regexp.Regexp
}

// NewVersionExtractor builds an extractor for the given service name.
// Patterns are tried in order and the first match wins.
func NewVersionExtractor(service string) *VersionExtractor {
	name := regexp.QuoteMeta(service)

	return &VersionExtractor{
		service: service,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)` + name + `\s+v\d+\.\d+\.\d+-[0-9a-z]+\s+[a-z]+`),
			regexp.MustCompile(`(?i)v\d+\.\d+\.\d+-[0-9a-z]+`),
			regexp.MustCompile(`(?i)` + name + `\s+v?\d+\.\d+\.\d+`),
			regexp.MustCompile(`(?i)\d+\.\d+\.\d+-[0-9a-z]+`),
			regexp.MustCompile(`\d+\.\d+\.\d+`),
			regexp.MustCompile(`(?i)` + name),
		},
	}
}

// Extract returns the version found in text, or UnknownVersion.
func (v *VersionExtractor) Extract(text string) string {
	for _, pattern := range v.patterns {
		if match := pattern.FindString(text); match != "" {
			return v.normalize(match)
		}
	}

	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= maxVerbatimLength {
		if trimmed == "" {
			return UnknownVersion
		}
		return trimmed
	}

	for _, token := range strings.Fields(trimmed) {
		if utf8.RuneCountInString(token) > maxTokenLength {
			continue
		}
		if strings.Contains(token, "v") || looseVersionToken.MatchString(token) {
			return v.service + " " + token
		}
	}

	return UnknownVersion
}

func (v *VersionExtractor) normalize(match string) string {
	switch {
	case strings.Contains(strings.ToLower(match), strings.ToLower(v.service)):
		return match
	case strings.HasPrefix(strings.ToLower(match), "v"):
		return v.service + " " + match
	case unicode.IsDigit(rune(match[0])):
		return v.service + " v" + match
	default:
		return match
	}
}
