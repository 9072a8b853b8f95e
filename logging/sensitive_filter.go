package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces secrets in log output.
const RedactedPlaceholder = "[REDACTED]"

// ImagePlaceholder replaces inline base64 image payloads.
const ImagePlaceholder = "[IMAGE DATA]"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9_-]{20,})`),        // OpenAI keys, legacy and project-scoped
	regexp.MustCompile(`(AIza[a-zA-Z0-9_-]{35})`),            // Google API keys
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`), // bearer tokens
	regexp.MustCompile(`(?i)([?&]key=[a-zA-Z0-9_-]{20,})`),   // keys in query strings

	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(api_key\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(apikey\s*[:=]\s*[^\s,;]{8,})`),
}

// dataURIPattern matches the payload of a base64 data URI, keeping the mime prefix.
var dataURIPattern = regexp.MustCompile(`(data:[a-zA-Z0-9.+/-]+;base64,)[A-Za-z0-9+/=]+`)

var sensitiveFieldNames = []string{
	"GEMINI_API_KEY",
	"OPENAI_API_KEY",
	"API_KEY",
	"APIKEY",
	"SECRET",
	"TOKEN",
	"PASSWORD",
}

// RedactSensitiveData removes API keys and inline image payloads from value.
//
// Example:
//
//	RedactSensitiveData("using key AIzaSy...")          // "using key [REDACTED]"
//	RedactSensitiveData("data:image/png;base64,iVBOR") // "data:image/png;base64,[IMAGE DATA]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}

	result := dataURIPattern.ReplaceAllString(value, "${1}"+ImagePlaceholder)
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// IsSensitiveField reports whether a field name implies its value is a secret.
func IsSensitiveField(fieldName string) bool {
	upperName := strings.ToUpper(fieldName)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(upperName, name) {
			return true
		}
	}
	return false
}
